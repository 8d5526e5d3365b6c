// Package push dispatches push notifications for new messages.
//
// Delivery is fire-and-forget and decoupled from the message write path: the
// pipeline hands off targets and returns immediately. A weighted semaphore
// bounds concurrent delivery attempts. The actual transport sits behind the
// Sender interface; this core ships a logging sender only.
package push
