// Package ws exposes the WebSocket endpoint. Each accepted socket gets a
// registry connection, a read loop translating inbound frames into pipeline
// and registry calls, and a write pump draining the connection's outbound
// event channel.
package ws
