// Package text implements content validation and mention/sound-command
// parsing for message bodies.
package text
