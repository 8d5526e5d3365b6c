package ws

import "github.com/google/uuid"

// Inbound frame types.
const (
	framePostMessage = "post_message"
	frameTypingStart = "typing_start"
	frameTypingStop  = "typing_stop"
)

// inboundFrame is one client-to-server message.
type inboundFrame struct {
	Type            string    `json:"type"`
	RoomID          uuid.UUID `json:"room_id"`
	Content         string    `json:"content,omitempty"`
	ClientMessageID string    `json:"client_message_id,omitempty"`
}

// errorFrame reports a rejected inbound frame back to its sender.
type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
