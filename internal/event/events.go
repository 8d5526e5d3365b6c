package event

import (
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"

	"github.com/mbarnett/parley/internal/model"
)

// Type identifies the payload variant of an envelope.
type Type string

const (
	TypeNewMessage     Type = "new_message"
	TypeTypingStart    Type = "typing_start"
	TypeTypingStop     Type = "typing_stop"
	TypePresenceUpdate Type = "presence_update"
)

// Event is an envelope sent to live connections.
type Event struct {
	Type   Type      // Payload variant
	RoomID uuid.UUID // Room the event concerns
	Msg    any       // One of the *Payload types below
}

// NewMessagePayload carries a persisted message.
type NewMessagePayload struct {
	Message MessageBody `json:"message"`
}

// MessageBody is the wire form of a model.Message.
type MessageBody struct {
	ID              uuid.UUID `json:"id"`
	RoomID          uuid.UUID `json:"room_id"`
	CreatorID       uuid.UUID `json:"creator_id"`
	Content         string    `json:"content"`
	ClientMessageID string    `json:"client_message_id"`
	Mentions        []string  `json:"mentions,omitempty"`
	SoundCommands   []string  `json:"sound_commands,omitempty"`
	CreatedAt       int64     `json:"created_at"` // Unix milliseconds
}

// PresencePayload carries the current online user set of a room.
type PresencePayload struct {
	RoomID      uuid.UUID   `json:"room_id"`
	OnlineUsers []uuid.UUID `json:"online_users"`
}

// TypingPayload carries a typing indicator transition.
type TypingPayload struct {
	RoomID uuid.UUID `json:"room_id"`
	UserID uuid.UUID `json:"user_id"`
}

// envelope is the wire form of an Event.
type envelope struct {
	Type Type `json:"type"`
	Msg  any  `json:"msg"`
}

// NewMessage builds a new_message event for a persisted message.
func NewMessage(msg model.Message) Event {
	return Event{
		Type:   TypeNewMessage,
		RoomID: msg.RoomID,
		Msg: NewMessagePayload{
			Message: MessageBody{
				ID:              msg.ID,
				RoomID:          msg.RoomID,
				CreatorID:       msg.CreatorID,
				Content:         msg.Content,
				ClientMessageID: msg.ClientMessageID,
				Mentions:        msg.Mentions,
				SoundCommands:   msg.SoundCommands,
				CreatedAt:       msg.CreatedAt.UnixMilli(),
			},
		},
	}
}

// PresenceUpdate builds a presence_update event.
func PresenceUpdate(roomID uuid.UUID, online []uuid.UUID) Event {
	return Event{
		Type:   TypePresenceUpdate,
		RoomID: roomID,
		Msg:    PresencePayload{RoomID: roomID, OnlineUsers: online},
	}
}

// TypingStart builds a typing_start event.
func TypingStart(roomID, userID uuid.UUID) Event {
	return Event{
		Type:   TypeTypingStart,
		RoomID: roomID,
		Msg:    TypingPayload{RoomID: roomID, UserID: userID},
	}
}

// TypingStop builds a typing_stop event.
func TypingStop(roomID, userID uuid.UUID) Event {
	return Event{
		Type:   TypeTypingStop,
		RoomID: roomID,
		Msg:    TypingPayload{RoomID: roomID, UserID: userID},
	}
}

// Encode serializes the event into its wire form.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(envelope{Type: e.Type, Msg: e.Msg})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	return data, nil
}

// Fingerprint returns a stable identifier for duplicate suppression.
// Two events with the same type, room, and encoded payload collide.
func Fingerprint(e Event, encoded []byte) string {
	h := fnv.New64a()
	h.Write(encoded)
	return fmt.Sprintf("%s:%s:%x", e.Type, e.RoomID, h.Sum64())
}
