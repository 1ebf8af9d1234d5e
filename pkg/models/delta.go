package models

// DeltaKind names the two live-update event kinds pushed to subscribers.
type DeltaKind string

const (
	DeltaNewMessage   DeltaKind = "new_message"
	DeltaStatusUpdate DeltaKind = "status_update"
)

// Delta is one unit of change fanned out to live subscribers. For
// new_message events Message is the full stored record; for status_update
// events only MessageID and Status are set (plus the conversation key for
// filtering).
type Delta struct {
	Kind            DeltaKind `json:"kind"`
	ConversationKey string    `json:"conversation_key"`
	MessageID       string    `json:"message_id"`
	Status          Status    `json:"status,omitempty"`
	Message         *Message  `json:"message,omitempty"`
}
