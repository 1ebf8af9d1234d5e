package models

// Conversation is the derived summary view of one thread. It has no
// independent lifecycle: it is recomputed from the message set on demand.
type Conversation struct {
	Key           string `json:"conversation_key"`
	DisplayName   string `json:"display_name"`
	LastMessage   string `json:"last_message"`
	LastMessageAt int64  `json:"last_message_at"`
	MessageCount  int    `json:"message_count"`
}

// ConversationMeta is the small stored record for a conversation key,
// keeping the best-effort display name across payloads that omit it.
type ConversationMeta struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedTS   int64  `json:"created_ts,omitempty"`
	UpdatedTS   int64  `json:"updated_ts,omitempty"`
}
