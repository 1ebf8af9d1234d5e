package models

// Direction indicates whether a message was received from the counterparty
// or sent by the business itself.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is the provider delivery state of a message. The order
// sent < delivered < read is observed by tests but not enforced:
// a status patch is applied as given.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// ParseStatus maps a raw provider status string onto a known Status,
// defaulting to sent for empty or unknown values.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusDelivered:
		return StatusDelivered
	case StatusRead:
		return StatusRead
	default:
		return StatusSent
	}
}

// Rank returns the position of the status in the normal delivery
// progression. Used by tests and diagnostics, never for rejection.
func (s Status) Rank() int {
	switch s {
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return 0
	}
}

type Message struct {
	// ID is the provider-assigned message identifier (wamid). It is the
	// idempotency key: re-ingesting the same ID updates in place.
	ID string `json:"id"`
	// ConversationKey groups messages into one thread; it is the
	// counterparty's stable identifier (wa_id).
	ConversationKey string    `json:"conversation_key"`
	Direction       Direction `json:"direction"`
	From            string    `json:"from"`
	To              string    `json:"to,omitempty"`
	Body            string    `json:"body"`
	// Kind is the provider message type; only "text" carries a body
	// end to end today.
	Kind string `json:"kind"`
	// SentAt is seconds since epoch: provider-supplied for inbound,
	// locally generated for outbound.
	SentAt int64  `json:"sent_at"`
	Status Status `json:"status"`
	// DisplayName is a best-effort human label for the counterparty.
	DisplayName string `json:"display_name,omitempty"`
	// Seq is the store insertion sequence, assigned on first upsert and
	// stable across later patches. It breaks sent_at ties.
	Seq       uint64 `json:"seq,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}
