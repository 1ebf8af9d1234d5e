package store

import (
	"errors"

	"chatrelay/pkg/models"
)

var (
	// ErrNotFound is returned by PatchStatus and GetMessage when no record
	// with the given message ID exists. A status patch for an unseen
	// message is expected under out-of-order delivery and must be treated
	// as a reportable no-op, never as fatal.
	ErrNotFound = errors.New("message not found")
	// ErrNotOpen is returned when an operation runs against a closed store.
	ErrNotOpen = errors.New("store not opened")
)

// Store is the durable message table consumed by the ingestion pipeline and
// the read API. Implementations must provide atomic per-document upsert and
// patch (the pipeline relies on that as its serialization point) and ordered
// range reads per conversation key.
type Store interface {
	// UpsertMessage inserts the message if its ID is absent, else replaces
	// all fields except identity, insertion sequence and created_at. It
	// returns the stored record and whether a new record was created.
	// Applying the same message twice leaves the store in the same state,
	// except updated_at advances.
	UpsertMessage(msg models.Message) (models.Message, bool, error)

	// PatchStatus sets status and updated_at on the matching record and
	// returns it. Unknown IDs return ErrNotFound and mutate nothing.
	PatchStatus(id string, status models.Status) (models.Message, error)

	// GetMessage returns the record for the given message ID.
	GetMessage(id string) (models.Message, error)

	// FindByConversation returns all messages for the key ordered by
	// sent_at ascending, ties broken by insertion order. An unknown key
	// yields an empty slice, not an error.
	FindByConversation(key string) ([]models.Message, error)

	// ListConversationKeys returns all distinct conversation keys present.
	ListConversationKeys() ([]string, error)

	// GetConversationMeta returns the stored meta document for the key. The
	// meta record keeps the last contact name seen even after its source
	// messages are purged. Unknown keys return ErrNotFound.
	GetConversationMeta(key string) (models.ConversationMeta, error)

	// ListAllMessages returns every stored message; used by the debug
	// listing endpoint and operator tooling.
	ListAllMessages() ([]models.Message, error)

	// Ready reports whether the store is opened and usable.
	Ready() bool

	Close() error
}
