// Package classify turns decoded webhook envelopes into normalized message
// and status records. It never rejects based on content it cannot
// interpret: an unrecognized shape is reported as ErrNotRecognized and the
// caller drops it without failing the batch.
package classify

import (
	"errors"

	"go.uber.org/zap"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

// ErrNotRecognized marks an envelope that carries neither messages nor
// statuses. It is informational, not fatal.
var ErrNotRecognized = errors.New("envelope not recognized")

// StatusUpdate is a normalized status transition for one message.
type StatusUpdate struct {
	MessageID string
	Status    models.Status
}

// Result holds what one envelope classified into. An envelope may carry
// both messages and statuses (malformed but tolerated); they are orthogonal
// and both are returned, messages first.
type Result struct {
	Messages []models.Message
	Statuses []StatusUpdate
}

// Classifier normalizes envelopes. SelfID is the business's own identifier:
// a message whose sender equals it is classified outbound.
type Classifier struct {
	selfID string
}

// New returns a Classifier for the given self identifier.
func New(selfID string) *Classifier {
	return &Classifier{selfID: selfID}
}

// Classify decodes the raw payload and walks every entry and change,
// normalizing message and status records in payload order. A payload that
// does not decode or contains neither kind returns ErrNotRecognized.
func (c *Classifier) Classify(payload []byte) (Result, error) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		logger.Log.Warn("envelope_decode_failed", zap.Error(err))
		return Result{}, ErrNotRecognized
	}

	var res Result
	for _, entry := range env.MetaData.Entry {
		for _, change := range entry.Changes {
			c.classifyChange(change.Value, &res)
		}
	}
	if len(res.Messages) == 0 && len(res.Statuses) == 0 {
		return Result{}, ErrNotRecognized
	}
	return res, nil
}

func (c *Classifier) classifyChange(v ChangeValue, res *Result) {
	var contact Contact
	if len(v.Contacts) > 0 {
		contact = v.Contacts[0]
	}
	for _, wm := range v.Messages {
		if wm.ID == "" {
			logger.Log.Warn("message_entry_missing_id")
			continue
		}
		res.Messages = append(res.Messages, c.normalize(wm, contact, v))
	}
	for _, ws := range v.Statuses {
		if ws.ID == "" {
			logger.Log.Warn("status_entry_missing_id")
			continue
		}
		res.Statuses = append(res.Statuses, StatusUpdate{
			MessageID: ws.ID,
			Status:    models.ParseStatus(ws.Status),
		})
	}
}

// normalize maps one wire message onto the internal record. The
// conversation key is the accompanying contact identifier, falling back to
// the raw sender; the display name falls back the same way.
func (c *Classifier) normalize(wm WireMessage, contact Contact, v ChangeValue) models.Message {
	convKey := contact.WaID
	if convKey == "" {
		convKey = wm.From
	}
	name := contact.Profile.Name
	if name == "" {
		name = convKey
	}
	kind := wm.Type
	if kind == "" {
		kind = "text"
	}
	dir := models.DirectionInbound
	if c.selfID != "" && wm.From == c.selfID {
		dir = models.DirectionOutbound
	}
	return models.Message{
		ID:              wm.ID,
		ConversationKey: convKey,
		Direction:       dir,
		From:            wm.From,
		To:              v.Metadata.DisplayPhoneNumber,
		Body:            wm.Text.Body,
		Kind:            kind,
		SentAt:          int64(wm.Timestamp),
		Status:          models.StatusSent,
		DisplayName:     name,
	}
}
