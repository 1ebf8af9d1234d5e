// Package ingest orchestrates the path of one inbound payload:
// classify, persist, broadcast. Store failures abort only the record that
// failed; broadcast never rolls back or retries a persist.
package ingest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"chatrelay/pkg/classify"
	"chatrelay/pkg/fanout"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
)

// State names where a payload's processing terminated.
type State string

const (
	StateDone           State = "done"
	StateRejected       State = "rejected"
	StatePartialFailure State = "partial_failure"
)

// RecordError ties a store failure to the record that caused it.
type RecordError struct {
	MessageID string
	Err       error
}

// Report is the outcome of processing one payload. Rejected means the
// envelope was not recognized (nothing was stored or broadcast);
// PartialFailure means at least one record failed while the rest of the
// batch proceeded.
type Report struct {
	State             State
	MessagesUpserted  int
	StatusesApplied   int
	UnknownStatusRefs int
	Errors            []RecordError
}

// Pipeline wires the classifier, the durable store and the fan-out bus.
type Pipeline struct {
	classifier *classify.Classifier
	store      store.Store
	bus        *fanout.Bus
}

// NewPipeline builds a Pipeline over the given collaborators.
func NewPipeline(c *classify.Classifier, st store.Store, bus *fanout.Bus) *Pipeline {
	return &Pipeline{classifier: c, store: st, bus: bus}
}

// Process runs one payload end to end. Records within the payload are
// applied in payload order (messages first, then statuses); a failing
// record is logged and skipped, never aborting the rest. Deltas are
// published in the order their records were persisted.
func (p *Pipeline) Process(ctx context.Context, payload []byte) Report {
	var rep Report

	res, err := p.classifier.Classify(payload)
	if err != nil {
		telemetry.EnvelopesRejected.Inc()
		logger.Log.Warn("envelope_rejected", zap.Int("bytes", len(payload)))
		rep.State = StateRejected
		return rep
	}

	// collect deltas during persist so broadcast order matches store order
	deltas := make([]models.Delta, 0, len(res.Messages)+len(res.Statuses))

	for _, msg := range res.Messages {
		stored, _, uerr := p.store.UpsertMessage(msg)
		if uerr != nil {
			logger.Log.Error("upsert_failed", zap.String("msg_id", msg.ID), zap.Error(uerr))
			rep.Errors = append(rep.Errors, RecordError{MessageID: msg.ID, Err: uerr})
			continue
		}
		rep.MessagesUpserted++
		telemetry.MessagesUpserted.Inc()
		m := stored
		deltas = append(deltas, models.Delta{
			Kind:            models.DeltaNewMessage,
			ConversationKey: stored.ConversationKey,
			MessageID:       stored.ID,
			Message:         &m,
		})
	}

	for _, su := range res.Statuses {
		patched, perr := p.store.PatchStatus(su.MessageID, su.Status)
		if perr != nil {
			if errors.Is(perr, store.ErrNotFound) {
				// plausible under out-of-order delivery: report, no delta
				rep.UnknownStatusRefs++
				telemetry.UnknownStatusRefs.Inc()
				logger.Log.Warn("status_unknown_message", zap.String("msg_id", su.MessageID), zap.String("status", string(su.Status)))
				continue
			}
			logger.Log.Error("patch_status_failed", zap.String("msg_id", su.MessageID), zap.Error(perr))
			rep.Errors = append(rep.Errors, RecordError{MessageID: su.MessageID, Err: perr})
			continue
		}
		rep.StatusesApplied++
		telemetry.StatusesApplied.Inc()
		deltas = append(deltas, models.Delta{
			Kind:            models.DeltaStatusUpdate,
			ConversationKey: patched.ConversationKey,
			MessageID:       patched.ID,
			Status:          patched.Status,
		})
	}

	// broadcast is best-effort and cannot fail the payload
	for _, d := range deltas {
		p.bus.Publish(d)
	}

	if len(rep.Errors) > 0 {
		rep.State = StatePartialFailure
		return rep
	}
	rep.State = StateDone
	return rep
}

// Run consumes the queue with n workers until ctx is canceled or the queue
// closes. One worker preserves arrival order end to end; more workers trade
// that for throughput across unrelated conversations.
func (p *Pipeline) Run(ctx context.Context, q *Queue, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case it, ok := <-q.Out():
					if !ok {
						return
					}
					rep := p.Process(ctx, it.Job.Payload)
					if rep.State == StatePartialFailure {
						logger.Log.Warn("payload_partial_failure",
							zap.Uint64("enq", it.Job.Enq),
							zap.String("source", it.Job.Source),
							zap.Int("failed_records", len(rep.Errors)))
					}
					it.Done()
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}
