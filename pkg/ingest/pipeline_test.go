package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatrelay/pkg/classify"
	"chatrelay/pkg/fanout"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

const selfID = "918329446654"

func newPipeline() (*Pipeline, *store.Memory, *fanout.Bus) {
	st := store.NewMemory()
	bus := fanout.New(64)
	return NewPipeline(classify.New(selfID), st, bus), st, bus
}

func webhookMessage(id, from, body string, ts int64) []byte {
	return []byte(`{
		"metaData": {"entry": [{"changes": [{"value": {
			"metadata": {"display_phone_number": "` + selfID + `"},
			"contacts": [{"wa_id": "` + from + `", "profile": {"name": "Ravi Kumar"}}],
			"messages": [{"id": "` + id + `", "from": "` + from + `", "timestamp": ` + itoa(ts) + `, "type": "text", "text": {"body": "` + body + `"}}]
		}}]}]}
	}`)
}

func webhookStatus(id, status string) []byte {
	return []byte(`{
		"metaData": {"entry": [{"changes": [{"value": {
			"statuses": [{"id": "` + id + `", "status": "` + status + `"}]
		}}]}]}
	}`)
}

func itoa(n int64) string {
	b := []byte{}
	if n == 0 {
		return "0"
	}
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

func TestProcessNewMessage(t *testing.T) {
	p, st, bus := newPipeline()
	sub := bus.Subscribe("")
	defer sub.Close()

	rep := p.Process(context.Background(), webhookMessage("wamid.A", "919937320320", "Hi", 100))
	if rep.State != StateDone {
		t.Fatalf("expected done, got %s", rep.State)
	}
	if rep.MessagesUpserted != 1 {
		t.Fatalf("expected 1 upsert, got %d", rep.MessagesUpserted)
	}
	if _, err := st.GetMessage("wamid.A"); err != nil {
		t.Fatalf("message not persisted: %v", err)
	}

	select {
	case d := <-sub.C():
		if d.Kind != models.DeltaNewMessage || d.MessageID != "wamid.A" {
			t.Fatalf("unexpected delta %+v", d)
		}
		if d.Message == nil || d.Message.Body != "Hi" {
			t.Fatalf("new_message delta must carry the record")
		}
	case <-time.After(time.Second):
		t.Fatalf("no delta broadcast")
	}
}

func TestProcessIdempotentReplay(t *testing.T) {
	p, st, _ := newPipeline()
	payload := webhookMessage("wamid.A", "919937320320", "Hi", 100)
	p.Process(context.Background(), payload)
	p.Process(context.Background(), payload)

	msgs, _ := st.FindByConversation("919937320320")
	if len(msgs) != 1 {
		t.Fatalf("replay duplicated the message: %d rows", len(msgs))
	}
}

func TestProcessStatusUpdate(t *testing.T) {
	p, st, bus := newPipeline()
	p.Process(context.Background(), webhookMessage("wamid.A", "919937320320", "Hi", 100))
	sub := bus.Subscribe("")
	defer sub.Close()

	rep := p.Process(context.Background(), webhookStatus("wamid.A", "read"))
	if rep.State != StateDone || rep.StatusesApplied != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if got, _ := st.GetMessage("wamid.A"); got.Status != models.StatusRead {
		t.Fatalf("status not applied: %s", got.Status)
	}
	d := <-sub.C()
	if d.Kind != models.DeltaStatusUpdate || d.Status != models.StatusRead {
		t.Fatalf("unexpected delta %+v", d)
	}
	if d.ConversationKey != "919937320320" {
		t.Fatalf("status delta must carry the conversation key, got %q", d.ConversationKey)
	}
}

func webhookMixed(id, from, body string, ts int64, status string) []byte {
	return []byte(`{
		"metaData": {"entry": [{"changes": [{"value": {
			"metadata": {"display_phone_number": "` + selfID + `"},
			"contacts": [{"wa_id": "` + from + `", "profile": {"name": "Ravi Kumar"}}],
			"messages": [{"id": "` + id + `", "from": "` + from + `", "timestamp": ` + itoa(ts) + `, "type": "text", "text": {"body": "` + body + `"}}],
			"statuses": [{"id": "` + id + `", "status": "` + status + `"}]
		}}]}]}
	}`)
}

func TestProcessMixedEnvelope(t *testing.T) {
	p, st, _ := newPipeline()

	// messages are applied before statuses, so a status referencing a
	// message carried in the same payload must resolve
	rep := p.Process(context.Background(), webhookMixed("wamid.A", "919937320320", "Hi", 100, "delivered"))
	if rep.State != StateDone {
		t.Fatalf("expected done, got %s", rep.State)
	}
	if rep.MessagesUpserted != 1 || rep.StatusesApplied != 1 {
		t.Fatalf("both halves must apply, got %+v", rep)
	}
	if rep.UnknownStatusRefs != 0 {
		t.Fatalf("same-payload status ref counted as unknown: %+v", rep)
	}
	got, err := st.GetMessage("wamid.A")
	if err != nil {
		t.Fatalf("message not persisted: %v", err)
	}
	if got.Status != models.StatusDelivered {
		t.Fatalf("status half not applied: %s", got.Status)
	}
}

func TestProcessDeltaOrderMessageBeforeStatus(t *testing.T) {
	p, _, bus := newPipeline()
	sub := bus.Subscribe("")
	defer sub.Close()

	p.Process(context.Background(), webhookMixed("wamid.A", "919937320320", "Hi", 100, "read"))

	d := <-sub.C()
	if d.Kind != models.DeltaNewMessage || d.MessageID != "wamid.A" {
		t.Fatalf("first delta must be the new message, got %+v", d)
	}
	d = <-sub.C()
	if d.Kind != models.DeltaStatusUpdate || d.Status != models.StatusRead {
		t.Fatalf("second delta must be the status update, got %+v", d)
	}
}

func TestProcessUnknownStatusRef(t *testing.T) {
	p, _, bus := newPipeline()
	sub := bus.Subscribe("")
	defer sub.Close()

	rep := p.Process(context.Background(), webhookStatus("wamid.never-seen", "delivered"))
	if rep.State != StateDone {
		t.Fatalf("unknown ref is a no-op, not a failure: %s", rep.State)
	}
	if rep.UnknownStatusRefs != 1 || rep.StatusesApplied != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	select {
	case d := <-sub.C():
		t.Fatalf("no delta may be broadcast for unknown refs, got %+v", d)
	default:
	}
}

func TestProcessRejected(t *testing.T) {
	p, _, bus := newPipeline()
	sub := bus.Subscribe("")
	defer sub.Close()

	rep := p.Process(context.Background(), []byte(`{"unrelated": true}`))
	if rep.State != StateRejected {
		t.Fatalf("expected rejected, got %s", rep.State)
	}
	select {
	case <-sub.C():
		t.Fatalf("rejected payloads must not broadcast")
	default:
	}
}

// failingStore wraps Memory and fails upserts for one specific id.
type failingStore struct {
	*store.Memory
	failID string
}

func (f *failingStore) UpsertMessage(m models.Message) (models.Message, bool, error) {
	if m.ID == f.failID {
		return models.Message{}, false, errors.New("disk full")
	}
	return f.Memory.UpsertMessage(m)
}

func TestProcessPartialFailure(t *testing.T) {
	st := &failingStore{Memory: store.NewMemory(), failID: "wamid.BAD"}
	bus := fanout.New(16)
	p := NewPipeline(classify.New(selfID), st, bus)
	sub := bus.Subscribe("")
	defer sub.Close()

	payload := []byte(`{
		"metaData": {"entry": [{"changes": [{"value": {
			"contacts": [{"wa_id": "91111", "profile": {"name": "X"}}],
			"messages": [
				{"id": "wamid.BAD", "from": "91111", "timestamp": 1, "text": {"body": "boom"}},
				{"id": "wamid.OK", "from": "91111", "timestamp": 2, "text": {"body": "fine"}}
			]
		}}]}]}
	}`)
	rep := p.Process(context.Background(), payload)
	if rep.State != StatePartialFailure {
		t.Fatalf("expected partial_failure, got %s", rep.State)
	}
	if rep.MessagesUpserted != 1 || len(rep.Errors) != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if rep.Errors[0].MessageID != "wamid.BAD" {
		t.Fatalf("error attributed to wrong record: %s", rep.Errors[0].MessageID)
	}
	// the surviving record is persisted and broadcast
	if _, err := st.GetMessage("wamid.OK"); err != nil {
		t.Fatalf("surviving record not persisted: %v", err)
	}
	d := <-sub.C()
	if d.MessageID != "wamid.OK" {
		t.Fatalf("unexpected delta %+v", d)
	}
}

func TestRunConsumesQueueInOrder(t *testing.T) {
	p, st, _ := newPipeline()
	q := NewQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Run(ctx, q, 1)

	if err := q.TryEnqueue(webhookMessage("wamid.1", "91111", "one", 10), "test"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := q.TryEnqueue(webhookMessage("wamid.2", "91111", "two", 20), "test"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, _ := st.FindByConversation("91111")
		if len(msgs) == 2 {
			if msgs[0].ID != "wamid.1" || msgs[1].ID != "wamid.2" {
				t.Fatalf("order broken: %s, %s", msgs[0].ID, msgs[1].ID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("workers did not drain the queue, have %d", len(msgs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
