package fanout

import (
	"testing"
	"time"

	"chatrelay/pkg/models"
)

func delta(key, id string) models.Delta {
	return models.Delta{Kind: models.DeltaNewMessage, ConversationKey: key, MessageID: id}
}

func TestPublishOrderPreserved(t *testing.T) {
	b := New(16)
	sub := b.Subscribe("")
	defer sub.Close()

	for _, id := range []string{"m1", "m2", "m3"} {
		b.Publish(delta("c", id))
	}
	for _, want := range []string{"m1", "m2", "m3"} {
		select {
		case d := <-sub.C():
			if d.MessageID != want {
				t.Fatalf("want %s got %s", want, d.MessageID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestSubscribeFiltersByConversation(t *testing.T) {
	b := New(16)
	all := b.Subscribe("")
	only := b.Subscribe("c1")
	defer all.Close()
	defer only.Close()

	b.Publish(delta("c1", "a"))
	b.Publish(delta("c2", "b"))

	if d := <-only.C(); d.MessageID != "a" {
		t.Fatalf("filtered subscriber got %s", d.MessageID)
	}
	select {
	case d := <-only.C():
		t.Fatalf("filtered subscriber received foreign delta %s", d.MessageID)
	default:
	}

	if d := <-all.C(); d.MessageID != "a" {
		t.Fatalf("unfiltered subscriber got %s first", d.MessageID)
	}
	if d := <-all.C(); d.MessageID != "b" {
		t.Fatalf("unfiltered subscriber got %s second", d.MessageID)
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New(2)
	sub := b.Subscribe("")
	defer sub.Close()

	b.Publish(delta("c", "m1"))
	b.Publish(delta("c", "m2"))
	b.Publish(delta("c", "m3")) // m1 evicted

	if b.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", b.Dropped())
	}
	if d := <-sub.C(); d.MessageID != "m2" {
		t.Fatalf("oldest should be dropped, first received %s", d.MessageID)
	}
	if d := <-sub.C(); d.MessageID != "m3" {
		t.Fatalf("newest must survive, got %s", d.MessageID)
	}
}

func TestCloseIsSafe(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("")
	sub.Close()
	sub.Close() // idempotent
	if b.SubscriberCount() != 0 {
		t.Fatalf("close must deregister")
	}
	// publish after subscriber close must not panic
	b.Publish(delta("c", "x"))

	sub2 := b.Subscribe("")
	b.Close()
	if _, ok := <-sub2.C(); ok {
		t.Fatalf("bus close must close subscriber channels")
	}
	// both are no-ops now
	b.Publish(delta("c", "y"))
	sub2.Close()
}
