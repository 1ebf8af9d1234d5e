package store

import (
	"errors"
	"testing"

	"chatrelay/pkg/models"
)

func openTestDB(t *testing.T) *Pebble {
	t.Helper()
	s, err := OpenPebble(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open pebble: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPebbleUpsertAndFetch(t *testing.T) {
	s := openTestDB(t)
	msg := models.Message{ID: "wamid.A", ConversationKey: "91111", Body: "hello", SentAt: 100, Status: models.StatusSent, DisplayName: "Ravi"}
	stored, created, err := s.UpsertMessage(msg)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if !created || stored.Seq == 0 {
		t.Fatalf("expected create with seq, got created=%v seq=%d", created, stored.Seq)
	}
	got, err := s.GetMessage("wamid.A")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Body != "hello" || got.ConversationKey != "91111" {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestPebbleUpsertIdempotent(t *testing.T) {
	s := openTestDB(t)
	msg := models.Message{ID: "wamid.A", ConversationKey: "91111", Body: "v1", SentAt: 100}
	first, _, err := s.UpsertMessage(msg)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	msg.Body = "v2"
	second, created, err := s.UpsertMessage(msg)
	if err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}
	if created {
		t.Fatalf("same id must update, not create")
	}
	if second.Seq != first.Seq || second.CreatedAt != first.CreatedAt {
		t.Fatalf("identity fields changed across upsert")
	}
	msgs, _ := s.FindByConversation("91111")
	if len(msgs) != 1 || msgs[0].Body != "v2" {
		t.Fatalf("expected single updated row, got %+v", msgs)
	}
}

func TestPebbleIndexMovesWithSentAt(t *testing.T) {
	s := openTestDB(t)
	if _, _, err := s.UpsertMessage(models.Message{ID: "a", ConversationKey: "c", SentAt: 100}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, _, err := s.UpsertMessage(models.Message{ID: "b", ConversationKey: "c", SentAt: 200}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	// re-ingest a with a corrected, later timestamp
	if _, _, err := s.UpsertMessage(models.Message{ID: "a", ConversationKey: "c", SentAt: 300}); err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}
	msgs, err := s.FindByConversation("c")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("stale index row leaked: got %d rows", len(msgs))
	}
	if msgs[0].ID != "b" || msgs[1].ID != "a" {
		t.Fatalf("order not updated after sent_at change: %s, %s", msgs[0].ID, msgs[1].ID)
	}
}

func TestPebbleSeqSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenPebble(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	first, _, err := s.UpsertMessage(models.Message{ID: "a", ConversationKey: "c", SentAt: 1})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	s2, err := OpenPebble(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	second, _, err := s2.UpsertMessage(models.Message{ID: "b", ConversationKey: "c", SentAt: 1})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if second.Seq <= first.Seq {
		t.Fatalf("seq counter regressed across reopen: %d then %d", first.Seq, second.Seq)
	}
	msgs, _ := s2.FindByConversation("c")
	if len(msgs) != 2 || msgs[0].ID != "a" || msgs[1].ID != "b" {
		t.Fatalf("tie-break order broken after reopen: %+v", msgs)
	}
}

func TestPebblePatchStatusUnknownID(t *testing.T) {
	s := openTestDB(t)
	if _, err := s.PatchStatus("wamid.missing", models.StatusRead); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPebbleListConversationKeys(t *testing.T) {
	s := openTestDB(t)
	for _, m := range []models.Message{
		{ID: "a", ConversationKey: "c1", SentAt: 1},
		{ID: "b", ConversationKey: "c2", SentAt: 2},
		{ID: "c", ConversationKey: "c1", SentAt: 3},
	} {
		if _, _, err := s.UpsertMessage(m); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}
	keys, err := s.ListConversationKeys()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
}

func TestPebblePurgeOlderThan(t *testing.T) {
	s := openTestDB(t)
	for _, m := range []models.Message{
		{ID: "old1", ConversationKey: "c", SentAt: 100},
		{ID: "old2", ConversationKey: "c", SentAt: 200},
		{ID: "new1", ConversationKey: "c", SentAt: 900},
	} {
		if _, _, err := s.UpsertMessage(m); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	n, err := s.PurgeOlderThan(500, 1, true)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("dry run expected 2 victims, got %d", n)
	}
	if msgs, _ := s.FindByConversation("c"); len(msgs) != 3 {
		t.Fatalf("dry run must not delete")
	}

	n, err = s.PurgeOlderThan(500, 1, false)
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	msgs, _ := s.FindByConversation("c")
	if len(msgs) != 1 || msgs[0].ID != "new1" {
		t.Fatalf("unexpected survivors: %+v", msgs)
	}
}

func TestPebbleConversationMetaSurvivesPurge(t *testing.T) {
	s := openTestDB(t)
	for _, m := range []models.Message{
		{ID: "old1", ConversationKey: "c", DisplayName: "Ravi Kumar", SentAt: 100},
		{ID: "new1", ConversationKey: "c", SentAt: 900},
	} {
		if _, _, err := s.UpsertMessage(m); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}
	if _, err := s.PurgeOlderThan(500, 10, false); err != nil {
		t.Fatalf("purge failed: %v", err)
	}

	meta, err := s.GetConversationMeta("c")
	if err != nil {
		t.Fatalf("meta lookup failed: %v", err)
	}
	if meta.DisplayName != "Ravi Kumar" {
		t.Fatalf("meta must keep the purged contact name, got %q", meta.DisplayName)
	}
	if _, err := s.GetConversationMeta("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown key must return ErrNotFound, got %v", err)
	}
}
