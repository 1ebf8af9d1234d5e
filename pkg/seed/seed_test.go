package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"chatrelay/pkg/classify"
	"chatrelay/pkg/fanout"
	"chatrelay/pkg/ingest"
	"chatrelay/pkg/store"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestReplayProcessesFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	// 01 creates the message, 02 marks it read; order matters
	writeFile(t, dir, "01-message.json", `{
		"metaData": {"entry": [{"changes": [{"value": {
			"contacts": [{"wa_id": "91111", "profile": {"name": "Ravi"}}],
			"messages": [{"id": "wamid.S1", "from": "91111", "timestamp": 100, "text": {"body": "hello"}}]
		}}]}]}
	}`)
	writeFile(t, dir, "02-status.json", `{
		"metaData": {"entry": [{"changes": [{"value": {
			"statuses": [{"id": "wamid.S1", "status": "read"}]
		}}]}]}
	}`)
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, "03-garbage.json", "not json")

	st := store.NewMemory()
	p := ingest.NewPipeline(classify.New("1555000"), st, fanout.New(8))
	stats, err := Replay(context.Background(), dir, p)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if stats.Files != 2 || stats.Messages != 1 || stats.Statuses != 1 || stats.Skipped != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	msg, err := st.GetMessage("wamid.S1")
	if err != nil {
		t.Fatalf("seeded message missing: %v", err)
	}
	if string(msg.Status) != "read" {
		t.Fatalf("status file applied out of order: %s", msg.Status)
	}
}

func TestReplayMissingDir(t *testing.T) {
	st := store.NewMemory()
	p := ingest.NewPipeline(classify.New(""), st, fanout.New(8))
	if _, err := Replay(context.Background(), "/does/not/exist", p); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
