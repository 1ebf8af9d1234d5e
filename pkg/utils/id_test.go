package utils

import (
	"strings"
	"testing"
)

func TestGenMessageID(t *testing.T) {
	id := GenMessageID()
	if !strings.HasPrefix(id, "wamid.") {
		t.Fatalf("missing prefix: %q", id)
	}
	hex := strings.TrimPrefix(id, "wamid.")
	if len(hex) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(hex))
	}
	if hex != strings.ToUpper(hex) {
		t.Fatalf("id must be uppercase: %q", id)
	}
	if GenMessageID() == id {
		t.Fatalf("ids must be unique")
	}
}
