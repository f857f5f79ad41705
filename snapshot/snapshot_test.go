package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMaskHeaderValueMasksAuthorization(t *testing.T) {
	got := maskHeaderValue("Authorization", "Bearer sk-abcdefghijklmno")
	if got == "Bearer sk-abcdefghijklmno" {
		t.Fatal("expected authorization header to be masked")
	}
	if got[:6] != "Bearer"[:6] {
		t.Fatalf("expected prefix preserved, got %q", got)
	}
}

func TestMaskHeaderValueShortValueFlatMask(t *testing.T) {
	got := maskHeaderValue("X-API-Key", "short")
	if got != "****" {
		t.Fatalf("expected flat mask for short values, got %q", got)
	}
}

func TestMaskHeaderValuePassesThroughNonSensitive(t *testing.T) {
	got := maskHeaderValue("Content-Type", "application/json")
	if got != "application/json" {
		t.Fatalf("expected non-sensitive header untouched, got %q", got)
	}
}

func TestWriterWritesAndSweeps(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, zerolog.Nop(), WithTTL(time.Millisecond))
	defer w.Close()

	w.Write(RequestContext{RequestID: "req-1", EntryDialect: "openai-chat"}, PhaseClientInbound, map[string]any{
		"headers": map[string]string{"Authorization": "Bearer sk-abcdefghijklmno"},
	})

	deadline := time.Now().Add(2 * time.Second)
	var path string
	for time.Now().Before(deadline) {
		path = filepath.Join(dir, "openai-chat", "req-1_client-inbound.json")
		if _, err := os.Stat(path); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected snapshot file to exist: %v", err)
	}
}
