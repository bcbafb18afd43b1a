package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStorePutAndDelete(t *testing.T) {
	base := t.TempDir()
	store, err := NewFileStore(base)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "users/1/report.pdf", strings.NewReader("%PDF-1.4"), 8, "application/pdf"); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(base, "users", "1", "report.pdf"))
	if err != nil || string(data) != "%PDF-1.4" {
		t.Fatalf("stored content = %q, %v", data, err)
	}
	if err := store.Delete(ctx, "users/1/report.pdf"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "users/1/report.pdf"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	for _, key := range []string{"../outside", "/etc/passwd", "", "a/../../b"} {
		if err := store.Put(context.Background(), key, strings.NewReader("x"), 1, ""); err == nil {
			t.Fatalf("key %q should be rejected", key)
		}
	}
}
