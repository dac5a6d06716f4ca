package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreWriteAndList(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	for _, key := range []string{"styles/zombie.png", "styles/elf.png", "./styles/../styles/pirate.jpg"} {
		if _, err := store.Write(ctx, key, []byte("img")); err != nil {
			t.Fatalf("Write(%q) error: %v", key, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(store.BasePath(), "styles", "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	_ = os.WriteFile(filepath.Join(store.BasePath(), "styles", ".DS_Store"), nil, 0o644)

	keys, err := store.List(ctx, "styles")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	want := []string{"styles/elf.png", "styles/pirate.jpg", "styles/zombie.png"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	if _, err := store.Write(context.Background(), "../escape.png", []byte("x")); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
	if keys, err := store.List(context.Background(), "missing"); err != nil || len(keys) != 0 {
		t.Fatalf("List(missing) = %v, %v", keys, err)
	}
}
