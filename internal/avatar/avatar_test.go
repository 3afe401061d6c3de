package avatar

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestLocal_RemoveRoom(t *testing.T) {
	root := t.TempDir()
	roomID := uuid.New()
	other := uuid.New()

	for _, id := range []uuid.UUID{roomID, other} {
		dir := filepath.Join(root, "rooms", id.String())
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "avatar.png"), []byte("png"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	l := NewLocal(root)
	if err := l.RemoveRoom(context.Background(), roomID); err != nil {
		t.Fatalf("RemoveRoom() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "rooms", roomID.String())); !os.IsNotExist(err) {
		t.Errorf("room avatar dir still exists: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "rooms", other.String(), "avatar.png")); err != nil {
		t.Errorf("other room avatar removed: %v", err)
	}

	// missing directory is not an error
	if err := l.RemoveRoom(context.Background(), uuid.New()); err != nil {
		t.Errorf("RemoveRoom(missing) error = %v", err)
	}
}
