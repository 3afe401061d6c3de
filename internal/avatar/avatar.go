// Package avatar 在房间删除时清理房间头像。
package avatar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store 管理 rooms/<room id>/ 下的头像文件。
type Store interface {
	RemoveRoom(ctx context.Context, roomID uuid.UUID) error
}

func roomPrefix(roomID uuid.UUID) string {
	return "rooms/" + roomID.String() + "/"
}

// Local 把头像保存在 Root 目录下。
type Local struct {
	Root string
}

func NewLocal(root string) *Local {
	return &Local{Root: root}
}

func (l *Local) RemoveRoom(_ context.Context, roomID uuid.UUID) error {
	dir := filepath.Join(l.Root, filepath.FromSlash(roomPrefix(roomID)))
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove room avatar %s: %w", roomID, err)
	}
	return nil
}
