package subscription

import (
	"context"
	"errors"

	"github.com/dmitrymomot/printforge/pkg/file"
	sub "github.com/dmitrymomot/printforge/pkg/subscription"
)

// FileObjectStore adapts a file.Storage to subscription.ObjectStore.
type FileObjectStore struct {
	storage file.Storage
}

var _ sub.ObjectStore = (*FileObjectStore)(nil)

func NewFileObjectStore(storage file.Storage) *FileObjectStore {
	if storage == nil {
		panic("subscription: file storage is required")
	}
	return &FileObjectStore{storage: storage}
}

// DeleteObject implements subscription.ObjectStore.
func (s *FileObjectStore) DeleteObject(ctx context.Context, url string) error {
	err := file.DeleteURL(ctx, s.storage, url)
	if errors.Is(err, file.ErrFileNotFound) {
		return errors.Join(sub.ErrObjectNotFound, err)
	}
	return err
}
