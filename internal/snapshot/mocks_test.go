package snapshot

import (
	"context"
	"sync"

	"github.com/jbweber/vboxdriver/internal/image"
)

// mockImageService is a mock implementation of image.Service for testing.
type mockImageService struct {
	mu sync.Mutex

	updateFunc func(ctx context.Context, id string, meta image.Metadata, src string) error

	updateCalls []image.Metadata
}

func (m *mockImageService) Fetch(context.Context, string, string) error {
	return image.ErrImageNotFound
}

func (m *mockImageService) Show(context.Context, string) (image.Metadata, error) {
	return image.Metadata{}, image.ErrImageNotFound
}

func (m *mockImageService) Update(ctx context.Context, id string, meta image.Metadata, src string) error {
	m.mu.Lock()
	m.updateCalls = append(m.updateCalls, meta)
	fn := m.updateFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, id, meta, src)
	}
	return nil
}
