package imagecache

import (
	"context"
	"sync"

	"github.com/jbweber/vboxdriver/internal/image"
)

// mockImageService is a mock implementation of image.Service for testing.
type mockImageService struct {
	mu sync.Mutex

	fetchFunc  func(ctx context.Context, ref, dst string) error
	showFunc   func(ctx context.Context, ref string) (image.Metadata, error)
	updateFunc func(ctx context.Context, id string, meta image.Metadata, src string) error

	fetchCalls  []string
	updateCalls []string
}

func (m *mockImageService) Fetch(ctx context.Context, ref, dst string) error {
	m.mu.Lock()
	m.fetchCalls = append(m.fetchCalls, ref)
	fn := m.fetchFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, ref, dst)
	}
	return nil
}

func (m *mockImageService) Show(ctx context.Context, ref string) (image.Metadata, error) {
	if m.showFunc != nil {
		return m.showFunc(ctx, ref)
	}
	return image.Metadata{ID: ref}, nil
}

func (m *mockImageService) Update(ctx context.Context, id string, meta image.Metadata, src string) error {
	m.mu.Lock()
	m.updateCalls = append(m.updateCalls, id)
	m.mu.Unlock()
	if m.updateFunc != nil {
		return m.updateFunc(ctx, id, meta, src)
	}
	return nil
}

func (m *mockImageService) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetchCalls)
}
