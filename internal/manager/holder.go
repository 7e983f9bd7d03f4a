package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/haidra-org/horde-model-reference/internal/backends"
)

var (
	// ErrNotInitialized is returned by Get before Create succeeded.
	ErrNotInitialized = errors.New("reference manager not initialized")

	// ErrConflict is returned when Create is called again with settings that
	// differ from the live manager.
	ErrConflict = errors.New("reference manager already initialized with different settings")
)

// Holder owns the single Manager of a process.
type Holder struct {
	mu sync.Mutex
	m  *Manager
}

// Create returns the held manager, creating it on first use. A second call
// with another backend, mode or lazy flag fails with ErrConflict.
func (h *Holder) Create(ctx context.Context, b backends.Backend, opts Options) (*Manager, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.m != nil {
		mode := opts.Mode
		if mode == "" {
			mode = b.Mode()
		}
		switch {
		case h.m.backend != b:
			return nil, fmt.Errorf("%w: backend %s is already in use", ErrConflict, h.m.backend.Name())
		case h.m.opts.Mode != mode:
			return nil, fmt.Errorf("%w: mode %s, requested %s", ErrConflict, h.m.opts.Mode, mode)
		case h.m.opts.Lazy != opts.Lazy:
			return nil, fmt.Errorf("%w: lazy=%t, requested lazy=%t", ErrConflict, h.m.opts.Lazy, opts.Lazy)
		}
		return h.m, nil
	}

	m, err := New(ctx, b, opts)
	if err != nil {
		return nil, err
	}
	h.m = m
	return m, nil
}

// Get returns the held manager.
func (h *Holder) Get() (*Manager, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.m == nil {
		return nil, ErrNotInitialized
	}
	return h.m, nil
}

// Reset closes and forgets the held manager.
func (h *Holder) Reset() error {
	h.mu.Lock()
	m := h.m
	h.m = nil
	h.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Close()
}
