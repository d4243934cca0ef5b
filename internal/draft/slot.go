package draft

import (
	"context"
	"fmt"
	"sync"
)

// Slot stores one opaque draft blob.
type Slot interface {
	// Read returns the stored blob. ok is false when the slot is empty.
	Read(ctx context.Context) (data []byte, ok bool, err error)
	Write(ctx context.Context, data []byte) error
	Delete(ctx context.Context) error
}

// PersistenceFailure wraps a slot error. Read failures are treated as an
// empty slot; write failures are reported but never fatal.
type PersistenceFailure struct {
	Op    string
	Cause error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("draft %s failed: %v", e.Op, e.Cause)
}

func (e *PersistenceFailure) Unwrap() error { return e.Cause }

// MemorySlot is an in-process Slot.
type MemorySlot struct {
	mu   sync.Mutex
	data []byte
}

// NewMemorySlot creates an empty slot.
func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (s *MemorySlot) Read(ctx context.Context) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, false, nil
	}
	return append([]byte(nil), s.data...), true, nil
}

func (s *MemorySlot) Write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *MemorySlot) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}
