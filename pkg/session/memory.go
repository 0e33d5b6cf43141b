package session

import (
	"context"
	"sync"

	"github.com/huandu/go-clone"
)

// MemoryStore keeps records in process. Records are deep copied in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]*Record{}}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (*Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrStoreClosed
	}
	r, ok := m.records[sessionID]
	if !ok {
		return nil, false, nil
	}
	return clone.Clone(r).(*Record), true, nil
}

func (m *MemoryStore) Save(_ context.Context, record *Record) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.records[record.SessionID] = clone.Clone(stamp(record)).(*Record)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.records, sessionID)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
