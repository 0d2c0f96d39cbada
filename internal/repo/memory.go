package repo

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/riskcast/omen/internal/domain"
)

// DefaultMaxSize caps the in-memory repository.
const DefaultMaxSize = 10000

// Memory is a bounded in-memory repository with FIFO eviction. Both
// indices (by id, by event hash) are updated under one lock so an
// evicted signal disappears from both atomically.
type Memory struct {
	mu      sync.RWMutex
	maxSize int
	order   *list.List               // signal ids, oldest first
	byID    map[string]*memoryEntry
	byHash  map[string]string // input_event_hash -> signal_id
}

type memoryEntry struct {
	signal  domain.Signal
	element *list.Element
}

// NewMemory creates an in-memory repository holding at most maxSize
// signals; maxSize <= 0 selects the default cap.
func NewMemory(maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Memory{
		maxSize: maxSize,
		order:   list.New(),
		byID:    make(map[string]*memoryEntry),
		byHash:  make(map[string]string),
	}
}

// Save stores the signal, evicting the oldest entry when full.
func (m *Memory) Save(_ context.Context, signal domain.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byID[signal.SignalID]; ok {
		delete(m.byHash, existing.signal.InputEventHash)
		existing.signal = signal
		m.byHash[signal.InputEventHash] = signal.SignalID
		return nil
	}

	for m.order.Len() >= m.maxSize {
		oldest := m.order.Front()
		id := oldest.Value.(string)
		if entry, ok := m.byID[id]; ok {
			delete(m.byHash, entry.signal.InputEventHash)
			delete(m.byID, id)
		}
		m.order.Remove(oldest)
	}

	elem := m.order.PushBack(signal.SignalID)
	m.byID[signal.SignalID] = &memoryEntry{signal: signal, element: elem}
	m.byHash[signal.InputEventHash] = signal.SignalID
	return nil
}

// FindByID returns the signal with the given id.
func (m *Memory) FindByID(_ context.Context, signalID string) (domain.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.byID[signalID]
	if !ok {
		return domain.Signal{}, ErrNotFound
	}
	return entry.signal, nil
}

// FindByHash returns the signal derived from the given event hash.
func (m *Memory) FindByHash(_ context.Context, inputEventHash string) (domain.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byHash[inputEventHash]
	if !ok {
		return domain.Signal{}, ErrNotFound
	}
	entry, ok := m.byID[id]
	if !ok {
		return domain.Signal{}, ErrNotFound
	}
	return entry.signal, nil
}

// FindRecent returns up to limit signals, newest first.
func (m *Memory) FindRecent(_ context.Context, limit int, since time.Time) ([]domain.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = m.order.Len()
	}
	out := make([]domain.Signal, 0, limit)
	for e := m.order.Back(); e != nil && len(out) < limit; e = e.Prev() {
		entry := m.byID[e.Value.(string)]
		if entry == nil {
			continue
		}
		if !since.IsZero() && !entry.signal.GeneratedAt.After(since) {
			continue
		}
		out = append(out, entry.signal)
	}
	return out, nil
}

// Len reports the number of stored signals.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.order.Len()
}
