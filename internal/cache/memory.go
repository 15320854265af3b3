package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryBackend is an in-process LRU with per-entry TTL.
type MemoryBackend struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    *list.List
	capacity int
	now      func() time.Time
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	element   *list.Element
}

// NewMemoryBackend creates an LRU holding at most capacity entries.
func NewMemoryBackend(capacity int) *MemoryBackend {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryBackend{
		entries:  make(map[string]*entry),
		order:    list.New(),
		capacity: capacity,
		now:      time.Now,
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		m.remove(e)
		return nil, ErrMiss
	}
	m.order.MoveToFront(e.element)

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	if e, ok := m.entries[key]; ok {
		e.value = stored
		e.expiresAt = expiresAt
		m.order.MoveToFront(e.element)
		return nil
	}

	for len(m.entries) >= m.capacity {
		m.evictOldest()
	}

	e := &entry{key: key, value: stored, expiresAt: expiresAt}
	e.element = m.order.PushFront(e)
	m.entries[key] = e
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		m.remove(e)
	}
	return nil
}

func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Collect first; removing while ranging over the map is legal but the
	// list bookkeeping is easier to follow this way.
	var doomed []*entry
	for key, e := range m.entries {
		if strings.HasPrefix(key, prefix) {
			doomed = append(doomed, e)
		}
	}
	for _, e := range doomed {
		m.remove(e)
	}
	return len(doomed), nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }

// Len returns the number of live and not yet reaped entries.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// must be called with mu held
func (m *MemoryBackend) evictOldest() {
	oldest := m.order.Back()
	if oldest == nil {
		return
	}
	if e, ok := oldest.Value.(*entry); ok {
		m.remove(e)
	}
}

// must be called with mu held
func (m *MemoryBackend) remove(e *entry) {
	m.order.Remove(e.element)
	delete(m.entries, e.key)
}
