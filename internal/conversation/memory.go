package conversation

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Stats summarizes store occupancy.
type Stats struct {
	Conversations int `json:"conversations"`
	Turns         int `json:"turns"`
}

// MemoryStore is an in-process Store.
//
// Each conversation has its own lock, so appends to different keys never wait
// on each other. The key index is bounded by an optional LRU limit and an
// optional idle TTL; neither changes the per-conversation window.
type MemoryStore struct {
	conversations    map[string]*entry
	lru              *list.List
	now              func() time.Time
	window           int
	maxConversations int
	idleTTL          time.Duration
	mu               sync.Mutex
}

type entry struct {
	lastActivity time.Time
	elem         *list.Element
	key          string
	turns        History
	evicted      bool
	mu           sync.Mutex
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithWindow sets the number of turns kept per conversation.
func WithWindow(n int) MemoryOption {
	return func(m *MemoryStore) {
		if n > 0 {
			m.window = n
		}
	}
}

// WithMaxConversations caps the number of conversations held. When the cap is
// exceeded the least recently used conversation is dropped whole. Eviction
// waits for an append in progress on that conversation, and an append that
// finds its entry evicted retries on a fresh one, so no turn is written to a
// dropped entry. The dropped history itself is lost.
func WithMaxConversations(n int) MemoryOption {
	return func(m *MemoryStore) {
		m.maxConversations = n
	}
}

// WithIdleTTL makes CleanupExpired drop conversations idle longer than ttl.
func WithIdleTTL(ttl time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		m.idleTTL = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		conversations: make(map[string]*entry),
		lru:           list.New(),
		now:           time.Now,
		window:        DefaultWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (History, error) {
	e := m.lookup(key, false)
	if e == nil {
		return History{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return History{}, nil
	}
	return clone(e.turns), nil
}

// AppendAndTrim implements Store.
func (m *MemoryStore) AppendAndTrim(_ context.Context, key string, turn Turn) (History, error) {
	for {
		if h, ok := m.appendTo(m.lookup(key, true), turn); ok {
			return h, nil
		}
	}
}

// appendTo adds turn to e. It reports false if e was evicted after lookup.
func (m *MemoryStore) appendTo(e *entry, turn Turn) (History, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return nil, false
	}

	turns := append(e.turns, turn)
	if len(turns) > m.window {
		turns = clone(trim(turns, m.window))
	}
	e.turns = turns

	return clone(e.turns), true
}

// lookup finds the entry for key and marks it as recently used. With create
// set, a missing entry is added, evicting the least recently used one if the
// store is full.
func (m *MemoryStore) lookup(key string, create bool) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.conversations[key]; ok {
		e.lastActivity = now
		m.lru.MoveToFront(e.elem)
		return e
	}
	if !create {
		return nil
	}

	e := &entry{key: key, lastActivity: now}
	e.elem = m.lru.PushFront(e)
	m.conversations[key] = e

	for m.maxConversations > 0 && m.lru.Len() > m.maxConversations {
		m.removeLocked(m.lru.Back())
	}
	return e
}

func (m *MemoryStore) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	e, ok := elem.Value.(*entry)
	if !ok {
		return
	}
	m.lru.Remove(elem)
	delete(m.conversations, e.key)

	// Lock order is m.mu then e.mu.
	e.mu.Lock()
	e.evicted = true
	e.mu.Unlock()
}

// CleanupExpired removes conversations idle longer than the configured TTL and
// returns how many were removed. It is a no-op without a TTL.
func (m *MemoryStore) CleanupExpired() int {
	if m.idleTTL <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0

	// Back of the list holds the least recently used entries.
	for elem := m.lru.Back(); elem != nil; {
		prev := elem.Prev()
		e, ok := elem.Value.(*entry)
		if ok && now.Sub(e.lastActivity) > m.idleTTL {
			m.removeLocked(elem)
			removed++
		}
		elem = prev
	}

	return removed
}

// Stats returns current occupancy.
func (m *MemoryStore) Stats() Stats {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.conversations))
	for _, e := range m.conversations {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	stats := Stats{Conversations: len(entries)}
	for _, e := range entries {
		e.mu.Lock()
		stats.Turns += len(e.turns)
		e.mu.Unlock()
	}
	return stats
}
