// Package ringbuf provides fixed-capacity FIFO buffers keyed by server name.
package ringbuf

import "sync"

// Store holds one bounded buffer per key. Buffers are created lazily on first
// append. Each buffer carries its own lock, so writers for different keys
// never contend with each other.
type Store[T any] struct {
	capacity int
	mu       sync.RWMutex
	buffers  map[string]*buffer[T]
}

type buffer[T any] struct {
	mu    sync.Mutex
	items []T
	head  int // index of the oldest item
	size  int
}

// NewStore creates a keyed store whose buffers hold at most capacity items.
func NewStore[T any](capacity int) *Store[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Store[T]{
		capacity: capacity,
		buffers:  make(map[string]*buffer[T]),
	}
}

func (s *Store[T]) buffer(key string) *buffer[T] {
	s.mu.RLock()
	b, ok := s.buffers[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buffers[key]; ok {
		return b
	}
	b = &buffer[T]{items: make([]T, s.capacity)}
	s.buffers[key] = b
	return b
}

// Append inserts item at the tail of key's buffer, evicting the oldest entry
// when the buffer is full. It always succeeds.
func (s *Store[T]) Append(key string, item T) {
	b := s.buffer(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.append(item, s.capacity)
}

// AppendAll inserts items in order under a single lock acquisition.
func (s *Store[T]) AppendAll(key string, items []T) {
	if len(items) == 0 {
		return
	}
	b := s.buffer(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, item := range items {
		b.append(item, s.capacity)
	}
}

func (b *buffer[T]) append(item T, capacity int) {
	if b.size < capacity {
		b.items[(b.head+b.size)%capacity] = item
		b.size++
		return
	}
	// Full: overwrite the oldest slot and advance the head.
	b.items[b.head] = item
	b.head = (b.head + 1) % capacity
}

// Snapshot returns a copy of the most recent min(limit, size) items for key,
// oldest first. An unknown key yields an empty slice.
func (s *Store[T]) Snapshot(key string, limit int) []T {
	s.mu.RLock()
	b, ok := s.buffers[key]
	s.mu.RUnlock()
	if !ok || limit <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.size
	if limit < n {
		n = limit
	}
	out := make([]T, n)
	start := b.head + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(start+i)%s.capacity]
	}
	return out
}

// Len reports how many items key's buffer currently holds.
func (s *Store[T]) Len(key string) int {
	s.mu.RLock()
	b, ok := s.buffers[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the fixed per-key capacity.
func (s *Store[T]) Capacity() int { return s.capacity }
