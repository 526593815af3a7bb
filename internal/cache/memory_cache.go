package cache

import (
	"container/list"
	"context"
	"sync"
)

// MemoryCache реализует LRU-кеш в памяти процесса
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type memoryEntry struct {
	key   string
	value []byte
}

// NewMemoryCache создаёт кеш на capacity записей (capacity <= 0: 1024)
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	m.order.MoveToFront(el)
	return append([]byte(nil), el.Value.(*memoryEntry).value...), nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	value = append([]byte(nil), value...)
	if el, ok := m.items[key]; ok {
		el.Value.(*memoryEntry).value = value
		m.order.MoveToFront(el)
		return nil
	}

	m.items[key] = m.order.PushFront(&memoryEntry{key: key, value: value})
	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.items, oldest.Value.(*memoryEntry).key)
	}
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		m.order.Remove(el)
		delete(m.items, key)
	}
	return nil
}

// Len возвращает количество записей
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *MemoryCache) Close() error { return nil }
