package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/annel0/voxelstore/internal/storage_interface"
	"github.com/annel0/voxelstore/internal/vec"
)

// chunkKey возвращает ключ колонки в пространстве мира
func chunkKey(worldID string, col vec.Vec2) string {
	return fmt.Sprintf("chunk:%s:%d:%d", worldID, col.X, col.Z)
}

// MemoryChunkStore реализует ChunkStore в памяти.
// Используется в тестах и для CI/локальной разработки без БД.
// Записи хранятся в закодированном виде, как в настоящих хранилищах.
// ВНИМАНИЕ: Данные теряются при перезапуске!
type MemoryChunkStore struct {
	mu    sync.RWMutex
	codec *Codec
	data  map[vec.Vec2][]byte
}

// NewMemoryChunkStore создаёт хранилище колонок в памяти
func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{
		codec: mustCodec("none"),
		data:  make(map[vec.Vec2][]byte),
	}
}

// LoadChunk загружает колонку из памяти
func (s *MemoryChunkStore) LoadChunk(ctx context.Context, col vec.Vec2) (*storage_interface.ChunkRecord, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	data, ok := s.data[col]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	rec, err := s.codec.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// SaveChunk сохраняет колонку в памяти
func (s *MemoryChunkStore) SaveChunk(ctx context.Context, rec *storage_interface.ChunkRecord) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data := s.codec.Encode(rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.Column] = data
	return nil
}

// HasChunk проверяет наличие колонки
func (s *MemoryChunkStore) HasChunk(ctx context.Context, col vec.Vec2) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[col]
	return ok, nil
}

// DeleteChunk удаляет колонку
func (s *MemoryChunkStore) DeleteChunk(ctx context.Context, col vec.Vec2) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, col)
	return nil
}

// Len возвращает количество сохранённых колонок
func (s *MemoryChunkStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close ничего не делает
func (s *MemoryChunkStore) Close() error {
	return nil
}
