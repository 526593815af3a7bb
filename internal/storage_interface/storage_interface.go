package storage_interface

import (
	"context"

	"github.com/annel0/voxelstore/internal/vec"
	"github.com/annel0/voxelstore/internal/world/block"
)

// ChunkStore определяет интерфейс постоянного хранилища колонок чанков.
// Мир сбрасывает в него грязные колонки при Flush и подгружает их при первом обращении.
type ChunkStore interface {
	// LoadChunk загружает колонку. found == false, если колонка ни разу не сохранялась.
	LoadChunk(ctx context.Context, col vec.Vec2) (*ChunkRecord, bool, error)

	// SaveChunk сохраняет колонку целиком, заменяя прежнюю запись
	SaveChunk(ctx context.Context, rec *ChunkRecord) error

	// HasChunk проверяет наличие сохранённой колонки
	HasChunk(ctx context.Context, col vec.Vec2) (bool, error)

	// DeleteChunk удаляет колонку; отсутствие записи ошибкой не является
	DeleteChunk(ctx context.Context, col vec.Vec2) error

	// Close закрывает хранилище
	Close() error
}

// BatchSaver реализуют хранилища, умеющие сохранять несколько колонок за одну операцию
type BatchSaver interface {
	SaveChunks(ctx context.Context, recs []*ChunkRecord) error
}

// ChunkRecord содержит все данные одной колонки чанка
type ChunkRecord struct {
	Column vec.Vec2

	// Blocks: плотный массив 16x256x16 или nil, если чанк не создавался
	Blocks []byte

	// Overflow: состояния, не попавшие в плотный массив
	Overflow map[vec.BlockPos]block.State

	// Buffers: вспомогательные буферы блоков колонки
	Buffers map[vec.BlockPos][]byte
}

// NewChunkRecord создаёт пустую запись для колонки
func NewChunkRecord(col vec.Vec2) *ChunkRecord {
	return &ChunkRecord{
		Column:   col,
		Overflow: make(map[vec.BlockPos]block.State),
		Buffers:  make(map[vec.BlockPos][]byte),
	}
}

// Empty сообщает, что в колонке нет данных
func (r *ChunkRecord) Empty() bool {
	return r.Blocks == nil && len(r.Overflow) == 0 && len(r.Buffers) == 0
}
