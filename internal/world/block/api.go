package block

import (
	"github.com/annel0/voxelstore/internal/vec"
)

// ChunkVolume задаёт количество ячеек в плотном массиве чанка 16x256x16
const ChunkVolume = 16 * 256 * 16

// Примитивы хранилища с точной позицией. Бэкенд реализует только те, что умеет;
// курсор проверяет наличие нужного примитива при каждом вызове.

// StateReader читает состояние блока ровно в позиции pos
type StateReader interface {
	ReadBlockState(pos vec.BlockPos) (State, error)
}

// StateWriter записывает состояние блока ровно в позицию pos.
// Запись может создать или удалить буфер блока.
type StateWriter interface {
	WriteBlockState(pos vec.BlockPos, state State) error
}

// BlockChecker проверяет наличие блока в позиции
type BlockChecker interface {
	ContainsBlock(pos vec.BlockPos) (bool, error)
}

// Flusher доводит изменения до места назначения (например, до файлов).
// Для хранилища в памяти это no-op.
type Flusher interface {
	Flush() error
}

// BufferProvider выдаёт буфер блока. Отсутствие буфера: ErrContractViolation.
type BufferProvider interface {
	BlockBuffer(pos vec.BlockPos) (*Buffer, error)
}

// IDSystem переводит состояния в идентификаторы и обратно.
// Одному миру соответствует одна система, и она не меняется во время работы.
type IDSystem interface {
	StateToID(state State) (ID, bool)
	IDToState(id ID) (State, bool)
}

// IDOperator представляет хранилище, знающее свою систему идентификаторов
type IDOperator interface {
	BlockIDSystem() IDSystem
}

// ChunkReader читает целый плотный массив чанка
type ChunkReader interface {
	ReadChunk(col vec.Vec2, dst *[ChunkVolume]byte) error
	ContainsChunk(col vec.Vec2) (bool, error)
}

// ChunkWriter записывает целый плотный массив чанка
type ChunkWriter interface {
	WriteChunk(col vec.Vec2, src *[ChunkVolume]byte) error
}
