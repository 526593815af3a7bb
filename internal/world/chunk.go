package world

import (
	"github.com/cespare/xxhash/v2"

	"github.com/annel0/voxelstore/internal/vec"
	"github.com/annel0/voxelstore/internal/world/block"
)

// Размеры плотного массива чанка
const (
	ChunkWidth  = 16
	ChunkHeight = 256
	ChunkDepth  = 16
)

// Chunk представляет плотный массив 16x256x16 байт, по байту на позицию.
// Хранит младший байт состояния (0..255); всё, что больше, живёт в карте переполнения мира.
type Chunk struct {
	Coords vec.Vec2 // Координаты колонки

	cells [block.ChunkVolume]byte
	dirty bool
}

// NewChunk создаёт чанк, заполненный нулями
func NewChunk(coords vec.Vec2) *Chunk {
	return &Chunk{Coords: coords}
}

// cellIndex возвращает индекс ячейки: y занимает старший байт, затем z и x
func cellIndex(lx int, y int32, lz int) int {
	return int(y)<<8 | lz<<4 | lx
}

// inDenseBand проверяет, лежит ли y в пределах высоты чанка
func inDenseBand(y int32) bool {
	return y >= 0 && y < ChunkHeight
}

// Get возвращает байт ячейки по локальным координатам
func (c *Chunk) Get(lx int, y int32, lz int) byte {
	return c.cells[cellIndex(lx, y, lz)]
}

// Set записывает байт ячейки по локальным координатам
func (c *Chunk) Set(lx int, y int32, lz int, v byte) {
	i := cellIndex(lx, y, lz)
	if c.cells[i] == v {
		return
	}
	c.cells[i] = v
	c.dirty = true
}

// NonZero возвращает количество непустых ячеек
func (c *Chunk) NonZero() int {
	n := 0
	for _, v := range c.cells {
		if v != 0 {
			n++
		}
	}
	return n
}

// CopyTo копирует ячейки в dst
func (c *Chunk) CopyTo(dst *[block.ChunkVolume]byte) {
	*dst = c.cells
}

// CopyFrom заменяет ячейки содержимым src
func (c *Chunk) CopyFrom(src []byte) {
	copy(c.cells[:], src)
	c.dirty = true
}

// Bytes возвращает копию ячеек
func (c *Chunk) Bytes() []byte {
	out := make([]byte, block.ChunkVolume)
	copy(out, c.cells[:])
	return out
}

// Dirty сообщает, менялся ли чанк с последнего сброса
func (c *Chunk) Dirty() bool {
	return c.dirty
}

// ClearDirty снимает флаг изменений
func (c *Chunk) ClearDirty() {
	c.dirty = false
}

// Digest возвращает хеш содержимого чанка
func (c *Chunk) Digest() uint64 {
	return xxhash.Sum64(c.cells[:])
}
