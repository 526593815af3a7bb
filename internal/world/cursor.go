package world

import (
	"fmt"

	"github.com/annel0/voxelstore/internal/vec"
	"github.com/annel0/voxelstore/internal/world/block"
)

// SeekFrom описывает перемещение курсора
type SeekFrom struct {
	relative bool
	pos      vec.BlockPos
	dx       int32
	dy       int32
	dz       int32
}

// SeekAbsolute перемещает курсор в указанную позицию
func SeekAbsolute(pos vec.BlockPos) SeekFrom {
	return SeekFrom{pos: pos}
}

// SeekRelative смещает курсор; переполнение полей не проверяется
func SeekRelative(dx, dy, dz int32) SeekFrom {
	return SeekFrom{relative: true, dx: dx, dy: dy, dz: dz}
}

// Cursor предоставляет позиционный доступ к хранилищу блоков.
// Сам ничего не хранит: каждая операция делегируется соответствующему примитиву хранилища.
type Cursor[B any] struct {
	inner B
	pos   vec.BlockPos
}

// NewCursor создаёт курсор в позиции (0, 0, 0)
func NewCursor[B any](inner B) *Cursor[B] {
	return &Cursor[B]{inner: inner}
}

// Inner возвращает хранилище, с которым работает курсор
func (c *Cursor[B]) Inner() B {
	return c.inner
}

// Position возвращает текущую позицию
func (c *Cursor[B]) Position() vec.BlockPos {
	return c.pos
}

// SetPosition устанавливает текущую позицию
func (c *Cursor[B]) SetPosition(pos vec.BlockPos) {
	c.pos = pos
}

// Seek перемещает курсор и возвращает новую позицию
func (c *Cursor[B]) Seek(s SeekFrom) vec.BlockPos {
	if s.relative {
		c.pos = c.pos.Offset(s.dx, s.dy, s.dz)
	} else {
		c.pos = s.pos
	}
	return c.pos
}

func unsupported(op string) error {
	return fmt.Errorf("%s: %w", op, block.ErrUnsupported)
}

// ReadBlock читает состояние в текущей позиции
func (c *Cursor[B]) ReadBlock() (block.State, error) {
	r, ok := any(c.inner).(block.StateReader)
	if !ok {
		return block.AirState, unsupported("чтение состояния")
	}
	return r.ReadBlockState(c.pos)
}

// CheckCurrentBlock проверяет наличие блока в текущей позиции
func (c *Cursor[B]) CheckCurrentBlock() (bool, error) {
	ch, ok := any(c.inner).(block.BlockChecker)
	if !ok {
		return false, unsupported("проверка блока")
	}
	return ch.ContainsBlock(c.pos)
}

// WriteBlock записывает состояние в текущую позицию
func (c *Cursor[B]) WriteBlock(state block.State) error {
	w, ok := any(c.inner).(block.StateWriter)
	if !ok {
		return unsupported("запись состояния")
	}
	return w.WriteBlockState(c.pos, state)
}

// Flush передаёт накопленные изменения хранилищу
func (c *Cursor[B]) Flush() error {
	f, ok := any(c.inner).(block.Flusher)
	if !ok {
		return unsupported("сброс")
	}
	return f.Flush()
}

// GetBlockState перемещает курсор в pos и читает состояние
func (c *Cursor[B]) GetBlockState(pos vec.BlockPos) (block.State, error) {
	c.pos = pos
	return c.ReadBlock()
}

// SetBlockState перемещает курсор в pos и записывает состояние
func (c *Cursor[B]) SetBlockState(pos vec.BlockPos, state block.State) error {
	c.pos = pos
	return c.WriteBlock(state)
}

// GetBlockID читает идентификатор блока в pos.
// found == false для пустой позиции и для состояния без идентификатора.
func (c *Cursor[B]) GetBlockID(pos vec.BlockPos) (block.ID, bool, error) {
	op, ok := any(c.inner).(block.IDOperator)
	if !ok {
		return "", false, unsupported("чтение идентификатора")
	}
	state, err := c.GetBlockState(pos)
	if err != nil {
		return "", false, err
	}
	if state == block.AirState {
		return "", false, nil
	}
	id, found := op.BlockIDSystem().StateToID(state)
	return id, found, nil
}

// SetBlockID записывает блок по идентификатору.
// Незарегистрированный идентификатор даёт ErrUnknownID, хранилище не меняется.
func (c *Cursor[B]) SetBlockID(pos vec.BlockPos, id block.ID) error {
	op, ok := any(c.inner).(block.IDOperator)
	if !ok {
		return unsupported("запись идентификатора")
	}
	state, found := op.BlockIDSystem().IDToState(id)
	if !found {
		return fmt.Errorf("идентификатор %q: %w", id, block.ErrUnknownID)
	}
	return c.SetBlockState(pos, state)
}

// BlockBuffer возвращает вспомогательный буфер блока в pos
func (c *Cursor[B]) BlockBuffer(pos vec.BlockPos) (*block.Buffer, error) {
	p, ok := any(c.inner).(block.BufferProvider)
	if !ok {
		return nil, unsupported("буфер блока")
	}
	c.pos = pos
	return p.BlockBuffer(pos)
}

// ChunkCursor предоставляет доступ к хранилищу на уровне целых колонок чанков
type ChunkCursor[B any] struct {
	inner B
	col   vec.Vec2
}

// NewChunkCursor создаёт курсор колонок в (0, 0)
func NewChunkCursor[B any](inner B) *ChunkCursor[B] {
	return &ChunkCursor[B]{inner: inner}
}

// Inner возвращает хранилище, с которым работает курсор
func (c *ChunkCursor[B]) Inner() B {
	return c.inner
}

// Position возвращает текущую колонку
func (c *ChunkCursor[B]) Position() vec.Vec2 {
	return c.col
}

// SetPosition переводит курсор на колонку col
func (c *ChunkCursor[B]) SetPosition(col vec.Vec2) {
	c.col = col
}

// ReadChunk копирует плотные ячейки текущей колонки в dst
func (c *ChunkCursor[B]) ReadChunk(dst *[block.ChunkVolume]byte) error {
	r, ok := any(c.inner).(block.ChunkReader)
	if !ok {
		return unsupported("чтение чанка")
	}
	return r.ReadChunk(c.col, dst)
}

// ContainsChunk проверяет наличие текущей колонки
func (c *ChunkCursor[B]) ContainsChunk() (bool, error) {
	r, ok := any(c.inner).(block.ChunkReader)
	if !ok {
		return false, unsupported("проверка чанка")
	}
	return r.ContainsChunk(c.col)
}

// WriteChunk заменяет плотные ячейки текущей колонки содержимым src
func (c *ChunkCursor[B]) WriteChunk(src *[block.ChunkVolume]byte) error {
	w, ok := any(c.inner).(block.ChunkWriter)
	if !ok {
		return unsupported("запись чанка")
	}
	return w.WriteChunk(c.col, src)
}
