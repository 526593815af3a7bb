package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/annel0/voxelstore/internal/logging"
	"github.com/annel0/voxelstore/internal/storage_interface"
	"github.com/annel0/voxelstore/internal/vec"
	"github.com/annel0/voxelstore/internal/world/block"
)

var tracer = otel.Tracer("github.com/annel0/voxelstore/internal/world")

// World реализует гибридное хранилище блоков в памяти.
//
// Состояния 1..255 лежат в плотных чанках по байту на позицию, состояния больше 255
// и все позиции вне высоты чанка лежат в карте переполнения. Вспомогательные буферы
// хранятся отдельно, по позиции.
//
// Читать можно из нескольких горутин одновременно, в том числе с подключённым
// хранилищем: подгрузка колонок защищена внутренней блокировкой. Запись, Flush и
// BlockBuffer требуют исключительного доступа, который обеспечивает вызывающий.
type World struct {
	id       string
	registry *block.Registry

	chunks   map[vec.Vec2]*Chunk
	overflow map[vec.BlockPos]block.State
	buffers  map[vec.BlockPos]*block.Buffer

	store  storage_interface.ChunkStore
	loaded map[vec.Vec2]struct{} // Колонки, уже подтянутые из хранилища
	dirty  map[vec.Vec2]struct{} // Колонки с изменениями после последнего Flush

	metrics *Metrics
	logger  *logging.Logger
	onFlush FlushHook

	mu     sync.RWMutex // Карты мира во время подгрузки колонок читателями
	loadMu sync.Mutex   // Одна подгрузка за раз
}

// FlushHook вызывается после успешного Flush со списком записанных колонок.
// Колонки отсортированы; removed: колонки, запись которых удалена как пустая.
type FlushHook func(ctx context.Context, saved, removed []vec.Vec2)

// Option настраивает World при создании
type Option func(*World)

// WithStore подключает постоянное хранилище колонок
func WithStore(store storage_interface.ChunkStore) Option {
	return func(w *World) { w.store = store }
}

// WithMetrics подключает Prometheus-метрики
func WithMetrics(m *Metrics) Option {
	return func(w *World) { w.metrics = m }
}

// WithLogger задаёт логгер мира
func WithLogger(l *logging.Logger) Option {
	return func(w *World) { w.logger = l }
}

// WithFlushHook подписывает hook на успешные Flush
func WithFlushHook(hook FlushHook) Option {
	return func(w *World) { w.onFlush = hook }
}

// WithID задаёт идентификатор мира
func WithID(id string) Option {
	return func(w *World) { w.id = id }
}

// NewWorld создаёт пустой мир поверх реестра блоков
func NewWorld(reg *block.Registry, opts ...Option) *World {
	w := &World{
		registry: reg,
		chunks:   make(map[vec.Vec2]*Chunk),
		overflow: make(map[vec.BlockPos]block.State),
		buffers:  make(map[vec.BlockPos]*block.Buffer),
		loaded:   make(map[vec.Vec2]struct{}),
		dirty:    make(map[vec.Vec2]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.id == "" {
		w.id = uuid.NewString()
	}
	if w.logger == nil {
		w.logger = logging.GetWorldLogger()
	}
	return w
}

// ID возвращает идентификатор мира
func (w *World) ID() string {
	return w.id
}

// Registry возвращает реестр блоков мира
func (w *World) Registry() *block.Registry {
	return w.registry
}

// BlockIDSystem возвращает систему идентификаторов
func (w *World) BlockIDSystem() block.IDSystem {
	return w.registry.BlockIDSystem()
}

// ensureColumn подтягивает колонку из хранилища при первом обращении
func (w *World) ensureColumn(col vec.Vec2) error {
	if w.store == nil {
		return nil
	}
	if w.isLoaded(col) {
		return nil
	}

	w.loadMu.Lock()
	defer w.loadMu.Unlock()
	if w.isLoaded(col) {
		return nil
	}

	rec, found, err := w.store.LoadChunk(context.Background(), col)
	if err != nil {
		return fmt.Errorf("загрузка колонки %s: %w: %w", col, block.ErrBackend, err)
	}
	if found {
		if err := checkRecord(col, rec); err != nil {
			w.logger.Error("Колонка %s отклонена: %v", col, err)
			return fmt.Errorf("загрузка колонки %s: %w: %w", col, block.ErrBackend, err)
		}
	}

	w.mu.Lock()
	w.loaded[col] = struct{}{}
	if found {
		w.applyRecord(col, rec)
	}
	w.mu.Unlock()

	if found {
		w.logger.Debug("Колонка %s загружена: %d переполнений, %d буферов", col, len(rec.Overflow), len(rec.Buffers))
		w.metrics.setSizes(w.Stats())
	}
	return nil
}

func (w *World) isLoaded(col vec.Vec2) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.loaded[col]
	return ok
}

// applyRecord раскладывает проверенную запись по картам; вызывается под mu
func (w *World) applyRecord(col vec.Vec2, rec *storage_interface.ChunkRecord) {
	if len(rec.Blocks) == block.ChunkVolume {
		c := NewChunk(col)
		c.CopyFrom(rec.Blocks)
		c.ClearDirty()
		w.chunks[col] = c
	}
	for pos, state := range rec.Overflow {
		w.overflow[pos] = state
	}
	for pos, data := range rec.Buffers {
		buf := block.NewBuffer()
		buf.Set(data)
		w.buffers[pos] = buf
	}
}

// checkRecord сверяет запись хранилища с колонкой, под ключом которой она лежит
func checkRecord(col vec.Vec2, rec *storage_interface.ChunkRecord) error {
	if rec == nil {
		return errors.New("пустая запись")
	}
	if rec.Column != col {
		return fmt.Errorf("запись принадлежит колонке %s", rec.Column)
	}
	if n := len(rec.Blocks); n != 0 && n != block.ChunkVolume {
		return fmt.Errorf("плотный слой %d байт вместо %d", n, block.ChunkVolume)
	}
	for pos := range rec.Overflow {
		if pos.Chunk() != col {
			return fmt.Errorf("переполнение %s вне колонки", pos)
		}
	}
	for pos := range rec.Buffers {
		if pos.Chunk() != col {
			return fmt.Errorf("буфер %s вне колонки", pos)
		}
	}
	return nil
}

// ReadBlockState возвращает состояние в позиции; 0 означает пустоту
func (w *World) ReadBlockState(pos vec.BlockPos) (block.State, error) {
	if err := w.ensureColumn(pos.Chunk()); err != nil {
		return block.AirState, err
	}
	w.metrics.observeRead()

	w.mu.RLock()
	defer w.mu.RUnlock()
	if state, ok := w.overflow[pos]; ok {
		return state, nil
	}

	lx, y, lz := pos.Local()
	if !inDenseBand(y) {
		return block.AirState, nil
	}
	if c, ok := w.chunks[pos.Chunk()]; ok {
		return block.State(c.Get(lx, y, lz)), nil
	}
	return block.AirState, nil
}

// ContainsBlock сообщает, есть ли в позиции непустое состояние
func (w *World) ContainsBlock(pos vec.BlockPos) (bool, error) {
	state, err := w.ReadBlockState(pos)
	if err != nil {
		return false, err
	}
	return state != block.AirState, nil
}

// WriteBlockState записывает состояние в позицию.
// Запись 0 удаляет блок. Буфер позиции пересоздаётся пустым, если новое состояние
// его требует, иначе удаляется.
func (w *World) WriteBlockState(pos vec.BlockPos, state block.State) error {
	col := pos.Chunk()
	if err := w.ensureColumn(col); err != nil {
		return err
	}

	lx, y, lz := pos.Local()
	dense := inDenseBand(y)

	w.mu.Lock()
	c := w.chunks[col]

	switch {
	case state == block.AirState:
		delete(w.overflow, pos)
		if dense && c != nil {
			c.Set(lx, y, lz, 0)
		}
		w.metrics.observeWrite(tierClear)

	case state <= block.MaxDenseState && dense:
		if c == nil {
			c = NewChunk(col)
			w.chunks[col] = c
		}
		c.Set(lx, y, lz, byte(state))
		delete(w.overflow, pos)
		w.metrics.observeWrite(tierDense)

	default:
		w.overflow[pos] = state
		if dense && c != nil {
			c.Set(lx, y, lz, 0)
		}
		w.metrics.observeWrite(tierOverflow)
	}

	if buf, ok := w.registry.BufferTemplate(state); ok {
		w.buffers[pos] = buf
	} else {
		delete(w.buffers, pos)
	}

	w.dirty[col] = struct{}{}
	w.mu.Unlock()

	w.metrics.setSizes(w.Stats())
	return nil
}

// BlockBuffer возвращает вспомогательный буфер позиции.
// Если буфера нет, это ошибка вызывающего: состояние в позиции буфер не требует.
func (w *World) BlockBuffer(pos vec.BlockPos) (*block.Buffer, error) {
	col := pos.Chunk()
	if err := w.ensureColumn(col); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	buf, ok := w.buffers[pos]
	if !ok {
		return nil, fmt.Errorf("буфер в позиции %s отсутствует: %w", pos, block.ErrContractViolation)
	}
	// Вызывающий может изменить содержимое
	w.dirty[col] = struct{}{}
	return buf, nil
}

// MustBlockBuffer как BlockBuffer, но паникует при отсутствии буфера
func (w *World) MustBlockBuffer(pos vec.BlockPos) *block.Buffer {
	buf, err := w.BlockBuffer(pos)
	if err != nil {
		panic(err)
	}
	return buf
}

// ReadChunk копирует плотный слой колонки в dst; для отсутствующего чанка dst обнуляется
func (w *World) ReadChunk(col vec.Vec2, dst *[block.ChunkVolume]byte) error {
	if err := w.ensureColumn(col); err != nil {
		return err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if c, ok := w.chunks[col]; ok {
		c.CopyTo(dst)
		return nil
	}
	*dst = [block.ChunkVolume]byte{}
	return nil
}

// ContainsChunk сообщает, есть ли у колонки плотный чанк
func (w *World) ContainsChunk(col vec.Vec2) (bool, error) {
	if err := w.ensureColumn(col); err != nil {
		return false, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.chunks[col]
	return ok, nil
}

// WriteChunk заменяет плотный слой колонки.
// Действует как запись каждой ячейки: переполнения и буферы в пределах высоты чанка
// сбрасываются, буферы заводятся заново для состояний, которые их требуют.
func (w *World) WriteChunk(col vec.Vec2, src *[block.ChunkVolume]byte) error {
	if err := w.ensureColumn(col); err != nil {
		return err
	}

	w.mu.Lock()
	c, ok := w.chunks[col]
	if !ok {
		c = NewChunk(col)
		w.chunks[col] = c
	}
	c.CopyFrom(src[:])

	inColumnBand := func(pos vec.BlockPos) bool {
		_, y, _ := pos.Unpack()
		return pos.Chunk() == col && inDenseBand(y)
	}
	for pos := range w.overflow {
		if inColumnBand(pos) {
			delete(w.overflow, pos)
		}
	}
	for pos := range w.buffers {
		if inColumnBand(pos) {
			delete(w.buffers, pos)
		}
	}

	ox, oz := col.Origin()
	for i, v := range src {
		if v == 0 {
			continue
		}
		if buf, ok := w.registry.BufferTemplate(block.State(v)); ok {
			pos := vec.Pack(ox+int32(i&0xF), int32(i>>8), oz+int32((i>>4)&0xF))
			w.buffers[pos] = buf
		}
	}

	w.dirty[col] = struct{}{}
	w.mu.Unlock()

	w.metrics.setSizes(w.Stats())
	return nil
}

// Flush сохраняет изменённые колонки в хранилище; без хранилища ничего не делает
func (w *World) Flush() error {
	return w.FlushContext(context.Background())
}

// FlushContext как Flush, с контекстом для операций хранилища
func (w *World) FlushContext(ctx context.Context) (err error) {
	if w.store == nil {
		return nil
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "world.Flush")
	span.SetAttributes(attribute.String("world.id", w.id), attribute.Int("world.dirty_columns", len(w.dirty)))
	defer func() {
		w.metrics.observeFlush(start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if len(w.dirty) == 0 {
		return nil
	}

	records := make(map[vec.Vec2]*storage_interface.ChunkRecord, len(w.dirty))
	for col := range w.dirty {
		rec := storage_interface.NewChunkRecord(col)
		if c, ok := w.chunks[col]; ok && c.NonZero() > 0 {
			rec.Blocks = c.Bytes()
		}
		records[col] = rec
	}
	for pos, state := range w.overflow {
		if rec, ok := records[pos.Chunk()]; ok {
			rec.Overflow[pos] = state
		}
	}
	for pos, buf := range w.buffers {
		if rec, ok := records[pos.Chunk()]; ok {
			rec.Buffers[pos] = append([]byte(nil), buf.Bytes()...)
		}
	}

	var (
		batch          []*storage_interface.ChunkRecord
		saved, removed []vec.Vec2
	)
	batcher, canBatch := w.store.(storage_interface.BatchSaver)

	for _, col := range sortedColumns(records) {
		rec := records[col]
		switch {
		case rec.Empty():
			err = w.store.DeleteChunk(ctx, col)
			removed = append(removed, col)
		case canBatch:
			batch = append(batch, rec)
			continue
		default:
			err = w.store.SaveChunk(ctx, rec)
			saved = append(saved, col)
		}
		if err != nil {
			w.logger.Error("Ошибка сохранения колонки %s: %v", col, err)
			return fmt.Errorf("сохранение колонки %s: %w: %w", col, block.ErrBackend, err)
		}
		w.markClean(col)
	}

	if len(batch) > 0 {
		if err = batcher.SaveChunks(ctx, batch); err != nil {
			w.logger.Error("Ошибка пакетного сохранения %d колонок: %v", len(batch), err)
			return fmt.Errorf("пакетное сохранение: %w: %w", block.ErrBackend, err)
		}
		for _, rec := range batch {
			w.markClean(rec.Column)
			saved = append(saved, rec.Column)
		}
	}

	w.logger.Debug("Flush: сохранено %d колонок за %v", len(records), time.Since(start))
	if w.onFlush != nil {
		w.onFlush(ctx, saved, removed)
	}
	return nil
}

func (w *World) markClean(col vec.Vec2) {
	delete(w.dirty, col)
	if c, ok := w.chunks[col]; ok {
		c.ClearDirty()
	}
}

// Stats описывает заполненность хранилища
type Stats struct {
	Chunks          int // Плотные чанки в памяти
	OverflowEntries int // Записи в карте переполнения
	Buffers         int // Вспомогательные буферы
	DirtyColumns    int // Колонки, ожидающие Flush
}

// Stats возвращает текущие размеры хранилища
func (w *World) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Stats{
		Chunks:          len(w.chunks),
		OverflowEntries: len(w.overflow),
		Buffers:         len(w.buffers),
		DirtyColumns:    len(w.dirty),
	}
}

// LoadedChunks возвращает координаты плотных чанков, отсортированные по X, затем по Z
func (w *World) LoadedChunks() []vec.Vec2 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	cols := make([]vec.Vec2, 0, len(w.chunks))
	for col := range w.chunks {
		cols = append(cols, col)
	}
	sortColumns(cols)
	return cols
}

// Chunk возвращает плотный чанк колонки, если он есть
func (w *World) Chunk(col vec.Vec2) (*Chunk, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.chunks[col]
	return c, ok
}

func sortedColumns(records map[vec.Vec2]*storage_interface.ChunkRecord) []vec.Vec2 {
	cols := make([]vec.Vec2, 0, len(records))
	for col := range records {
		cols = append(cols, col)
	}
	sortColumns(cols)
	return cols
}

func sortColumns(cols []vec.Vec2) {
	sort.Slice(cols, func(i, j int) bool {
		if cols[i].X != cols[j].X {
			return cols[i].X < cols[j].X
		}
		return cols[i].Z < cols[j].Z
	})
}
