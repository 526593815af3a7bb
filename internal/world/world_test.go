package world

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelstore/internal/storage"
	"github.com/annel0/voxelstore/internal/storage_interface"
	"github.com/annel0/voxelstore/internal/vec"
	"github.com/annel0/voxelstore/internal/world/block"
	"github.com/annel0/voxelstore/internal/world/block/sign"
)

func newTestWorld(t *testing.T, opts ...Option) (*World, *block.Registry) {
	t.Helper()
	reg := block.NewRegistry(1)
	return NewWorld(reg, opts...), reg
}

func TestWorld_WriteReadAllTiers(t *testing.T) {
	w, _ := newTestWorld(t)

	positions := []vec.BlockPos{
		vec.Pack(0, 0, 0),
		vec.Pack(-1, 255, -1),
		vec.Pack(17, -5, 40),
		vec.Pack(100, 2047, -100),
	}
	states := []block.State{0, 1, 5, 255, 256, 300, 65535}

	for _, pos := range positions {
		for _, s := range states {
			require.NoError(t, w.WriteBlockState(pos, s))
			got, err := w.ReadBlockState(pos)
			require.NoError(t, err)
			assert.Equal(t, s, got, "Чтение после записи в %s", pos)

			has, err := w.ContainsBlock(pos)
			require.NoError(t, err)
			assert.Equal(t, s != 0, has, "ContainsBlock должен совпадать с чтением")
		}
	}
}

func TestWorld_TransitionsBetweenTiers(t *testing.T) {
	w, _ := newTestWorld(t)
	pos := vec.Pack(3, 10, 3)

	require.NoError(t, w.WriteBlockState(pos, 300))
	require.NoError(t, w.WriteBlockState(pos, 7))
	s, _ := w.ReadBlockState(pos)
	assert.Equal(t, block.State(7), s, "Плотная запись должна вытеснить переполнение")
	assert.Equal(t, 0, w.Stats().OverflowEntries)

	require.NoError(t, w.WriteBlockState(pos, 1000))
	s, _ = w.ReadBlockState(pos)
	assert.Equal(t, block.State(1000), s)

	require.NoError(t, w.WriteBlockState(pos, 0))
	s, _ = w.ReadBlockState(pos)
	assert.Equal(t, block.State(0), s)

	c, ok := w.Chunk(pos.Chunk())
	require.True(t, ok)
	assert.Equal(t, 0, c.NonZero(), "Удаление обнуляет плотную ячейку")
}

func TestWorld_OverflowAndDenseInSameChunk(t *testing.T) {
	w, _ := newTestWorld(t)
	p := vec.Pack(1, 64, 1)
	q := vec.Pack(2, 64, 1)

	require.NoError(t, w.WriteBlockState(p, 300))
	_, ok := w.Chunk(p.Chunk())
	assert.False(t, ok, "Переполнение не создаёт плотный чанк")

	require.NoError(t, w.WriteBlockState(q, 5))

	sp, err := w.ReadBlockState(p)
	require.NoError(t, err)
	sq, err := w.ReadBlockState(q)
	require.NoError(t, err)
	assert.Equal(t, block.State(300), sp)
	assert.Equal(t, block.State(5), sq)
}

func TestWorld_NegativeCoordinatesUseFloorChunks(t *testing.T) {
	w, _ := newTestWorld(t)

	require.NoError(t, w.WriteBlockState(vec.Pack(-1, 0, -1), 2))
	require.NoError(t, w.WriteBlockState(vec.Pack(0, 0, 0), 3))

	assert.Equal(t, []vec.Vec2{{X: -1, Z: -1}, {X: 0, Z: 0}}, w.LoadedChunks())
}

func TestWorld_BufferLifecycle(t *testing.T) {
	w, reg := newTestWorld(t)
	reg.MustRegister("air", false)
	signState := reg.MustRegister("sign", true)
	stone := reg.MustRegister("stone", false)
	pos := vec.Pack(8, 70, 8)

	_, err := w.BlockBuffer(pos)
	assert.ErrorIs(t, err, block.ErrContractViolation, "Буфера без состояния нет")
	assert.Panics(t, func() { w.MustBlockBuffer(pos) })

	require.NoError(t, w.WriteBlockState(pos, signState))
	buf, err := w.BlockBuffer(pos)
	require.NoError(t, err)
	assert.Equal(t, 0, buf.Len(), "Новый буфер пуст")
	buf.Set([]byte("старое"))

	require.NoError(t, w.WriteBlockState(pos, signState))
	buf, err = w.BlockBuffer(pos)
	require.NoError(t, err)
	assert.Equal(t, 0, buf.Len(), "Повторная запись состояния сбрасывает буфер")

	require.NoError(t, w.WriteBlockState(pos, stone))
	_, err = w.BlockBuffer(pos)
	assert.ErrorIs(t, err, block.ErrContractViolation, "Переход в состояние без буфера удаляет буфер")
	assert.Equal(t, 0, w.Stats().Buffers)
}

func TestWorld_SignScenario(t *testing.T) {
	w, reg := newTestWorld(t)
	reg.MustRegister("air", false)
	reg.MustRegister("sign", true)

	cursor := NewCursor(w)
	pos := vec.Pack(123, 45, -6789)
	require.NoError(t, cursor.SetBlockID(pos, "sign"))

	buf, err := cursor.BlockBuffer(pos)
	require.NoError(t, err)
	assert.Equal(t, 0, buf.Len())

	lines := [4]string{"First line", "Then second", "And third", "Finally fourth"}
	sc := sign.NewCursor(buf)
	require.NoError(t, sc.WriteLines(lines))

	got, err := sign.NewCursor(w.MustBlockBuffer(pos)).ReadLines()
	require.NoError(t, err)
	assert.Equal(t, lines, got)
	assert.Equal(t, "First line\nThen second\nAnd third\nFinally fourth\n", string(buf.Bytes()))
}

func TestWorld_WriteChunkResetsBand(t *testing.T) {
	w, reg := newTestWorld(t)
	signState := reg.MustRegister("sign", true)
	col := vec.Vec2{X: 2, Z: 2}

	inBand := vec.Pack(33, 10, 33)
	above := vec.Pack(33, 300, 33)
	require.NoError(t, w.WriteBlockState(inBand, 500))
	require.NoError(t, w.WriteBlockState(above, 600))

	var src [block.ChunkVolume]byte
	src[20<<8|4<<4|4] = byte(signState)
	require.NoError(t, w.WriteChunk(col, &src))

	s, _ := w.ReadBlockState(inBand)
	assert.Equal(t, block.State(0), s, "Запись чанка заменяет переполнения в его высоте")
	s, _ = w.ReadBlockState(above)
	assert.Equal(t, block.State(600), s, "Переполнения вне высоты чанка сохраняются")

	buf, err := w.BlockBuffer(vec.Pack(36, 20, 36))
	require.NoError(t, err, "Для состояния с буфером заводится буфер")
	assert.Equal(t, 0, buf.Len())
}

func TestWorld_FlushWithoutStoreIsNoop(t *testing.T) {
	w, _ := newTestWorld(t)
	require.NoError(t, w.WriteBlockState(vec.Pack(1, 1, 1), 1))
	assert.NoError(t, w.Flush())
	assert.Equal(t, 1, w.Stats().DirtyColumns, "Без хранилища изменения остаются в памяти")
}

func TestWorld_FlushAndLoadThrough(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	reg := block.NewRegistry(1)
	signState := reg.MustRegister("sign", true)

	w := NewWorld(reg, WithStore(store), WithID("test"))
	dense := vec.Pack(5, 64, 5)
	over := vec.Pack(6, 64, 5)
	deep := vec.Pack(7, -64, 5)
	signPos := vec.Pack(8, 64, 5)

	require.NoError(t, w.WriteBlockState(dense, 9))
	require.NoError(t, w.WriteBlockState(over, 4000))
	require.NoError(t, w.WriteBlockState(deep, 3))
	require.NoError(t, w.WriteBlockState(signPos, signState))
	_, err := w.MustBlockBuffer(signPos).Write([]byte("привет\n"))
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	assert.Equal(t, 0, w.Stats().DirtyColumns)

	has, err := store.HasChunk(context.Background(), dense.Chunk())
	require.NoError(t, err)
	assert.True(t, has)

	// Новый мир поверх того же хранилища подтягивает колонку при первом обращении
	w2 := NewWorld(reg, WithStore(store), WithID("test"))
	for pos, want := range map[vec.BlockPos]block.State{dense: 9, over: 4000, deep: 3, signPos: signState} {
		got, err := w2.ReadBlockState(pos)
		require.NoError(t, err)
		assert.Equal(t, want, got, "Состояние в %s после загрузки", pos)
	}
	buf, err := w2.BlockBuffer(signPos)
	require.NoError(t, err)
	assert.Equal(t, "привет\n", string(buf.Bytes()))

	// Очистка колонки удаляет запись из хранилища
	for _, pos := range []vec.BlockPos{dense, over, deep, signPos} {
		require.NoError(t, w2.WriteBlockState(pos, 0))
	}
	require.NoError(t, w2.Flush())
	has, err = store.HasChunk(context.Background(), dense.Chunk())
	require.NoError(t, err)
	assert.False(t, has)
}

func TestWorld_FlushHook(t *testing.T) {
	var calls int
	var saved, removed []vec.Vec2
	hook := func(_ context.Context, s, r []vec.Vec2) {
		calls++
		saved, removed = s, r
	}
	w, _ := newTestWorld(t, WithStore(storage.NewMemoryChunkStore()), WithFlushHook(hook))

	require.NoError(t, w.Flush())
	assert.Equal(t, 0, calls, "Без грязных колонок hook не вызывается")

	require.NoError(t, w.WriteBlockState(vec.Pack(17, 0, 0), 1))
	require.NoError(t, w.WriteBlockState(vec.Pack(-1, 0, 0), 1))
	require.NoError(t, w.Flush())
	assert.Equal(t, 1, calls)
	assert.Equal(t, []vec.Vec2{{X: -1, Z: 0}, {X: 1, Z: 0}}, saved)
	assert.Empty(t, removed)

	require.NoError(t, w.WriteBlockState(vec.Pack(-1, 0, 0), 0))
	require.NoError(t, w.Flush())
	assert.Equal(t, 2, calls)
	assert.Empty(t, saved)
	assert.Equal(t, []vec.Vec2{{X: -1, Z: 0}}, removed)
}

// failingStore возвращает ошибку на любую операцию
type failingStore struct{}

var errDisk = errors.New("диск недоступен")

func (failingStore) LoadChunk(context.Context, vec.Vec2) (*storage_interface.ChunkRecord, bool, error) {
	return nil, false, errDisk
}
func (failingStore) SaveChunk(context.Context, *storage_interface.ChunkRecord) error { return errDisk }
func (failingStore) HasChunk(context.Context, vec.Vec2) (bool, error) { return false, errDisk }
func (failingStore) DeleteChunk(context.Context, vec.Vec2) error { return errDisk }
func (failingStore) Close() error { return nil }

func TestWorld_BackendErrors(t *testing.T) {
	w, _ := newTestWorld(t, WithStore(failingStore{}))

	err := w.WriteBlockState(vec.Pack(0, 0, 0), 1)
	assert.ErrorIs(t, err, block.ErrBackend)
	assert.ErrorIs(t, err, errDisk)

	_, err = w.ReadBlockState(vec.Pack(0, 0, 0))
	assert.ErrorIs(t, err, block.ErrBackend)
}

// Параллельные читатели подтягивают колонки из хранилища без внешней блокировки.
// Запускать с -race.
func TestWorld_ConcurrentReadersWithStore(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	reg := block.NewRegistry(1)

	const columns = 8
	seed := NewWorld(reg, WithStore(store), WithID("race"))
	for i := 0; i < columns; i++ {
		require.NoError(t, seed.WriteBlockState(vec.Pack(int32(i*16), 10, 0), block.State(i+1)))
		require.NoError(t, seed.WriteBlockState(vec.Pack(int32(i*16), 11, 0), block.State(300+i)))
	}
	require.NoError(t, seed.Flush())

	w := NewWorld(reg, WithStore(store), WithID("race"))
	var wg sync.WaitGroup
	errs := make(chan error, columns*2)
	for i := 0; i < columns*2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Каждую колонку читают две горутины
			x := int32((i % columns) * 16)
			dense, err := w.ReadBlockState(vec.Pack(x, 10, 0))
			if err != nil {
				errs <- err
				return
			}
			over, err := w.ReadBlockState(vec.Pack(x, 11, 0))
			if err != nil {
				errs <- err
				return
			}
			if dense != block.State(i%columns+1) || over != block.State(300+i%columns) {
				errs <- fmt.Errorf("колонка %d: прочитано %d/%d", i%columns, dense, over)
			}
			_, _ = w.ContainsChunk(vec.Vec2{X: int32(i % columns), Z: 0})
			_ = w.Stats()
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, columns, w.Stats().Chunks)
	assert.Equal(t, columns, w.Stats().OverflowEntries)
}

// fixedStore на любой запрос отдаёт одну и ту же запись
type fixedStore struct {
	failingStore
	rec *storage_interface.ChunkRecord
}

func (s fixedStore) LoadChunk(context.Context, vec.Vec2) (*storage_interface.ChunkRecord, bool, error) {
	return s.rec, true, nil
}

func TestWorld_RejectsForeignRecord(t *testing.T) {
	own := vec.Vec2{X: 0, Z: 0}
	foreign := vec.Vec2{X: 3, Z: -2}

	misplaced := storage_interface.NewChunkRecord(foreign)
	misplaced.Overflow[vec.Pack(50, 1, -30)] = 700

	stray := storage_interface.NewChunkRecord(own)
	stray.Overflow[vec.Pack(50, 1, -30)] = 700

	short := storage_interface.NewChunkRecord(own)
	short.Blocks = make([]byte, 10)

	for name, rec := range map[string]*storage_interface.ChunkRecord{
		"чужая колонка":        misplaced,
		"переполнение снаружи": stray,
		"короткий слой":        short,
	} {
		t.Run(name, func(t *testing.T) {
			w, _ := newTestWorld(t, WithStore(fixedStore{rec: rec}))

			_, err := w.ReadBlockState(vec.Pack(1, 1, 1))
			assert.ErrorIs(t, err, block.ErrBackend)

			stats := w.Stats()
			assert.Zero(t, stats.OverflowEntries, "Записи не должны попасть в мир")
			assert.Zero(t, stats.Chunks)
		})
	}
}

func TestWorld_Metrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	w, _ := newTestWorld(t, WithMetrics(m))

	require.NoError(t, w.WriteBlockState(vec.Pack(0, 0, 0), 1))
	require.NoError(t, w.WriteBlockState(vec.Pack(0, 1, 0), 1000))
	_, _ = w.ReadBlockState(vec.Pack(0, 0, 0))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reads))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues(tierDense)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues(tierOverflow)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.overflow))
}

func BenchmarkWorld_WriteDense(b *testing.B) {
	w := NewWorld(block.NewRegistry(1))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x := int32(i & 0xFF)
		z := int32((i >> 8) & 0xFF)
		_ = w.WriteBlockState(vec.Pack(x, 64, z), block.State(i%255+1))
	}
}

func BenchmarkWorld_Read(b *testing.B) {
	w := NewWorld(block.NewRegistry(1))
	for x := int32(0); x < 64; x++ {
		for z := int32(0); z < 64; z++ {
			_ = w.WriteBlockState(vec.Pack(x, 64, z), 1)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = w.ReadBlockState(vec.Pack(int32(i&63), 64, int32((i>>6)&63)))
	}
}
