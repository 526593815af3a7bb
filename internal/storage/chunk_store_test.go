package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/annel0/voxelstore/internal/storage_interface"
	"github.com/annel0/voxelstore/internal/vec"
)

// runChunkStoreTests проверяет общий контракт ChunkStore
func runChunkStoreTests(t *testing.T, store storage_interface.ChunkStore) {
	ctx := context.Background()
	col := vec.Vec2{X: -3, Z: 7}

	t.Run("Load missing", func(t *testing.T) {
		rec, found, err := store.LoadChunk(ctx, vec.Vec2{X: 999, Z: 999})
		if err != nil {
			t.Fatalf("Ошибка загрузки отсутствующей колонки: %v", err)
		}
		if found || rec != nil {
			t.Fatal("Отсутствующая колонка не должна находиться")
		}
	})

	t.Run("Save and Load", func(t *testing.T) {
		expected := sampleRecord()
		if err := store.SaveChunk(ctx, expected); err != nil {
			t.Fatalf("Ошибка сохранения колонки: %v", err)
		}

		actual, found, err := store.LoadChunk(ctx, col)
		if err != nil {
			t.Fatalf("Ошибка загрузки колонки: %v", err)
		}
		if !found {
			t.Fatal("Колонка не найдена")
		}
		if actual.Column != expected.Column {
			t.Errorf("Неверные координаты: ожидались %v, получены %v", expected.Column, actual.Column)
		}
		if len(actual.Blocks) != len(expected.Blocks) || actual.Blocks[0] != 1 {
			t.Error("Плотный слой не совпадает")
		}
		for pos, state := range expected.Overflow {
			if actual.Overflow[pos] != state {
				t.Errorf("Переполнение в %s: ожидалось %d, получено %d", pos, state, actual.Overflow[pos])
			}
		}
		for pos, data := range expected.Buffers {
			if string(actual.Buffers[pos]) != string(data) {
				t.Errorf("Буфер в %s не совпадает", pos)
			}
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		rec := storage_interface.NewChunkRecord(col)
		rec.Overflow[vec.Pack(-48, 0, 112)] = 1234
		if err := store.SaveChunk(ctx, rec); err != nil {
			t.Fatalf("Ошибка перезаписи: %v", err)
		}

		actual, _, err := store.LoadChunk(ctx, col)
		if err != nil {
			t.Fatalf("Ошибка загрузки: %v", err)
		}
		if actual.Blocks != nil || len(actual.Overflow) != 1 || len(actual.Buffers) != 0 {
			t.Errorf("Перезапись должна заменить колонку целиком: %+v", actual)
		}
	})

	t.Run("Has and Delete", func(t *testing.T) {
		has, err := store.HasChunk(ctx, col)
		if err != nil || !has {
			t.Fatalf("Колонка должна существовать: has=%v err=%v", has, err)
		}

		if err := store.DeleteChunk(ctx, col); err != nil {
			t.Fatalf("Ошибка удаления: %v", err)
		}
		if err := store.DeleteChunk(ctx, col); err != nil {
			t.Fatalf("Повторное удаление не должно быть ошибкой: %v", err)
		}

		has, err = store.HasChunk(ctx, col)
		if err != nil || has {
			t.Fatalf("Колонка должна быть удалена: has=%v err=%v", has, err)
		}
	})

	t.Run("Batch", func(t *testing.T) {
		batcher, ok := store.(storage_interface.BatchSaver)
		if !ok {
			t.Skip("Хранилище не поддерживает пакетное сохранение")
		}

		recs := []*storage_interface.ChunkRecord{
			storage_interface.NewChunkRecord(vec.Vec2{X: 1, Z: 1}),
			storage_interface.NewChunkRecord(vec.Vec2{X: 2, Z: 1}),
		}
		recs[0].Overflow[vec.Pack(16, 0, 16)] = 500
		recs[1].Overflow[vec.Pack(32, 0, 16)] = 501
		if err := batcher.SaveChunks(ctx, recs); err != nil {
			t.Fatalf("Ошибка пакетного сохранения: %v", err)
		}

		for _, rec := range recs {
			has, err := store.HasChunk(ctx, rec.Column)
			if err != nil || !has {
				t.Errorf("Колонка %s должна быть сохранена", rec.Column)
			}
		}
	})
}

func TestMemoryChunkStore(t *testing.T) {
	store := NewMemoryChunkStore()
	defer store.Close()

	runChunkStoreTests(t, store)

	t.Run("Context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := store.SaveChunk(ctx, sampleRecord()); err == nil {
			t.Error("Ожидалась ошибка при отменённом контексте")
		}
	})
}

func setupTestBadger(t *testing.T) (*BadgerChunkStore, string) {
	tempDir, err := os.MkdirTemp("", "chunk-store-test")
	if err != nil {
		t.Fatalf("Не удалось создать временную директорию: %v", err)
	}

	store, err := NewBadgerChunkStore(tempDir, "test-world", nil)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("Не удалось создать хранилище: %v", err)
	}
	return store, tempDir
}

func TestBadgerChunkStore(t *testing.T) {
	store, tempDir := setupTestBadger(t)
	defer os.RemoveAll(tempDir)
	defer store.Close()

	runChunkStoreTests(t, store)

	t.Run("Columns", func(t *testing.T) {
		cols, err := store.Columns()
		if err != nil {
			t.Fatalf("Ошибка перечисления колонок: %v", err)
		}
		if len(cols) != 2 {
			t.Errorf("Ожидалось 2 колонки после пакетного сохранения, получено %d: %v", len(cols), cols)
		}
	})

	t.Run("Closed store", func(t *testing.T) {
		if err := store.Close(); err != nil {
			t.Fatalf("Ошибка закрытия: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Повторное закрытие не должно быть ошибкой: %v", err)
		}
		if _, _, err := store.LoadChunk(context.Background(), vec.Vec2{}); err == nil {
			t.Error("Закрытое хранилище должно возвращать ошибку")
		}
	})
}

func TestBadgerChunkStoreIsolatesWorlds(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "chunk-store-worlds")
	if err != nil {
		t.Fatalf("Не удалось создать временную директорию: %v", err)
	}
	defer os.RemoveAll(tempDir)

	a, err := NewBadgerChunkStore(tempDir, "a", nil)
	if err != nil {
		t.Fatalf("Не удалось создать хранилище: %v", err)
	}
	if err := a.SaveChunk(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("Ошибка сохранения: %v", err)
	}
	a.Close()

	b, err := NewBadgerChunkStore(tempDir, "b", nil)
	if err != nil {
		t.Fatalf("Не удалось открыть хранилище: %v", err)
	}
	defer b.Close()

	has, err := b.HasChunk(context.Background(), sampleRecord().Column)
	if err != nil {
		t.Fatalf("Ошибка проверки: %v", err)
	}
	if has {
		t.Error("Колонка другого мира не должна быть видна")
	}
}

// TestRedisChunkStore требует запущенный Redis; адрес берётся из VOXEL_TEST_REDIS
func TestRedisChunkStore(t *testing.T) {
	addr := os.Getenv("VOXEL_TEST_REDIS")
	if addr == "" {
		t.Skip("VOXEL_TEST_REDIS не задан")
	}

	worldID := "test-" + time.Now().Format("150405.000000")
	store, err := NewRedisChunkStore(&RedisConfig{Addr: addr, TTL: time.Minute}, worldID, nil)
	if err != nil {
		t.Fatalf("Не удалось подключиться к Redis: %v", err)
	}
	defer store.Close()

	runChunkStoreTests(t, store)
}

// TestMariaChunkStore требует MariaDB; DSN берётся из VOXEL_TEST_MARIA_DSN
func TestMariaChunkStore(t *testing.T) {
	dsn := os.Getenv("VOXEL_TEST_MARIA_DSN")
	if dsn == "" {
		t.Skip("VOXEL_TEST_MARIA_DSN не задан")
	}

	worldID := "test-" + time.Now().Format("150405.000000")
	store, err := NewMariaChunkStore(dsn, worldID, nil)
	if err != nil {
		t.Fatalf("Не удалось подключиться к MariaDB: %v", err)
	}
	defer store.Close()

	runChunkStoreTests(t, store)
}

// TestMongoChunkStore требует MongoDB; адрес берётся из VOXEL_TEST_MONGO_URI
func TestMongoChunkStore(t *testing.T) {
	uri := os.Getenv("VOXEL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("VOXEL_TEST_MONGO_URI не задан")
	}

	worldID := "test-" + time.Now().Format("150405.000000")
	store, err := NewMongoChunkStore(MongoConfig{URI: uri, Database: "voxelstore_test"}, worldID, nil)
	if err != nil {
		t.Fatalf("Не удалось подключиться к MongoDB: %v", err)
	}
	defer store.Close()

	runChunkStoreTests(t, store)
}
