package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/voxelstore/internal/storage_interface"
	"github.com/annel0/voxelstore/internal/vec"
)

// BadgerChunkStore хранит колонки чанков в BadgerDB
type BadgerChunkStore struct {
	db      *badger.DB
	dbPath  string
	worldID string
	codec   *Codec
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerChunkStore открывает (или создаёт) базу в каталоге dbPath
func NewBadgerChunkStore(dbPath, worldID string, codec *Codec) (*BadgerChunkStore, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	if codec == nil {
		codec = defaultCodec
	}

	return &BadgerChunkStore{
		db:      db,
		dbPath:  dbPath,
		worldID: worldID,
		codec:   codec,
		isReady: true,
	}, nil
}

// Close закрывает хранилище данных
func (s *BadgerChunkStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}

	s.isReady = false
	return s.db.Close()
}

// SaveChunk сохраняет колонку
func (s *BadgerChunkStore) SaveChunk(ctx context.Context, rec *storage_interface.ChunkRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	data := s.codec.Encode(rec)
	key := chunkKey(s.worldID, rec.Column)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// LoadChunk загружает колонку
func (s *BadgerChunkStore) LoadChunk(ctx context.Context, col vec.Vec2) (*storage_interface.ChunkRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, false, fmt.Errorf("хранилище не готово")
	}

	key := chunkKey(s.worldID, col)
	var data []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	rec, err := s.codec.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("колонка %s: %w", col, err)
	}
	return rec, true, nil
}

// HasChunk проверяет наличие колонки без чтения значения
func (s *BadgerChunkStore) HasChunk(ctx context.Context, col vec.Vec2) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return false, fmt.Errorf("хранилище не готово")
	}

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(chunkKey(s.worldID, col)))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return true, nil
}

// DeleteChunk удаляет колонку
func (s *BadgerChunkStore) DeleteChunk(ctx context.Context, col vec.Vec2) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(chunkKey(s.worldID, col)))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	return nil
}

// Columns возвращает координаты всех сохранённых колонок мира
func (s *BadgerChunkStore) Columns() ([]vec.Vec2, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	prefix := []byte(fmt.Sprintf("chunk:%s:", s.worldID))
	var cols []vec.Vec2

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var col vec.Vec2
			key := string(it.Item().Key()[len(prefix):])
			if _, err := fmt.Sscanf(key, "%d:%d", &col.X, &col.Z); err != nil {
				return fmt.Errorf("ошибка парсинга ключа '%s': %w", key, err)
			}
			cols = append(cols, col)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cols, nil
}

// SaveChunks сохраняет несколько колонок одной транзакцией
func (s *BadgerChunkStore) SaveChunks(ctx context.Context, recs []*storage_interface.ChunkRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, rec := range recs {
			if err := txn.Set([]byte(chunkKey(s.worldID, rec.Column)), s.codec.Encode(rec)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка пакетного сохранения в BadgerDB: %w", err)
	}
	return nil
}
