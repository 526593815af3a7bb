package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/annel0/voxelstore/internal/logging"
	"github.com/annel0/voxelstore/internal/storage"
	"github.com/annel0/voxelstore/internal/storage_interface"
	"github.com/annel0/voxelstore/internal/vec"
)

// ChunkStore кладёт горячий кеш перед холодным хранилищем колонок.
//
// Чтение идёт через кеш (read-through), запись сначала в холодное хранилище,
// затем в кеш (write-through): Flush считается выполненным только после записи в холодное хранилище.
// Ошибки кеша не ломают операции, они только логируются и считаются.
type ChunkStore struct {
	cold        storage_interface.ChunkStore
	hot         Cache
	invalidator Invalidator
	codec       *storage.Codec
	worldID     string
	logger      *logging.Logger

	hits, misses, errs, invalidations int64
	cancel                            context.CancelFunc
}

// NewChunkStore оборачивает cold кешем hot.
// invalidator может быть nil; иначе входящие уведомления удаляют ключи из hot.
func NewChunkStore(cold storage_interface.ChunkStore, hot Cache, invalidator Invalidator, worldID string, codec *storage.Codec) (*ChunkStore, error) {
	if cold == nil || hot == nil {
		return nil, errors.New("cache: нужны и холодное хранилище, и кеш")
	}
	if codec == nil {
		var err error
		if codec, err = storage.NewCodec("none"); err != nil {
			return nil, err
		}
	}

	s := &ChunkStore{
		cold:        cold,
		hot:         hot,
		invalidator: invalidator,
		codec:       codec,
		worldID:     worldID,
		logger:      logging.GetStorageLogger(),
	}

	if invalidator != nil {
		ctx, cancel := context.WithCancel(context.Background())
		if err := invalidator.SubscribeInvalidations(ctx, s.onInvalidation); err != nil {
			cancel()
			return nil, err
		}
		s.cancel = cancel
	}
	return s, nil
}

func (s *ChunkStore) key(col vec.Vec2) string {
	return fmt.Sprintf("chunk:%s:%d:%d", s.worldID, col.X, col.Z)
}

func (s *ChunkStore) onInvalidation(key string) error {
	atomic.AddInt64(&s.invalidations, 1)
	return s.hot.Delete(context.Background(), key)
}

func (s *ChunkStore) LoadChunk(ctx context.Context, col vec.Vec2) (*storage_interface.ChunkRecord, bool, error) {
	key := s.key(col)

	data, err := s.hot.Get(ctx, key)
	switch {
	case err == nil:
		rec, derr := s.codec.Decode(data)
		if derr == nil {
			atomic.AddInt64(&s.hits, 1)
			return rec, true, nil
		}
		// Испорченная запись в кеше: выбрасываем и идём в холодное хранилище
		s.cacheError("decode", key, derr)
		_ = s.hot.Delete(ctx, key)
	case errors.Is(err, ErrCacheMiss):
	default:
		s.cacheError("get", key, err)
	}
	atomic.AddInt64(&s.misses, 1)

	rec, found, err := s.cold.LoadChunk(ctx, col)
	if err != nil || !found {
		return rec, found, err
	}
	if err := s.hot.Set(ctx, key, s.codec.Encode(rec)); err != nil {
		s.cacheError("set", key, err)
	}
	return rec, true, nil
}

func (s *ChunkStore) SaveChunk(ctx context.Context, rec *storage_interface.ChunkRecord) error {
	if err := s.cold.SaveChunk(ctx, rec); err != nil {
		return err
	}
	s.refresh(ctx, rec)
	return nil
}

// SaveChunks использует пакетную запись холодного хранилища, если она есть
func (s *ChunkStore) SaveChunks(ctx context.Context, recs []*storage_interface.ChunkRecord) error {
	if batch, ok := s.cold.(storage_interface.BatchSaver); ok {
		if err := batch.SaveChunks(ctx, recs); err != nil {
			return err
		}
	} else {
		for _, rec := range recs {
			if err := s.cold.SaveChunk(ctx, rec); err != nil {
				return err
			}
		}
	}
	for _, rec := range recs {
		s.refresh(ctx, rec)
	}
	return nil
}

func (s *ChunkStore) HasChunk(ctx context.Context, col vec.Vec2) (bool, error) {
	if _, err := s.hot.Get(ctx, s.key(col)); err == nil {
		return true, nil
	}
	return s.cold.HasChunk(ctx, col)
}

func (s *ChunkStore) DeleteChunk(ctx context.Context, col vec.Vec2) error {
	if err := s.cold.DeleteChunk(ctx, col); err != nil {
		return err
	}
	key := s.key(col)
	if err := s.hot.Delete(ctx, key); err != nil {
		s.cacheError("delete", key, err)
	}
	s.publish(ctx, key)
	return nil
}

// refresh кладёт свежую запись в кеш и оповещает остальные узлы
func (s *ChunkStore) refresh(ctx context.Context, rec *storage_interface.ChunkRecord) {
	key := s.key(rec.Column)
	if err := s.hot.Set(ctx, key, s.codec.Encode(rec)); err != nil {
		s.cacheError("set", key, err)
		// Старое значение в кеше хуже промаха
		_ = s.hot.Delete(ctx, key)
	}
	s.publish(ctx, key)
}

func (s *ChunkStore) publish(ctx context.Context, key string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.PublishInvalidation(ctx, key); err != nil {
		s.cacheError("publish", key, err)
	}
}

func (s *ChunkStore) cacheError(op, key string, err error) {
	atomic.AddInt64(&s.errs, 1)
	s.logger.Warn("Кеш колонок: %s %s: %v", op, key, err)
}

// Metrics возвращает счётчики кеша
func (s *ChunkStore) Metrics() Metrics {
	return Metrics{
		Hits:          atomic.LoadInt64(&s.hits),
		Misses:        atomic.LoadInt64(&s.misses),
		Errors:        atomic.LoadInt64(&s.errs),
		Invalidations: atomic.LoadInt64(&s.invalidations),
	}
}

// Close закрывает кеш, invalidator и холодное хранилище
func (s *ChunkStore) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	var errs []error
	if s.invalidator != nil {
		errs = append(errs, s.invalidator.Close())
	}
	errs = append(errs, s.hot.Close(), s.cold.Close())
	return errors.Join(errs...)
}
