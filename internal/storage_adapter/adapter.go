package storage_adapter

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/annel0/voxelstore/internal/cache"
	"github.com/annel0/voxelstore/internal/config"
	"github.com/annel0/voxelstore/internal/logging"
	"github.com/annel0/voxelstore/internal/storage"
	"github.com/annel0/voxelstore/internal/storage_interface"
)

// Open создаёт хранилище колонок по конфигурации.
// Для backend "none" (и пустого) возвращает nil: мир работает только в памяти.
func Open(cfg config.StorageConfig, worldID string) (storage_interface.ChunkStore, error) {
	codec, err := storage.NewCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	logger := logging.GetStorageLogger()
	logger.Info("Открываем хранилище %q для мира %s", cfg.Backend, worldID)

	var store storage_interface.ChunkStore
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		store = storage.NewMemoryChunkStore()
	case "badger":
		store, err = wrap(storage.NewBadgerChunkStore(filepath.Join(cfg.Path, "badger"), worldID, codec))
	case "file":
		store, err = wrap(NewFileChunkStore(cfg.Path, worldID, codec))
	case "redis":
		store, err = wrap(storage.NewRedisChunkStore(&storage.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL(),
		}, worldID, codec))
	case "maria":
		store, err = wrap(storage.NewMariaChunkStore(cfg.Maria.DSN, worldID, codec))
	case "mongo":
		store, err = wrap(storage.NewMongoChunkStore(storage.MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		}, worldID, codec))
	default:
		return nil, fmt.Errorf("неизвестный backend хранилища: %q", cfg.Backend)
	}
	if err != nil {
		logger.Error("Не удалось открыть хранилище %q: %v", cfg.Backend, err)
		return nil, err
	}
	return withCache(store, cfg.Cache, worldID, codec)
}

// withCache ставит горячий кеш перед store, если он настроен
func withCache(store storage_interface.ChunkStore, cfg config.CacheConfig, worldID string, codec *storage.Codec) (storage_interface.ChunkStore, error) {
	var hot cache.Cache
	switch cfg.Backend {
	case "", "none":
		return store, nil
	case "memory":
		hot = cache.NewMemoryCache(cfg.Capacity)
	case "redis":
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.TTL(),
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		hot = rc
	default:
		store.Close()
		return nil, fmt.Errorf("неизвестный backend кеша: %q", cfg.Backend)
	}

	var invalidator cache.Invalidator
	if cfg.NATSURL != "" {
		nodeID := cfg.NodeID
		if nodeID == "" {
			nodeID = uuid.NewString()
		}
		inv, err := cache.NewNATSInvalidator(cache.InvalidatorConfig{NATSURL: cfg.NATSURL}, nodeID)
		if err != nil {
			hot.Close()
			store.Close()
			return nil, err
		}
		invalidator = inv
	}

	return wrap(cache.NewChunkStore(store, hot, invalidator, worldID, codec))
}

// wrap не даёт типизированному nil превратиться в ненулевой интерфейс
func wrap[S storage_interface.ChunkStore](s S, err error) (storage_interface.ChunkStore, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
