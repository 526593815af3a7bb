package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/voxelstore/internal/logging"
	"github.com/annel0/voxelstore/internal/storage_interface"
	"github.com/annel0/voxelstore/internal/vec"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr     string        // Адрес Redis сервера
	Password string        // Пароль (пустой если не требуется)
	DB       int           // Номер базы данных
	TTL      time.Duration // Время жизни записей; 0: без ограничения
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr: "localhost:6379",
	}
}

// RedisChunkStore хранит колонки чанков в Redis
type RedisChunkStore struct {
	client  *redis.Client
	worldID string
	ttl     time.Duration
	codec   *Codec
}

// NewRedisChunkStore подключается к Redis и проверяет соединение
func NewRedisChunkStore(config *RedisConfig, worldID string, codec *Codec) (*RedisChunkStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if codec == nil {
		codec = defaultCodec
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	logging.GetStorageLogger().Info("🔴 Подключено к Redis %s", config.Addr)
	return &RedisChunkStore{
		client:  client,
		worldID: worldID,
		ttl:     config.TTL,
		codec:   codec,
	}, nil
}

// LoadChunk загружает колонку
func (s *RedisChunkStore) LoadChunk(ctx context.Context, col vec.Vec2) (*storage_interface.ChunkRecord, bool, error) {
	data, err := s.client.Get(ctx, chunkKey(s.worldID, col)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения из Redis: %w", err)
	}

	rec, err := s.codec.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("колонка %s: %w", col, err)
	}
	return rec, true, nil
}

// SaveChunk сохраняет колонку
func (s *RedisChunkStore) SaveChunk(ctx context.Context, rec *storage_interface.ChunkRecord) error {
	err := s.client.Set(ctx, chunkKey(s.worldID, rec.Column), s.codec.Encode(rec), s.ttl).Err()
	if err != nil {
		return fmt.Errorf("ошибка сохранения в Redis: %w", err)
	}
	return nil
}

// SaveChunks сохраняет несколько колонок одним пайплайном
func (s *RedisChunkStore) SaveChunks(ctx context.Context, recs []*storage_interface.ChunkRecord) error {
	if len(recs) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, rec := range recs {
		pipe.Set(ctx, chunkKey(s.worldID, rec.Column), s.codec.Encode(rec), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка пакетного сохранения в Redis: %w", err)
	}
	return nil
}

// HasChunk проверяет наличие колонки
func (s *RedisChunkStore) HasChunk(ctx context.Context, col vec.Vec2) (bool, error) {
	n, err := s.client.Exists(ctx, chunkKey(s.worldID, col)).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка чтения из Redis: %w", err)
	}
	return n > 0, nil
}

// DeleteChunk удаляет колонку
func (s *RedisChunkStore) DeleteChunk(ctx context.Context, col vec.Vec2) error {
	if err := s.client.Del(ctx, chunkKey(s.worldID, col)).Err(); err != nil {
		return fmt.Errorf("ошибка удаления из Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение
func (s *RedisChunkStore) Close() error {
	return s.client.Close()
}
