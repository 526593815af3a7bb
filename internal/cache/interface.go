package cache

import (
	"context"
	"errors"
)

// ErrCacheMiss возвращается, когда ключа нет в кеше
var ErrCacheMiss = errors.New("cache miss")

// Cache определяет горячий уровень хранения закодированных колонок.
//
// Использование:
//
//	c := NewMemoryCache(1024)
//	data, err := c.Get(ctx, "key")
//	err = c.Set(ctx, "key", data)
//	err = c.Delete(ctx, "key")
type Cache interface {
	// Get получает значение по ключу.
	// Возвращает ErrCacheMiss если ключ не найден.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение; время жизни определяется реализацией
	Set(ctx context.Context, key string, value []byte) error

	// Delete удаляет ключ; отсутствие ключа ошибкой не является
	Delete(ctx context.Context, key string) error

	// Close закрывает соединение с кешем.
	Close() error
}

// Invalidator рассылает и принимает уведомления об изменении колонок между узлами,
// разделяющими одно холодное хранилище.
type Invalidator interface {
	// PublishInvalidation отправляет уведомление об инвалидации.
	PublishInvalidation(ctx context.Context, key string) error

	// SubscribeInvalidations подписывается на уведомления других узлов.
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error

	// Close закрывает соединение.
	Close() error
}

// InvalidationHandler обрабатывает уведомления об инвалидации кеша.
type InvalidationHandler func(key string) error

// Metrics содержит счётчики попаданий кеша.
type Metrics struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Errors        int64 `json:"errors"`
	Invalidations int64 `json:"invalidations"`
}

// HitRatio возвращает долю попаданий
func (m Metrics) HitRatio() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}
