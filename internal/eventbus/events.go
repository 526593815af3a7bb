package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/annel0/voxelstore/internal/vec"
	"github.com/annel0/voxelstore/internal/world"
	"github.com/google/uuid"
)

// EventChunksFlushed сообщает, что колонки мира записаны в постоянное хранилище
const EventChunksFlushed = "ChunksFlushed"

// Column содержит координаты колонки в полезной нагрузке
type Column struct {
	X int32 `json:"x"`
	Z int32 `json:"z"`
}

// ChunksFlushed представляет полезную нагрузку EventChunksFlushed
type ChunksFlushed struct {
	WorldID string   `json:"world_id"`
	Saved   []Column `json:"saved"`
	Removed []Column `json:"removed,omitempty"`
}

func toColumns(cols []vec.Vec2) []Column {
	out := make([]Column, len(cols))
	for i, c := range cols {
		out[i] = Column{X: c.X, Z: c.Z}
	}
	return out
}

// NewChunksFlushed упаковывает результат Flush в Envelope
func NewChunksFlushed(worldID string, saved, removed []vec.Vec2) (*Envelope, error) {
	payload, err := json.Marshal(ChunksFlushed{
		WorldID: worldID,
		Saved:   toColumns(saved),
		Removed: toColumns(removed),
	})
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    worldID,
		EventType: EventChunksFlushed,
		Version:   1,
		Priority:  5,
		Payload:   payload,
	}, nil
}

// DecodeChunksFlushed разбирает полезную нагрузку события
func DecodeChunksFlushed(ev *Envelope) (*ChunksFlushed, error) {
	if ev.EventType != EventChunksFlushed {
		return nil, fmt.Errorf("ожидалось событие %s, получено %s", EventChunksFlushed, ev.EventType)
	}
	var out ChunksFlushed
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FlushHook возвращает world.FlushHook, публикующий ChunksFlushed в bus.
// Ошибки публикации не прерывают Flush, они передаются в onError (может быть nil).
func FlushHook(bus EventBus, worldID string, onError func(error)) world.FlushHook {
	return func(ctx context.Context, saved, removed []vec.Vec2) {
		ev, err := NewChunksFlushed(worldID, saved, removed)
		if err == nil {
			err = bus.Publish(ctx, ev)
		}
		if err != nil && onError != nil {
			onError(err)
		}
	}
}
