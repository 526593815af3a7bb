package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/annel0/voxelstore/internal/storage_interface"
	"github.com/annel0/voxelstore/internal/vec"
)

// MongoConfig contains connection settings for the MongoDB chunk store.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. voxelstore
	Collection string // e.g. chunks
}

// MongoChunkStore implements ChunkStore on MongoDB. One document per column.
type MongoChunkStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	worldID    string
	codec      *Codec
	ctxTimeout time.Duration
}

type chunkDoc struct {
	WorldID   string    `bson:"world_id"`
	X         int32     `bson:"cx"`
	Z         int32     `bson:"cz"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoChunkStore establishes connection and returns the store.
func NewMongoChunkStore(cfg MongoConfig, worldID string, codec *Codec) (*MongoChunkStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "voxelstore"
	}
	if cfg.Collection == "" {
		cfg.Collection = "chunks"
	}
	if codec == nil {
		codec = defaultCodec
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MongoDB: %w", err)
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("не удалось проверить соединение с MongoDB: %w", err)
	}

	s := &MongoChunkStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		worldID:    worldID,
		codec:      codec,
		ctxTimeout: 5 * time.Second,
	}
	if err := s.ensureIndexes(); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoChunkStore) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.ctxTimeout)
	defer cancel()
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "world_id", Value: 1}, {Key: "cx", Value: 1}, {Key: "cz", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("column_unique"),
	}
	_, err := s.collection.Indexes().CreateOne(ctx, idx)
	return err
}

func (s *MongoChunkStore) filter(col vec.Vec2) bson.M {
	return bson.M{"world_id": s.worldID, "cx": col.X, "cz": col.Z}
}

// LoadChunk implements ChunkStore.
func (s *MongoChunkStore) LoadChunk(ctx context.Context, col vec.Vec2) (*storage_interface.ChunkRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()

	var doc chunkDoc
	err := s.collection.FindOne(ctx, s.filter(col)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения колонки %s из MongoDB: %w", col, err)
	}

	rec, err := s.codec.Decode(doc.Data)
	if err != nil {
		return nil, false, fmt.Errorf("колонка %s: %w", col, err)
	}
	return rec, true, nil
}

// SaveChunk implements ChunkStore (upsert).
func (s *MongoChunkStore) SaveChunk(ctx context.Context, rec *storage_interface.ChunkRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()

	doc := chunkDoc{
		WorldID:   s.worldID,
		X:         rec.Column.X,
		Z:         rec.Column.Z,
		Data:      s.codec.Encode(rec),
		UpdatedAt: time.Now(),
	}
	_, err := s.collection.ReplaceOne(ctx, s.filter(rec.Column), doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ошибка сохранения колонки %s в MongoDB: %w", rec.Column, err)
	}
	return nil
}

// HasChunk implements ChunkStore.
func (s *MongoChunkStore) HasChunk(ctx context.Context, col vec.Vec2) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()

	n, err := s.collection.CountDocuments(ctx, s.filter(col), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("ошибка проверки колонки %s в MongoDB: %w", col, err)
	}
	return n > 0, nil
}

// DeleteChunk implements ChunkStore.
func (s *MongoChunkStore) DeleteChunk(ctx context.Context, col vec.Vec2) error {
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()

	if _, err := s.collection.DeleteOne(ctx, s.filter(col)); err != nil {
		return fmt.Errorf("ошибка удаления колонки %s из MongoDB: %w", col, err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoChunkStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.ctxTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
