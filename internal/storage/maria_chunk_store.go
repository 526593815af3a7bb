package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/voxelstore/internal/storage_interface"
	"github.com/annel0/voxelstore/internal/vec"
)

// MariaChunkStore хранит колонки чанков в MariaDB/MySQL.
// Использует таблицу voxel_chunks, ключ: (world_id, cx, cz).
type MariaChunkStore struct {
	db      *sql.DB
	worldID string
	codec   *Codec
}

// NewMariaChunkStore подключается к базе и создаёт таблицу, если её нет.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMariaChunkStore(dsn, worldID string, codec *Codec) (*MariaChunkStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	if codec == nil {
		codec = defaultCodec
	}
	s := &MariaChunkStore{db: db, worldID: worldID, codec: codec}

	if err := s.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return s, nil
}

func (s *MariaChunkStore) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS voxel_chunks (
			world_id   VARCHAR(64) NOT NULL,
			cx         INT         NOT NULL,
			cz         INT         NOT NULL,
			data       LONGBLOB    NOT NULL,
			updated_at TIMESTAMP   DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE   CURRENT_TIMESTAMP,
			PRIMARY KEY (world_id, cx, cz)
		) ENGINE=InnoDB
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы voxel_chunks: %w", err)
	}
	return nil
}

const mariaUpsert = `
	INSERT INTO voxel_chunks (world_id, cx, cz, data)
	VALUES (?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		data = VALUES(data),
		updated_at = CURRENT_TIMESTAMP
`

// SaveChunk сохраняет колонку
func (s *MariaChunkStore) SaveChunk(ctx context.Context, rec *storage_interface.ChunkRecord) error {
	_, err := s.db.ExecContext(ctx, mariaUpsert, s.worldID, rec.Column.X, rec.Column.Z, s.codec.Encode(rec))
	if err != nil {
		return fmt.Errorf("ошибка сохранения колонки %s: %w", rec.Column, err)
	}
	return nil
}

// SaveChunks сохраняет несколько колонок в одной транзакции
func (s *MariaChunkStore) SaveChunks(ctx context.Context, recs []*storage_interface.ChunkRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() // Откат в случае ошибки

	stmt, err := tx.PrepareContext(ctx, mariaUpsert)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, s.worldID, rec.Column.X, rec.Column.Z, s.codec.Encode(rec)); err != nil {
			return fmt.Errorf("ошибка сохранения колонки %s в batch: %w", rec.Column, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// LoadChunk загружает колонку
func (s *MariaChunkStore) LoadChunk(ctx context.Context, col vec.Vec2) (*storage_interface.ChunkRecord, bool, error) {
	query := `SELECT data FROM voxel_chunks WHERE world_id = ? AND cx = ? AND cz = ?`

	var data []byte
	err := s.db.QueryRowContext(ctx, query, s.worldID, col.X, col.Z).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка загрузки колонки %s: %w", col, err)
	}

	rec, err := s.codec.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("колонка %s: %w", col, err)
	}
	return rec, true, nil
}

// HasChunk проверяет наличие колонки
func (s *MariaChunkStore) HasChunk(ctx context.Context, col vec.Vec2) (bool, error) {
	query := `SELECT 1 FROM voxel_chunks WHERE world_id = ? AND cx = ? AND cz = ?`

	var one int
	err := s.db.QueryRowContext(ctx, query, s.worldID, col.X, col.Z).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка проверки колонки %s: %w", col, err)
	}
	return true, nil
}

// DeleteChunk удаляет колонку; отсутствие строки ошибкой не является
func (s *MariaChunkStore) DeleteChunk(ctx context.Context, col vec.Vec2) error {
	query := `DELETE FROM voxel_chunks WHERE world_id = ? AND cx = ? AND cz = ?`

	if _, err := s.db.ExecContext(ctx, query, s.worldID, col.X, col.Z); err != nil {
		return fmt.Errorf("ошибка удаления колонки %s: %w", col, err)
	}
	return nil
}

// Close закрывает соединение с базой данных
func (s *MariaChunkStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
