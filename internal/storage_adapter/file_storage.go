package storage_adapter

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/annel0/voxelstore/internal/storage"
	"github.com/annel0/voxelstore/internal/storage_interface"
	"github.com/annel0/voxelstore/internal/vec"
)

const chunkFileExt = ".vxc"

// FileChunkStore хранит каждую колонку в отдельном файле каталога мира
type FileChunkStore struct {
	basePath string // Каталог файлов мира
	codec    *storage.Codec
	mu       sync.RWMutex
}

// NewFileChunkStore создаёт файловое хранилище в basePath/worldID
func NewFileChunkStore(basePath, worldID string, codec *storage.Codec) (*FileChunkStore, error) {
	dir := filepath.Join(basePath, worldID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	if codec == nil {
		var err error
		if codec, err = storage.NewCodec("default"); err != nil {
			return nil, err
		}
	}

	return &FileChunkStore{
		basePath: dir,
		codec:    codec,
	}, nil
}

// LoadChunk загружает колонку из файла
func (f *FileChunkStore) LoadChunk(ctx context.Context, col vec.Vec2) (*storage_interface.ChunkRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	f.mu.RLock()
	data, err := os.ReadFile(f.getChunkFilename(col))
	f.mu.RUnlock()

	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения колонки %s: %w", col, err)
	}

	rec, err := f.codec.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("колонка %s: %w", col, err)
	}
	return rec, true, nil
}

// SaveChunk записывает колонку во временный файл и переименовывает его,
// чтобы читатель не увидел частично записанную колонку
func (f *FileChunkStore) SaveChunk(ctx context.Context, rec *storage_interface.ChunkRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data := f.codec.Encode(rec)
	filename := f.getChunkFilename(rec.Column)
	tmp := filename + ".tmp"

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("ошибка записи файла %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ошибка переименования %s: %w", tmp, err)
	}
	return nil
}

// HasChunk проверяет наличие файла колонки
func (f *FileChunkStore) HasChunk(ctx context.Context, col vec.Vec2) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	_, err := os.Stat(f.getChunkFilename(col))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка проверки колонки %s: %w", col, err)
	}
	return true, nil
}

// DeleteChunk удаляет файл колонки
func (f *FileChunkStore) DeleteChunk(ctx context.Context, col vec.Vec2) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.getChunkFilename(col))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления колонки %s: %w", col, err)
	}
	return nil
}

// Close ничего не держит открытым
func (f *FileChunkStore) Close() error {
	return nil
}

// GetStorageStats возвращает статистику хранилища
func (f *FileChunkStore) GetStorageStats() map[string]interface{} {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var fileCount int
	var totalBytes int64
	filepath.WalkDir(f.basePath, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && filepath.Ext(path) == chunkFileExt {
			fileCount++
			if info, err := d.Info(); err == nil {
				totalBytes += info.Size()
			}
		}
		return nil
	})

	return map[string]interface{}{
		"stored_files": fileCount,
		"stored_bytes": totalBytes,
		"base_path":    f.basePath,
	}
}

// getChunkFilename возвращает имя файла для колонки
func (f *FileChunkStore) getChunkFilename(col vec.Vec2) string {
	return filepath.Join(f.basePath, fmt.Sprintf("chunk_%d_%d%s", col.X, col.Z, chunkFileExt))
}
