package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/voxelstore/internal/storage_interface"
	"github.com/annel0/voxelstore/internal/vec"
	"github.com/annel0/voxelstore/internal/world/block"
)

// ErrCorruptRecord возвращается, когда сохранённая запись не проходит проверку
var ErrCorruptRecord = errors.New("повреждённая запись колонки")

// Формат записи: версия (1 байт), флаги (1 байт), полезная нагрузка, xxhash64 (8 байт, big-endian)
// от всего предшествующего. Полезная нагрузка: сообщение в wire-формате protobuf,
// при флаге flagZstd сжатое zstd.
const (
	recordVersion  = 1
	flagZstd       = 1 << 0
	headerSize     = 2
	checksumSize   = 8
	minRecordBytes = headerSize + checksumSize
)

// Номера полей сообщения колонки
const (
	fieldColumnX  protowire.Number = 1
	fieldColumnZ  protowire.Number = 2
	fieldBlocks   protowire.Number = 3
	fieldOverflow protowire.Number = 4
	fieldBuffer   protowire.Number = 5
)

// Номера полей вложенных сообщений
const (
	fieldEntryPos   protowire.Number = 1
	fieldEntryState protowire.Number = 2
	fieldEntryData  protowire.Number = 2
)

// Codec кодирует записи колонок. Безопасен для одновременного использования.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec создаёт кодек с уровнем сжатия level: "none", "fastest", "default", "better" или "best".
// Пустая строка равна "default".
func NewCodec(level string) (*Codec, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать декомпрессор: %w", err)
	}

	c := &Codec{decoder: decoder}
	if level == "none" {
		return c, nil
	}
	if level == "" {
		level = "default"
	}

	ok, lvl := zstd.EncoderLevelFromString(level)
	if !ok {
		return nil, fmt.Errorf("неизвестный уровень сжатия: %q", level)
	}
	c.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl))
	if err != nil {
		return nil, fmt.Errorf("не удалось создать компрессор: %w", err)
	}
	return c, nil
}

var defaultCodec = mustCodec("default")

func mustCodec(level string) *Codec {
	c, err := NewCodec(level)
	if err != nil {
		panic(err)
	}
	return c
}

// EncodeRecord кодирует запись кодеком по умолчанию
func EncodeRecord(rec *storage_interface.ChunkRecord) []byte {
	return defaultCodec.Encode(rec)
}

// DecodeRecord декодирует запись кодеком по умолчанию
func DecodeRecord(data []byte) (*storage_interface.ChunkRecord, error) {
	return defaultCodec.Decode(data)
}

// Encode сериализует запись колонки
func (c *Codec) Encode(rec *storage_interface.ChunkRecord) []byte {
	payload := marshalRecord(rec)

	var flags byte
	if c.encoder != nil {
		payload = c.encoder.EncodeAll(payload, nil)
		flags |= flagZstd
	}

	out := make([]byte, 0, headerSize+len(payload)+checksumSize)
	out = append(out, recordVersion, flags)
	out = append(out, payload...)
	return binary.BigEndian.AppendUint64(out, xxhash.Sum64(out))
}

// Decode проверяет контрольную сумму и разбирает запись колонки
func (c *Codec) Decode(data []byte) (*storage_interface.ChunkRecord, error) {
	if len(data) < minRecordBytes {
		return nil, fmt.Errorf("%w: длина %d", ErrCorruptRecord, len(data))
	}

	body := data[:len(data)-checksumSize]
	sum := binary.BigEndian.Uint64(data[len(data)-checksumSize:])
	if xxhash.Sum64(body) != sum {
		return nil, fmt.Errorf("%w: контрольная сумма не совпадает", ErrCorruptRecord)
	}
	if body[0] != recordVersion {
		return nil, fmt.Errorf("%w: версия %d", ErrCorruptRecord, body[0])
	}

	payload := body[headerSize:]
	if body[1]&flagZstd != 0 {
		var err error
		payload, err = c.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
		}
	}

	rec, err := unmarshalRecord(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return rec, nil
}

func marshalRecord(rec *storage_interface.ChunkRecord) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldColumnX, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(rec.Column.X)))
	b = protowire.AppendTag(b, fieldColumnZ, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(rec.Column.Z)))

	if rec.Blocks != nil {
		b = protowire.AppendTag(b, fieldBlocks, protowire.BytesType)
		b = protowire.AppendBytes(b, rec.Blocks)
	}

	// Позиции сортируются, чтобы одинаковые колонки давали одинаковые байты
	for _, pos := range sortedPositions(rec.Overflow) {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldEntryPos, protowire.VarintType)
		entry = protowire.AppendVarint(entry, pos.Uint64())
		entry = protowire.AppendTag(entry, fieldEntryState, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(rec.Overflow[pos]))

		b = protowire.AppendTag(b, fieldOverflow, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	for _, pos := range sortedPositions(rec.Buffers) {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldEntryPos, protowire.VarintType)
		entry = protowire.AppendVarint(entry, pos.Uint64())
		entry = protowire.AppendTag(entry, fieldEntryData, protowire.BytesType)
		entry = protowire.AppendBytes(entry, rec.Buffers[pos])

		b = protowire.AppendTag(b, fieldBuffer, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func unmarshalRecord(b []byte) (*storage_interface.ChunkRecord, error) {
	rec := storage_interface.NewChunkRecord(vec.Vec2{})

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case (num == fieldColumnX || num == fieldColumnZ) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			if num == fieldColumnX {
				rec.Column.X = int32(protowire.DecodeZigZag(v))
			} else {
				rec.Column.Z = int32(protowire.DecodeZigZag(v))
			}

		case num == fieldBlocks && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			if len(v) != block.ChunkVolume {
				return nil, fmt.Errorf("плотный слой: %d байт вместо %d", len(v), block.ChunkVolume)
			}
			rec.Blocks = append([]byte(nil), v...)

		case (num == fieldOverflow || num == fieldBuffer) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			if err := unmarshalEntry(rec, num, v); err != nil {
				return nil, err
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return rec, nil
}

func unmarshalEntry(rec *storage_interface.ChunkRecord, kind protowire.Number, b []byte) error {
	var (
		pos    vec.BlockPos
		state  uint64
		data   []byte
		hasPos bool
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldEntryPos && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			pos = vec.FromUint64(v)
			hasPos = true

		case kind == fieldOverflow && num == fieldEntryState && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			state = v

		case kind == fieldBuffer && num == fieldEntryData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			data = append([]byte(nil), v...)

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}

	if !hasPos {
		return errors.New("запись без позиции")
	}

	if kind == fieldOverflow {
		if state == 0 || state > uint64(block.MaxState) {
			return fmt.Errorf("недопустимое состояние %d в %s", state, pos)
		}
		rec.Overflow[pos] = block.State(state)
		return nil
	}

	if data == nil {
		data = []byte{}
	}
	rec.Buffers[pos] = data
	return nil
}

func sortedPositions[V any](m map[vec.BlockPos]V) []vec.BlockPos {
	out := make([]vec.BlockPos, 0, len(m))
	for pos := range m {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
