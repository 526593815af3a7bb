package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelstore/internal/storage_interface"
	"github.com/annel0/voxelstore/internal/vec"
	"github.com/annel0/voxelstore/internal/world/block"
)

func sampleRecord() *storage_interface.ChunkRecord {
	rec := storage_interface.NewChunkRecord(vec.Vec2{X: -3, Z: 7})
	rec.Blocks = make([]byte, block.ChunkVolume)
	rec.Blocks[0] = 1
	rec.Blocks[block.ChunkVolume-1] = 255
	rec.Overflow[vec.Pack(-48, 10, 112)] = 300
	rec.Overflow[vec.Pack(-47, -100, 113)] = 65535
	rec.Buffers[vec.Pack(-46, 64, 114)] = []byte("First line\n")
	rec.Buffers[vec.Pack(-45, 64, 114)] = []byte{}
	return rec
}

func TestCodecRoundTrip(t *testing.T) {
	for _, level := range []string{"none", "fastest", "default", "best"} {
		t.Run(level, func(t *testing.T) {
			codec, err := NewCodec(level)
			require.NoError(t, err)

			rec := sampleRecord()
			got, err := codec.Decode(codec.Encode(rec))
			require.NoError(t, err)
			assert.Equal(t, rec, got)
		})
	}
}

func TestCodecWithoutBlocks(t *testing.T) {
	rec := storage_interface.NewChunkRecord(vec.Vec2{X: 1, Z: 1})
	rec.Overflow[vec.Pack(16, 1000, 16)] = 999

	got, err := DecodeRecord(EncodeRecord(rec))
	require.NoError(t, err)
	assert.Nil(t, got.Blocks, "Запись без плотного слоя остаётся без него")
	assert.Equal(t, rec.Overflow, got.Overflow)
}

func TestCodecDeterministic(t *testing.T) {
	a := EncodeRecord(sampleRecord())
	b := EncodeRecord(sampleRecord())
	assert.True(t, bytes.Equal(a, b), "Одинаковые записи должны кодироваться одинаково")
}

func TestCodecRejectsCorruption(t *testing.T) {
	data := EncodeRecord(sampleRecord())

	cases := map[string][]byte{
		"empty":     nil,
		"short":     data[:5],
		"truncated": data[:len(data)-1],
		"payload":   flipByte(data, len(data)/2),
		"version":   flipByte(data, 0),
		"checksum":  flipByte(data, len(data)-1),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRecord(in)
			assert.ErrorIs(t, err, ErrCorruptRecord)
		})
	}
}

func TestNewCodecUnknownLevel(t *testing.T) {
	_, err := NewCodec("ultra")
	assert.Error(t, err)
}

func flipByte(data []byte, i int) []byte {
	out := append([]byte(nil), data...)
	out[i] ^= 0xFF
	return out
}
