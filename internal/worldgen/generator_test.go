package worldgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelstore/internal/vec"
	"github.com/annel0/voxelstore/internal/world"
	"github.com/annel0/voxelstore/internal/world/block"
)

func newRegistry(t *testing.T, withOre bool) *block.Registry {
	t.Helper()
	reg := block.NewRegistry(1)
	for _, id := range []block.ID{"stone", "dirt", "grass", "sand", "water"} {
		reg.MustRegister(id, false)
	}
	if withOre {
		reg.MustRegister("ore", false)
	}
	return reg
}

func generate(t *testing.T, seed int64, cols ...vec.Vec2) *world.World {
	t.Helper()
	reg := newRegistry(t, true)
	palette, err := ResolvePalette(reg)
	require.NoError(t, err)

	w := world.NewWorld(reg)
	g := NewGenerator(seed, 62, palette)
	cur := world.NewCursor(w)
	for _, col := range cols {
		n, err := Fill(g, cur, col)
		require.NoError(t, err)
		assert.Greater(t, n, 0)
	}
	return w
}

func TestResolvePalette(t *testing.T) {
	p, err := ResolvePalette(newRegistry(t, false))
	require.NoError(t, err)
	assert.Equal(t, block.State(0), p.Ore, "Руда необязательна")
	assert.NotZero(t, p.Water)

	_, err = ResolvePalette(block.NewRegistry(1))
	assert.ErrorIs(t, err, block.ErrUnknownID)
}

func TestFillDeterministic(t *testing.T) {
	cols := []vec.Vec2{{X: 0, Z: 0}, {X: -1, Z: 3}}
	a := generate(t, 7, cols...)
	b := generate(t, 7, cols[1], cols[0])

	for _, col := range cols {
		ca, ok := a.Chunk(col)
		require.True(t, ok)
		cb, ok := b.Chunk(col)
		require.True(t, ok)
		assert.Equal(t, ca.Digest(), cb.Digest(), "Колонка %s не зависит от порядка генерации", col)
	}
}

func TestFillColumnShape(t *testing.T) {
	reg := newRegistry(t, false)
	palette, err := ResolvePalette(reg)
	require.NoError(t, err)

	w := world.NewWorld(reg)
	g := NewGenerator(99, 62, palette)
	_, err = Fill(g, world.NewCursor(w), vec.Vec2{X: 2, Z: 2})
	require.NoError(t, err)

	for _, xz := range [][2]int32{{32, 32}, {40, 35}, {47, 47}} {
		x, z := xz[0], xz[1]
		h := g.HeightAt(x, z)

		bottom, err := w.ReadBlockState(vec.Pack(x, 0, z))
		require.NoError(t, err)
		assert.Equal(t, palette.Stone, bottom, "Основание колонки - камень")

		top, err := w.ReadBlockState(vec.Pack(x, int32(h), z))
		require.NoError(t, err)
		assert.Contains(t, []block.State{palette.Grass, palette.Sand, palette.Stone}, top)

		above, err := w.ReadBlockState(vec.Pack(x, int32(h)+1, z))
		require.NoError(t, err)
		if h < g.SeaLevel {
			assert.Equal(t, palette.Water, above, "Ниже уровня моря над поверхностью вода")
		} else {
			assert.Equal(t, block.AirState, above)
		}
	}
}
