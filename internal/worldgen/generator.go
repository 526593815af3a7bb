// Package worldgen заполняет колонки мира рельефом по шуму Перлина.
// Используется для демонстрационных данных и нагрузочных прогонов.
package worldgen

import (
	"fmt"
	"math/rand"

	"github.com/annel0/voxelstore/internal/util"
	"github.com/annel0/voxelstore/internal/vec"
	"github.com/annel0/voxelstore/internal/world"
	"github.com/annel0/voxelstore/internal/world/block"
)

// Пороги шума биомов
const (
	DesertMax     = 0.40 // Ниже - пустыня
	MountainStart = 0.75 // Выше по высоте - голый камень
)

// Palette содержит состояния блоков, которыми пишет генератор
type Palette struct {
	Stone block.State
	Dirt  block.State
	Grass block.State
	Sand  block.State
	Water block.State
	Ore   block.State // 0 - руды не генерируются
}

// ResolvePalette находит состояния блоков генератора по идентификаторам.
// "ore" необязателен, остальные обязательны.
func ResolvePalette(ids block.IDSystem) (Palette, error) {
	var p Palette
	required := map[block.ID]*block.State{
		"stone": &p.Stone,
		"dirt":  &p.Dirt,
		"grass": &p.Grass,
		"sand":  &p.Sand,
		"water": &p.Water,
	}
	for id, dst := range required {
		s, ok := ids.IDToState(id)
		if !ok {
			return Palette{}, fmt.Errorf("палитра генератора: %q: %w", id, block.ErrUnknownID)
		}
		*dst = s
	}
	if s, ok := ids.IDToState("ore"); ok {
		p.Ore = s
	}
	return p, nil
}

// Generator генерирует рельеф
type Generator struct {
	Seed       int64
	NoiseScale float64 // Масштаб основного шума (высота)
	BiomeScale float64 // Масштаб шума биомов
	MinHeight  int
	MaxHeight  int
	SeaLevel   int
	OreChance  float64

	palette    Palette
	height     *util.Noise
	biomeNoise *util.Noise
}

// NewGenerator создаёт генератор с настройками по умолчанию
func NewGenerator(seed int64, seaLevel int, palette Palette) *Generator {
	return &Generator{
		Seed:       seed,
		NoiseScale: 0.02,
		BiomeScale: 0.005,
		MinHeight:  40,
		MaxHeight:  120,
		SeaLevel:   seaLevel,
		OreChance:  0.01,
		palette:    palette,
		height:     util.NewNoise(seed),
		biomeNoise: util.NewNoise(seed + 42),
	}
}

// HeightAt возвращает высоту поверхности в точке
func (g *Generator) HeightAt(x, z int32) int {
	n := g.height.Noise2D(float64(x)*g.NoiseScale, float64(z)*g.NoiseScale)
	h := g.MinHeight + int(n*float64(g.MaxHeight-g.MinHeight))
	if h > world.ChunkHeight-1 {
		h = world.ChunkHeight - 1
	}
	return h
}

// surfaceFor возвращает блоки поверхности и подповерхностного слоя
func (g *Generator) surfaceFor(x, z int32, height int) (top, under block.State) {
	switch {
	case height < g.SeaLevel:
		return g.palette.Sand, g.palette.Sand
	case float64(height-g.MinHeight)/float64(g.MaxHeight-g.MinHeight) > MountainStart:
		return g.palette.Stone, g.palette.Stone
	}

	biome := g.biomeNoise.Noise2D(float64(x)*g.BiomeScale, float64(z)*g.BiomeScale)
	if biome < DesertMax {
		return g.palette.Sand, g.palette.Sand
	}
	return g.palette.Grass, g.palette.Dirt
}

// Fill заполняет колонку через курсор и возвращает число записанных блоков.
// Результат детерминирован для сида и координат колонки.
func Fill[B any](g *Generator, cur *world.Cursor[B], col vec.Vec2) (int, error) {
	// Для каждой колонки свой сид, чтобы порядок генерации не влиял на результат
	colSeed := g.Seed + int64(col.X)*31 + int64(col.Z)*17
	rng := rand.New(rand.NewSource(colSeed))

	ox, oz := col.Origin()
	written := 0

	for lz := int32(0); lz < vec.ChunkSize; lz++ {
		for lx := int32(0); lx < vec.ChunkSize; lx++ {
			x, z := ox+lx, oz+lz
			height := g.HeightAt(x, z)
			top, under := g.surfaceFor(x, z, height)

			cur.Seek(world.SeekAbsolute(vec.Pack(x, 0, z)))
			for y := 0; y <= height; y++ {
				state := g.palette.Stone
				switch {
				case y == height:
					state = top
				case y >= height-3:
					state = under
				case g.palette.Ore != 0 && rng.Float64() < g.OreChance:
					state = g.palette.Ore
				}
				if err := cur.WriteBlock(state); err != nil {
					return written, err
				}
				written++
				cur.Seek(world.SeekRelative(0, 1, 0))
			}

			for y := height + 1; y <= g.SeaLevel; y++ {
				if err := cur.WriteBlock(g.palette.Water); err != nil {
					return written, err
				}
				written++
				cur.Seek(world.SeekRelative(0, 1, 0))
			}
		}
	}
	return written, nil
}
