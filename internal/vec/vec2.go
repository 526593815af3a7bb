package vec

import "fmt"

// ChunkSize задаёт ширину и глубину колонки чанка в блоках
const ChunkSize = 16

// Vec2 представляет координаты колонки чанка (X, Z)
type Vec2 struct {
	X, Z int32
}

// Origin возвращает блочные координаты северо-западного угла колонки
func (v Vec2) Origin() (x, z int32) {
	return v.X * ChunkSize, v.Z * ChunkSize
}

// Contains проверяет, принадлежит ли позиция этой колонке
func (v Vec2) Contains(pos BlockPos) bool {
	return pos.Chunk() == v
}

// String возвращает строковое представление координат чанка
func (v Vec2) String() string {
	return fmt.Sprintf("[%d, %d]", v.X, v.Z)
}

// ChunkOf преобразует блочные координаты в координаты чанка.
// Деление с округлением к минус бесконечности: -1 попадает в чанк -1, а не 0.
func ChunkOf(x, z int32) Vec2 {
	return Vec2{X: x >> 4, Z: z >> 4}
}

// FloorDiv делит с округлением вниз (b > 0)
func FloorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// FloorMod возвращает неотрицательный остаток для b > 0
func FloorMod(a, b int32) int32 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
