package vec

import "fmt"

// Vec3 представляет трехмерный вектор с целочисленными координатами блока
type Vec3 struct {
	X int32
	Y int32
	Z int32
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Pack упаковывает вектор в BlockPos
func (v Vec3) Pack() BlockPos {
	return Pack(v.X, v.Y, v.Z)
}

// Chunk возвращает колонку чанка, в которой лежит точка
func (v Vec3) Chunk() Vec2 {
	return ChunkOf(v.X, v.Z)
}

// String возвращает строковое представление вектора
func (v Vec3) String() string {
	return fmt.Sprintf("(%d, %d, %d)", v.X, v.Y, v.Z)
}
