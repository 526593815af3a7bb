package vec

// Раскладка упакованной позиции (старший бит слева):
//
//	63..38  x  26 бит, дополнительный код
//	37..26  y  12 бит, дополнительный код
//	25..0   z  26 бит, дополнительный код
//
// Значения вне диапазона НЕ проверяются: лишние старшие биты отбрасываются маской,
// и координата "заворачивается". Используйте InRange, если вход приходит извне.
const (
	xBits = 26
	yBits = 12
	zBits = 26

	xMask = 1<<xBits - 1 // 0x3FFFFFF
	yMask = 1<<yBits - 1 // 0xFFF
	zMask = 1<<zBits - 1 // 0x3FFFFFF

	xShift = yBits + zBits // 38
	yShift = zBits         // 26

	MinXZ = -(1 << (xBits - 1))  // -33554432
	MaxXZ = 1<<(xBits-1) - 1     // 33554431
	MinY  = -(1 << (yBits - 1))  // -2048
	MaxY  = 1<<(yBits-1) - 1     // 2047
)

// BlockPos представляет позицию блока, упакованную в одно 64-битное число
type BlockPos uint64

// Pack упаковывает координаты в BlockPos.
// Координаты вне диапазона молча заворачиваются маской.
func Pack(x, y, z int32) BlockPos {
	return BlockPos(uint64(uint32(x)&xMask)<<xShift |
		uint64(uint32(y)&yMask)<<yShift |
		uint64(uint32(z)&zMask))
}

// FromVec3 упаковывает Vec3
func FromVec3(v Vec3) BlockPos {
	return Pack(v.X, v.Y, v.Z)
}

// FromUint64 восстанавливает позицию из сырого 64-битного представления
func FromUint64(raw uint64) BlockPos {
	return BlockPos(raw)
}

// Uint64 возвращает сырое представление позиции
func (p BlockPos) Uint64() uint64 {
	return uint64(p)
}

// Unpack распаковывает позицию, расширяя знак каждого поля отдельно
func (p BlockPos) Unpack() (x, y, z int32) {
	x = signExtend(uint32(uint64(p)>>xShift)&xMask, xBits)
	y = signExtend(uint32(uint64(p)>>yShift)&yMask, yBits)
	z = signExtend(uint32(uint64(p))&zMask, zBits)
	return x, y, z
}

// Vec3 распаковывает позицию в вектор
func (p BlockPos) Vec3() Vec3 {
	x, y, z := p.Unpack()
	return Vec3{X: x, Y: y, Z: z}
}

// Chunk возвращает координаты колонки чанка (floor(x/16), floor(z/16))
func (p BlockPos) Chunk() Vec2 {
	x, _, z := p.Unpack()
	return ChunkOf(x, z)
}

// Local возвращает координаты внутри колонки: x и z в диапазоне 0..15, y без изменений
func (p BlockPos) Local() (lx int, y int32, lz int) {
	x, y, z := p.Unpack()
	return int(FloorMod(x, ChunkSize)), y, int(FloorMod(z, ChunkSize))
}

// Offset сдвигает позицию на (dx, dy, dz). Результат не проверяется.
func (p BlockPos) Offset(dx, dy, dz int32) BlockPos {
	x, y, z := p.Unpack()
	return Pack(x+dx, y+dy, z+dz)
}

// String возвращает строковое представление позиции
func (p BlockPos) String() string {
	return p.Vec3().String()
}

// InRange проверяет, помещаются ли координаты в поля упаковки без заворачивания
func InRange(x, y, z int32) bool {
	return x >= MinXZ && x <= MaxXZ &&
		y >= MinY && y <= MaxY &&
		z >= MinXZ && z <= MaxXZ
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}
