package block

// Buffer хранит вспомогательные данные блока (например, текст таблички).
// Для мира содержимое непрозрачно; формат задаёт конкретный потребитель.
type Buffer struct {
	data []byte
}

// NewBuffer создаёт пустой буфер
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Bytes возвращает содержимое буфера. Срез принадлежит буферу.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len возвращает длину содержимого
func (b *Buffer) Len() int {
	return len(b.data)
}

// Set заменяет содержимое копией data
func (b *Buffer) Set(data []byte) {
	b.data = append(b.data[:0], data...)
}

// Write дописывает данные в конец буфера (io.Writer)
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// Reset очищает буфер
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// Clone возвращает независимую копию буфера
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{}
	c.Set(b.data)
	return c
}
