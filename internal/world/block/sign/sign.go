// Package sign читает и пишет текст табличек в буфере блока.
//
// Формат буфера: четыре строки UTF-8, каждая завершается байтом '\n'.
package sign

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/annel0/voxelstore/internal/world/block"
)

// LineCount задаёт количество строк на табличке
const LineCount = 4

var (
	// ErrInvalidLine означает, что строка содержит перевод строки или некорректный UTF-8
	ErrInvalidLine = errors.New("недопустимая строка таблички")

	// ErrMalformed означает, что содержимое буфера не является текстом таблички
	ErrMalformed = fmt.Errorf("%w: повреждённый буфер таблички", block.ErrContractViolation)
)

// Cursor работает с буфером одной таблички
type Cursor struct {
	buf *block.Buffer
}

// NewCursor создаёт курсор поверх буфера блока
func NewCursor(buf *block.Buffer) *Cursor {
	return &Cursor{buf: buf}
}

// Buffer возвращает буфер, с которым работает курсор
func (c *Cursor) Buffer() *block.Buffer {
	return c.buf
}

// WriteLines заменяет содержимое буфера четырьмя строками.
// При ошибке валидации буфер не изменяется.
func (c *Cursor) WriteLines(lines [LineCount]string) error {
	size := 0
	for i, line := range lines {
		if strings.IndexByte(line, '\n') >= 0 {
			return fmt.Errorf("%w: строка %d содержит перевод строки", ErrInvalidLine, i+1)
		}
		if !utf8.ValidString(line) {
			return fmt.Errorf("%w: строка %d не является UTF-8", ErrInvalidLine, i+1)
		}
		size += len(line) + 1
	}

	data := make([]byte, 0, size)
	for _, line := range lines {
		data = append(data, line...)
		data = append(data, '\n')
	}
	c.buf.Set(data)
	return nil
}

// ReadLines возвращает первые четыре строки буфера
func (c *Cursor) ReadLines() ([LineCount]string, error) {
	var out [LineCount]string

	segments := bytes.SplitN(c.buf.Bytes(), []byte{'\n'}, LineCount+1)
	if len(segments) < LineCount {
		return out, fmt.Errorf("%w: найдено %d строк из %d", ErrMalformed, len(segments), LineCount)
	}
	for i := 0; i < LineCount; i++ {
		out[i] = string(segments[i])
	}
	return out, nil
}
