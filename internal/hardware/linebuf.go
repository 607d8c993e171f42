package hardware

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxLineBytes = 4096

// lineBuffer accumulates raw serial bytes and splits them into tag lines.
type lineBuffer struct {
	buf []byte
}

func (b *lineBuffer) write(p []byte) {
	b.buf = append(b.buf, p...)
}

func (b *lineBuffer) reset() {
	b.buf = b.buf[:0]
}

// next pops the next newline-terminated line. Trailing whitespace is stripped.
func (b *lineBuffer) next() (string, bool, error) {
	i := bytes.IndexByte(b.buf, '\n')
	if i < 0 {
		if len(b.buf) > maxLineBytes {
			b.reset()
			return "", false, ErrLineTooLong
		}
		return "", false, nil
	}
	raw := b.buf[:i]
	rest := b.buf[i+1:]
	defer func() { b.buf = append(b.buf[:0], rest...) }()

	if !utf8.Valid(raw) {
		return "", false, ErrDecode
	}
	return strings.TrimRightFunc(string(raw), unicode.IsSpace), true, nil
}

func (b *lineBuffer) complete() bool {
	return bytes.IndexByte(b.buf, '\n') >= 0
}
