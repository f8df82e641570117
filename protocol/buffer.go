package protocol

// Buffer is a fixed-capacity window over a caller-owned byte slice. Writers
// fill it from the front, readers consume it from the front. It never grows:
// running out of room (or data) is how the codec learns to suspend.
type Buffer struct {
	buf []byte
	off int
}

// NewBuffer returns a Buffer over p. When writing, len(p) is the capacity;
// when reading, p holds the bytes to decode.
func NewBuffer(p []byte) *Buffer {
	return &Buffer{buf: p}
}

// Reset points the buffer at p and rewinds it.
func (b *Buffer) Reset(p []byte) {
	b.buf = p
	b.off = 0
}

// Remaining is the free space left for writing, or the unread bytes left for
// reading.
func (b *Buffer) Remaining() int {
	return len(b.buf) - b.off
}

// Len is the number of bytes written into, or consumed from, the buffer.
func (b *Buffer) Len() int {
	return b.off
}

// Bytes returns the written prefix. It aliases the underlying slice.
func (b *Buffer) Bytes() []byte {
	return b.buf[:b.off]
}

// Unread returns the bytes not yet consumed. It aliases the underlying slice.
func (b *Buffer) Unread() []byte {
	return b.buf[b.off:]
}

// put copies as much of p as fits and reports how much was copied.
func (b *Buffer) put(p []byte) int {
	n := copy(b.buf[b.off:], p)
	b.off += n
	return n
}

// take consumes up to n bytes.
func (b *Buffer) take(n int) []byte {
	if rem := b.Remaining(); n > rem {
		n = rem
	}

	p := b.buf[b.off : b.off+n]
	b.off += n
	return p
}
