package protocol

import "fmt"

// Cursor records how far one encode or decode pass of a message has got, so
// the pass can return when the buffer is exhausted and pick up again on the
// next call.
//
// Only one field is in progress at a time. For collection fields the cursor
// also holds the declared size and the number of committed elements; the
// element at index Items() is the pending one. Multi-part elements (value
// bytes, version records) keep their own step in Sub().
type Cursor struct {
	field    int
	typeDone bool

	// size is the declared length of the in-progress collection, -1 until
	// the length has been committed.
	size    int
	items   int
	pending bool

	sub int
}

func newCursor() Cursor {
	return Cursor{size: -1}
}

// Field is the index of the next field to process.
func (c *Cursor) Field() int {
	return c.field
}

// Advance moves past field once it has been fully committed. Advancing any
// field other than the current one is a programming error and panics.
func (c *Cursor) Advance(field int) {
	if c.field != field {
		panic(fmt.Errorf("%w: advancing field %d while on field %d", ErrFieldOrder, field, c.field))
	}

	c.field++
}

// Size is the declared length of the collection in progress, or -1.
func (c *Cursor) Size() int {
	return c.size
}

// Items is the number of elements of the in-progress collection committed so
// far.
func (c *Cursor) Items() int {
	return c.items
}

// Pending reports whether element Items() has been started but not committed.
func (c *Cursor) Pending() bool {
	return c.pending
}

// Sub is the step reached inside a multi-part element.
func (c *Cursor) Sub() int {
	return c.sub
}

func (c *Cursor) startCollection(size int) {
	c.size = size
	c.items = 0
	c.pending = false
}

func (c *Cursor) commitItem() {
	c.pending = false
	c.items++
}

func (c *Cursor) endCollection() {
	c.size = -1
	c.items = 0
	c.pending = false
}

func (c *Cursor) reset() {
	*c = newCursor()
}
