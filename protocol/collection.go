package protocol

// PutSlice writes a length-prefixed, nullable collection. A nil slice is
// written as length -1. Elements are written one at a time with put; when the
// buffer fills mid-element, the element stays pending in the writer's cursor
// and the next call resumes it without touching committed elements.
func PutSlice[T any](w *Writer, s []T, put func(*Writer, T) bool) bool {
	c := &w.cur

	if c.size < 0 {
		if s == nil {
			return w.PutInt(-1)
		}

		if !w.PutInt(int32(len(s))) {
			return false
		}

		c.startCollection(len(s))
	}

	for c.items < c.size {
		c.pending = true

		if !put(w, s[c.items]) {
			return false
		}

		c.commitItem()
	}

	c.endCollection()
	return true
}

// GetSlice reads a collection written by PutSlice into dst. Length -1 leaves
// dst nil; length 0 leaves it empty but non-nil. Decoded elements are
// appended to dst as they complete, so a suspended read keeps its progress.
func GetSlice[T any](r *Reader, dst *[]T, get func(*Reader) (T, bool)) bool {
	c := &r.cur

	if c.size < 0 {
		n, ok := r.getLength()
		if !ok {
			return false
		}

		if n == -1 {
			*dst = nil
			return true
		}

		c.startCollection(n)
		*dst = make([]T, 0, capHint(n))
	}

	for c.items < c.size {
		c.pending = true

		v, ok := get(r)
		if !ok {
			return false
		}

		*dst = append(*dst, v)
		c.commitItem()
	}

	c.endCollection()
	return true
}

func PutInts(w *Writer, s []int32) bool {
	return PutSlice(w, s, (*Writer).PutInt)
}

func GetInts(r *Reader, dst *[]int32) bool {
	return GetSlice(r, dst, (*Reader).GetInt)
}
