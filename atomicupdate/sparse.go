package atomicupdate

// sparseLongs is a list indexed by key index where -1 means "not set". It
// stays nil until the first value >= 0 arrives; at that point every lower
// index is back-filled with -1.
type sparseLongs []int64

const unset int64 = -1

// set stores v at idx, growing the list with -1 as needed.
func (s *sparseLongs) set(idx int, v int64) {
	if *s == nil {
		if v < 0 {
			return
		}

		*s = make(sparseLongs, 0, max(idx+1, 16))
	}

	s.fill(idx+1, unset)
	(*s)[idx] = v
}

// fill appends val until the list holds n entries.
func (s *sparseLongs) fill(n int, val int64) {
	for len(*s) < n {
		*s = append(*s, val)
	}
}

func (s sparseLongs) get(idx int) int64 {
	if idx < 0 || idx >= len(s) {
		return unset
	}

	return s[idx]
}
