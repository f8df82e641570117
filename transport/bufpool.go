package transport

import "sync"

// bufPool hands out chunk buffers from a few fixed size classes so that
// every connection does not allocate its own.
type bufPool struct {
	sizes       []int
	pools       []sync.Pool
	indexBySize map[int]int
}

func newBufPool(sizes []int) *bufPool {
	bp := &bufPool{
		sizes:       sizes,
		pools:       make([]sync.Pool, len(sizes)),
		indexBySize: make(map[int]int, len(sizes)),
	}

	for i, sz := range sizes {
		size := sz
		bp.pools[i].New = func() any {
			return make([]byte, size)
		}
		bp.indexBySize[sz] = i
	}

	return bp
}

// class returns the index of the first bucket that can hold n bytes.
func (bp *bufPool) class(n int) int {
	for i, sz := range bp.sizes {
		if n <= sz {
			return i
		}
	}

	return -1
}

// get returns a slice of length n. Sizes above the largest class are
// allocated exactly.
func (bp *bufPool) get(n int) []byte {
	if i := bp.class(n); i >= 0 {
		b := bp.pools[i].Get().([]byte)
		return b[:n]
	}

	return make([]byte, n)
}

// put returns b to the bucket matching its capacity. Other sizes are
// dropped.
func (bp *bufPool) put(b []byte) {
	if i, ok := bp.indexBySize[cap(b)]; ok {
		bp.pools[i].Put(b[:bp.sizes[i]])
	}
}

var chunkPool = newBufPool([]int{256, 1024, 8192, 65536})
