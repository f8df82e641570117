package version

import (
	"sync"
	"time"
)

const (
	logicalBits = 16
	nodeBits    = 8
	seqBits     = logicalBits - nodeBits
	nodeMask    = (1 << nodeBits) - 1
	seqMask     = (1 << seqBits) - 1
)

// Generator issues versions whose Order is a 64-bit hybrid logical clock:
// [48 bits physical millis][seqBits sequence][nodeBits node].
//
// It is safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	physMS   int64
	seq      uint16
	node     uint16
	topology uint32
	order    uint32

	now func() time.Time
}

// NewGenerator returns a Generator for the node with the given join order.
// Only the low 8 bits of nodeOrder are embedded in issued Order values.
func NewGenerator(topology, nodeOrder uint32) *Generator {
	return &Generator{
		node:     uint16(nodeOrder) & nodeMask,
		topology: topology,
		order:    nodeOrder,
		now:      time.Now,
	}
}

// SetTopology changes the topology version stamped on subsequent versions.
func (g *Generator) SetTopology(topology uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.topology = topology
}

// Next returns a version strictly greater than every version previously
// issued or observed by g.
func (g *Generator) Next() Version {
	now := g.now().UnixMilli()

	g.mu.Lock()
	defer g.mu.Unlock()

	if now > g.physMS {
		g.physMS = now
		g.seq = 0
	} else {
		g.tick()
	}

	return Version{
		Topology:   g.topology,
		NodeOrder:  g.order,
		GlobalTime: now,
		Order:      pack(g.physMS, g.seq, g.node),
	}
}

// Observe folds a remote version into the clock so the next local version
// sorts after it.
func (g *Generator) Observe(remote Version) {
	rp, rseq, _ := unpack(remote.Order)
	now := g.now().UnixMilli()

	g.mu.Lock()
	defer g.mu.Unlock()

	phys := now
	if g.physMS > phys {
		phys = g.physMS
	}
	if rp > phys {
		phys = rp
	}

	switch {
	case phys == rp && phys == g.physMS:
		target := g.seq
		if rseq > target {
			target = rseq
		}
		g.setSeq(phys, target+1)
	case phys == rp:
		g.setSeq(phys, rseq+1)
	case phys == g.physMS:
		g.tick()
	default:
		g.physMS = phys
		g.seq = 0
	}
}

func (g *Generator) tick() {
	if g.seq < seqMask {
		g.seq++
		return
	}

	g.physMS++
	g.seq = 0
}

func (g *Generator) setSeq(phys int64, seq uint16) {
	if seq > seqMask {
		g.physMS = phys + 1
		g.seq = 0
		return
	}

	g.physMS = phys
	g.seq = seq
}

func pack(physMS int64, seq, node uint16) uint64 {
	logical := ((seq & seqMask) << nodeBits) | (node & nodeMask)
	return uint64(physMS)<<logicalBits | uint64(logical)
}

func unpack(order uint64) (physMS int64, seq, node uint16) {
	logical := uint16(order & (1<<logicalBits - 1))
	return int64(order >> logicalBits), (logical >> nodeBits) & seqMask, logical & nodeMask
}
