package version

import (
	"fmt"
)

// Version stamps an update. Future versions correlate an asynchronous update's
// request and response, near versions tag values pushed into a near cache.
type Version struct {
	// Topology is the cluster topology version the stamp was issued under.
	Topology uint32

	// NodeOrder is the issuing node's join order.
	NodeOrder uint32

	// GlobalTime is wall clock milliseconds at issue time.
	GlobalTime int64

	// Order is strictly monotonic per issuing node.
	Order uint64
}

// IsZero reports whether v is the zero stamp.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare orders versions by topology, then order, then node order. It returns
// -1, 0 or 1.
func (v Version) Compare(o Version) int {
	switch {
	case v.Topology != o.Topology:
		return cmpUint64(uint64(v.Topology), uint64(o.Topology))
	case v.Order != o.Order:
		return cmpUint64(v.Order, o.Order)
	default:
		return cmpUint64(uint64(v.NodeOrder), uint64(o.NodeOrder))
	}
}

func (v Version) String() string {
	return fmt.Sprintf("ver[topo=%d, order=%d, node=%d, time=%d]",
		v.Topology, v.Order, v.NodeOrder, v.GlobalTime)
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
