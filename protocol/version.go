package protocol

import (
	"encoding/binary"

	"github.com/luma/nearwire/version"
)

// versionSize is the body of a present version record: topology (4), node
// order (4), global time (8), order (8). A presence byte precedes it.
const versionSize = 24

func encodeVersion(p []byte, v *version.Version) {
	_ = p[versionSize-1]
	binary.BigEndian.PutUint32(p[0:4], v.Topology)
	binary.BigEndian.PutUint32(p[4:8], v.NodeOrder)
	binary.BigEndian.PutUint64(p[8:16], uint64(v.GlobalTime))
	binary.BigEndian.PutUint64(p[16:24], v.Order)
}

func decodeVersion(p []byte) version.Version {
	_ = p[versionSize-1]
	return version.Version{
		Topology:   binary.BigEndian.Uint32(p[0:4]),
		NodeOrder:  binary.BigEndian.Uint32(p[4:8]),
		GlobalTime: int64(binary.BigEndian.Uint64(p[8:16])),
		Order:      binary.BigEndian.Uint64(p[16:24]),
	}
}
