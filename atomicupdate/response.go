package atomicupdate

import (
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap/zapcore"

	"github.com/luma/nearwire/protocol"
	"github.com/luma/nearwire/version"
)

// DirectType is the wire type of Response.
const DirectType byte = 41

// Return is the outcome of an update that asked for the previous value.
type Return[V any] struct {
	Value   *V   `cbor:"v" msgpack:"v"`
	Success bool `cbor:"ok" msgpack:"ok"`
}

// Response is sent by the primary node back to the node that originated an
// atomic update. It reports per key failures, keys to remap and the values
// the originator should put in its near cache.
//
// Outcomes are addressed by the key's index in the original request. Near
// values and skipped indexes are disjoint; TTLs and expire times are sparse
// lists where -1 means "not set".
//
// A Response is built by one owner. RecordFailedKey and RecordFailedKeys may
// be called from several goroutines; nothing may mutate the response once it
// has been handed to an encoder.
type Response[K, V any] struct {
	protocol.CacheHeader

	mu sync.Mutex

	// Destination node, not sent.
	nodeID string

	futVer *version.Version

	err      error
	errBytes []byte

	retVal      *Return[V]
	retValBytes []byte

	failedKeys      []K
	failedKeysBytes []byte

	remapKeys      []K
	remapKeysBytes []byte

	nearValIdxs  []int32
	nearSkipIdxs []int32
	nearVals     []*V
	nearValBytes []*protocol.ValueBytes
	nearVer      *version.Version
	nearTTLs     sparseLongs
	nearExpires  sparseLongs
}

func New[K, V any](cacheID int32, nodeID string, futVer version.Version) *Response[K, V] {
	return &Response[K, V]{
		CacheHeader: protocol.CacheHeader{CacheID: cacheID},
		nodeID:      nodeID,
		futVer:      &futVer,
	}
}

// Register adds Response[K, V] to reg under DirectType.
func Register[K, V any](reg *protocol.Registry) error {
	return reg.Register(DirectType, func() protocol.Message {
		return &Response[K, V]{}
	})
}

func (r *Response[K, V]) DirectType() byte {
	return DirectType
}

func (r *Response[K, V]) NodeID() string {
	return r.nodeID
}

func (r *Response[K, V]) SetNodeID(nodeID string) {
	r.nodeID = nodeID
}

// FutureVersion correlates the response with its request. It is nil only on
// a response that has not been decoded yet.
func (r *Response[K, V]) FutureVersion() *version.Version {
	return r.futVer
}

// Error is the aggregate of all recorded failures, usually an *UpdateError.
func (r *Response[K, V]) Error() error {
	return r.err
}

func (r *Response[K, V]) FailedKeys() []K {
	return r.failedKeys
}

func (r *Response[K, V]) ReturnValue() *Return[V] {
	return r.retVal
}

func (r *Response[K, V]) SetReturnValue(ret *Return[V]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.retVal = ret
}

func (r *Response[K, V]) RemapKeys() []K {
	return r.remapKeys
}

// SetRemapKeys sets the keys the originator must retry against a different
// node. Keeping them apart from the failed keys is up to the caller.
func (r *Response[K, V]) SetRemapKeys(keys []K) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remapKeys = keys
}

func (r *Response[K, V]) NearVersion() *version.Version {
	return r.nearVer
}

func (r *Response[K, V]) SetNearVersion(v *version.Version) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nearVer = v
}

// RecordFailedKey adds key to the failed keys and cause to the aggregate
// error. A nil cause records the key only.
func (r *Response[K, V]) RecordFailedKey(key K, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failedKeys = append(r.failedKeys, key)
	r.suppress(cause)
}

// RecordFailedKeys is the bulk form of RecordFailedKey: cause is recorded
// once for all keys.
func (r *Response[K, V]) RecordFailedKeys(keys []K, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failedKeys == nil {
		r.failedKeys = make([]K, 0, len(keys))
	}

	r.failedKeys = append(r.failedKeys, keys...)
	r.suppress(cause)
}

// suppress must be called with mu held.
func (r *Response[K, V]) suppress(cause error) {
	ue, ok := r.err.(*UpdateError)
	if !ok {
		ue = newUpdateError()
		if r.err != nil {
			ue.causes = append(ue.causes, r.err)
		}

		r.err = ue
	}

	if cause != nil {
		ue.causes = append(ue.causes, cause)
	}
}

// AddNearValue records a value the originator should put in its near cache
// for the key at keyIdx. valBytes, when given, is the value already
// marshaled and is sent as is.
func (r *Response[K, V]) AddNearValue(keyIdx int, val *V, valBytes []byte, ttl, expireTime int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkIndex(keyIdx); err != nil {
		return err
	}

	if r.nearValIdxs == nil {
		r.nearValIdxs = []int32{}
		r.nearVals = []*V{}
		r.nearValBytes = []*protocol.ValueBytes{}
	}

	r.addNearTTL(keyIdx, ttl, expireTime)

	var vb *protocol.ValueBytes
	if valBytes != nil {
		vb = protocol.Marshaled(valBytes)
	}

	r.nearValIdxs = append(r.nearValIdxs, int32(keyIdx))
	r.nearVals = append(r.nearVals, val)
	r.nearValBytes = append(r.nearValBytes, vb)
	return nil
}

// AddSkippedIndex marks the key at keyIdx as needing no near cache update.
func (r *Response[K, V]) AddSkippedIndex(keyIdx int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkIndex(keyIdx); err != nil {
		return err
	}

	r.nearSkipIdxs = append(r.nearSkipIdxs, int32(keyIdx))
	r.addNearTTL(keyIdx, unset, unset)
	return nil
}

// AddNearTTL sets the TTL and expire time for the key at keyIdx. Negative
// values mean "not set".
func (r *Response[K, V]) AddNearTTL(keyIdx int, ttl, expireTime int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.addNearTTL(keyIdx, ttl, expireTime)
}

func (r *Response[K, V]) addNearTTL(keyIdx int, ttl, expireTime int64) {
	if keyIdx < 0 {
		return
	}

	r.nearTTLs.set(keyIdx, ttl)
	r.nearExpires.set(keyIdx, expireTime)
}

func (r *Response[K, V]) checkIndex(keyIdx int) error {
	if keyIdx < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, keyIdx)
	}

	idx := int32(keyIdx)
	if slices.Contains(r.nearValIdxs, idx) || slices.Contains(r.nearSkipIdxs, idx) {
		return fmt.Errorf("%w: %d", ErrIndexConflict, keyIdx)
	}

	return nil
}

// NearValueIndexes returns the key indexes with a near value, in the same
// order as NearValue.
func (r *Response[K, V]) NearValueIndexes() []int32 {
	return r.nearValIdxs
}

func (r *Response[K, V]) SkippedIndexes() []int32 {
	return r.nearSkipIdxs
}

// NearValue returns the i-th near value (not the key index).
func (r *Response[K, V]) NearValue(i int) *V {
	if i < 0 || i >= len(r.nearVals) {
		return nil
	}

	return r.nearVals[i]
}

// NearValueBytes returns the marshaled bytes of the i-th near value. Plain
// and missing values yield nil.
func (r *Response[K, V]) NearValueBytes(i int) []byte {
	if i < 0 || i >= len(r.nearValBytes) {
		return nil
	}

	vb := r.nearValBytes[i]
	if vb == nil || vb.Plain {
		return nil
	}

	return vb.Bytes
}

// NearTTL returns the TTL for the key at keyIdx or -1.
func (r *Response[K, V]) NearTTL(keyIdx int) int64 {
	return r.nearTTLs.get(keyIdx)
}

// NearExpireTime returns the expire time for the key at keyIdx or -1.
func (r *Response[K, V]) NearExpireTime(keyIdx int) int64 {
	return r.nearExpires.get(keyIdx)
}

// Clone returns a shallow copy for resending. The copy shares every slice,
// byte array, value and error with r; neither side may mutate them after the
// clone. Encode state lives in the protocol.Writer, so the copy starts a
// fresh pass.
func (r *Response[K, V]) Clone() *Response[K, V] {
	r.mu.Lock()
	defer r.mu.Unlock()

	return &Response[K, V]{
		CacheHeader:     r.CacheHeader,
		nodeID:          r.nodeID,
		futVer:          r.futVer,
		err:             r.err,
		errBytes:        r.errBytes,
		retVal:          r.retVal,
		retValBytes:     r.retValBytes,
		failedKeys:      r.failedKeys,
		failedKeysBytes: r.failedKeysBytes,
		remapKeys:       r.remapKeys,
		remapKeysBytes:  r.remapKeysBytes,
		nearValIdxs:     r.nearValIdxs,
		nearSkipIdxs:    r.nearSkipIdxs,
		nearVals:        r.nearVals,
		nearValBytes:    r.nearValBytes,
		nearVer:         r.nearVer,
		nearTTLs:        r.nearTTLs,
		nearExpires:     r.nearExpires,
	}
}

func (r *Response[K, V]) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt32("cacheID", r.CacheID)
	enc.AddInt64("messageID", r.MessageID)

	if r.nodeID != "" {
		enc.AddString("nodeID", r.nodeID)
	}

	if r.futVer != nil {
		enc.AddString("futureVersion", r.futVer.String())
	}

	if r.nearVer != nil {
		enc.AddString("nearVersion", r.nearVer.String())
	}

	enc.AddInt("failedKeys", len(r.failedKeys))
	enc.AddInt("remapKeys", len(r.remapKeys))
	enc.AddInt("nearValues", len(r.nearValIdxs))
	enc.AddInt("skipped", len(r.nearSkipIdxs))

	if r.err != nil {
		enc.AddString("error", r.err.Error())
	}

	return nil
}
