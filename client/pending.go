package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/nearwire/atomicupdate"
	"github.com/luma/nearwire/protocol"
	"github.com/luma/nearwire/storage"
	"github.com/luma/nearwire/transport"
	"github.com/luma/nearwire/version"
)

var (
	ErrUnknownFuture   = errors.New("No update is waiting for this future version")
	ErrDuplicateFuture = errors.New("Future version is already registered")
)

// Result is what a waiting update receives once its response arrives.
type Result[K, V any] struct {
	Response *atomicupdate.Response[K, V]

	// Applied counts the near cache entries the response changed.
	Applied int

	// Err is set when the near values could not be applied. Failures on the
	// primary are reported by Response.Error.
	Err error
}

type future[K, V any] struct {
	keys []K
	done chan Result[K, V]
}

// Pending tracks the updates this node originated, keyed by their future
// version, and completes them when the primary responds.
type Pending[K comparable, V any] struct {
	mu      sync.Mutex
	futures map[version.Version]*future[K, V]

	store storage.Store[K, V]
	now   func() time.Time

	log *zap.Logger
}

// NewPending returns a registry applying near values to store. store may be
// nil when the node keeps no near cache.
func NewPending[K comparable, V any](store storage.Store[K, V], log *zap.Logger) *Pending[K, V] {
	if log == nil {
		log = zap.NewNop()
	}

	return &Pending[K, V]{
		futures: make(map[version.Version]*future[K, V]),
		store:   store,
		now:     time.Now,
		log:     log,
	}
}

// Register waits for the response to the update stamped futVer. keys are the
// update's keys in request order.
func (p *Pending[K, V]) Register(futVer version.Version, keys []K) (<-chan Result[K, V], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.futures[futVer]; ok {
		return nil, fmt.Errorf("Failed to register %s: %w", futVer, ErrDuplicateFuture)
	}

	f := &future[K, V]{keys: keys, done: make(chan Result[K, V], 1)}
	p.futures[futVer] = f

	return f.done, nil
}

// Forget drops a future whose caller stopped waiting.
func (p *Pending[K, V]) Forget(futVer version.Version) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.futures[futVer]; ok {
		close(f.done)
		delete(p.futures, futVer)
	}
}

func (p *Pending[K, V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.futures)
}

// Complete hands resp to the update it answers, applying its near values
// first.
func (p *Pending[K, V]) Complete(ctx context.Context, resp *atomicupdate.Response[K, V]) error {
	futVer := resp.FutureVersion()
	if futVer == nil {
		return fmt.Errorf("Failed to complete response without future version: %w", ErrUnknownFuture)
	}

	p.mu.Lock()
	f, ok := p.futures[*futVer]
	delete(p.futures, *futVer)
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("Failed to complete %s: %w", futVer, ErrUnknownFuture)
	}

	res := Result[K, V]{Response: resp}
	if p.store != nil {
		res.Applied, res.Err = storage.Apply(ctx, p.store, f.keys, resp, p.now())
	}

	f.done <- res
	close(f.done)

	return res.Err
}

// Handle completes resp if msg is a response this registry understands.
func (p *Pending[K, V]) Handle(ctx context.Context, msg protocol.Message) {
	resp, ok := msg.(*atomicupdate.Response[K, V])
	if !ok {
		p.log.Warn("Unexpected message", zap.Uint8("type", msg.DirectType()))
		return
	}

	if err := p.Complete(ctx, resp); err != nil {
		if errors.Is(err, ErrUnknownFuture) {
			p.log.Debug("Response arrived after its update was forgotten", zap.Object("response", resp))
			return
		}

		p.log.Warn("Failed to apply near values", zap.Object("response", resp), zap.Error(err))
	}
}

// ServeMessage lets a transport.TCP server feed responses into p.
func (p *Pending[K, V]) ServeMessage(ctx context.Context, _ *transport.TCPConn, msg protocol.Message) {
	p.Handle(ctx, msg)
}

var _ transport.Handler = (*Pending[string, string])(nil)
