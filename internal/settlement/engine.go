// Package settlement fills and cancels native orders against the order state
// store, moving tokens through a TokenVault and publishing settlement events.
package settlement

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/nativeorders/internal/crypto"
	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// ErrInvalidParams is returned when a request is malformed before any
// order-specific check runs.
var ErrInvalidParams = errors.New("invalid parameters")

// ProtocolFee is a flat fee charged to the taker on every non-empty limit
// order fill. A zero Amount disables it.
type ProtocolFee struct {
	Amount    *big.Int
	Token     common.Address
	Collector common.Address
}

func (p ProtocolFee) enabled() bool {
	return p.Amount != nil && p.Amount.Sign() > 0 && p.Collector != (common.Address{})
}

// Options tunes an Engine. Zero values take defaults.
type Options struct {
	// LockTTL bounds how long a crashed holder can block a key.
	LockTTL time.Duration
	// LockWait is how long an operation waits for a busy key before
	// failing with domain.ErrLockHeld.
	LockWait    time.Duration
	ProtocolFee ProtocolFee
	// Clock overrides time.Now for expiry checks and event timestamps.
	Clock func() time.Time
}

const (
	defaultLockTTL  = 30 * time.Second
	defaultLockWait = 2 * time.Second
)

// Engine settles native orders.
type Engine struct {
	hasher   *crypto.Hasher
	resolver *Resolver
	state    domain.OrderStateStore
	vault    domain.TokenVault
	locks    domain.LockManager
	sink     domain.EventSink
	now      func() time.Time

	lockTTL     time.Duration
	lockWait    time.Duration
	protocolFee ProtocolFee

	logger *slog.Logger
}

// NewEngine creates an Engine. sink may be nil, in which case events are
// only logged.
func NewEngine(
	hasher *crypto.Hasher,
	state domain.OrderStateStore,
	vault domain.TokenVault,
	locks domain.LockManager,
	sink domain.EventSink,
	opts Options,
	logger *slog.Logger,
) *Engine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.LockWait <= 0 {
		opts.LockWait = defaultLockWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		hasher:      hasher,
		resolver:    NewResolver(hasher, state, opts.Clock),
		state:       state,
		vault:       vault,
		locks:       locks,
		sink:        sink,
		now:         opts.Clock,
		lockTTL:     opts.LockTTL,
		lockWait:    opts.LockWait,
		protocolFee: opts.ProtocolFee,
		logger:      logger.With(slog.String("component", "settlement")),
	}
}

// Address is the engine's own custody account, the verifying contract of the
// signing domain. Self-balance RFQ fills pay from it.
func (e *Engine) Address() common.Address {
	return e.hasher.Domain().VerifyingContract
}

// Hasher returns the hasher bound to the deployment domain.
func (e *Engine) Hasher() *crypto.Hasher {
	return e.hasher
}

// GetLimitOrderInfo returns the current status of a limit order.
func (e *Engine) GetLimitOrderInfo(ctx context.Context, o domain.LimitOrder) (domain.OrderInfo, error) {
	return e.resolver.Resolve(ctx, o)
}

// GetRfqOrderInfo returns the current status of an RFQ order.
func (e *Engine) GetRfqOrderInfo(ctx context.Context, o domain.RfqOrder) (domain.OrderInfo, error) {
	return e.resolver.Resolve(ctx, o)
}

// IsValidOrderSigner reports whether signer may sign and cancel on behalf of
// maker.
func (e *Engine) IsValidOrderSigner(ctx context.Context, maker, signer common.Address) (bool, error) {
	return authorizeSigner(ctx, e.state, maker, signer)
}

// authorizeSigner applies the maker-or-registered-signer rule.
func authorizeSigner(ctx context.Context, r domain.OrderStateReader, maker, signer common.Address) (bool, error) {
	if signer == maker {
		return true, nil
	}
	if signer == (common.Address{}) {
		return false, nil
	}
	return r.IsOrderSignerAllowed(ctx, maker, signer)
}

// emit publishes ev to the configured sink. Sink failures happen after
// commit and are logged only.
func (e *Engine) emit(ctx context.Context, ev domain.Event) {
	env, err := domain.NewEventEnvelope(uuid.NewString(), ev, e.now())
	if err != nil {
		e.logger.Error("encode event failed", slog.String("event", ev.EventName()), slog.String("error", err.Error()))
		return
	}
	e.logger.Debug("settlement event", slog.String("event", env.Event), slog.String("id", env.ID))
	if e.sink == nil {
		return
	}
	if err := e.sink.Emit(context.WithoutCancel(ctx), env); err != nil {
		e.logger.Warn("emit event failed",
			slog.String("event", env.Event),
			slog.String("id", env.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Fanout delivers every event to several sinks.
type Fanout struct {
	sinks []domain.EventSink
}

// NewFanout combines sinks, skipping nil entries.
func NewFanout(sinks ...domain.EventSink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Emit sends env to every sink and joins their errors.
func (f *Fanout) Emit(ctx context.Context, env domain.EventEnvelope) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Emit(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ domain.EventSink = (*Fanout)(nil)
