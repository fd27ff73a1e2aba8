package auction

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cloudx-io/sealedvwap/assets"
	"github.com/cloudx-io/sealedvwap/events"
	"github.com/cloudx-io/sealedvwap/fhe"
	"github.com/cloudx-io/sealedvwap/oracleapi"
)

// DefaultEscrowAccount holds every auction's escrowed supply and payment.
const DefaultEscrowAccount = "auction-escrow"

// ProofVerifier authenticates a decryption proof and returns the statement it signs.
type ProofVerifier interface {
	Verify(proof []byte) (*oracleapi.DecryptionResult, error)
}

// Engine runs sealed-bid batch auctions.
//
// Operations on one auction are serialized; operations on different auctions run
// concurrently. Every mutating operation either completes with all of its state changes
// and asset transfers applied, or fails with none of them.
type Engine struct {
	assets    assets.Ledger
	fhe       fhe.Capability
	requester fhe.DecryptionRequester
	verifier  ProofVerifier

	escrow              string
	publicFinalizeAfter time.Duration
	now                 func() time.Time
	logger              *zap.Logger
	sink                events.Sink

	mu       sync.RWMutex
	auctions []*auctionRecord // auction id n lives at index n-1

	// pendingMu is held across the requester call so a fast callback cannot miss its entry.
	pendingMu sync.Mutex
	pending   map[string]uint64 // request id -> auction id
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSink sets the destination of audit events.
func WithSink(sink events.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithEscrowAccount overrides the escrow account name.
func WithEscrowAccount(account string) Option {
	return func(e *Engine) {
		if account != "" {
			e.escrow = account
		}
	}
}

// WithPublicFinalizeAfter lets any caller request the clearing price and settle once d has
// elapsed after an auction's end. Zero keeps both seller-only.
func WithPublicFinalizeAfter(d time.Duration) Option {
	return func(e *Engine) {
		e.publicFinalizeAfter = d
	}
}

// New creates an engine that escrows through ledger, aggregates through capability, and
// asks requester for decryptions whose proofs verifier authenticates.
func New(ledger assets.Ledger, capability fhe.Capability, requester fhe.DecryptionRequester, verifier ProofVerifier, opts ...Option) *Engine {
	e := &Engine{
		assets:    ledger,
		fhe:       capability,
		requester: requester,
		verifier:  verifier,
		escrow:    DefaultEscrowAccount,
		now:       time.Now,
		logger:    zap.NewNop(),
		sink:      events.Nop{},
		pending:   make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EscrowAccount returns the account escrowed assets are held in.
func (e *Engine) EscrowAccount() string {
	return e.escrow
}

// Auction returns a snapshot of the auction.
func (e *Engine) Auction(id uint64) (Auction, error) {
	rec, err := e.lookup(id)
	if err != nil {
		return Auction{}, err
	}
	rec.state.RLock()
	defer rec.state.RUnlock()
	return rec.snapshot(e.now()), nil
}

// Auctions returns snapshots of every auction in id order.
func (e *Engine) Auctions() []Auction {
	e.mu.RLock()
	records := e.auctions
	e.mu.RUnlock()

	now := e.now()
	out := make([]Auction, 0, len(records))
	for _, rec := range records {
		rec.state.RLock()
		out = append(out, rec.snapshot(now))
		rec.state.RUnlock()
	}
	return out
}

// Bids returns snapshots of the auction's bids in submission order.
func (e *Engine) Bids(id uint64) ([]Bid, error) {
	rec, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	rec.state.RLock()
	defer rec.state.RUnlock()

	out := make([]Bid, len(rec.bids))
	for i, b := range rec.bids {
		out[i] = b.snapshot(i)
	}
	return out, nil
}

// ReadyForVWAP returns the ids of auctions whose window has closed with demand and whose
// encrypted VWAP has not been computed.
func (e *Engine) ReadyForVWAP() []uint64 {
	e.mu.RLock()
	records := e.auctions
	e.mu.RUnlock()

	now := e.now()
	var ids []uint64
	for _, rec := range records {
		rec.state.RLock()
		if now.After(rec.end) && rec.quantitySum > 0 && rec.encVWAP == nil {
			ids = append(ids, rec.id)
		}
		rec.state.RUnlock()
	}
	return ids
}

func (e *Engine) lookup(id uint64) (*auctionRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if id == 0 || id > uint64(len(e.auctions)) {
		return nil, fail(id, ErrUnknownAuction, nil)
	}
	return e.auctions[id-1], nil
}

type activeKey struct{}

// activeSet is the set of auctions the current call chain is mutating.
type activeSet map[uint64]struct{}

// begin starts a mutating operation on rec. It rejects a call chain that re-enters an
// auction it is already mutating (for example from an asset-ledger hook that received
// the operation's context) and any call made while the auction's final transfers are in
// flight, then waits for exclusive use of the auction.
func (e *Engine) begin(ctx context.Context, rec *auctionRecord) (context.Context, func(), error) {
	active, _ := ctx.Value(activeKey{}).(activeSet)
	if _, ok := active[rec.id]; ok {
		return nil, nil, fail(rec.id, ErrReentrant, nil)
	}
	rec.state.RLock()
	finalizing := rec.finalizing
	rec.state.RUnlock()
	if finalizing {
		return nil, nil, fail(rec.id, ErrReentrant, nil)
	}

	select {
	case rec.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	next := make(activeSet, len(active)+1)
	for id := range active {
		next[id] = struct{}{}
	}
	next[rec.id] = struct{}{}

	return context.WithValue(ctx, activeKey{}, next), func() { <-rec.sem }, nil
}

// authorize admits the seller, and anyone once the public finalize delay has passed.
func (e *Engine) authorize(rec *auctionRecord, caller string, now time.Time) error {
	if caller == "" {
		return fail(rec.id, ErrMissingCaller, nil)
	}
	if caller == rec.seller {
		return nil
	}
	if e.publicFinalizeAfter > 0 && now.After(rec.end.Add(e.publicFinalizeAfter)) {
		return nil
	}
	return fail(rec.id, ErrNotSeller, nil)
}

func (e *Engine) emit(ctx context.Context, ev events.Event) {
	ev.Time = e.now()
	e.sink.Emit(ctx, ev)
}

// finalize runs apply with rec marked as finalizing.
func (e *Engine) finalize(rec *auctionRecord, apply func() error) error {
	rec.state.Lock()
	rec.finalizing = true
	rec.state.Unlock()
	defer func() {
		rec.state.Lock()
		rec.finalizing = false
		rec.state.Unlock()
	}()
	return apply()
}
