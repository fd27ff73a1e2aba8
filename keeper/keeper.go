// Package keeper drives auctions forward on a schedule: it computes the encrypted VWAP of
// every auction whose bidding window has closed and, when configured with an account,
// finalizes auctions that account is allowed to finalize.
package keeper

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/cloudx-io/sealedvwap/auction"
)

// DefaultSchedule runs the keeper every ten seconds (six-field cron spec).
const DefaultSchedule = "*/10 * * * * *"

// Engine is the part of auction.Engine the keeper drives.
type Engine interface {
	ReadyForVWAP() []uint64
	Auctions() []auction.Auction
	ComputeEncryptedVWAP(ctx context.Context, auctionID uint64) (string, error)
	RequestClearingPrice(ctx context.Context, caller string, auctionID uint64) (string, error)
	Settle(ctx context.Context, caller string, auctionID uint64) (*auction.SettlementReport, error)
}

var _ Engine = (*auction.Engine)(nil)

// Result counts what one keeper pass did.
type Result struct {
	Computed  int
	Requested int
	Settled   int
	Failed    int
}

// Keeper runs passes over the engine's auctions.
type Keeper struct {
	engine  Engine
	account string
	logger  *zap.Logger

	cron    *cron.Cron
	running sync.Mutex
}

// New creates a keeper. With a non-empty account the keeper also requests clearing prices
// and settles, as that account; the engine decides whether the account may do so.
func New(engine Engine, account string, logger *zap.Logger) *Keeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Keeper{
		engine:  engine,
		account: account,
		logger:  logger,
		cron:    cron.New(cron.WithSeconds()),
	}
}

// Schedule registers a pass on the given cron spec. Passes never overlap.
func (k *Keeper) Schedule(ctx context.Context, spec string) error {
	_, err := k.cron.AddFunc(spec, func() {
		if !k.running.TryLock() {
			k.logger.Debug("Keeper pass still running, skipping")
			return
		}
		defer k.running.Unlock()
		k.RunOnce(ctx)
	})
	return err
}

// Start starts the scheduler.
func (k *Keeper) Start() {
	k.logger.Info("Keeper started")
	k.cron.Start()
}

// Stop stops the scheduler and waits for a running pass to finish.
func (k *Keeper) Stop() {
	<-k.cron.Stop().Done()
	k.logger.Info("Keeper stopped")
}

// RunOnce performs a single pass.
func (k *Keeper) RunOnce(ctx context.Context) Result {
	var res Result

	for _, id := range k.engine.ReadyForVWAP() {
		if ctx.Err() != nil {
			return res
		}
		if _, err := k.engine.ComputeEncryptedVWAP(ctx, id); err != nil {
			k.failed(&res, "compute encrypted VWAP", id, err)
			continue
		}
		res.Computed++
	}

	if k.account == "" {
		return res
	}

	for _, a := range k.engine.Auctions() {
		if ctx.Err() != nil {
			return res
		}
		switch a.Phase {
		case auction.PhaseEncVWAPComputed:
			if _, err := k.engine.RequestClearingPrice(ctx, k.account, a.ID); err != nil {
				k.failed(&res, "request clearing price", a.ID, err)
				continue
			}
			res.Requested++
		case auction.PhasePublished:
			if _, err := k.engine.Settle(ctx, k.account, a.ID); err != nil {
				k.failed(&res, "settle", a.ID, err)
				continue
			}
			res.Settled++
		}
	}

	if res != (Result{}) {
		k.logger.Info("Keeper pass finished",
			zap.Int("computed", res.Computed),
			zap.Int("requested", res.Requested),
			zap.Int("settled", res.Settled),
			zap.Int("failed", res.Failed))
	}
	return res
}

// failed logs a rejected step. Authorization and lost races are expected and not counted.
func (k *Keeper) failed(res *Result, step string, auctionID uint64, err error) {
	switch {
	case errors.Is(err, auction.ErrNotSeller),
		errors.Is(err, auction.ErrAlreadyComputed),
		errors.Is(err, auction.ErrAlreadyRequested),
		errors.Is(err, auction.ErrAlreadySettled):
		k.logger.Debug("Keeper step skipped",
			zap.String("step", step), zap.Uint64("auction_id", auctionID), zap.Error(err))
		return
	}
	res.Failed++
	k.logger.Warn("Keeper step failed",
		zap.String("step", step), zap.Uint64("auction_id", auctionID), zap.Error(err))
}
