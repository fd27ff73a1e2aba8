package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedvwap/assets"
	"github.com/cloudx-io/sealedvwap/events"
)

func TestSettle_FullFill(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)
	h.bid(id, "alice", 100, 30, 120, 3600)
	h.bid(id, "bob", 97, 50, 105, 5750)
	assert.Equal(t, uint64(98), h.publish(id))

	report, err := h.engine.Settle(context.Background(), seller, id)
	assert.NoError(t, err)

	check.Equal(t, id, report.AuctionID)
	check.Equal(t, uint64(98), report.ClearingPrice)
	check.Equal(t, uint64(80), report.EligibleDemand)
	check.False(t, report.ProRata)
	check.Equal(t, uint64(7840), report.SellerProceeds)
	check.Equal(t, uint64(20), report.Remainder)

	check.Equal(t, uint64(30), h.balance("alice", offered))
	check.Equal(t, uint64(660), h.balance("alice", payment))
	check.Equal(t, uint64(50), h.balance("bob", offered))
	check.Equal(t, uint64(850), h.balance("bob", payment))
	check.Equal(t, uint64(7840), h.balance(seller, payment))
	check.Equal(t, uint64(20), h.balance(seller, offered))
	check.Equal(t, uint64(0), h.balance(DefaultEscrowAccount, offered))
	check.Equal(t, uint64(0), h.balance(DefaultEscrowAccount, payment))

	a, err := h.engine.Auction(id)
	assert.NoError(t, err)
	check.True(t, a.Settled)
	check.Equal(t, PhaseSettled, a.Phase)

	bids, err := h.engine.Bids(id)
	assert.NoError(t, err)
	for _, b := range bids {
		check.True(t, b.Settled)
	}

	h.sink.Reset()
	_, err = h.engine.Settle(context.Background(), seller, id)
	check.True(t, errors.Is(err, ErrAlreadySettled))
	check.Equal(t, uint64(7840), h.balance(seller, payment))
	check.Equal(t, 0, len(h.sink.Events()))
}

func TestSettle_ProRata(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)
	h.bid(id, "alice", 10, 30, 10, 300)
	h.bid(id, "bob", 10, 100, 10, 1000)
	assert.Equal(t, uint64(10), h.publish(id))

	report, err := h.engine.Settle(context.Background(), seller, id)
	assert.NoError(t, err)
	check.True(t, report.ProRata)
	check.Equal(t, uint64(130), report.EligibleDemand)

	// floor(30×100/130) = 23, floor(100×100/130) = 76, 1 unit left over
	check.Equal(t, uint64(23), h.balance("alice", offered))
	check.Equal(t, uint64(76), h.balance("bob", offered))
	check.Equal(t, uint64(1), h.balance(seller, offered))

	check.Equal(t, uint64(70), h.balance("alice", payment))
	check.Equal(t, uint64(240), h.balance("bob", payment))
	check.Equal(t, uint64(990), h.balance(seller, payment))
	check.Equal(t, uint64(0), h.balance(DefaultEscrowAccount, payment))
}

func TestSettle_IneligibleBidIsRefunded(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)
	h.bid(id, "alice", 200, 10, 200, 2000)
	h.bid(id, "bob", 10, 10, 50, 500)

	// (200×10 + 10×10) / 20 = 105, above bob's cap
	assert.Equal(t, uint64(105), h.publish(id))

	report, err := h.engine.Settle(context.Background(), seller, id)
	assert.NoError(t, err)
	check.Equal(t, uint64(10), report.EligibleDemand)
	check.False(t, report.Allocations[1].Eligible)

	check.Equal(t, uint64(10), h.balance("alice", offered))
	check.Equal(t, uint64(950), h.balance("alice", payment))
	check.Equal(t, uint64(0), h.balance("bob", offered))
	check.Equal(t, uint64(500), h.balance("bob", payment))
	check.Equal(t, uint64(1050), h.balance(seller, payment))
	check.Equal(t, uint64(90), h.balance(seller, offered))
}

func TestSettle_ZeroEligibleDemand(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)

	// Prices above every cap: nobody is eligible at the VWAP
	h.bid(id, "alice", 100, 10, 50, 500)
	h.bid(id, "bob", 100, 10, 60, 600)
	assert.Equal(t, uint64(100), h.publish(id))

	h.sink.Reset()
	report, err := h.engine.Settle(context.Background(), seller, id)
	assert.NoError(t, err)
	check.True(t, report.ZeroDemand)
	check.Equal(t, uint64(100), report.Remainder)

	check.Equal(t, uint64(500), h.balance("alice", payment))
	check.Equal(t, uint64(600), h.balance("bob", payment))
	check.Equal(t, uint64(100), h.balance(seller, offered))
	check.Equal(t, uint64(0), h.balance(seller, payment))

	check.Equal(t, []events.Kind{
		events.BidRefunded,
		events.BidRefunded,
		events.RemainderReturned,
		events.AuctionSettled,
	}, h.sink.Kinds())

	a, err := h.engine.Auction(id)
	assert.NoError(t, err)
	check.True(t, a.Settled)
}

func TestSettle_Preconditions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.create(100)
	h.bid(id, "alice", 10, 10, 10, 100)

	_, err := h.engine.Settle(ctx, seller, id)
	check.True(t, errors.Is(err, ErrNotPublished))

	h.publish(id)

	_, err = h.engine.Settle(ctx, "alice", id)
	check.True(t, errors.Is(err, ErrNotSeller))

	_, err = h.engine.Settle(ctx, "", id)
	check.True(t, errors.Is(err, ErrMissingCaller))

	_, err = h.engine.Settle(ctx, seller, 99)
	check.True(t, errors.Is(err, ErrUnknownAuction))

	check.Equal(t, uint64(100), h.balance(DefaultEscrowAccount, offered))
}

func TestSettle_PublicFinalize(t *testing.T) {
	h := newHarness(t, WithPublicFinalizeAfter(24*time.Hour))
	id := h.create(10)
	h.bid(id, "alice", 10, 10, 10, 100)
	h.publish(id)

	_, err := h.engine.Settle(context.Background(), "alice", id)
	check.True(t, errors.Is(err, ErrNotSeller))

	h.clock.Set(windowEnd.Add(25 * time.Hour))
	_, err = h.engine.Settle(context.Background(), "alice", id)
	assert.NoError(t, err)
	check.Equal(t, uint64(100), h.balance(seller, payment))
}

func TestSettle_ReentrantCallFromLedgerHook(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)
	h.bid(id, "alice", 10, 10, 10, 100)
	h.publish(id)

	var (
		once         sync.Once
		reentrantErr error
		phaseSeen    Phase
	)
	h.ledger.SetHook(func(ctx context.Context, _ assets.Transfer) error {
		once.Do(func() {
			_, reentrantErr = h.engine.Settle(ctx, seller, id)
			a, err := h.engine.Auction(id)
			if err == nil {
				phaseSeen = a.Phase
			}
		})
		return nil
	})

	_, err := h.engine.Settle(context.Background(), seller, id)
	assert.NoError(t, err)

	check.True(t, errors.Is(reentrantErr, ErrReentrant))
	check.Equal(t, "reentrant", Code(reentrantErr))
	check.Equal(t, PhasePublished, phaseSeen)

	// Paid exactly once
	check.Equal(t, uint64(10), h.balance("alice", offered))
	check.Equal(t, uint64(100), h.balance(seller, payment))
}

func TestSettle_ReentrantCallWithFreshContext(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)
	h.bid(id, "alice", 10, 10, 10, 100)
	h.publish(id)

	var (
		once         sync.Once
		reentrantErr error
	)
	h.ledger.SetHook(func(context.Context, assets.Transfer) error {
		once.Do(func() {
			_, reentrantErr = h.engine.Settle(context.Background(), seller, id)
		})
		return nil
	})

	_, err := h.engine.Settle(context.Background(), seller, id)
	assert.NoError(t, err)
	check.True(t, errors.Is(reentrantErr, ErrReentrant))

	// The flag is cleared once the transfers land
	_, err = h.engine.Settle(context.Background(), seller, id)
	check.True(t, errors.Is(err, ErrAlreadySettled))
	check.Equal(t, uint64(10), h.balance("alice", offered))
}

func TestReclaimUnsold_ReentrantCallWithFreshContext(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)
	h.closeWindow()

	var reentrantErr error
	h.ledger.SetHook(func(context.Context, assets.Transfer) error {
		reentrantErr = h.engine.ReclaimUnsold(context.Background(), seller, id)
		return nil
	})

	assert.NoError(t, h.engine.ReclaimUnsold(context.Background(), seller, id))
	check.True(t, errors.Is(reentrantErr, ErrReentrant))
	check.Equal(t, uint64(100), h.balance(seller, offered))
}

func TestSettle_HookMayOperateOnOtherAuctions(t *testing.T) {
	h := newHarness(t)
	first := h.create(10)
	second := h.create(10)
	h.bid(first, "alice", 10, 10, 10, 100)
	h.publish(first)

	var reclaimErr error
	h.ledger.SetHook(func(ctx context.Context, tr assets.Transfer) error {
		if tr.To == "alice" && tr.Asset == offered {
			reclaimErr = h.engine.ReclaimUnsold(ctx, seller, second)
		}
		return nil
	})

	_, err := h.engine.Settle(context.Background(), seller, first)
	assert.NoError(t, err)
	check.NoError(t, reclaimErr)
}

func TestSettle_FailedTransferRollsBack(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)
	h.bid(id, "alice", 100, 30, 120, 3600)
	h.bid(id, "bob", 97, 50, 105, 5750)
	h.publish(id)

	h.ledger.SetHook(func(_ context.Context, tr assets.Transfer) error {
		if tr.To == seller && tr.Asset == payment {
			return errors.New("seller account frozen")
		}
		return nil
	})
	h.sink.Reset()

	_, err := h.engine.Settle(context.Background(), seller, id)
	check.True(t, errors.Is(err, ErrTransferFailed))
	check.False(t, IsIntegrity(err))

	check.Equal(t, uint64(0), h.balance("alice", offered))
	check.Equal(t, uint64(0), h.balance(seller, payment))
	check.Equal(t, uint64(100), h.balance(DefaultEscrowAccount, offered))
	check.Equal(t, uint64(9350), h.balance(DefaultEscrowAccount, payment))
	check.Equal(t, 0, len(h.sink.Events()))

	a, err := h.engine.Auction(id)
	assert.NoError(t, err)
	check.False(t, a.Settled)
	bids, err := h.engine.Bids(id)
	assert.NoError(t, err)
	check.False(t, bids[0].Settled)

	h.ledger.SetHook(nil)
	_, err = h.engine.Settle(context.Background(), seller, id)
	assert.NoError(t, err)
	check.Equal(t, uint64(7840), h.balance(seller, payment))
}

func TestSettle_Events(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)
	h.bid(id, "alice", 100, 30, 120, 3600)
	h.bid(id, "bob", 97, 50, 105, 5750)
	h.publish(id)
	h.sink.Reset()

	_, err := h.engine.Settle(context.Background(), seller, id)
	assert.NoError(t, err)

	check.Equal(t, []events.Kind{
		events.BidAllocated,
		events.BidRefunded,
		events.BidAllocated,
		events.BidRefunded,
		events.SellerPaid,
		events.RemainderReturned,
		events.AuctionSettled,
	}, h.sink.Kinds())

	evs := h.sink.Events()
	check.Equal(t, 1, *evs[2].BidIndex)
	check.Equal(t, uint64(50), evs[2].Quantity)
	check.Equal(t, uint64(4900), evs[2].Amount)
	check.Equal(t, uint64(7840), evs[4].Amount)
	check.Equal(t, uint64(80), evs[6].Quantity)
}

func TestReclaimUnsold(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.create(100)

	err := h.engine.ReclaimUnsold(ctx, seller, id)
	check.True(t, errors.Is(err, ErrTooEarly))

	h.closeWindow()
	err = h.engine.ReclaimUnsold(ctx, "alice", id)
	check.True(t, errors.Is(err, ErrNotSeller))

	assert.NoError(t, h.engine.ReclaimUnsold(ctx, seller, id))
	check.Equal(t, uint64(100), h.balance(seller, offered))

	a, err := h.engine.Auction(id)
	assert.NoError(t, err)
	check.True(t, a.Reclaimed)
	check.Equal(t, PhaseReclaimed, a.Phase)

	err = h.engine.ReclaimUnsold(ctx, seller, id)
	check.True(t, errors.Is(err, ErrAlreadyReclaimed))
	check.Equal(t, uint64(100), h.balance(seller, offered))
}

func TestReclaimUnsold_RejectsAuctionWithDemand(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)
	h.bid(id, "alice", 10, 1, 10, 10)
	h.closeWindow()

	err := h.engine.ReclaimUnsold(context.Background(), seller, id)
	check.True(t, errors.Is(err, ErrHasDemand))
	check.Equal(t, uint64(100), h.balance(DefaultEscrowAccount, offered))
}

func TestEngine_ConcurrentAuctions(t *testing.T) {
	h := newHarness(t)

	const auctions, bidders = 4, 6
	ids := make([]uint64, auctions)
	for i := range ids {
		ids[i] = h.create(1000)
	}

	var wg sync.WaitGroup
	errs := make(chan error, auctions*bidders)
	for _, id := range ids {
		for b := 0; b < bidders; b++ {
			p := h.sealedBid(id, fmt.Sprintf("bidder-%d-%d", id, b), 50, 10, 50, 500)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := h.engine.SubmitBid(context.Background(), id, p); err != nil {
					errs <- err
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	for _, id := range ids {
		a, err := h.engine.Auction(id)
		assert.NoError(t, err)
		check.Equal(t, uint64(bidders*10), a.QuantitySum)
		check.Equal(t, bidders, a.BidCount)
	}

	h.closeWindow()
	for _, id := range ids {
		_, err := h.engine.ComputeEncryptedVWAP(context.Background(), id)
		assert.NoError(t, err)
		_, err = h.engine.RequestClearingPrice(context.Background(), seller, id)
		assert.NoError(t, err)
	}
	check.Equal(t, auctions, h.oracle.ProcessPending(context.Background()))

	for _, id := range ids {
		report, err := h.engine.Settle(context.Background(), seller, id)
		assert.NoError(t, err)
		check.Equal(t, uint64(50), report.ClearingPrice)
		check.Equal(t, uint64(940), report.Remainder)
	}
	check.Equal(t, uint64(0), h.balance(DefaultEscrowAccount, payment))
}
