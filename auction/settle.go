package auction

import (
	"context"

	"go.uber.org/zap"

	"github.com/cloudx-io/sealedvwap/assets"
	"github.com/cloudx-io/sealedvwap/core"
	"github.com/cloudx-io/sealedvwap/events"
)

// Settle distributes an auction at its published clearing price: eligible bids
// (price cap at or above the clearing price) receive their quantity, scaled pro rata when
// demand exceeds supply, and pay the clearing price per unit; everything else escrowed is
// refunded and unallocated supply returns to the seller. Only the seller may call it,
// unless the public finalize delay has passed.
//
// The whole distribution is applied to the asset ledger as one batch.
func (e *Engine) Settle(ctx context.Context, caller string, auctionID uint64) (*SettlementReport, error) {
	rec, err := e.lookup(auctionID)
	if err != nil {
		return nil, err
	}
	ctx, release, err := e.begin(ctx, rec)
	if err != nil {
		return nil, err
	}
	defer release()

	switch {
	case rec.settled:
		return nil, fail(auctionID, ErrAlreadySettled, nil)
	case !rec.priceSet:
		return nil, fail(auctionID, ErrNotPublished, nil)
	}
	now := e.now()
	if err := e.authorize(rec, caller, now); err != nil {
		return nil, err
	}

	positions := make([]core.BidPosition, len(rec.bids))
	for i, b := range rec.bids {
		positions[i] = core.BidPosition{
			Index:    i,
			Bidder:   b.bidder,
			Quantity: b.quantity,
			PriceCap: b.priceCap,
			Escrowed: b.escrowed,
			Settled:  b.settled,
		}
	}

	plan, err := core.ComputeSettlement(rec.supply, rec.clearingPrice, positions)
	if err != nil {
		e.logger.Error("Settlement plan rejected", zap.Uint64("auction_id", auctionID), zap.Error(err))
		return nil, fail(auctionID, ErrIntegrity, err)
	}
	if err := plan.Verify(); err != nil {
		e.logger.Error("Settlement plan rejected", zap.Uint64("auction_id", auctionID), zap.Error(err))
		return nil, fail(auctionID, ErrIntegrity, err)
	}

	transfers := e.settlementTransfers(rec, plan)
	if err := e.finalize(rec, func() error { return e.assets.Apply(ctx, transfers...) }); err != nil {
		return nil, fail(auctionID, ErrTransferFailed, err)
	}

	rec.state.Lock()
	for _, a := range plan.Allocations {
		rec.bids[a.Index].settled = true
	}
	rec.settled = true
	rec.state.Unlock()

	e.logger.Info("Auction settled",
		zap.Uint64("auction_id", auctionID),
		zap.Uint64("clearing_price", plan.ClearingPrice),
		zap.Uint64("eligible_demand", plan.EligibleDemand),
		zap.Bool("pro_rata", plan.ProRata),
		zap.Uint64("seller_proceeds", plan.SellerProceeds),
		zap.Uint64("remainder", plan.Remainder))
	e.emitSettlement(ctx, rec, plan)

	return &SettlementReport{
		AuctionID:      auctionID,
		OfferedAsset:   rec.offeredAsset,
		PaymentAsset:   rec.paymentAsset,
		SettledAt:      now,
		SettlementPlan: plan,
	}, nil
}

func (e *Engine) settlementTransfers(rec *auctionRecord, plan *core.SettlementPlan) []assets.Transfer {
	var transfers []assets.Transfer
	add := func(to, asset string, amount uint64) {
		if amount == 0 {
			return
		}
		transfers = append(transfers, assets.Transfer{From: e.escrow, To: to, Asset: asset, Amount: amount})
	}

	for _, a := range plan.Allocations {
		add(a.Bidder, rec.offeredAsset, a.Allocated)
		add(rec.seller, rec.paymentAsset, a.Spend)
		add(a.Bidder, rec.paymentAsset, a.Refund)
	}
	add(rec.seller, rec.offeredAsset, plan.Remainder)
	return transfers
}

func (e *Engine) emitSettlement(ctx context.Context, rec *auctionRecord, plan *core.SettlementPlan) {
	for _, a := range plan.Allocations {
		if a.Allocated > 0 {
			e.emit(ctx, events.Event{
				Kind:      events.BidAllocated,
				AuctionID: rec.id,
				BidIndex:  events.Bid(a.Index),
				Account:   a.Bidder,
				Asset:     rec.offeredAsset,
				Quantity:  a.Allocated,
				Amount:    a.Spend,
				Price:     plan.ClearingPrice,
			})
		}
		if a.Refund > 0 {
			e.emit(ctx, events.Event{
				Kind:      events.BidRefunded,
				AuctionID: rec.id,
				BidIndex:  events.Bid(a.Index),
				Account:   a.Bidder,
				Asset:     rec.paymentAsset,
				Amount:    a.Refund,
			})
		}
	}
	if plan.SellerProceeds > 0 {
		e.emit(ctx, events.Event{
			Kind:      events.SellerPaid,
			AuctionID: rec.id,
			Account:   rec.seller,
			Asset:     rec.paymentAsset,
			Amount:    plan.SellerProceeds,
		})
	}
	if plan.Remainder > 0 {
		e.emit(ctx, events.Event{
			Kind:      events.RemainderReturned,
			AuctionID: rec.id,
			Account:   rec.seller,
			Asset:     rec.offeredAsset,
			Amount:    plan.Remainder,
		})
	}
	e.emit(ctx, events.Event{
		Kind:      events.AuctionSettled,
		AuctionID: rec.id,
		Price:     plan.ClearingPrice,
		Quantity:  plan.Supply - plan.Remainder,
	})
}

// ReclaimUnsold returns the supply of an auction that closed without a single bid to its
// seller. Auctions with demand go through the clearing price and Settle instead.
func (e *Engine) ReclaimUnsold(ctx context.Context, caller string, auctionID uint64) error {
	rec, err := e.lookup(auctionID)
	if err != nil {
		return err
	}
	ctx, release, err := e.begin(ctx, rec)
	if err != nil {
		return err
	}
	defer release()

	now := e.now()
	switch {
	case rec.reclaimed:
		return fail(auctionID, ErrAlreadyReclaimed, nil)
	case !now.After(rec.end):
		return fail(auctionID, ErrTooEarly, nil)
	case rec.quantitySum > 0:
		return fail(auctionID, ErrHasDemand, nil)
	}
	if err := e.authorize(rec, caller, now); err != nil {
		return err
	}

	reclaim := assets.Transfer{
		From:   e.escrow,
		To:     rec.seller,
		Asset:  rec.offeredAsset,
		Amount: rec.supply,
	}
	if err := e.finalize(rec, func() error { return e.assets.Apply(ctx, reclaim) }); err != nil {
		return fail(auctionID, ErrTransferFailed, err)
	}

	rec.state.Lock()
	rec.reclaimed = true
	rec.state.Unlock()

	e.logger.Info("Unsold supply reclaimed",
		zap.Uint64("auction_id", auctionID), zap.Uint64("supply", rec.supply))
	e.emit(ctx, events.Event{
		Kind:      events.SupplyReclaimed,
		AuctionID: auctionID,
		Account:   rec.seller,
		Asset:     rec.offeredAsset,
		Amount:    rec.supply,
	})
	return nil
}
