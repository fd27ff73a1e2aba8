package auction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cloudx-io/sealedvwap/assets"
	"github.com/cloudx-io/sealedvwap/core"
	"github.com/cloudx-io/sealedvwap/events"
	"github.com/cloudx-io/sealedvwap/fhe"
)

// CreateParams describes a new auction.
type CreateParams struct {
	Seller       string    `json:"seller"`
	OfferedAsset string    `json:"offered_asset"`
	PaymentAsset string    `json:"payment_asset"`
	Supply       uint64    `json:"supply"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

func (p CreateParams) validate() error {
	switch {
	case p.Seller == "":
		return fail(0, ErrMissingCaller, nil)
	case p.OfferedAsset == "" || p.PaymentAsset == "":
		return fail(0, ErrInvalidAsset, nil)
	case p.OfferedAsset == p.PaymentAsset:
		return fail(0, ErrSameAsset, nil)
	case !p.Start.Before(p.End):
		return fail(0, ErrInvalidWindow, nil)
	case p.Supply == 0:
		return fail(0, ErrZeroSupply, nil)
	case p.Supply > core.MaxQuantity:
		return fail(0, ErrOutOfRange, nil)
	}
	return nil
}

// Create opens a new auction and moves its supply from the seller into escrow.
// It returns the auction's id; ids are assigned in strictly increasing order.
func (e *Engine) Create(ctx context.Context, p CreateParams) (uint64, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}

	if err := e.assets.Apply(ctx, assets.Transfer{
		From:   p.Seller,
		To:     e.escrow,
		Asset:  p.OfferedAsset,
		Amount: p.Supply,
	}); err != nil {
		return 0, fail(0, ErrTransferFailed, err)
	}

	e.mu.Lock()
	id := uint64(len(e.auctions)) + 1
	e.auctions = append(e.auctions, &auctionRecord{
		sem:          make(chan struct{}, 1),
		id:           id,
		seller:       p.Seller,
		offeredAsset: p.OfferedAsset,
		paymentAsset: p.PaymentAsset,
		supply:       p.Supply,
		start:        p.Start,
		end:          p.End,
	})
	e.mu.Unlock()

	e.logger.Info("Auction created",
		zap.Uint64("auction_id", id),
		zap.String("seller", p.Seller),
		zap.String("offered_asset", p.OfferedAsset),
		zap.String("payment_asset", p.PaymentAsset),
		zap.Uint64("supply", p.Supply),
		zap.Time("start", p.Start),
		zap.Time("end", p.End))
	e.emit(ctx, events.Event{
		Kind:      events.AuctionCreated,
		AuctionID: id,
		Account:   p.Seller,
		Asset:     p.OfferedAsset,
		Amount:    p.Supply,
	})
	return id, nil
}

// BidParams describes a bid. Price travels only inside Input.
type BidParams struct {
	Bidder   string              `json:"bidder"`
	Input    *fhe.EncryptedInput `json:"input"`
	Proof    fhe.InputProof      `json:"proof"`
	Quantity uint64              `json:"quantity"`
	PriceCap uint64              `json:"price_cap"`
	MaxSpend uint64              `json:"max_spend"`
}

// SubmitBid records a sealed bid while the auction's window is open.
//
// The encrypted price is verified and folded into the auction's encrypted Σ price×qty
// before MaxSpend of the payment asset is debited into escrow; the bid is recorded only
// once the debit succeeds, so a rejected proof or a failed debit changes nothing.
// MaxSpend must cover PriceCap×Quantity so every allocation the bid can receive is paid for.
// It returns the bid's index within the auction.
func (e *Engine) SubmitBid(ctx context.Context, auctionID uint64, p BidParams) (int, error) {
	rec, err := e.lookup(auctionID)
	if err != nil {
		return 0, err
	}
	ctx, release, err := e.begin(ctx, rec)
	if err != nil {
		return 0, err
	}
	defer release()

	now := e.now()
	switch {
	case p.Bidder == "":
		return 0, fail(auctionID, ErrMissingCaller, nil)
	case now.Before(rec.start) || now.After(rec.end) || rec.encVWAP != nil:
		return 0, fail(auctionID, ErrOutsideWindow, nil)
	case p.Quantity == 0:
		return 0, fail(auctionID, ErrZeroQuantity, nil)
	case p.Quantity > core.MaxQuantity || p.PriceCap > core.MaxPrice:
		return 0, fail(auctionID, ErrOutOfRange, nil)
	case p.MaxSpend == 0:
		return 0, fail(auctionID, ErrZeroEscrow, nil)
	}

	capCost, err := core.CheckedMul(p.PriceCap, p.Quantity)
	if err != nil {
		return 0, fail(auctionID, ErrOutOfRange, err)
	}
	if p.MaxSpend < capCost {
		return 0, fail(auctionID, ErrEscrowBelowCap, nil)
	}
	quantitySum, err := core.CheckedAdd(rec.quantitySum, p.Quantity)
	if err != nil || quantitySum > core.MaxQuantity {
		return 0, fail(auctionID, ErrOutOfRange, err)
	}

	accumulator, err := e.ingest(ctx, rec, p)
	if err != nil {
		return 0, err
	}

	if err := e.assets.Apply(ctx, assets.Transfer{
		From:   p.Bidder,
		To:     e.escrow,
		Asset:  rec.paymentAsset,
		Amount: p.MaxSpend,
	}); err != nil {
		return 0, fail(auctionID, ErrTransferFailed, err)
	}

	rec.state.Lock()
	index := len(rec.bids)
	rec.bids = append(rec.bids, &bidRecord{
		bidder:      p.Bidder,
		quantity:    p.Quantity,
		priceCap:    p.PriceCap,
		escrowed:    p.MaxSpend,
		submittedAt: now,
	})
	rec.quantitySum = quantitySum
	rec.accumulator = accumulator
	rec.state.Unlock()

	e.logger.Info("Bid submitted",
		zap.Uint64("auction_id", auctionID),
		zap.Int("bid_index", index),
		zap.String("bidder", p.Bidder),
		zap.Uint64("quantity", p.Quantity),
		zap.Uint64("escrowed", p.MaxSpend))
	e.emit(ctx, events.Event{
		Kind:      events.BidSubmitted,
		AuctionID: auctionID,
		BidIndex:  events.Bid(index),
		Account:   p.Bidder,
		Asset:     rec.paymentAsset,
		Amount:    p.MaxSpend,
		Quantity:  p.Quantity,
	})
	return index, nil
}
