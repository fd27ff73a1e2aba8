package auction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedvwap/assets"
	"github.com/cloudx-io/sealedvwap/core"
	"github.com/cloudx-io/sealedvwap/events"
	"github.com/cloudx-io/sealedvwap/fhe"
)

func TestCreate_EscrowsSupply(t *testing.T) {
	h := newHarness(t)

	first := h.create(100)
	second := h.create(40)
	check.Equal(t, uint64(1), first)
	check.Equal(t, uint64(2), second)

	check.Equal(t, uint64(0), h.balance(seller, offered))
	check.Equal(t, uint64(140), h.balance(DefaultEscrowAccount, offered))

	a, err := h.engine.Auction(first)
	assert.NoError(t, err)
	check.Equal(t, seller, a.Seller)
	check.Equal(t, uint64(100), a.Supply)
	check.Equal(t, PhaseOpen, a.Phase)
	check.False(t, a.EncVWAPComputed)
	check.False(t, a.ClearingPriceSet)
	check.False(t, a.Settled)

	check.Equal(t, []events.Kind{events.AuctionCreated, events.AuctionCreated}, h.sink.Kinds())
}

func TestCreate_Validation(t *testing.T) {
	valid := CreateParams{
		Seller:       seller,
		OfferedAsset: offered,
		PaymentAsset: payment,
		Supply:       100,
		Start:        windowStart,
		End:          windowEnd,
	}

	tests := []struct {
		name   string
		modify func(p *CreateParams)
		want   error
	}{
		{"start equals end", func(p *CreateParams) { p.End = p.Start }, ErrInvalidWindow},
		{"end before start", func(p *CreateParams) { p.End = p.Start.Add(-time.Second) }, ErrInvalidWindow},
		{"zero supply", func(p *CreateParams) { p.Supply = 0 }, ErrZeroSupply},
		{"supply out of range", func(p *CreateParams) { p.Supply = core.MaxQuantity + 1 }, ErrOutOfRange},
		{"same asset", func(p *CreateParams) { p.PaymentAsset = offered }, ErrSameAsset},
		{"missing asset", func(p *CreateParams) { p.OfferedAsset = "" }, ErrInvalidAsset},
		{"missing seller", func(p *CreateParams) { p.Seller = "" }, ErrMissingCaller},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			assert.NoError(t, h.ledger.Mint(seller, offered, 100))

			p := valid
			tt.modify(&p)
			_, err := h.engine.Create(context.Background(), p)
			check.True(t, errors.Is(err, tt.want))
			check.Equal(t, codes[tt.want], Code(err))
			check.False(t, IsIntegrity(err))

			check.Equal(t, uint64(100), h.balance(seller, offered))
			check.Equal(t, 0, len(h.engine.Auctions()))
			check.Equal(t, 0, len(h.sink.Events()))
		})
	}
}

func TestCreate_TransferFailurePersistsNothing(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Create(context.Background(), CreateParams{
		Seller:       seller,
		OfferedAsset: offered,
		PaymentAsset: payment,
		Supply:       100,
		Start:        windowStart,
		End:          windowEnd,
	})
	check.True(t, errors.Is(err, ErrTransferFailed))
	check.True(t, errors.Is(err, assets.ErrInsufficientBalance))
	check.Equal(t, "transfer_failed", Code(err))
	check.Equal(t, 0, len(h.engine.Auctions()))

	// The failed attempt does not consume an id
	check.Equal(t, uint64(1), h.create(100))
}

func TestSubmitBid_EscrowsMaxSpend(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)

	first := h.bid(id, "alice", 100, 30, 120, 3600)
	second := h.bid(id, "bob", 97, 50, 105, 5750)
	check.Equal(t, 0, first)
	check.Equal(t, 1, second)

	check.Equal(t, uint64(0), h.balance("alice", payment))
	check.Equal(t, uint64(0), h.balance("bob", payment))
	check.Equal(t, uint64(9350), h.balance(DefaultEscrowAccount, payment))

	a, err := h.engine.Auction(id)
	assert.NoError(t, err)
	check.Equal(t, uint64(80), a.QuantitySum)
	check.Equal(t, 2, a.BidCount)

	bids, err := h.engine.Bids(id)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(bids))
	check.Equal(t, Bid{
		Index:       1,
		Bidder:      "bob",
		Quantity:    50,
		PriceCap:    105,
		Escrowed:    5750,
		SubmittedAt: windowStart.Add(time.Minute),
	}, bids[1])

	// Submission events never carry a price
	for _, ev := range h.sink.Events() {
		if ev.Kind == events.BidSubmitted {
			check.Equal(t, uint64(0), ev.Price)
		}
	}
}

func TestSubmitBid_WindowBoundsAreInclusive(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)

	h.clock.Set(windowStart)
	h.bid(id, "alice", 10, 1, 10, 10)

	h.clock.Set(windowEnd)
	h.bid(id, "bob", 10, 1, 10, 10)

	h.clock.Set(windowEnd.Add(time.Nanosecond))
	_, err := h.engine.SubmitBid(context.Background(), id, h.sealedBid(id, "carol", 10, 1, 10, 10))
	check.True(t, errors.Is(err, ErrOutsideWindow))
}

func TestSubmitBid_Validation(t *testing.T) {
	tests := []struct {
		name   string
		at     time.Time
		modify func(p *BidParams)
		want   error
	}{
		{"before start", windowStart.Add(-time.Second), nil, ErrOutsideWindow},
		{"after end", windowEnd.Add(time.Second), nil, ErrOutsideWindow},
		{"zero quantity", time.Time{}, func(p *BidParams) { p.Quantity = 0 }, ErrZeroQuantity},
		{"zero escrow", time.Time{}, func(p *BidParams) { p.MaxSpend = 0 }, ErrZeroEscrow},
		{"escrow below cap", time.Time{}, func(p *BidParams) { p.MaxSpend = 299 }, ErrEscrowBelowCap},
		{"quantity out of range", time.Time{}, func(p *BidParams) { p.Quantity = core.MaxQuantity + 1 }, ErrOutOfRange},
		{"cap out of range", time.Time{}, func(p *BidParams) { p.PriceCap = core.MaxPrice + 1 }, ErrOutOfRange},
		{"missing bidder", time.Time{}, func(p *BidParams) { p.Bidder = "" }, ErrMissingCaller},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id := h.create(100)
			p := h.sealedBid(id, "alice", 10, 30, 10, 300)
			if tt.modify != nil {
				tt.modify(&p)
			}
			if !tt.at.IsZero() {
				h.clock.Set(tt.at)
			}

			_, err := h.engine.SubmitBid(context.Background(), id, p)
			check.True(t, errors.Is(err, tt.want))
			check.Equal(t, uint64(300), h.balance("alice", payment))

			bids, err := h.engine.Bids(id)
			assert.NoError(t, err)
			check.Equal(t, 0, len(bids))
		})
	}
}

func TestSubmitBid_UnknownAuction(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.SubmitBid(context.Background(), 7, BidParams{Bidder: "alice", Quantity: 1, MaxSpend: 1})
	check.True(t, errors.Is(err, ErrUnknownAuction))
	check.Equal(t, "unknown_auction", Code(err))
}

func TestSubmitBid_InvalidProofLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)

	// An input sealed for alice cannot be replayed by mallory
	p := h.sealedBid(id, "alice", 10, 30, 10, 300)
	assert.NoError(t, h.ledger.Mint("mallory", payment, 300))
	p.Bidder = "mallory"

	_, err := h.engine.SubmitBid(context.Background(), id, p)
	check.True(t, errors.Is(err, ErrInvalidProof))
	check.True(t, errors.Is(err, fhe.ErrInvalidInput))
	check.Equal(t, uint64(300), h.balance("mallory", payment))
	check.Equal(t, uint64(0), h.balance(DefaultEscrowAccount, payment))

	a, err := h.engine.Auction(id)
	assert.NoError(t, err)
	check.Equal(t, uint64(0), a.QuantitySum)
	check.Equal(t, 0, a.BidCount)
}

func TestSubmitBid_FailedDebitLeavesAccumulatorUntouched(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)

	h.ledger.SetHook(func(_ context.Context, tr assets.Transfer) error {
		if tr.From == "mallory" {
			return errors.New("frozen account")
		}
		return nil
	})

	_, err := h.engine.SubmitBid(context.Background(), id, h.sealedBid(id, "mallory", 1000, 50, 1000, 50000))
	check.True(t, errors.Is(err, ErrTransferFailed))
	check.Equal(t, uint64(50000), h.balance("mallory", payment))

	h.bid(id, "alice", 40, 10, 40, 400)

	// Only alice's price is in the aggregate
	check.Equal(t, uint64(40), h.publish(id))
}

func TestSubmitBid_QuantitySumBound(t *testing.T) {
	h := newHarness(t)
	id := h.create(100)

	h.bid(id, "alice", 1, core.MaxQuantity, 1, core.MaxQuantity)

	_, err := h.engine.SubmitBid(context.Background(), id, h.sealedBid(id, "bob", 1, 1, 1, 1))
	check.True(t, errors.Is(err, ErrOutOfRange))
	check.Equal(t, uint64(1), h.balance("bob", payment))
}

func TestAuctions_Snapshots(t *testing.T) {
	h := newHarness(t)
	h.create(10)
	h.create(20)

	list := h.engine.Auctions()
	assert.Equal(t, 2, len(list))
	check.Equal(t, uint64(1), list[0].ID)
	check.Equal(t, uint64(20), list[1].Supply)

	_, err := h.engine.Auction(3)
	check.True(t, errors.Is(err, ErrUnknownAuction))
	_, err = h.engine.Bids(0)
	check.True(t, errors.Is(err, ErrUnknownAuction))
}

func TestPhase_String(t *testing.T) {
	check.Equal(t, "open", PhaseOpen.String())
	check.Equal(t, "decryption_requested", PhaseDecryptionRequested.String())
	check.Equal(t, "unknown", Phase(42).String())

	text, err := PhaseSettled.MarshalText()
	assert.NoError(t, err)
	check.Equal(t, "settled", string(text))
}
