// Package auction is the sealed-bid batch auction engine: the auction ledger, the
// confidential aggregation of encrypted prices, the reveal handshake with the decryption
// oracle, and settlement at the published volume-weighted average price.
package auction

import (
	"sync"
	"time"

	"github.com/cloudx-io/sealedvwap/core"
	"github.com/cloudx-io/sealedvwap/fhe"
)

// Phase is an auction's position in its lifecycle.
type Phase int

const (
	PhaseScheduled           Phase = iota // created, bidding window not yet open
	PhaseOpen                             // accepting bids
	PhaseWindowClosed                     // window over, encrypted VWAP not computed
	PhaseEncVWAPComputed                  // encrypted VWAP ready for decryption
	PhaseDecryptionRequested              // waiting for the oracle callback
	PhasePublished                        // clearing price public, not yet settled
	PhaseSettled                          // assets distributed
	PhaseReclaimed                        // closed without bids, supply returned
)

var phaseNames = [...]string{
	PhaseScheduled:           "scheduled",
	PhaseOpen:                "open",
	PhaseWindowClosed:        "window_closed",
	PhaseEncVWAPComputed:     "enc_vwap_computed",
	PhaseDecryptionRequested: "decryption_requested",
	PhasePublished:           "published",
	PhaseSettled:             "settled",
	PhaseReclaimed:           "reclaimed",
}

// String returns the phase's snake_case name.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// MarshalText encodes the phase by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Auction is a read-only snapshot of one auction.
type Auction struct {
	ID               uint64    `json:"id"`
	Seller           string    `json:"seller"`
	OfferedAsset     string    `json:"offered_asset"`
	PaymentAsset     string    `json:"payment_asset"`
	Supply           uint64    `json:"supply"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	Phase            Phase     `json:"phase"`
	QuantitySum      uint64    `json:"quantity_sum"`
	BidCount         int       `json:"bid_count"`
	EncVWAPComputed  bool      `json:"encrypted_vwap_computed"`
	EncVWAPHandle    string    `json:"encrypted_vwap_handle,omitempty"`
	PendingRequestID string    `json:"pending_request_id,omitempty"`
	ClearingPrice    uint64    `json:"clearing_price"`
	ClearingPriceSet bool      `json:"clearing_price_set"`
	Settled          bool      `json:"settled"`
	Reclaimed        bool      `json:"reclaimed"`
}

// Bid is a read-only snapshot of one bid. The bid's price is never retained.
type Bid struct {
	Index       int       `json:"index"`
	Bidder      string    `json:"bidder"`
	Quantity    uint64    `json:"quantity"`
	PriceCap    uint64    `json:"price_cap"`
	Escrowed    uint64    `json:"escrowed"`
	Settled     bool      `json:"settled"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// RevealRecord is the public evidence behind a published clearing price.
type RevealRecord struct {
	AuctionID        uint64 `json:"auction_id"`
	RequestID        string `json:"request_id"`
	CiphertextDigest string `json:"ciphertext_digest"`
	ClearingPrice    uint64 `json:"clearing_price"`
	Proof            []byte `json:"proof"`
}

// SettlementReport is the outcome of a settlement.
type SettlementReport struct {
	AuctionID    uint64    `json:"auction_id"`
	OfferedAsset string    `json:"offered_asset"`
	PaymentAsset string    `json:"payment_asset"`
	SettledAt    time.Time `json:"settled_at"`
	*core.SettlementPlan
}

type bidRecord struct {
	bidder      string
	quantity    uint64
	priceCap    uint64
	escrowed    uint64
	settled     bool
	submittedAt time.Time
}

// auctionRecord is the authoritative state of one auction. sem serializes mutating
// operations for the whole of their run; state guards the fields for readers and is
// only held while committing.
type auctionRecord struct {
	sem chan struct{}

	state        sync.RWMutex
	id           uint64
	seller       string
	offeredAsset string
	paymentAsset string
	supply       uint64
	start        time.Time
	end          time.Time

	quantitySum uint64
	accumulator *fhe.Ciphertext // Σ price×qty, nil until the first bid
	encVWAP     *fhe.Ciphertext

	pendingRequest string
	revealRequest  string
	clearingPrice  uint64
	priceSet       bool
	proof          []byte

	settled   bool
	reclaimed bool
	// finalizing is set while Settle or ReclaimUnsold moves assets. Mutating calls that
	// arrive meanwhile fail with ErrReentrant instead of waiting on sem.
	finalizing bool
	bids       []*bidRecord
}

func (r *auctionRecord) phase(now time.Time) Phase {
	switch {
	case r.reclaimed:
		return PhaseReclaimed
	case r.settled:
		return PhaseSettled
	case r.priceSet:
		return PhasePublished
	case r.pendingRequest != "":
		return PhaseDecryptionRequested
	case r.encVWAP != nil:
		return PhaseEncVWAPComputed
	case now.After(r.end):
		return PhaseWindowClosed
	case now.Before(r.start):
		return PhaseScheduled
	default:
		return PhaseOpen
	}
}

func (r *auctionRecord) snapshot(now time.Time) Auction {
	a := Auction{
		ID:               r.id,
		Seller:           r.seller,
		OfferedAsset:     r.offeredAsset,
		PaymentAsset:     r.paymentAsset,
		Supply:           r.supply,
		Start:            r.start,
		End:              r.end,
		Phase:            r.phase(now),
		QuantitySum:      r.quantitySum,
		BidCount:         len(r.bids),
		EncVWAPComputed:  r.encVWAP != nil,
		PendingRequestID: r.pendingRequest,
		ClearingPrice:    r.clearingPrice,
		ClearingPriceSet: r.priceSet,
		Settled:          r.settled,
		Reclaimed:        r.reclaimed,
	}
	if r.encVWAP != nil {
		a.EncVWAPHandle = r.encVWAP.Handle()
	}
	return a
}

func (b *bidRecord) snapshot(i int) Bid {
	return Bid{
		Index:       i,
		Bidder:      b.bidder,
		Quantity:    b.quantity,
		PriceCap:    b.priceCap,
		Escrowed:    b.escrowed,
		Settled:     b.settled,
		SubmittedAt: b.submittedAt,
	}
}
