package auction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"

	"github.com/cloudx-io/sealedvwap/assets"
	"github.com/cloudx-io/sealedvwap/events"
	"github.com/cloudx-io/sealedvwap/fhe"
	"github.com/cloudx-io/sealedvwap/oracle"
	"github.com/cloudx-io/sealedvwap/validation"
)

const (
	seller  = "seller"
	offered = "TOKEN"
	payment = "USDC"
)

var (
	windowStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	windowEnd   = windowStart.Add(time.Hour)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// harness wires an engine to an in-memory ledger, the sealed backend and a real oracle.
type harness struct {
	t       *testing.T
	clock   *testClock
	ledger  *assets.MemoryLedger
	backend *fhe.SealedBackend
	oracle  *oracle.Oracle
	signer  *oracle.Signer
	sink    *events.MemorySink
	engine  *Engine
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	backend, err := fhe.NewSealedBackend()
	assert.NoError(t, err)
	signer, err := oracle.NewSigner()
	assert.NoError(t, err)
	verifier, err := validation.NewDecryptionVerifier(signer.PublicKey())
	assert.NoError(t, err)

	h := &harness{
		t:       t,
		clock:   &testClock{now: windowStart.Add(time.Minute)},
		ledger:  assets.NewMemoryLedger(),
		backend: backend,
		signer:  signer,
		sink:    &events.MemorySink{},
	}
	h.oracle = oracle.New(backend, signer, oracle.WithClock(h.clock.Now))

	opts = append([]Option{WithClock(h.clock.Now), WithSink(h.sink)}, opts...)
	h.engine = New(h.ledger, backend, h.oracle, verifier, opts...)
	h.oracle.SetCallback(h.engine.OnDecrypted)
	return h
}

func (h *harness) create(supply uint64) uint64 {
	h.t.Helper()
	assert.NoError(h.t, h.ledger.Mint(seller, offered, supply))
	id, err := h.engine.Create(context.Background(), CreateParams{
		Seller:       seller,
		OfferedAsset: offered,
		PaymentAsset: payment,
		Supply:       supply,
		Start:        windowStart,
		End:          windowEnd,
	})
	assert.NoError(h.t, err)
	return id
}

// sealedBid encrypts price for bidder and funds the bidder with maxSpend.
func (h *harness) sealedBid(auctionID uint64, bidder string, price, quantity, priceCap, maxSpend uint64) BidParams {
	h.t.Helper()
	assert.NoError(h.t, h.ledger.Mint(bidder, payment, maxSpend))
	in, proof, err := fhe.EncryptInput(h.backend.Keys().PublicKey, price, fhe.InputContext{AuctionID: auctionID, Caller: bidder})
	assert.NoError(h.t, err)
	return BidParams{
		Bidder:   bidder,
		Input:    in,
		Proof:    proof,
		Quantity: quantity,
		PriceCap: priceCap,
		MaxSpend: maxSpend,
	}
}

func (h *harness) bid(auctionID uint64, bidder string, price, quantity, priceCap, maxSpend uint64) int {
	h.t.Helper()
	index, err := h.engine.SubmitBid(context.Background(), auctionID, h.sealedBid(auctionID, bidder, price, quantity, priceCap, maxSpend))
	assert.NoError(h.t, err)
	return index
}

func (h *harness) closeWindow() {
	h.clock.Set(windowEnd.Add(time.Second))
}

// publish closes the window and drives the reveal handshake to a published clearing price.
func (h *harness) publish(auctionID uint64) uint64 {
	h.t.Helper()
	ctx := context.Background()
	h.closeWindow()

	_, err := h.engine.ComputeEncryptedVWAP(ctx, auctionID)
	assert.NoError(h.t, err)
	_, err = h.engine.RequestClearingPrice(ctx, seller, auctionID)
	assert.NoError(h.t, err)
	assert.Equal(h.t, 1, h.oracle.ProcessPending(ctx))

	a, err := h.engine.Auction(auctionID)
	assert.NoError(h.t, err)
	assert.True(h.t, a.ClearingPriceSet)
	return a.ClearingPrice
}

func (h *harness) balance(account, asset string) uint64 {
	h.t.Helper()
	b, err := h.ledger.BalanceOf(context.Background(), account, asset)
	assert.NoError(h.t, err)
	return b
}

// failingRequester rejects every decryption request.
type failingRequester struct{ err error }

func (f failingRequester) RequestDecryption(context.Context, *fhe.Ciphertext) (string, error) {
	return "", f.err
}
