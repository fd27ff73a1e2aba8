// Package events carries the auction's audit trail. Events are observational: a sink
// failure never affects the operation that produced the event.
package events

import (
	"context"
	"sync"
	"time"
)

// Kind names an observable auction event.
type Kind string

// Event kinds, in the order an auction's lifecycle emits them.
const (
	AuctionCreated        Kind = "auction_created"
	BidSubmitted          Kind = "bid_submitted"
	EncryptedVWAPComputed Kind = "encrypted_vwap_computed"
	DecryptionRequested   Kind = "decryption_requested"
	VWAPPublished         Kind = "vwap_published"
	BidAllocated          Kind = "bid_allocated"
	BidRefunded           Kind = "bid_refunded"
	SellerPaid            Kind = "seller_paid"
	RemainderReturned     Kind = "remainder_returned"
	AuctionSettled        Kind = "auction_settled"
	SupplyReclaimed       Kind = "supply_reclaimed"
)

// Event is one audit record. Fields not meaningful for a Kind are left zero.
type Event struct {
	Kind      Kind      `json:"kind"`
	AuctionID uint64    `json:"auction_id"`
	Time      time.Time `json:"time"`
	BidIndex  *int      `json:"bid_index,omitempty"`
	Account   string    `json:"account,omitempty"`
	Asset     string    `json:"asset,omitempty"`
	Amount    uint64    `json:"amount,omitempty"`
	Quantity  uint64    `json:"quantity,omitempty"`
	Price     uint64    `json:"price,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Handle    string    `json:"ciphertext_handle,omitempty"`
}

// Bid returns a pointer to i for Event.BidIndex.
func Bid(i int) *int {
	return &i
}

// Sink receives events.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, Event) {}

// Multi fans events out to several sinks in order.
type Multi []Sink

// Emit passes e to each sink.
func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// MemorySink records events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends e to the record.
func (m *MemorySink) Emit(_ context.Context, e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a copy of the recorded events.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Kinds returns the kinds of the recorded events, in order.
func (m *MemorySink) Kinds() []Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]Kind, len(m.events))
	for i, e := range m.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Reset drops recorded events.
func (m *MemorySink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}
