package auction

import (
	"context"

	"github.com/cloudx-io/sealedvwap/fhe"
)

// ingest verifies a bid's encrypted price and returns the auction's accumulator with
// price×quantity added. It does not modify rec.
func (e *Engine) ingest(ctx context.Context, rec *auctionRecord, p BidParams) (*fhe.Ciphertext, error) {
	price, err := e.fhe.VerifyAndImport(ctx, p.Input, p.Proof, fhe.InputContext{
		AuctionID: rec.id,
		Caller:    p.Bidder,
	})
	if err != nil {
		return nil, fail(rec.id, ErrInvalidProof, err)
	}

	weighted, err := e.fhe.MulPlain(price, p.Quantity)
	if err != nil {
		return nil, fail(rec.id, ErrIntegrity, err)
	}
	if rec.accumulator == nil {
		return weighted, nil
	}

	sum, err := e.fhe.Add(rec.accumulator, weighted)
	if err != nil {
		return nil, fail(rec.id, ErrIntegrity, err)
	}
	return sum, nil
}

// encryptedVWAP divides the accumulator by the auction's total quantity.
func (e *Engine) encryptedVWAP(rec *auctionRecord) (*fhe.Ciphertext, error) {
	vwap, err := e.fhe.DivPlain(rec.accumulator, rec.quantitySum)
	if err != nil {
		return nil, fail(rec.id, ErrIntegrity, err)
	}
	return vwap, nil
}
