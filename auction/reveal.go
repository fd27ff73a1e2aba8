package auction

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"github.com/cloudx-io/sealedvwap/events"
)

// ComputeEncryptedVWAP divides an auction's encrypted Σ price×qty by its total quantity once
// the bidding window has closed. Anyone may trigger it. It returns the handle of the
// encrypted VWAP.
func (e *Engine) ComputeEncryptedVWAP(ctx context.Context, auctionID uint64) (string, error) {
	rec, err := e.lookup(auctionID)
	if err != nil {
		return "", err
	}
	ctx, release, err := e.begin(ctx, rec)
	if err != nil {
		return "", err
	}
	defer release()

	switch {
	case rec.encVWAP != nil:
		return "", fail(auctionID, ErrAlreadyComputed, nil)
	case !e.now().After(rec.end):
		return "", fail(auctionID, ErrTooEarly, nil)
	case rec.quantitySum == 0:
		return "", fail(auctionID, ErrNoDemand, nil)
	}

	vwap, err := e.encryptedVWAP(rec)
	if err != nil {
		return "", err
	}

	rec.state.Lock()
	rec.encVWAP = vwap
	rec.state.Unlock()

	e.logger.Info("Encrypted VWAP computed",
		zap.Uint64("auction_id", auctionID),
		zap.Uint64("quantity_sum", rec.quantitySum),
		zap.String("handle", vwap.Handle()))
	e.emit(ctx, events.Event{
		Kind:      events.EncryptedVWAPComputed,
		AuctionID: auctionID,
		Quantity:  rec.quantitySum,
		Handle:    vwap.Handle(),
	})
	return vwap.Handle(), nil
}

// RequestClearingPrice asks the decryption oracle to decrypt the auction's encrypted VWAP.
// Only the seller may call it, unless the public finalize delay has passed. At most one
// request is outstanding per auction. It returns the request id.
func (e *Engine) RequestClearingPrice(ctx context.Context, caller string, auctionID uint64) (string, error) {
	rec, err := e.lookup(auctionID)
	if err != nil {
		return "", err
	}
	ctx, release, err := e.begin(ctx, rec)
	if err != nil {
		return "", err
	}
	defer release()

	switch {
	case rec.priceSet:
		return "", fail(auctionID, ErrAlreadyPublished, nil)
	case rec.encVWAP == nil:
		return "", fail(auctionID, ErrNotComputed, nil)
	case rec.pendingRequest != "":
		return "", fail(auctionID, ErrAlreadyRequested, nil)
	}
	if err := e.authorize(rec, caller, e.now()); err != nil {
		return "", err
	}

	e.pendingMu.Lock()
	requestID, err := e.requester.RequestDecryption(ctx, rec.encVWAP)
	if err != nil {
		e.pendingMu.Unlock()
		return "", fail(auctionID, ErrOracleUnavailable, err)
	}
	e.pending[requestID] = auctionID
	rec.state.Lock()
	rec.pendingRequest = requestID
	rec.state.Unlock()
	e.pendingMu.Unlock()

	e.logger.Info("Clearing price requested",
		zap.Uint64("auction_id", auctionID),
		zap.String("caller", caller),
		zap.String("request_id", requestID))
	e.emit(ctx, events.Event{
		Kind:      events.DecryptionRequested,
		AuctionID: auctionID,
		Account:   caller,
		RequestID: requestID,
		Handle:    rec.encVWAP.Handle(),
	})
	return requestID, nil
}

// OnDecrypted receives the oracle's answer to a decryption request. The proof must be a
// valid oracle signature over this request id, the digest of the auction's encrypted VWAP,
// and plaintext. A rejected callback leaves the request outstanding.
func (e *Engine) OnDecrypted(ctx context.Context, requestID string, plaintext uint64, proof []byte) error {
	e.pendingMu.Lock()
	auctionID, ok := e.pending[requestID]
	e.pendingMu.Unlock()
	if !ok {
		return fail(0, ErrUnknownRequest, nil)
	}

	rec, err := e.lookup(auctionID)
	if err != nil {
		return err
	}
	ctx, release, err := e.begin(ctx, rec)
	if err != nil {
		return err
	}
	defer release()

	if rec.pendingRequest != requestID {
		return fail(auctionID, ErrUnknownRequest, nil)
	}

	result, err := e.verifier.Verify(proof)
	if err != nil {
		e.logger.Warn("Rejected decryption proof",
			zap.Uint64("auction_id", auctionID), zap.String("request_id", requestID), zap.Error(err))
		return fail(auctionID, ErrInvalidProof, err)
	}
	if result.RequestID != requestID ||
		result.CiphertextDigest != rec.encVWAP.Digest() ||
		result.Plaintext != plaintext {
		e.logger.Warn("Decryption proof does not match request",
			zap.Uint64("auction_id", auctionID), zap.String("request_id", requestID))
		return fail(auctionID, ErrInvalidProof, nil)
	}

	rec.state.Lock()
	rec.clearingPrice = plaintext
	rec.priceSet = true
	rec.proof = bytes.Clone(proof)
	rec.revealRequest = requestID
	rec.pendingRequest = ""
	rec.state.Unlock()

	e.pendingMu.Lock()
	delete(e.pending, requestID)
	e.pendingMu.Unlock()

	e.logger.Info("Clearing price published",
		zap.Uint64("auction_id", auctionID),
		zap.String("request_id", requestID),
		zap.Uint64("clearing_price", plaintext))
	e.emit(ctx, events.Event{
		Kind:      events.VWAPPublished,
		AuctionID: auctionID,
		Price:     plaintext,
		RequestID: requestID,
	})
	return nil
}

// Reveal returns the evidence for an auction's published clearing price: the oracle's
// signed statement binding the request, the encrypted VWAP's digest and the price.
func (e *Engine) Reveal(auctionID uint64) (*RevealRecord, error) {
	rec, err := e.lookup(auctionID)
	if err != nil {
		return nil, err
	}
	rec.state.RLock()
	defer rec.state.RUnlock()

	if !rec.priceSet {
		return nil, fail(auctionID, ErrNotPublished, nil)
	}
	return &RevealRecord{
		AuctionID:        auctionID,
		RequestID:        rec.revealRequest,
		CiphertextDigest: rec.encVWAP.Digest(),
		ClearingPrice:    rec.clearingPrice,
		Proof:            bytes.Clone(rec.proof),
	}, nil
}
