package auction

import (
	"errors"
	"fmt"

	"github.com/cloudx-io/sealedvwap/core"
	"github.com/cloudx-io/sealedvwap/fhe"
)

// Validation errors: the caller can correct these and retry.
var (
	ErrMissingCaller     = errors.New("caller identity required")
	ErrInvalidAsset      = errors.New("asset identity required")
	ErrInvalidWindow     = errors.New("bidding window must satisfy start < end")
	ErrZeroSupply        = errors.New("supply must be positive")
	ErrSameAsset         = errors.New("offered and payment asset must differ")
	ErrOutOfRange        = errors.New("value outside supported numeric domain")
	ErrZeroQuantity      = errors.New("bid quantity must be positive")
	ErrZeroEscrow        = errors.New("bid escrow must be positive")
	ErrEscrowBelowCap    = errors.New("bid escrow below price cap times quantity")
	ErrOutsideWindow     = errors.New("bidding window is not open")
	ErrTooEarly          = errors.New("bidding window has not closed")
	ErrNoDemand          = errors.New("auction received no demand")
	ErrHasDemand         = errors.New("auction received demand")
	ErrAlreadyComputed   = errors.New("encrypted VWAP already computed")
	ErrNotComputed       = errors.New("encrypted VWAP not computed")
	ErrAlreadyRequested  = errors.New("decryption already requested")
	ErrAlreadyPublished  = errors.New("clearing price already published")
	ErrNotPublished      = errors.New("clearing price not published")
	ErrAlreadySettled    = errors.New("auction already settled")
	ErrAlreadyReclaimed  = errors.New("unsold supply already reclaimed")
	ErrNotSeller         = errors.New("caller is not the seller")
	ErrUnknownAuction    = errors.New("unknown auction")
	ErrUnknownRequest    = errors.New("unknown decryption request")
	ErrInvalidProof      = errors.New("invalid proof")
	ErrReentrant         = errors.New("reentrant call")
	ErrTransferFailed    = errors.New("asset transfer failed")
	ErrOracleUnavailable = errors.New("decryption request failed")
)

// ErrIntegrity marks a broken internal invariant. It never results from caller input that
// passed validation; the operation is aborted with no state change.
var ErrIntegrity = errors.New("integrity violation")

var codes = map[error]string{
	ErrMissingCaller:     "missing_caller",
	ErrInvalidAsset:      "invalid_asset",
	ErrInvalidWindow:     "invalid_window",
	ErrZeroSupply:        "zero_supply",
	ErrSameAsset:         "same_asset",
	ErrOutOfRange:        "out_of_range",
	ErrZeroQuantity:      "zero_quantity",
	ErrZeroEscrow:        "zero_escrow",
	ErrEscrowBelowCap:    "escrow_below_cap",
	ErrOutsideWindow:     "outside_window",
	ErrTooEarly:          "too_early",
	ErrNoDemand:          "no_demand",
	ErrHasDemand:         "has_demand",
	ErrAlreadyComputed:   "already_computed",
	ErrNotComputed:       "not_computed",
	ErrAlreadyRequested:  "already_requested",
	ErrAlreadyPublished:  "already_published",
	ErrNotPublished:      "not_published",
	ErrAlreadySettled:    "already_settled",
	ErrAlreadyReclaimed:  "already_reclaimed",
	ErrNotSeller:         "not_seller",
	ErrUnknownAuction:    "unknown_auction",
	ErrUnknownRequest:    "unknown_request",
	ErrInvalidProof:      "invalid_proof",
	ErrReentrant:         "reentrant",
	ErrTransferFailed:    "transfer_failed",
	ErrOracleUnavailable: "oracle_unavailable",
	ErrIntegrity:         "integrity",
}

// Error is a rejected operation: a reason code, the auction it concerns, and the cause.
type Error struct {
	Code      string
	AuctionID uint64
	Err       error // one of the package sentinels
	Cause     error // underlying failure, if any
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.AuctionID != 0 {
		msg = fmt.Sprintf("auction %d: %s", e.AuctionID, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func fail(auctionID uint64, sentinel error, cause error) *Error {
	return &Error{
		Code:      codes[sentinel],
		AuctionID: auctionID,
		Err:       sentinel,
		Cause:     cause,
	}
}

// Code returns the reason code of a rejected operation, or "internal" for any other error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// IsIntegrity reports whether err is an integrity violation rather than a caller mistake.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity) ||
		errors.Is(err, core.ErrInsufficientEscrow) ||
		errors.Is(err, core.ErrConservation) ||
		errors.Is(err, fhe.ErrOverflow) ||
		errors.Is(err, fhe.ErrDivideByZero)
}
