// Package assets is the fungible asset ledger the auction engine moves escrowed funds through.
package assets

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance is returned when a transfer would overdraw its source account.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidTransfer is returned for a malformed transfer.
	ErrInvalidTransfer = errors.New("invalid transfer")
)

// Transfer moves Amount units of Asset from one account to another: a debit of From and a credit of To.
type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

func (t Transfer) String() string {
	return fmt.Sprintf("%d %s %s->%s", t.Amount, t.Asset, t.From, t.To)
}

// Validate checks the transfer is well formed.
func (t Transfer) Validate() error {
	if t.Asset == "" || t.From == "" || t.To == "" {
		return fmt.Errorf("%w: %s: asset and accounts are required", ErrInvalidTransfer, t)
	}
	if t.From == t.To {
		return fmt.Errorf("%w: %s: source equals destination", ErrInvalidTransfer, t)
	}
	return nil
}

// Ledger applies batches of transfers atomically: either every transfer in a batch is
// applied or none is. Implementations serialize concurrent batches per account.
type Ledger interface {
	Apply(ctx context.Context, transfers ...Transfer) error
	BalanceOf(ctx context.Context, account, asset string) (uint64, error)
}
