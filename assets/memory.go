package assets

import (
	"context"
	"fmt"
	"math/bits"
	"sync"
)

// Hook observes each transfer of a batch before the batch is applied. A non-nil error
// aborts the batch. Hooks run outside the ledger lock and may call back into the caller,
// which is how token transfer callbacks behave on a shared ledger.
type Hook func(ctx context.Context, t Transfer) error

type balanceKey struct {
	account string
	asset   string
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[balanceKey]uint64
	hook     Hook
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[balanceKey]uint64)}
}

// Mint credits amount of asset to account out of thin air.
func (l *MemoryLedger) Mint(account, asset string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{account, asset}
	sum, carry := bits.Add64(l.balances[k], amount, 0)
	if carry != 0 {
		return fmt.Errorf("mint %d %s to %s: balance overflow", amount, asset, account)
	}
	l.balances[k] = sum
	return nil
}

// SetHook installs a transfer hook; nil removes it.
func (l *MemoryLedger) SetHook(h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = h
}

// Apply implements Ledger.
func (l *MemoryLedger) Apply(ctx context.Context, transfers ...Transfer) error {
	for _, t := range transfers {
		if err := t.Validate(); err != nil {
			return err
		}
	}

	l.mu.Lock()
	hook := l.hook
	l.mu.Unlock()

	if hook != nil {
		for _, t := range transfers {
			if err := hook(ctx, t); err != nil {
				return fmt.Errorf("transfer %s rejected: %w", t, err)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	staged := make(map[balanceKey]uint64)
	balance := func(k balanceKey) uint64 {
		if v, ok := staged[k]; ok {
			return v
		}
		return l.balances[k]
	}

	for _, t := range transfers {
		if t.Amount == 0 {
			continue
		}
		from := balanceKey{t.From, t.Asset}
		to := balanceKey{t.To, t.Asset}

		fromBalance := balance(from)
		if fromBalance < t.Amount {
			return fmt.Errorf("%w: %s holds %d %s, needs %d", ErrInsufficientBalance, t.From, fromBalance, t.Asset, t.Amount)
		}
		staged[from] = fromBalance - t.Amount

		sum, carry := bits.Add64(balance(to), t.Amount, 0)
		if carry != 0 {
			return fmt.Errorf("%w: %s: destination balance overflow", ErrInvalidTransfer, t)
		}
		staged[to] = sum
	}

	for k, v := range staged {
		l.balances[k] = v
	}
	return nil
}

// BalanceOf implements Ledger.
func (l *MemoryLedger) BalanceOf(_ context.Context, account, asset string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{account, asset}], nil
}
