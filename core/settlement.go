package core

import (
	"errors"
	"fmt"
)

// ErrInsufficientEscrow is returned when a bid's payment exceeds what it escrowed.
// Submission-time validation makes this unreachable; seeing it means an upstream bug.
var ErrInsufficientEscrow = errors.New("spend exceeds escrowed amount")

// ErrConservation is returned when a plan does not account for every unit of supply or escrow.
var ErrConservation = errors.New("settlement plan violates conservation")

// ComputeSettlement executes the settlement algorithm against the given bids without
// moving any funds. Bids already marked settled are skipped.
//
// Processing flow:
//  1. Eligibility pass: a bid is eligible iff PriceCap >= clearingPrice; Q = Σ eligible quantity
//  2. Q == 0: every bid is refunded in full and the whole supply returns to the seller
//  3. Otherwise bids are visited in submission order; eligible bids receive their full
//     quantity when supply >= Q, or floor(quantity × supply / Q) otherwise, clamped to the
//     supply still unallocated
//  4. Unallocated supply becomes the seller's remainder
//
// Returns ErrInsufficientEscrow (wrapped) if any eligible bid cannot pay for its allocation.
func ComputeSettlement(supply, clearingPrice uint64, bids []BidPosition) (*SettlementPlan, error) {
	plan := &SettlementPlan{
		ClearingPrice: clearingPrice,
		Supply:        supply,
		Allocations:   make([]Allocation, 0, len(bids)),
	}

	var err error
	for _, bid := range bids {
		if bid.Settled || bid.PriceCap < clearingPrice {
			continue
		}
		plan.EligibleDemand, err = CheckedAdd(plan.EligibleDemand, bid.Quantity)
		if err != nil {
			return nil, fmt.Errorf("summing eligible demand: %w", err)
		}
	}

	if plan.EligibleDemand == 0 {
		plan.ZeroDemand = true
		for _, bid := range bids {
			if bid.Settled {
				continue
			}
			plan.Allocations = append(plan.Allocations, Allocation{
				Index:    bid.Index,
				Bidder:   bid.Bidder,
				Refund:   bid.Escrowed,
				Escrowed: bid.Escrowed,
			})
		}
		plan.Remainder = supply
		return plan, nil
	}

	plan.ProRata = supply < plan.EligibleDemand
	remaining := supply

	for _, bid := range bids {
		if bid.Settled {
			continue
		}

		if bid.PriceCap < clearingPrice {
			plan.Allocations = append(plan.Allocations, Allocation{
				Index:    bid.Index,
				Bidder:   bid.Bidder,
				Refund:   bid.Escrowed,
				Escrowed: bid.Escrowed,
			})
			continue
		}

		alloc := bid.Quantity
		if plan.ProRata {
			alloc, err = MulDivFloor(bid.Quantity, supply, plan.EligibleDemand)
			if err != nil {
				return nil, fmt.Errorf("pro-rata allocation for bid %d: %w", bid.Index, err)
			}
		}
		// floor keeps Σalloc <= supply; the clamp only guards that invariant
		if alloc > remaining {
			alloc = remaining
		}
		remaining -= alloc

		spend, err := CheckedMul(alloc, clearingPrice)
		if err != nil || spend > bid.Escrowed {
			return nil, fmt.Errorf("bid %d: alloc %d at price %d against escrow %d: %w",
				bid.Index, alloc, clearingPrice, bid.Escrowed, ErrInsufficientEscrow)
		}

		plan.SellerProceeds, err = CheckedAdd(plan.SellerProceeds, spend)
		if err != nil {
			return nil, fmt.Errorf("summing seller proceeds: %w", err)
		}

		plan.Allocations = append(plan.Allocations, Allocation{
			Index:     bid.Index,
			Bidder:    bid.Bidder,
			Eligible:  true,
			Allocated: alloc,
			Spend:     spend,
			Refund:    bid.Escrowed - spend,
			Escrowed:  bid.Escrowed,
		})
	}

	plan.Remainder = remaining
	return plan, nil
}

// Verify checks that the plan conserves value:
// Σ alloc + remainder == supply and Σ spend + Σ refund == Σ escrowed.
func (p *SettlementPlan) Verify() error {
	var allocated, spent, refunded, escrowed uint64
	var err error
	for _, a := range p.Allocations {
		if allocated, err = CheckedAdd(allocated, a.Allocated); err != nil {
			return err
		}
		if spent, err = CheckedAdd(spent, a.Spend); err != nil {
			return err
		}
		if refunded, err = CheckedAdd(refunded, a.Refund); err != nil {
			return err
		}
		if escrowed, err = CheckedAdd(escrowed, a.Escrowed); err != nil {
			return err
		}
		if !a.Eligible && a.Allocated != 0 {
			return fmt.Errorf("bid %d allocated without being eligible: %w", a.Index, ErrConservation)
		}
	}

	if total, err := CheckedAdd(allocated, p.Remainder); err != nil || total != p.Supply {
		return fmt.Errorf("allocated %d + remainder %d != supply %d: %w", allocated, p.Remainder, p.Supply, ErrConservation)
	}
	if total, err := CheckedAdd(spent, refunded); err != nil || total != escrowed {
		return fmt.Errorf("spent %d + refunded %d != escrowed %d: %w", spent, refunded, escrowed, ErrConservation)
	}
	if spent != p.SellerProceeds {
		return fmt.Errorf("spent %d != seller proceeds %d: %w", spent, p.SellerProceeds, ErrConservation)
	}
	return nil
}
