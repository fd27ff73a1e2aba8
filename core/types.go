package core

// BidPosition is the settlement-relevant view of one bid.
type BidPosition struct {
	Index    int    `json:"index"`
	Bidder   string `json:"bidder"`
	Quantity uint64 `json:"quantity"`
	PriceCap uint64 `json:"price_cap"`
	Escrowed uint64 `json:"escrowed"`
	Settled  bool   `json:"settled"`
}

// Allocation is the settlement outcome for one bid.
type Allocation struct {
	Index    int    `json:"index"`
	Bidder   string `json:"bidder"`
	Eligible bool   `json:"eligible"`

	// Allocated is the amount of the offered asset delivered to the bidder
	Allocated uint64 `json:"allocated"`

	// Spend is Allocated × clearing price, paid to the seller
	Spend uint64 `json:"spend"`

	// Refund is Escrowed - Spend, returned to the bidder
	Refund uint64 `json:"refund"`

	Escrowed uint64 `json:"escrowed"`
}

// SettlementPlan contains the complete, not yet executed outcome of settling an auction.
// Every transfer of a settlement is derived from it.
type SettlementPlan struct {
	ClearingPrice uint64 `json:"clearing_price"`
	Supply        uint64 `json:"supply"`

	// EligibleDemand is Q, the summed quantity of all bids with PriceCap >= ClearingPrice
	EligibleDemand uint64 `json:"eligible_demand"`

	// ProRata is true when supply was insufficient and allocations were scaled down
	ProRata bool `json:"pro_rata"`

	// ZeroDemand is true when no bid was eligible
	ZeroDemand bool `json:"zero_demand"`

	Allocations []Allocation `json:"allocations"`

	// SellerProceeds is Σ spend, in the payment asset
	SellerProceeds uint64 `json:"seller_proceeds"`

	// Remainder is unallocated supply returned to the seller, in the offered asset
	Remainder uint64 `json:"remainder"`
}
