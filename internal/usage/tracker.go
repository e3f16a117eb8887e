package usage

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Counts holds token counts for one or more generation turns.
type Counts struct {
	InputTokens  int
	OutputTokens int
}

// Tracker accumulates token usage and cost across generation turns. Safe
// for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	totals  Counts
	cost    decimal.Decimal
	pricing map[string]Pricing
}

// NewTracker creates a tracker. A nil pricing map uses DefaultPricing.
func NewTracker(pricing map[string]Pricing) *Tracker {
	if pricing == nil {
		pricing = DefaultPricing
	}
	return &Tracker{cost: decimal.Zero, pricing: pricing}
}

// Record adds one turn's token counts under the given model.
func (t *Tracker) Record(model string, c Counts) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totals.InputTokens += c.InputTokens
	t.totals.OutputTokens += c.OutputTokens

	if pricing, ok := t.pricing[model]; ok {
		t.cost = t.cost.Add(pricing.Cost(c.InputTokens, c.OutputTokens))
	}
}

// Totals returns the cumulative token counts.
func (t *Tracker) Totals() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals
}

// TotalCost returns the cumulative cost in USD.
func (t *Tracker) TotalCost() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cost
}
