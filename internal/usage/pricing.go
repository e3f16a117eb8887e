// Package usage tracks cumulative token consumption and cost across
// generation turns.
package usage

import "github.com/shopspring/decimal"

// Pricing holds per-model token prices in USD per million tokens.
type Pricing struct {
	InputPerMTok  decimal.Decimal
	OutputPerMTok decimal.Decimal
}

var million = decimal.NewFromInt(1_000_000)

// Cost calculates the price of one turn's token counts.
func (p Pricing) Cost(inputTokens, outputTokens int) decimal.Decimal {
	cost := decimal.NewFromInt(int64(inputTokens)).Mul(p.InputPerMTok).Div(million)
	return cost.Add(decimal.NewFromInt(int64(outputTokens)).Mul(p.OutputPerMTok).Div(million))
}

// DefaultPricing contains built-in prices (USD per million tokens) for
// commonly configured models. Unknown models have their tokens counted but
// contribute no cost.
var DefaultPricing = map[string]Pricing{
	"gpt-4o": {
		InputPerMTok:  decimal.NewFromFloat(2.5),
		OutputPerMTok: decimal.NewFromFloat(10),
	},
	"gpt-4o-mini": {
		InputPerMTok:  decimal.NewFromFloat(0.15),
		OutputPerMTok: decimal.NewFromFloat(0.6),
	},
	"claude-sonnet-4-0": {
		InputPerMTok:  decimal.NewFromFloat(3),
		OutputPerMTok: decimal.NewFromFloat(15),
	},
	"claude-haiku-4-5": {
		InputPerMTok:  decimal.NewFromFloat(1),
		OutputPerMTok: decimal.NewFromFloat(5),
	},
}
