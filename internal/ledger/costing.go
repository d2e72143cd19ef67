package ledger

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// CostPrecision is the number of decimals kept on a persisted average cost.
const CostPrecision = 4

// AverageCost blends the current average with an inflow of qty units at unitCost.
// When the resulting stock is not positive the incoming unit cost is returned.
func AverageCost(stock, cost, qty, unitCost float64) float64 {
	newStock := stock + qty
	if newStock <= 0 {
		return unitCost
	}
	return (stock*cost + qty*unitCost) / newStock
}

// RoundCost rounds v to CostPrecision decimals, half away from zero.
func RoundCost(v float64) float64 {
	return decimal.NewFromFloat(v).Round(CostPrecision).InexactFloat64()
}

// AllocateTransport spreads total across lines proportionally to quantity.
// The result is not rounded so the allocations sum back to total.
func AllocateTransport(quantities []float64, total float64) []float64 {
	out := make([]float64, len(quantities))
	var sum float64
	for _, q := range quantities {
		sum += q
	}
	if sum <= 0 {
		return out
	}
	for i, q := range quantities {
		out[i] = (q / sum) * total
	}
	return out
}

// DiscountAmount resolves the absolute discount for a sale total.
func DiscountAmount(total, discount float64, kind DiscountType) float64 {
	if kind == DiscountPercentage {
		return (total * discount) / 100
	}
	return discount
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
