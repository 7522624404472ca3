// Package pricing implements integer parimutuel pricing: each option's
// price is its share of the pooled stake, expressed as a whole
// percentage. Parimutuel odds need no external oracle and self-correct
// as stake arrives.
//
// Rounding uses the largest-remainder method so a market's prices always
// sum to exactly 100; naive per-option rounding drifts to 99 or 101.
package pricing

import "sort"

// Scale is the price denominator: prices are percentages in [0, 100].
const Scale = 100

// Prices computes the price vector for the given per-option volumes.
// With an empty pool the options split uniformly, with the remainder of
// Scale/len distributed to the lowest-index options so the sum stays
// exactly Scale. Returns nil for an empty slice.
func Prices(volumes []int64) []int {
	n := len(volumes)
	if n == 0 {
		return nil
	}

	var total int64
	for _, v := range volumes {
		total += v
	}
	if total == 0 {
		return uniform(n)
	}

	prices := make([]int, n)
	type rem struct {
		idx  int
		frac int64
	}
	rems := make([]rem, n)

	assigned := 0
	for i, v := range volumes {
		exact := v * Scale
		prices[i] = int(exact / total)
		rems[i] = rem{idx: i, frac: exact % total}
		assigned += prices[i]
	}

	// Hand the leftover units to the largest fractional remainders,
	// ties broken by lower index for determinism.
	sort.Slice(rems, func(a, b int) bool {
		if rems[a].frac != rems[b].frac {
			return rems[a].frac > rems[b].frac
		}
		return rems[a].idx < rems[b].idx
	})
	for i := 0; i < Scale-assigned; i++ {
		prices[rems[i].idx]++
	}

	return prices
}

// uniform splits Scale evenly across n options, first options absorbing
// the remainder.
func uniform(n int) []int {
	prices := make([]int, n)
	base := Scale / n
	extra := Scale % n
	for i := range prices {
		prices[i] = base
		if i < extra {
			prices[i]++
		}
	}
	return prices
}

// PotentialPayout is the amount a winning bet collects:
// round(stake * Scale / price), rounded half up.
//
// A price can legitimately round to zero (a tiny stake in a huge pool);
// the divisor is clamped to 1 so the payout stays finite.
func PotentialPayout(stake int64, price int) int64 {
	if price < 1 {
		price = 1
	}
	p := int64(price)
	return (stake*Scale + p/2) / p
}
