package offer

import (
	"sort"

	"github.com/shopspring/decimal"

	"coursecart/backend/internal/domain"
)

const (
	carriedPlaces = 5
	moneyPlaces   = 2
)

var hundred = decimal.NewFromInt(100)

// ApplicableLines returns indexes of basket lines the benefit may discount, cheapest first.
func ApplicableLines(benefit domain.Benefit, basket *domain.Basket) []int {
	indexes := make([]int, 0, len(basket.Lines))
	for i, line := range basket.Lines {
		if line.QuantityWithoutDiscount() <= 0 {
			continue
		}
		if !line.UnitPrice.IsPositive() {
			continue
		}
		if benefit.HasRange && !benefit.Range.Contains(line.Product) {
			continue
		}
		indexes = append(indexes, i)
	}
	sort.SliceStable(indexes, func(a, b int) bool {
		la, lb := basket.Lines[indexes[a]], basket.Lines[indexes[b]]
		if cmp := la.UnitPrice.Cmp(lb.UnitPrice); cmp != 0 {
			return cmp < 0
		}
		return la.ID < lb.ID
	})
	return indexes
}

// UnitDiscount is the discount one unit priced at price receives.
func UnitDiscount(benefit domain.Benefit, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || benefit.Value.IsNegative() {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch benefit.Kind {
	case domain.BenefitPercentage:
		value := benefit.Value
		if value.GreaterThan(hundred) {
			value = hundred
		}
		amount = price.Mul(value).Div(hundred)
	case domain.BenefitFixed:
		amount = decimal.Min(benefit.Value, price)
	default:
		return decimal.Zero
	}
	return amount.Round(carriedPlaces)
}

// Calculate prices the benefit over the given lines without touching the basket.
// budget caps the total when capped is true.
func Calculate(offer domain.Offer, basket *domain.Basket, lines []int, budget decimal.Decimal, capped bool) []domain.LineDiscount {
	discounts := make([]domain.LineDiscount, 0, len(lines))
	for _, i := range lines {
		if capped && !budget.IsPositive() {
			break
		}
		line := basket.Lines[i]
		units := unitsToConsume(offer.Consumption, line.QuantityWithoutDiscount())
		if units == 0 {
			continue
		}
		amount := UnitDiscount(offer.Benefit, line.UnitPrice).Mul(decimal.NewFromInt(int64(units)))
		if capped && amount.GreaterThan(budget) {
			amount = budget
		}
		amount = amount.Round(carriedPlaces)
		if !amount.IsPositive() {
			continue
		}
		if capped {
			budget = budget.Sub(amount)
		}
		discounts = append(discounts, domain.LineDiscount{LineID: line.ID, Quantity: units, Amount: amount})
	}
	return discounts
}

// Total sums carried line amounts into a money value.
func Total(lines []domain.LineDiscount) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Amount)
	}
	return total.Round(moneyPlaces)
}
