package offer

import "coursecart/backend/internal/domain"

func unitsToConsume(consumption string, remaining int) int {
	if remaining <= 0 {
		return 0
	}
	if consumption == domain.ConsumptionMulti {
		return remaining
	}
	return 1
}

// Consume marks the discounted units on the basket so later offers in the same pass
// cannot claim them again.
func Consume(basket *domain.Basket, consumption string, discounts []domain.LineDiscount) {
	for _, discount := range discounts {
		for i := range basket.Lines {
			line := &basket.Lines[i]
			if line.ID != discount.LineID {
				continue
			}
			units := min(discount.Quantity, unitsToConsume(consumption, line.QuantityWithoutDiscount()))
			if units <= 0 {
				break
			}
			line.ConsumedQty += units
			line.Discount = line.Discount.Add(discount.Amount)
			break
		}
	}
}
