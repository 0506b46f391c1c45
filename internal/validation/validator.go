package validation

import (
	"fmt"
	"math"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// the subtotal a client sends must match the sum of unit price * quantity
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// createOrderStructValidation verifies the aggregated total of items equals Subtotal (within cents)
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	var sum float64
	for _, it := range req.Items {
		sum += float64(it.Quantity) * it.UnitPrice
	}

	sumCents := int(math.Round(sum * 100))
	subtotalCents := int(math.Round(req.Subtotal * 100))
	if sumCents != subtotalCents {
		sl.ReportError(req.Subtotal, "subtotal", "Subtotal", "subtotal_match_items", fmt.Sprintf("items sum %.2f != subtotal %.2f", sum, req.Subtotal))
	}
}

// Float returns the value behind a validated coordinate pointer.
func Float(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
