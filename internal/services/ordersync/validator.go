package ordersync

import (
	"fmt"

	"github.com/slastra/whatnot-shipstation-integration/internal/models"
)

type InvalidOrder struct {
	Order   *models.MarketplaceOrder `json:"order"`
	Reasons []string                 `json:"reasons"`
}

type ValidationResult struct {
	Valid   []*models.MarketplaceOrder
	Invalid []InvalidOrder
}

// Validate splits a batch into shippable orders and rejects. All applicable
// reasons are collected per order; an order with no line items returns a
// single reason immediately since per-item checks are meaningless.
func Validate(orders []*models.MarketplaceOrder) ValidationResult {
	var res ValidationResult
	for _, o := range orders {
		reasons := validateOne(o)
		if len(reasons) == 0 {
			res.Valid = append(res.Valid, o)
		} else {
			res.Invalid = append(res.Invalid, InvalidOrder{Order: o, Reasons: reasons})
		}
	}
	return res
}

func validateOne(o *models.MarketplaceOrder) []string {
	if len(o.Items) == 0 {
		return []string{"order has no line items"}
	}

	var reasons []string
	if o.IsCancelled() {
		reasons = append(reasons, "order is cancelled")
	}
	if o.Tracking != nil {
		reasons = append(reasons, "order already has a tracking code")
	}
	if o.Status != models.OrderStatusProcessing {
		reasons = append(reasons, fmt.Sprintf("status %s is not eligible for shipment", o.Status))
	}
	for _, it := range o.Items {
		if it.IsPickup {
			reasons = append(reasons, fmt.Sprintf("item %s is pickup-only", it.ID))
			continue
		}
		if it.SKU == "" {
			reasons = append(reasons, fmt.Sprintf("item %s has no SKU", it.ID))
		}
	}
	return reasons
}
