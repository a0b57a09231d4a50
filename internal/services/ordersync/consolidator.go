package ordersync

import (
	"fmt"
	"strings"

	"github.com/slastra/whatnot-shipstation-integration/internal/models"
)

// Group partitions a batch of marketplace orders into consolidation buckets
// keyed by (session, buyer). Cancelled orders are dropped. Group order is
// first-occurrence order and orders keep their input order inside a group,
// so the same input batch always produces the same groups and the same
// destination order keys on a re-run.
func Group(orders []*models.MarketplaceOrder) []models.OrderGroup {
	type bucket struct {
		idx   int
		group models.OrderGroup
	}
	byKey := make(map[string]*bucket)
	var keys []string

	for _, o := range orders {
		if o.IsCancelled() {
			continue
		}
		key := sessionRef(o) + "|" + o.Customer.Username
		b, ok := byKey[key]
		if !ok {
			b = &bucket{
				idx: len(keys),
				group: models.OrderGroup{
					SessionID:  sessionLabel(o),
					SessionRef: sessionRef(o),
					Customer:   o.Customer,
				},
			}
			byKey[key] = b
			keys = append(keys, key)
		}
		b.group.Orders = append(b.group.Orders, o)
	}

	out := make([]models.OrderGroup, len(keys))
	for _, key := range keys {
		b := byKey[key]
		out[b.idx] = b.group
	}
	return out
}

// sessionRef is the partition key component: the livestream the order was
// bought in, falling back to the order's creation date for orders placed
// outside a stream.
func sessionRef(o *models.MarketplaceOrder) string {
	if o.Livestream != "" {
		return o.Livestream
	}
	return o.CreatedAt.UTC().Format("2006-01-02")
}

// sessionLabel renders the human-readable session id from the first order's
// creation time.
func sessionLabel(first *models.MarketplaceOrder) string {
	return "Stream " + first.CreatedAt.UTC().Format("01/02 3:04PM")
}

// BuildShippingOrder flattens one group into a consolidated destination
// order. Each line item's SKU is set to its source order id so shipments can
// be mapped back to marketplace orders later.
func BuildShippingOrder(g models.OrderGroup) models.ShippingOrder {
	first := g.Orders[0]
	so := models.ShippingOrder{
		OrderKey:  orderKey(g.SessionRef, g.Customer.Username),
		SessionID: g.SessionID,
		Customer:  g.Customer,
		OrderDate: first.CreatedAt,
		ShipTo:    first.ShipTo,
	}

	for _, o := range g.Orders {
		so.SourceOIDs = append(so.SourceOIDs, o.ID)
		so.Subtotal = addMoney(so.Subtotal, o.Subtotal)
		so.Shipping = addMoney(so.Shipping, o.Shipping)
		so.Tax = addMoney(so.Tax, o.Tax)
		so.Total = addMoney(so.Total, o.Total)

		for _, it := range o.Items {
			so.Items = append(so.Items, models.ShippingItem{
				SKU:       o.ID,
				Name:      it.Name,
				Quantity:  it.Quantity,
				UnitPrice: it.UnitPrice,
			})
		}
	}
	return so
}

func addMoney(a, b models.Money) models.Money {
	cur := a.Currency
	if cur == "" {
		cur = b.Currency
	}
	return models.Money{Amount: a.Amount + b.Amount, Currency: cur}
}

// orderKey is the destination order key: the slugged partition key of the
// group. Built from the session ref, not the display label, so two streams
// started the same minute still get distinct keys.
func orderKey(sessionRef, username string) string {
	return fmt.Sprintf("%s-%s", slug(sessionRef), slug(username))
}

func slug(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
