package shipstation

import (
	"strconv"
	"time"

	"github.com/slastra/whatnot-shipstation-integration/internal/models"
)

type addressPayload struct {
	Name       string `json:"name"`
	Street1    string `json:"street1"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type itemPayload struct {
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type orderPayload struct {
	OrderNumber      string          `json:"orderNumber"`
	OrderKey         string          `json:"orderKey"`
	OrderDate        string          `json:"orderDate"`
	OrderStatus      string          `json:"orderStatus"`
	CustomerUsername string          `json:"customerUsername"`
	BillTo           addressPayload  `json:"billTo"`
	ShipTo           addressPayload  `json:"shipTo"`
	Items            []itemPayload   `json:"items"`
	AmountPaid       float64         `json:"amountPaid"`
	TaxAmount        float64         `json:"taxAmount"`
	ShippingAmount   float64         `json:"shippingAmount"`
	AdvancedOptions  advancedOptions `json:"advancedOptions"`
}

type advancedOptions struct {
	StoreID int `json:"storeId"`
}

func toDollars(m models.Money) float64 {
	return float64(m.Amount) / 100
}

func toAddressPayload(a models.Address) addressPayload {
	return addressPayload{
		Name:       a.Name,
		Street1:    a.Line1,
		Street2:    a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// buildOrderPayload maps one consolidated order onto the createorder wire
// format. OrderKey is the deterministic consolidation key, which makes the
// call an idempotent upsert on retry.
func buildOrderPayload(o models.ShippingOrder, storeID int) orderPayload {
	items := make([]itemPayload, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, itemPayload{
			SKU:       it.SKU,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: toDollars(it.UnitPrice),
		})
	}

	addr := toAddressPayload(o.ShipTo)
	return orderPayload{
		OrderNumber:      o.OrderKey,
		OrderKey:         o.OrderKey,
		OrderDate:        o.OrderDate.UTC().Format(time.RFC3339),
		OrderStatus:      "awaiting_shipment",
		CustomerUsername: o.Customer.Username,
		BillTo:           addr,
		ShipTo:           addr,
		Items:            items,
		AmountPaid:       toDollars(o.Total),
		TaxAmount:        toDollars(o.Tax),
		ShippingAmount:   toDollars(o.Shipping),
		AdvancedOptions:  advancedOptions{StoreID: storeID},
	}
}

type shipmentItemWire struct {
	SKU string `json:"sku"`
}

type shipmentWire struct {
	ShipmentID     int64              `json:"shipmentId"`
	TrackingNumber string             `json:"trackingNumber"`
	CarrierCode    string             `json:"carrierCode"`
	Voided         bool               `json:"voided"`
	CreateDate     string             `json:"createDate"`
	ShipDate       string             `json:"shipDate"`
	ShipmentItems  []shipmentItemWire `json:"shipmentItems"`
}

type shipmentsResponse struct {
	Shipments []shipmentWire `json:"shipments"`
	Total     int            `json:"total"`
	Page      int            `json:"page"`
	Pages     int            `json:"pages"`
}

func (w shipmentWire) toModel() models.Shipment {
	s := models.Shipment{
		ID:             strconv.FormatInt(w.ShipmentID, 10),
		TrackingNumber: w.TrackingNumber,
		CarrierCode:    w.CarrierCode,
	}
	if t, err := time.Parse("2006-01-02T15:04:05", w.CreateDate); err == nil {
		s.CreatedAt = t.UTC()
	}
	if t, err := time.Parse("2006-01-02T15:04:05", w.ShipDate); err == nil {
		s.ShippedAt = t.UTC()
	} else if t, err := time.Parse("2006-01-02", w.ShipDate); err == nil {
		s.ShippedAt = t.UTC()
	}

	// Line-item SKUs carry the source marketplace order ids.
	seen := make(map[string]struct{}, len(w.ShipmentItems))
	for _, it := range w.ShipmentItems {
		if it.SKU == "" {
			continue
		}
		if _, ok := seen[it.SKU]; ok {
			continue
		}
		seen[it.SKU] = struct{}{}
		s.OrderIDs = append(s.OrderIDs, it.SKU)
	}
	return s
}
