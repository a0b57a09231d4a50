package models

import "time"

// Marketplace order statuses as Whatnot reports them. Only PROCESSING
// orders are eligible for shipment.
const (
	OrderStatusProcessing = "PROCESSING"
	OrderStatusShipped    = "SHIPPED"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusCancelled  = "CANCELLED"
)

type Money struct {
	Amount   int64  `json:"amount"` // minor units
	Currency string `json:"currency"`
}

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Customer struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type LineItem struct {
	ID        string `json:"id"`
	SKU       string `json:"sku"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
	IsPickup  bool   `json:"is_pickup"`
}

type TrackingInfo struct {
	Code    string `json:"code"`
	Courier string `json:"courier"`
}

// MarketplaceOrder is an immutable snapshot of one Whatnot order as fetched.
type MarketplaceOrder struct {
	ID          string        `json:"id"`
	CreatedAt   time.Time     `json:"created_at"`
	CancelledAt *time.Time    `json:"cancelled_at,omitempty"`
	Status      string        `json:"status"`
	Customer    Customer      `json:"customer"`
	ShipTo      Address       `json:"ship_to"`
	Subtotal    Money         `json:"subtotal"`
	Shipping    Money         `json:"shipping"`
	Tax         Money         `json:"tax"`
	Total       Money         `json:"total"`
	Livestream  string        `json:"livestream,omitempty"`
	Tracking    *TrackingInfo `json:"tracking,omitempty"`
	Items       []LineItem    `json:"items"`
}

func (o *MarketplaceOrder) IsCancelled() bool {
	return o.CancelledAt != nil || o.Status == OrderStatusCancelled
}

// OrderGroup is one consolidation bucket: all orders from the same session
// bought by the same customer. SessionRef is the raw partition key component
// (livestream id, or the order date for off-stream purchases); SessionID is
// the human-readable label rendered from it.
type OrderGroup struct {
	SessionID  string
	SessionRef string
	Customer   Customer
	Orders     []*MarketplaceOrder
}

type ShippingItem struct {
	// SKU carries the source marketplace order id so shipments can be
	// mapped back to Whatnot orders.
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
}

// ShippingOrder is the consolidated destination-platform order derived from
// one OrderGroup. OrderKey is deterministic for a given input batch, which is
// what makes re-runs idempotent upserts on the ShipStation side.
type ShippingOrder struct {
	OrderKey   string         `json:"order_key"`
	SessionID  string         `json:"session_id"`
	Customer   Customer       `json:"customer"`
	OrderDate  time.Time      `json:"order_date"`
	ShipTo     Address        `json:"ship_to"`
	Items      []ShippingItem `json:"items"`
	Subtotal   Money          `json:"subtotal"`
	Shipping   Money          `json:"shipping"`
	Tax        Money          `json:"tax"`
	Total      Money          `json:"total"`
	SourceOIDs []string       `json:"source_order_ids"`
}

// Shipment is a completed, non-voided ShipStation shipment with tracking.
type Shipment struct {
	ID             string    `json:"id"`
	TrackingNumber string    `json:"tracking_number"`
	CarrierCode    string    `json:"carrier_code"`
	CreatedAt      time.Time `json:"created_at"`
	ShippedAt      time.Time `json:"shipped_at"`
	// Marketplace order ids recovered from the shipment's line-item SKUs.
	OrderIDs []string `json:"order_ids"`
}

type FailedShippingOrder struct {
	Order ShippingOrder `json:"order"`
	Error string        `json:"error"`
}

// CreateOrdersResult is the per-call outcome of pushing consolidated orders.
type CreateOrdersResult struct {
	Successful []ShippingOrder       `json:"successful"`
	Failed     []FailedShippingOrder `json:"failed"`
}

// CreateProgress is reported after every consolidated order, success or not.
// Total is the post-consolidation group count, not the raw order count.
type CreateProgress struct {
	Done    int `json:"done"`
	Created int `json:"created"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// TrackingState is the per-store resume record for the tracking pipeline.
type TrackingState struct {
	LastProcessedShipmentID string    `json:"last_processed_shipment_id,omitempty"`
	ProcessedShipmentIDs    []string  `json:"processed_shipment_ids"`
	LastSyncTime            time.Time `json:"last_sync_time"`
}

func (s TrackingState) Processed(shipmentID string) bool {
	for _, id := range s.ProcessedShipmentIDs {
		if id == shipmentID {
			return true
		}
	}
	return false
}
