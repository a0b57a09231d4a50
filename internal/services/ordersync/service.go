package ordersync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/slastra/whatnot-shipstation-integration/internal/broker/messages"
	"github.com/slastra/whatnot-shipstation-integration/internal/models"
)

type MarketplaceClient interface {
	FetchOrders(ctx context.Context, account models.Account) ([]*models.MarketplaceOrder, error)
	FetchOrderItems(ctx context.Context, account models.Account, orderID string) ([]models.LineItem, error)
}

type FulfillmentClient interface {
	CreateOrders(ctx context.Context, orders []models.ShippingOrder, storeID string, onProgress func(models.CreateProgress)) (models.CreateOrdersResult, error)
}

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type EmitFunc func(ev messages.SyncProgress)

type AccountResult struct {
	Account string                       `json:"account"`
	Fetched int                          `json:"fetched"`
	Valid   int                          `json:"valid"`
	Invalid []InvalidOrder               `json:"invalid,omitempty"`
	Groups  int                          `json:"groups"`
	Created int                          `json:"created"`
	Failed  []models.FailedShippingOrder `json:"failed,omitempty"`
	Error   string                       `json:"error,omitempty"`
}

type Result struct {
	Success  bool            `json:"success"`
	Accounts []AccountResult `json:"accounts"`
	Fetched  int             `json:"fetched"`
	Created  int             `json:"created"`
	Failed   int             `json:"failed"`
}

// Service drives the order pipeline: fetch new marketplace orders, validate,
// consolidate, create shipping orders. One instance is reused across runs;
// it holds no per-run state.
type Service struct {
	marketplace MarketplaceClient
	fulfillment FulfillmentClient
	cache       BytesCache
	itemsTTL    time.Duration
}

func New(marketplace MarketplaceClient, fulfillment FulfillmentClient) *Service {
	return &Service{marketplace: marketplace, fulfillment: fulfillment}
}

// WithItemsCache memoizes fetched line items. Items are immutable once an
// order exists, so an interrupted run does not refetch item pages on retry.
func (s *Service) WithItemsCache(c BytesCache, ttl time.Duration) *Service {
	s.cache = c
	s.itemsTTL = ttl
	return s
}

// Run processes accounts strictly sequentially. An account-level failure is
// recorded and the run moves on; it never aborts the remaining accounts.
func (s *Service) Run(ctx context.Context, accts []models.Account, emit EmitFunc) (*Result, error) {
	res := &Result{Success: true}

	for _, a := range accts {
		ar, err := s.runAccount(ctx, a, emit)
		if err != nil {
			slog.Error("order sync account failed", "account", a.Name, "error", err.Error())
			res.Success = false
			ar.Error = err.Error()
			emit(messages.SyncProgress{
				Phase:   messages.PhaseError,
				Account: a.Name,
				Message: err.Error(),
			})
		}
		res.Accounts = append(res.Accounts, ar)
		res.Fetched += ar.Fetched
		res.Created += ar.Created
		res.Failed += len(ar.Failed)
	}

	// Terminal event: the denominator is the fetched-order count and
	// processed always equals total so percentage displays land on 100.
	emit(messages.SyncProgress{
		Phase:     messages.PhaseComplete,
		Processed: res.Fetched,
		Total:     res.Fetched,
		Created:   res.Created,
		Failed:    res.Failed,
		Message:   fmt.Sprintf("order sync complete: %d orders, %d shipping orders created, %d failed", res.Fetched, res.Created, res.Failed),
	})
	return res, nil
}

func (s *Service) runAccount(ctx context.Context, a models.Account, emit EmitFunc) (AccountResult, error) {
	ar := AccountResult{Account: a.Name}

	orders, err := s.marketplace.FetchOrders(ctx, a)
	if err != nil {
		return ar, err
	}
	ar.Fetched = len(orders)
	emit(messages.SyncProgress{
		Phase:   messages.PhaseFetch,
		Account: a.Name,
		Total:   len(orders),
		Message: fmt.Sprintf("fetched %d new orders", len(orders)),
	})

	for _, o := range orders {
		items, err := s.orderItems(ctx, a, o.ID)
		if err != nil {
			return ar, err
		}
		o.Items = items
	}

	vr := Validate(orders)
	ar.Valid = len(vr.Valid)
	ar.Invalid = vr.Invalid
	emit(messages.SyncProgress{
		Phase:     messages.PhaseValidation,
		Account:   a.Name,
		Processed: len(orders),
		Total:     len(orders),
		Message:   fmt.Sprintf("%d valid, %d rejected", len(vr.Valid), len(vr.Invalid)),
	})
	for _, inv := range vr.Invalid {
		emit(messages.SyncProgress{
			Phase:   messages.PhaseValidation,
			Account: a.Name,
			Message: fmt.Sprintf("order %s rejected: %v", inv.Order.ID, inv.Reasons),
			LogOnly: true,
		})
	}

	groups := Group(vr.Valid)
	shipping := make([]models.ShippingOrder, 0, len(groups))
	for _, g := range groups {
		shipping = append(shipping, BuildShippingOrder(g))
	}
	ar.Groups = len(shipping)
	emit(messages.SyncProgress{
		Phase:   messages.PhaseCreationStart,
		Account: a.Name,
		Total:   len(shipping),
		Message: fmt.Sprintf("creating %d consolidated shipping orders", len(shipping)),
	})

	cr, err := s.fulfillment.CreateOrders(ctx, shipping, a.ShipStationStoreID, func(p models.CreateProgress) {
		emit(messages.SyncProgress{
			Phase:     messages.PhaseCreation,
			Account:   a.Name,
			Processed: p.Done,
			Total:     p.Total,
			Created:   p.Created,
			Failed:    p.Failed,
		})
	})
	if err != nil {
		return ar, err
	}
	ar.Created = len(cr.Successful)
	ar.Failed = cr.Failed
	return ar, nil
}

func (s *Service) orderItems(ctx context.Context, a models.Account, orderID string) ([]models.LineItem, error) {
	key := fmt.Sprintf("items:%s:%s", a.Name, orderID)
	if s.cache != nil && s.itemsTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var items []models.LineItem
			if json.Unmarshal(b, &items) == nil {
				return items, nil
			}
		}
	}

	items, err := s.marketplace.FetchOrderItems(ctx, a, orderID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && s.itemsTTL > 0 {
		if b, err := json.Marshal(items); err == nil {
			_ = s.cache.Set(ctx, key, b, s.itemsTTL)
		}
	}
	return items, nil
}
