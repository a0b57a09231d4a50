package whatnot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/slastra/whatnot-shipstation-integration/internal/models"
)

// ErrMissingStartDate is a configuration error: an account with no persisted
// cursor needs a minimum order date to bound the first fetch.
var ErrMissingStartDate = errors.New("no cursor and no minimum order date configured")

// ErrAlreadyTracked marks the non-fatal mutation outcome where the
// marketplace refuses to overwrite existing tracking info.
var ErrAlreadyTracked = errors.New("order already has tracking")

type CursorStore interface {
	GetCursor(ctx context.Context, accountName string) (string, error)
	SaveCursor(ctx context.Context, accountName, cursor string) error
}

type Config struct {
	BaseURL      string
	PageSize     int
	MinOrderDate time.Time
	PageDelay    time.Duration
	Timeout      time.Duration
}

type Client struct {
	baseURL      string
	pageSize     int
	minOrderDate time.Time
	pageDelay    time.Duration
	cursors      CursorStore
	httpc        *http.Client
}

func New(cfg Config, cursors CursorStore) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.whatnot.com/graphql"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		pageSize:     cfg.PageSize,
		minOrderDate: cfg.MinOrderDate,
		pageDelay:    cfg.PageDelay,
		cursors:      cursors,
		httpc: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// TrackingError carries the mutation's userErrors as a domain failure
// instead of a raw transport error.
type TrackingError struct {
	Errors []FieldError
}

func (e *TrackingError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "attach tracking: " + strings.Join(parts, "; ")
}

const ordersQuery = `
query Orders($first: Int!, $after: String, $createdAfter: ISO8601DateTime) {
  orders(first: $first, after: $after, createdAfter: $createdAfter) {
    edges {
      cursor
      node {
        id createdAt cancelledAt status
        customer { id username }
        shippingAddress { name line1 line2 city state postalCode country }
        subtotal { amount currency }
        shipping { amount currency }
        tax { amount currency }
        total { amount currency }
        livestream { id }
        trackingCode { code courier }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const orderItemsQuery = `
query OrderItems($orderId: ID!, $first: Int!, $after: String) {
  orderItems(orderId: $orderId, first: $first, after: $after) {
    edges {
      cursor
      node {
        id sku quantity fulfillment
        product { id name }
        price { amount currency }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const attachTrackingMutation = `
mutation AttachTracking($orderIds: [ID!]!, $trackingCode: String!, $courier: Courier!) {
  addOrderTracking(input: {orderIds: $orderIds, trackingCode: $trackingCode, courier: $courier}) {
    userErrors { field message }
  }
}`

type moneyNode struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (m moneyNode) toModel() models.Money {
	return models.Money{Amount: m.Amount, Currency: m.Currency}
}

type addressNode struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type orderNode struct {
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"createdAt"`
	CancelledAt *time.Time `json:"cancelledAt"`
	Status      string     `json:"status"`
	Customer    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"customer"`
	ShippingAddress addressNode `json:"shippingAddress"`
	Subtotal        moneyNode   `json:"subtotal"`
	Shipping        moneyNode   `json:"shipping"`
	Tax             moneyNode   `json:"tax"`
	Total           moneyNode   `json:"total"`
	Livestream      *struct {
		ID string `json:"id"`
	} `json:"livestream"`
	TrackingCode *struct {
		Code    string `json:"code"`
		Courier string `json:"courier"`
	} `json:"trackingCode"`
}

type itemNode struct {
	ID          string    `json:"id"`
	SKU         string    `json:"sku"`
	Quantity    int       `json:"quantity"`
	Fulfillment string    `json:"fulfillment"`
	Product     struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"product"`
	Price moneyNode `json:"price"`
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type gqlError struct {
	Message string `json:"message"`
}

// FetchOrders pulls all new orders for an account since its persisted cursor.
// The cursor is saved after every page, before the next page is requested: a
// crash between pages refetches at most one page, never skips one.
func (c *Client) FetchOrders(ctx context.Context, account models.Account) ([]*models.MarketplaceOrder, error) {
	cursor, err := c.cursors.GetCursor(ctx, account.Name)
	if err != nil {
		return nil, errors.Wrap(err, "load cursor")
	}
	if cursor == "" && c.minOrderDate.IsZero() {
		return nil, ErrMissingStartDate
	}

	var out []*models.MarketplaceOrder
	for {
		vars := map[string]any{
			"first": c.pageSize,
		}
		if cursor != "" {
			vars["after"] = cursor
		} else {
			vars["createdAfter"] = c.minOrderDate.UTC().Format(time.RFC3339)
		}

		var resp struct {
			Data struct {
				Orders struct {
					Edges []struct {
						Cursor string    `json:"cursor"`
						Node   orderNode `json:"node"`
					} `json:"edges"`
					PageInfo pageInfo `json:"pageInfo"`
				} `json:"orders"`
			} `json:"data"`
			Errors []gqlError `json:"errors"`
		}
		if err := c.query(ctx, account.WhatnotToken, ordersQuery, vars, &resp); err != nil {
			return nil, err
		}
		if len(resp.Errors) > 0 {
			return nil, errors.Errorf("whatnot orders query: %s", resp.Errors[0].Message)
		}

		for _, e := range resp.Data.Orders.Edges {
			out = append(out, nodeToOrder(e.Node))
		}

		pi := resp.Data.Orders.PageInfo
		if pi.EndCursor != "" {
			if err := c.cursors.SaveCursor(ctx, account.Name, pi.EndCursor); err != nil {
				return nil, errors.Wrap(err, "save cursor")
			}
			cursor = pi.EndCursor
		}
		if !pi.HasNextPage {
			break
		}
		if c.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pageDelay):
			}
		}
	}
	return out, nil
}

// FetchOrderItems pulls all line items of one order.
func (c *Client) FetchOrderItems(ctx context.Context, account models.Account, orderID string) ([]models.LineItem, error) {
	var out []models.LineItem
	after := ""
	for {
		vars := map[string]any{
			"orderId": orderID,
			"first":   c.pageSize,
		}
		if after != "" {
			vars["after"] = after
		}

		var resp struct {
			Data struct {
				OrderItems struct {
					Edges []struct {
						Cursor string   `json:"cursor"`
						Node   itemNode `json:"node"`
					} `json:"edges"`
					PageInfo pageInfo `json:"pageInfo"`
				} `json:"orderItems"`
			} `json:"data"`
			Errors []gqlError `json:"errors"`
		}
		if err := c.query(ctx, account.WhatnotToken, orderItemsQuery, vars, &resp); err != nil {
			return nil, err
		}
		if len(resp.Errors) > 0 {
			return nil, errors.Errorf("whatnot order items query: %s", resp.Errors[0].Message)
		}

		for _, e := range resp.Data.OrderItems.Edges {
			out = append(out, models.LineItem{
				ID:        e.Node.ID,
				SKU:       e.Node.SKU,
				ProductID: e.Node.Product.ID,
				Name:      e.Node.Product.Name,
				Quantity:  e.Node.Quantity,
				UnitPrice: e.Node.Price.toModel(),
				IsPickup:  e.Node.Fulfillment == "PICKUP",
			})
		}

		pi := resp.Data.OrderItems.PageInfo
		if !pi.HasNextPage {
			break
		}
		after = pi.EndCursor
	}
	return out, nil
}

// AttachTracking attaches one tracking code to a set of orders. Returns
// ErrAlreadyTracked (wrapped) when the marketplace refuses to override
// existing tracking, *TrackingError for other userErrors.
func (c *Client) AttachTracking(ctx context.Context, account models.Account, orderIDs []string, trackingCode, courier string) error {
	if len(orderIDs) == 0 {
		return errors.New("no order ids")
	}

	vars := map[string]any{
		"orderIds":     orderIDs,
		"trackingCode": trackingCode,
		"courier":      courier,
	}
	var resp struct {
		Data struct {
			AddOrderTracking struct {
				UserErrors []FieldError `json:"userErrors"`
			} `json:"addOrderTracking"`
		} `json:"data"`
		Errors []gqlError `json:"errors"`
	}
	if err := c.query(ctx, account.WhatnotToken, attachTrackingMutation, vars, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return errors.Errorf("whatnot tracking mutation: %s", resp.Errors[0].Message)
	}

	userErrs := resp.Data.AddOrderTracking.UserErrors
	if len(userErrs) == 0 {
		return nil
	}
	for _, fe := range userErrs {
		if isAlreadyTrackedMessage(fe.Message) {
			return errors.Wrap(ErrAlreadyTracked, fe.Message)
		}
	}
	return &TrackingError{Errors: userErrs}
}

func isAlreadyTrackedMessage(msg string) bool {
	low := strings.ToLower(msg)
	return strings.Contains(low, "already has tracking") ||
		strings.Contains(low, "cannot override tracking")
}

func (c *Client) query(ctx context.Context, token, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": vars,
	})
	if err != nil {
		return errors.Wrap(err, "marshal graphql request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return errors.Errorf("whatnot http %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}

func nodeToOrder(n orderNode) *models.MarketplaceOrder {
	o := &models.MarketplaceOrder{
		ID:          n.ID,
		CreatedAt:   n.CreatedAt.UTC(),
		CancelledAt: n.CancelledAt,
		Status:      n.Status,
		Customer:    models.Customer{ID: n.Customer.ID, Username: n.Customer.Username},
		ShipTo: models.Address{
			Name:       n.ShippingAddress.Name,
			Line1:      n.ShippingAddress.Line1,
			Line2:      n.ShippingAddress.Line2,
			City:       n.ShippingAddress.City,
			State:      n.ShippingAddress.State,
			PostalCode: n.ShippingAddress.PostalCode,
			Country:    n.ShippingAddress.Country,
		},
		Subtotal: n.Subtotal.toModel(),
		Shipping: n.Shipping.toModel(),
		Tax:      n.Tax.toModel(),
		Total:    n.Total.toModel(),
	}
	if n.Livestream != nil {
		o.Livestream = n.Livestream.ID
	}
	if n.TrackingCode != nil && n.TrackingCode.Code != "" {
		o.Tracking = &models.TrackingInfo{Code: n.TrackingCode.Code, Courier: n.TrackingCode.Courier}
	}
	return o
}
