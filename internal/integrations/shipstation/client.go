package shipstation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/slastra/whatnot-shipstation-integration/internal/models"
	"golang.org/x/time/rate"
)

// ErrUnauthorized is a credential failure (HTTP 401). Never retried.
var ErrUnauthorized = errors.New("shipstation: invalid api credentials")

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	// RatePerMinute caps sustained request rate client-side. ShipStation
	// allows ~40 requests/minute.
	RatePerMinute    int
	MaxRetries       int
	ShipmentPageSize int
	Timeout          time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	limiter    *rate.Limiter
	maxRetries int
	pageSize   int
	httpc      *http.Client

	// wait is the Retry-After sleep, separate from the limiter pacing.
	wait func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://ssapi.shipstation.com"
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 40
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ShipmentPageSize <= 0 {
		cfg.ShipmentPageSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), 1),
		maxRetries: cfg.MaxRetries,
		pageSize:   cfg.ShipmentPageSize,
		httpc: &http.Client{
			Timeout: cfg.Timeout,
		},
		wait: ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// CreateOrders pushes consolidated orders one at a time. The endpoint is not
// batchable, and sequential calls keep partial failure attributable to a
// single group. onProgress fires after every order, success or failure, with
// the post-consolidation group count as the denominator.
func (c *Client) CreateOrders(ctx context.Context, orders []models.ShippingOrder, storeID string, onProgress func(models.CreateProgress)) (models.CreateOrdersResult, error) {
	var res models.CreateOrdersResult

	sid, err := strconv.Atoi(storeID)
	if err != nil {
		return res, errors.Wrapf(err, "bad store id %q", storeID)
	}

	for i, o := range orders {
		err := c.do(ctx, http.MethodPost, "/orders/createorder", nil, buildOrderPayload(o, sid), nil)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return res, err
			}
			res.Failed = append(res.Failed, models.FailedShippingOrder{Order: o, Error: err.Error()})
		} else {
			res.Successful = append(res.Successful, o)
		}

		if onProgress != nil {
			onProgress(models.CreateProgress{
				Done:    i + 1,
				Created: len(res.Successful),
				Failed:  len(res.Failed),
				Total:   len(orders),
			})
		}
	}
	return res, nil
}

// ListShippedWithTracking returns non-voided shipments carrying a tracking
// number for a store within the date range. Pagination stops on an empty
// page or the server-declared last page.
func (c *Client) ListShippedWithTracking(ctx context.Context, storeID string, from, to time.Time) ([]models.Shipment, error) {
	var out []models.Shipment

	for page := 1; ; page++ {
		q := url.Values{}
		if storeID != "" {
			q.Set("storeId", storeID)
		}
		q.Set("shipDateStart", from.UTC().Format("2006-01-02"))
		q.Set("shipDateEnd", to.UTC().Format("2006-01-02"))
		q.Set("includeShipmentItems", "true")
		q.Set("page", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(c.pageSize))

		var resp shipmentsResponse
		if err := c.do(ctx, http.MethodGet, "/shipments", q, nil, &resp); err != nil {
			return nil, err
		}
		if len(resp.Shipments) == 0 {
			break
		}

		for _, s := range resp.Shipments {
			if s.Voided || s.TrackingNumber == "" {
				continue
			}
			out = append(out, s.toModel())
		}

		if page >= resp.Pages {
			break
		}
	}
	return out, nil
}

// do executes one request under the rate limiter, retrying 429s with the
// server-provided Retry-After up to maxRetries additional attempts.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		payload = b
	}

	retries := 0
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "rate limiter")
		}

		var reader *bytes.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return errors.Wrap(err, "new request")
		}
		if query != nil {
			req.URL.RawQuery = query.Encode()
		}
		req.SetBasicAuth(c.apiKey, c.apiSecret)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return errors.Wrap(err, "do request")
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			resp.Body.Close()
			return ErrUnauthorized

		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			retries++
			if retries > c.maxRetries {
				return errors.Errorf("shipstation rate limited, gave up after %d retries", c.maxRetries)
			}
			if err := c.wait(ctx, retryAfter); err != nil {
				return err
			}
			continue

		case resp.StatusCode/100 != 2:
			resp.Body.Close()
			return errors.Errorf("shipstation http %d (%s %s)", resp.StatusCode, method, path)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				resp.Body.Close()
				return errors.Wrap(err, "decode")
			}
		}
		resp.Body.Close()
		return nil
	}
}

func parseRetryAfter(h string) time.Duration {
	secs, err := strconv.Atoi(h)
	if err != nil || secs < 0 {
		return time.Second
	}
	return time.Duration(secs) * time.Second
}
