package polymarketgamma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client reads market metadata from the Gamma API. The settlement engine
// uses it to learn whether a market has resolved and at what price.
type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gamma error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	if host == "" {
		host = "https://gamma-api.polymarket.com"
	}
	host = strings.TrimRight(host, "/")
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// MarketMeta is the subset of Gamma market metadata the engine needs.
type MarketMeta struct {
	ConditionID   string
	Slug          string
	Question      string
	EventSlug     string
	Closed        bool
	Resolved      bool
	OutcomePrices []decimal.Decimal
	EndDate       *time.Time
}

// IsResolved reports whether the market outcome is final.
func (m MarketMeta) IsResolved() bool {
	return m.Closed || m.Resolved
}

// ResolutionPrice returns the first outcome's resolution price, 0.0..1.0.
func (m MarketMeta) ResolutionPrice() (decimal.Decimal, bool) {
	if !m.IsResolved() || len(m.OutcomePrices) == 0 {
		return decimal.Zero, false
	}
	return m.OutcomePrices[0], true
}

// GetMarket looks a market up by condition id.
func (c *Client) GetMarket(ctx context.Context, conditionID string) (*MarketMeta, error) {
	if conditionID == "" {
		return nil, fmt.Errorf("condition_id is required")
	}
	query := url.Values{}
	query.Set("condition_ids", conditionID)
	body, err := c.doRequest(ctx, "/markets", query)
	if err != nil {
		return nil, err
	}
	var raws []rawMarket
	if err := json.Unmarshal(body, &raws); err != nil {
		// Some deployments return a single object instead of a list.
		var one rawMarket
		if err2 := json.Unmarshal(body, &one); err2 != nil {
			return nil, fmt.Errorf("failed to parse market: %w", err)
		}
		raws = []rawMarket{one}
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("market not found: %s", conditionID)
	}
	meta := raws[0].toMeta()
	if meta.ConditionID == "" {
		meta.ConditionID = conditionID
	}
	return &meta, nil
}

type rawMarket struct {
	ConditionID   string          `json:"conditionId"`
	Slug          string          `json:"slug"`
	Question      string          `json:"question"`
	EventSlug     string          `json:"eventSlug"`
	Closed        bool            `json:"closed"`
	Resolved      bool            `json:"resolved"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`
	EndDate       string          `json:"endDate"`
}

func (r rawMarket) toMeta() MarketMeta {
	meta := MarketMeta{
		ConditionID: r.ConditionID,
		Slug:        r.Slug,
		Question:    r.Question,
		EventSlug:   r.EventSlug,
		Closed:      r.Closed,
		Resolved:    r.Resolved,
	}
	meta.OutcomePrices = parseOutcomePrices(r.OutcomePrices)
	if r.EndDate != "" {
		if ts, err := time.Parse(time.RFC3339, r.EndDate); err == nil {
			meta.EndDate = &ts
		}
	}
	return meta
}

// parseOutcomePrices tolerates both a JSON array and Gamma's stringified
// array form (`"[\"1\", \"0\"]"`).
func parseOutcomePrices(raw json.RawMessage) []decimal.Decimal {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(s), &items); err != nil {
			return nil
		}
	}
	out := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			if v, err := decimal.NewFromString(str); err == nil {
				out = append(out, v)
			}
			continue
		}
		var f float64
		if err := json.Unmarshal(item, &f); err == nil {
			out = append(out, decimal.NewFromFloat(f))
		}
	}
	return out
}
