package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const DefaultMarketWSSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

type MarketSubscribeRequest struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids,omitempty"`
}

// MarketEnvelope is the common header of every market-channel event.
type MarketEnvelope struct {
	EventType string  `json:"event_type"`
	AssetID   string  `json:"asset_id"`
	Market    string  `json:"market"`
	Price     Decimal `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// AssetIDProvider supplies the token ids a stream should subscribe to.
// It is re-consulted on every reconnect so subscriptions track open positions.
type AssetIDProvider func(context.Context) ([]string, error)

type WSClient struct {
	url  string
	conn *websocket.Conn
}

func NewWSClient(url string) *WSClient {
	if strings.TrimSpace(url) == "" {
		url = DefaultMarketWSSURL
	}
	return &WSClient{url: url}
}

func (c *WSClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	// Book snapshots can be large; raise read limit above the default.
	conn.SetReadLimit(2 << 20)
	c.conn = conn
	return nil
}

func (c *WSClient) Close(status websocket.StatusCode, reason string) error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close(status, reason)
}

func (c *WSClient) SubscribeMarket(ctx context.Context, assetIDs []string) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("ws not connected")
	}
	req := MarketSubscribeRequest{
		Type:      "market",
		AssetsIDs: assetIDs,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *WSClient) Read(ctx context.Context) (MarketEnvelope, []byte, error) {
	if c == nil || c.conn == nil {
		return MarketEnvelope{}, nil, fmt.Errorf("ws not connected")
	}
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return MarketEnvelope{}, nil, err
	}
	var env MarketEnvelope
	_ = json.Unmarshal(data, &env)
	return env, data, nil
}

type MarketStreamOptions struct {
	URL             string
	AssetIDProvider AssetIDProvider
	RefreshInterval time.Duration
	BackoffMin      time.Duration
	BackoffMax      time.Duration
	Logger          *zap.Logger
}

// MarketStream is a self-healing market-channel subscription: it reconnects
// with jittered backoff and re-resolves the asset list through the provider.
type MarketStream struct {
	opts MarketStreamOptions
}

func NewMarketStream(opts MarketStreamOptions) *MarketStream {
	if opts.URL == "" {
		opts.URL = DefaultMarketWSSURL
	}
	if opts.BackoffMin == 0 {
		opts.BackoffMin = 1 * time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = 30 * time.Second
	}
	return &MarketStream{opts: opts}
}

func (s *MarketStream) Run(ctx context.Context, onMessage func(MarketEnvelope, []byte)) error {
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		client := NewWSClient(s.opts.URL)
		if err := client.Connect(ctx); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("clob ws connect failed", zap.Error(err))
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}

		assetIDs := []string{}
		if s.opts.AssetIDProvider != nil {
			if ids, err := s.opts.AssetIDProvider(ctx); err == nil {
				assetIDs = ids
			}
		}
		if len(assetIDs) == 0 {
			_ = client.Close(websocket.StatusNormalClosure, "no assets to subscribe")
			if err := sleepWithJitter(ctx, s.opts.RefreshInterval); err != nil {
				return err
			}
			continue
		}
		if err := client.SubscribeMarket(ctx, assetIDs); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("clob ws subscribe failed", zap.Error(err))
			}
			_ = client.Close(websocket.StatusInternalError, "subscribe failed")
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Info("clob ws subscribed", zap.Int("assets", len(assetIDs)))
		}
		backoff = s.opts.BackoffMin

		// Read until the refresh window closes or the connection drops, then
		// resubscribe with a fresh asset list.
		readCtx, cancel := context.WithTimeout(ctx, s.opts.RefreshInterval)
		for {
			env, data, err := client.Read(readCtx)
			if err != nil {
				break
			}
			onMessage(env, data)
		}
		cancel()
		_ = client.Close(websocket.StatusNormalClosure, "refresh")
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func sleepWithJitter(ctx context.Context, d time.Duration) error {
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	t := time.NewTimer(d + jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
