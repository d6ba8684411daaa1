package pricefeed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"polyshadow/internal/client/polymarket/clob"
	"polyshadow/internal/config"
	"polyshadow/internal/models"
	"polyshadow/internal/repository"
)

// Quote is the latest observed mark for one token.
type Quote struct {
	AssetID string
	Price   float64
	SeenAt  time.Time
}

// Feed maintains live marks for the tokens backing open simulated positions.
// It subscribes to the CLOB market channel and keeps an in-memory quote map
// the status API reads for unrealized PnL.
type Feed struct {
	store  repository.Store
	cfg    config.ClobStreamConfig
	logger *zap.Logger

	mu     sync.RWMutex
	quotes map[string]Quote
}

func New(store repository.Store, cfg config.ClobStreamConfig, logger *zap.Logger) *Feed {
	return &Feed{
		store:  store,
		cfg:    cfg,
		logger: logger,
		quotes: make(map[string]Quote),
	}
}

// Run consumes the market stream until the context ends. The subscription
// list tracks whatever tokens currently have OPEN positions and refreshes on
// every reconnect.
func (f *Feed) Run(ctx context.Context) error {
	stream := clob.NewMarketStream(clob.MarketStreamOptions{
		URL:             f.cfg.URL,
		AssetIDProvider: f.openAssetIDs,
		RefreshInterval: f.cfg.RefreshInterval,
		Logger:          f.logger,
	})
	return stream.Run(ctx, f.handle)
}

func (f *Feed) handle(env clob.MarketEnvelope, _ []byte) {
	if env.AssetID == "" {
		return
	}
	switch env.EventType {
	case "price_change", "last_trade_price":
	default:
		return
	}
	if env.Price.Decimal.IsZero() {
		return
	}
	price, _ := env.Price.Decimal.Float64()
	f.mu.Lock()
	f.quotes[env.AssetID] = Quote{AssetID: env.AssetID, Price: price, SeenAt: time.Now()}
	f.mu.Unlock()
}

// Mark returns the latest observed price for a token.
func (f *Feed) Mark(assetID string) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[assetID]
	return q, ok
}

// Marks returns a copy of all live quotes.
func (f *Feed) Marks() map[string]Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]Quote, len(f.quotes))
	for k, v := range f.quotes {
		out[k] = v
	}
	return out
}

// UnrealizedPnL marks an open position to the latest quote. BUY positions
// gain as the price rises, SELL positions as it falls. The second return is
// false when no quote is available yet.
func (f *Feed) UnrealizedPnL(t models.SimTrade) (float64, bool) {
	if t.Status != models.TradeStatusOpen || t.SimPrice == nil || !t.SimPrice.IsPositive() {
		return 0, false
	}
	q, ok := f.Mark(t.MarketID)
	if !ok {
		return 0, false
	}
	fill, _ := t.SimPrice.Float64()
	invest, _ := t.SimInvestment.Float64()
	fee, _ := t.SimFee.Float64()
	shares := invest / fill
	var value float64
	if t.TargetSide == models.SideBuy {
		value = shares * q.Price
	} else {
		value = shares * (1 - q.Price)
	}
	return value - invest - fee, true
}

// openAssetIDs lists the distinct tokens with OPEN positions, capped at the
// configured subscription limit.
func (f *Feed) openAssetIDs(ctx context.Context) ([]string, error) {
	open, err := f.store.ListOpenSimTrades(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(open))
	var ids []string
	for _, t := range open {
		if t.MarketID == "" {
			continue
		}
		if _, dup := seen[t.MarketID]; dup {
			continue
		}
		seen[t.MarketID] = struct{}{}
		ids = append(ids, t.MarketID)
		if f.cfg.MaxAssets > 0 && len(ids) >= f.cfg.MaxAssets {
			break
		}
	}
	return ids, nil
}
