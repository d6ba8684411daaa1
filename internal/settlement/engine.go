package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	polymarketgamma "polyshadow/internal/client/polymarket/gamma"
	"polyshadow/internal/config"
	"polyshadow/internal/models"
	"polyshadow/internal/repository"
)

// MarketSource resolves market metadata by condition id. The Gamma client
// satisfies it.
type MarketSource interface {
	GetMarket(ctx context.Context, conditionID string) (*polymarketgamma.MarketMeta, error)
}

// Engine sweeps OPEN simulated positions, resolves their markets through the
// cache-then-Gamma lookup path, and writes realized outcomes. A failure on
// one market never blocks settlement of the others.
type Engine struct {
	store   repository.Store
	markets MarketSource
	cfg     config.SettlementConfig
	logger  *zap.Logger
}

func NewEngine(store repository.Store, markets MarketSource, cfg config.SettlementConfig, logger *zap.Logger) *Engine {
	if cfg.MarketCacheTTL <= 0 {
		cfg.MarketCacheTTL = time.Hour
	}
	return &Engine{store: store, markets: markets, cfg: cfg, logger: logger}
}

// Summary reports one settlement sweep.
type Summary struct {
	Open     int
	Settled  int
	Pending  int
	Errored  int
	Duration time.Duration
}

// RunOnce performs a single settlement sweep.
func (e *Engine) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()
	var sum Summary

	open, err := e.store.ListOpenSimTrades(ctx)
	if err != nil {
		return sum, err
	}
	sum.Open = len(open)
	if len(open) == 0 {
		sum.Duration = time.Since(start)
		return sum, nil
	}

	byMarket := make(map[string][]models.SimTrade)
	for _, t := range open {
		byMarket[t.ConditionID] = append(byMarket[t.ConditionID], t)
	}

	for cid, trades := range byMarket {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		price, resolved, err := e.resolutionPrice(ctx, cid, trades[0])
		if err != nil {
			sum.Errored += len(trades)
			if e.logger != nil {
				e.logger.Warn("market resolution lookup failed",
					zap.String("condition_id", cid), zap.Error(err))
			}
			continue
		}
		if !resolved {
			sum.Pending += len(trades)
			continue
		}
		for _, t := range trades {
			if err := e.settleTrade(ctx, t, price); err != nil {
				sum.Errored++
				if e.logger != nil {
					e.logger.Warn("trade settlement failed",
						zap.String("trade_id", t.TradeID), zap.Error(err))
				}
				continue
			}
			sum.Settled++
		}
	}

	sum.Duration = time.Since(start)
	if e.logger != nil && sum.Settled > 0 {
		e.logger.Info("settlement sweep",
			zap.Int("open", sum.Open),
			zap.Int("settled", sum.Settled),
			zap.Int("pending", sum.Pending),
			zap.Int("errored", sum.Errored),
			zap.Duration("took", sum.Duration))
	}
	return sum, nil
}

// resolutionPrice looks up the market's final first-outcome price, consulting
// the persistent cache before Gamma. Unresolved markets return resolved=false
// with no error.
func (e *Engine) resolutionPrice(ctx context.Context, conditionID string, sample models.SimTrade) (decimal.Decimal, bool, error) {
	cached, err := e.store.GetCachedMarket(ctx, conditionID)
	if err == nil && cached != nil && cached.IsResolved && cached.ResolutionPrice != nil {
		return *cached.ResolutionPrice, true, nil
	}
	if cached != nil && !cached.IsResolved &&
		time.Since(cached.UpdatedAt) < e.cfg.MarketCacheTTL {
		return decimal.Zero, false, nil
	}

	meta, err := e.markets.GetMarket(ctx, conditionID)
	if err != nil {
		return decimal.Zero, false, err
	}

	entry := &models.MarketCacheEntry{
		ConditionID: conditionID,
		MarketID:    sample.MarketID,
		MarketName:  sample.MarketName,
		EventSlug:   sample.EventSlug,
		EndDate:     meta.EndDate,
		IsActive:    !meta.Closed,
		IsResolved:  meta.IsResolved(),
	}
	price, ok := meta.ResolutionPrice()
	if ok {
		entry.ResolutionPrice = &price
	}
	if err := e.store.UpsertMarketCache(ctx, entry); err != nil && e.logger != nil {
		e.logger.Warn("market cache write failed",
			zap.String("condition_id", conditionID), zap.Error(err))
	}
	return price, ok, nil
}

// settleTrade realizes one position at the resolution price. Shares were
// bought at the simulated fill; a BUY pays out at the resolution price, a
// SELL at its complement.
func (e *Engine) settleTrade(ctx context.Context, t models.SimTrade, resolution decimal.Decimal) error {
	pnl, pnlPct := Outcome(t, resolution)
	return e.store.MarkSettled(ctx, t.TradeID, resolution, pnl, pnlPct)
}

// Outcome computes realized PnL for a filled position at a resolution price.
// A position with no usable fill price settles flat.
func Outcome(t models.SimTrade, resolution decimal.Decimal) (pnl, pnlPct decimal.Decimal) {
	if t.SimPrice == nil || !t.SimPrice.IsPositive() || !t.SimInvestment.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	shares := t.SimInvestment.Div(*t.SimPrice)
	var payout decimal.Decimal
	if t.TargetSide == models.SideBuy {
		payout = shares.Mul(resolution)
	} else {
		payout = shares.Mul(decimal.NewFromInt(1).Sub(resolution))
	}
	pnl = payout.Sub(t.SimInvestment).Sub(t.SimFee).Round(4)
	pnlPct = pnl.Div(t.SimInvestment).Mul(decimal.NewFromInt(100)).Round(4)
	return pnl, pnlPct
}

// Run executes sweeps on a fixed interval until the context ends. The cron
// schedule in main drives RunOnce in production; Run is the fallback loop
// for environments without the scheduler.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.RunOnce(ctx); err != nil && e.logger != nil {
				e.logger.Error("settlement sweep failed", zap.Error(err))
			}
		}
	}
}
