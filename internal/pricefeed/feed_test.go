package pricefeed

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"polyshadow/internal/client/polymarket/clob"
	"polyshadow/internal/config"
	"polyshadow/internal/models"
	"polyshadow/internal/repository"
)

type memStore struct {
	open []models.SimTrade
}

func (m *memStore) InsertSimTradeIfAbsent(ctx context.Context, trade *models.SimTrade) (bool, error) {
	return false, nil
}
func (m *memStore) SimTradeExists(ctx context.Context, tradeID string) (bool, error) {
	return false, nil
}
func (m *memStore) MarkSettled(ctx context.Context, tradeID string, price, pnl, pnlPct decimal.Decimal) error {
	return nil
}
func (m *memStore) ListOpenSimTrades(ctx context.Context) ([]models.SimTrade, error) {
	return m.open, nil
}
func (m *memStore) ListSimTrades(ctx context.Context, params repository.ListSimTradesParams) ([]models.SimTrade, error) {
	return nil, nil
}
func (m *memStore) GetCachedMarket(ctx context.Context, conditionID string) (*models.MarketCacheEntry, error) {
	return nil, nil
}
func (m *memStore) UpsertMarketCache(ctx context.Context, entry *models.MarketCacheEntry) error {
	return nil
}
func (m *memStore) ListScorecards(ctx context.Context) ([]models.ShadowScorecardRecord, error) {
	return nil, nil
}
func (m *memStore) SaveScorecard(ctx context.Context, record *models.ShadowScorecardRecord) error {
	return nil
}
func (m *memStore) DeleteScorecard(ctx context.Context, address string) error { return nil }
func (m *memStore) GetTradeStats(ctx context.Context) (repository.TradeStats, error) {
	return repository.TradeStats{}, nil
}

func priceEvent(asset, price string) clob.MarketEnvelope {
	return clob.MarketEnvelope{
		EventType: "price_change",
		AssetID:   asset,
		Price:     clob.Decimal{Decimal: decimal.RequireFromString(price)},
	}
}

func openTrade(asset, side string, fill float64) models.SimTrade {
	price := decimal.NewFromFloat(fill)
	return models.SimTrade{
		TradeID:       "t-" + asset,
		MarketID:      asset,
		TargetSide:    side,
		SimPrice:      &price,
		SimInvestment: decimal.NewFromInt(100),
		SimFee:        decimal.RequireFromString("1.5"),
		Status:        models.TradeStatusOpen,
	}
}

func TestHandleStoresQuotes(t *testing.T) {
	f := New(&memStore{}, config.ClobStreamConfig{}, nil)
	f.handle(priceEvent("tok1", "0.62"), nil)

	q, ok := f.Mark("tok1")
	if !ok || q.Price != 0.62 {
		t.Fatalf("mark = %+v %v, want 0.62", q, ok)
	}
	if _, ok := f.Mark("tok2"); ok {
		t.Fatalf("unexpected quote for tok2")
	}
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	f := New(&memStore{}, config.ClobStreamConfig{}, nil)
	env := priceEvent("tok1", "0.62")
	env.EventType = "book"
	f.handle(env, nil)
	if _, ok := f.Mark("tok1"); ok {
		t.Fatalf("book event should not produce a mark")
	}
}

func TestUnrealizedPnL(t *testing.T) {
	f := New(&memStore{}, config.ClobStreamConfig{}, nil)
	f.handle(priceEvent("tok1", "0.6"), nil)

	// BUY filled at 0.5 now marked 0.6: 200 shares * 0.6 - 100 - 1.5
	pnl, ok := f.UnrealizedPnL(openTrade("tok1", models.SideBuy, 0.5))
	if !ok {
		t.Fatalf("expected a mark for tok1")
	}
	if pnl < 18.49 || pnl > 18.51 {
		t.Fatalf("pnl = %v, want 18.5", pnl)
	}

	// SELL positions gain when the price falls.
	pnl, ok = f.UnrealizedPnL(openTrade("tok1", models.SideSell, 0.5))
	if !ok {
		t.Fatalf("expected a mark for tok1")
	}
	if pnl > -21.49 || pnl < -21.51 {
		t.Fatalf("pnl = %v, want -21.5", pnl)
	}
}

func TestUnrealizedPnLWithoutQuote(t *testing.T) {
	f := New(&memStore{}, config.ClobStreamConfig{}, nil)
	if _, ok := f.UnrealizedPnL(openTrade("tok1", models.SideBuy, 0.5)); ok {
		t.Fatalf("no quote should mean no mark-to-market")
	}
}

func TestOpenAssetIDsDeduplicatesAndCaps(t *testing.T) {
	store := &memStore{open: []models.SimTrade{
		openTrade("tok1", models.SideBuy, 0.5),
		openTrade("tok1", models.SideBuy, 0.5),
		openTrade("tok2", models.SideBuy, 0.5),
		openTrade("tok3", models.SideBuy, 0.5),
	}}
	f := New(store, config.ClobStreamConfig{MaxAssets: 2}, nil)
	ids, err := f.openAssetIDs(context.Background())
	if err != nil {
		t.Fatalf("open asset ids: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want 2 after dedupe and cap", ids)
	}
}
