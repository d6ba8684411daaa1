package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polyshadow/internal/client/polymarket/clob"
	polymarketdata "polyshadow/internal/client/polymarket/data"
	"polyshadow/internal/config"
	"polyshadow/internal/models"
	"polyshadow/internal/profiler"
	"polyshadow/internal/repository"
	"polyshadow/internal/risk"
	"polyshadow/internal/simulator"
	"polyshadow/internal/sizing"
)

type memStore struct {
	trades map[string]*models.SimTrade
}

func newMemStore() *memStore {
	return &memStore{trades: make(map[string]*models.SimTrade)}
}

func (m *memStore) InsertSimTradeIfAbsent(ctx context.Context, trade *models.SimTrade) (bool, error) {
	if _, ok := m.trades[trade.TradeID]; ok {
		return false, nil
	}
	cp := *trade
	m.trades[trade.TradeID] = &cp
	return true, nil
}
func (m *memStore) SimTradeExists(ctx context.Context, tradeID string) (bool, error) {
	_, ok := m.trades[tradeID]
	return ok, nil
}
func (m *memStore) MarkSettled(ctx context.Context, tradeID string, price, pnl, pnlPct decimal.Decimal) error {
	return nil
}
func (m *memStore) ListOpenSimTrades(ctx context.Context) ([]models.SimTrade, error) {
	return nil, nil
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

type stubTrades struct {
	byAddr map[string][]polymarketdata.Trade
}

func (s *stubTrades) GetTrades(ctx context.Context, address string, limit int) ([]polymarketdata.Trade, error) {
	return s.byAddr[address], nil
}

type stubBooks struct {
	book *clob.OrderBook
}

func (s *stubBooks) GetBook(ctx context.Context, tokenID string) (*clob.OrderBook, error) {
	return s.book, nil
}

// strongHistory produces a history that profiles to the maximum follow score.
func strongHistory(base int64) []polymarketdata.Trade {
	var out []polymarketdata.Trade
	for i := 0; i < 120; i++ {
		out = append(out, polymarketdata.Trade{
			TxHash:      fmt.Sprintf("h%d", i),
			Side:        "BUY",
			Outcome:     "Yes",
			Price:       0.3,
			Size:        5000,
			ConditionID: fmt.Sprintf("c%d", i%6),
			Title:       fmt.Sprintf("Market %d", i%6),
			Timestamp:   polymarketdata.Seconds(base - int64(i*3600)),
		})
	}
	return out
}

func testEngineConfig() config.Config {
	return config.Config{
		Monitor: config.MonitorConfig{
			TradeFetchLimit: 50,
			MinPollInterval: 500 * time.Millisecond,
			MaxPollInterval: 10 * time.Second,
			MarketFilter:    config.FilterConfig{Enabled: false},
		},
		Profiler: config.ProfilerConfig{
			HistoryLimit:       200,
			CacheTTL:           10 * time.Minute,
			AccumulationWindow: 30 * time.Minute,
			AccumulationRecent: 5 * time.Minute,
			WashWindow:         15 * time.Minute,
		},
		Risk:   config.RiskConfig{SignalTTL: 10 * time.Minute},
		Sizing: config.SizingConfig{WhaleFollowPct: 0.01, MinInvestment: 5, DecayThreshold: 3},
		Simulation: config.SimulationConfig{
			Delays:             []int{0},
			InvestmentPerTrade: 100,
			FeeRate:            0.015,
			MaxBookLevels:      10,
			HardSlippagePct:    5,
		},
	}
}

func newTestEngine(t *testing.T, cfg config.Config, history *stubTrades, store *memStore) *Engine {
	t.Helper()
	books := &stubBooks{book: &clob.OrderBook{
		Asks: []clob.Order{{Price: decimal.RequireFromString("0.56"), Size: decimal.NewFromInt(100000)}},
		Bids: []clob.Order{{Price: decimal.RequireFromString("0.54"), Size: decimal.NewFromInt(100000)}},
	}}
	sim := simulator.New(books, store, cfg.Simulation, nil)
	return New(cfg, Deps{
		Trades:   history,
		Profiles: profiler.New(history, cfg.Profiler, nil),
		Risk:     risk.NewManager(cfg.Risk, nil),
		Sizer:    sizing.New(cfg.Sizing),
		Sim:      sim,
		Filter:   NewMarketFilter(cfg.Monitor.MarketFilter),
	})
}

func observedTrade(tx string) polymarketdata.Trade {
	return polymarketdata.Trade{
		TxHash:      tx,
		Address:     "0xtarget",
		Side:        "BUY",
		Outcome:     "Yes",
		Price:       0.55,
		Size:        2000,
		ConditionID: "cond-live",
		Asset:       "tok-live",
		Title:       "Bitcoin Up or Down - 5 min",
		Timestamp:   polymarketdata.Seconds(time.Now().Unix()),
	}
}

func TestHandleTradeFullPipeline(t *testing.T) {
	base := time.Now().Unix()
	history := &stubTrades{byAddr: map[string][]polymarketdata.Trade{
		"0xtarget": strongHistory(base),
	}}
	store := newMemStore()
	eng := newTestEngine(t, testEngineConfig(), history, store)

	dec := eng.HandleTrade(context.Background(),
		config.TargetAccount{Address: "0xtarget", Nickname: "alpha"},
		observedTrade("tx-1"))

	if !dec.Copied {
		t.Fatalf("decision not copied: %+v", dec)
	}
	if dec.Records != 1 {
		t.Fatalf("records = %d, want one per configured delay", dec.Records)
	}
	if !dec.Investment.IsPositive() {
		t.Fatalf("investment = %s, want positive", dec.Investment)
	}
	rec, ok := store.trades[simulator.TradeID("tx-1", 0)]
	if !ok {
		t.Fatalf("missing sim record")
	}
	if rec.TargetNickname != "alpha" {
		t.Fatalf("nickname = %q, want alpha", rec.TargetNickname)
	}
	if rec.Status != models.TradeStatusOpen {
		t.Fatalf("status = %s, want OPEN", rec.Status)
	}
}

func TestHandleTradeSkipOnEqualOpposition(t *testing.T) {
	base := time.Now().Unix()
	history := &stubTrades{byAddr: map[string][]polymarketdata.Trade{
		"0xtarget": strongHistory(base),
	}}
	store := newMemStore()
	eng := newTestEngine(t, testEngineConfig(), history, store)

	// An equal-strength peer already holds the other side of this market.
	eng.riskMgr.Record("cond-live", risk.Signal{
		Address:     "0xrival",
		Side:        "BUY",
		Outcome:     "No",
		FollowScore: 10,
		SeenAt:      time.Now(),
	})

	dec := eng.HandleTrade(context.Background(),
		config.TargetAccount{Address: "0xtarget"},
		observedTrade("tx-skip"))

	if dec.Copied {
		t.Fatalf("conflicting trade should not be copied")
	}
	if dec.Risk.Action != risk.ActionSkip {
		t.Fatalf("risk action = %s, want SKIP", dec.Risk.Action)
	}
	if len(store.trades) != 0 {
		t.Fatalf("skipped trade persisted %d records", len(store.trades))
	}
}

func TestHandleTradeMarketFiltered(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Monitor.MarketFilter = config.FilterConfig{
		Enabled: true,
		Assets:  []string{"BTC", "Bitcoin"},
	}
	history := &stubTrades{byAddr: map[string][]polymarketdata.Trade{}}
	store := newMemStore()
	eng := newTestEngine(t, cfg, history, store)

	trade := observedTrade("tx-f")
	trade.Title = "Will it rain tomorrow?"
	dec := eng.HandleTrade(context.Background(),
		config.TargetAccount{Address: "0xtarget"}, trade)

	if dec.Copied || dec.Reason != "market filtered" {
		t.Fatalf("decision = %+v, want market filtered", dec)
	}
	if len(store.trades) != 0 {
		t.Fatalf("filtered trade persisted records")
	}
}

func TestHandleTradeAppliesRiskMultiplier(t *testing.T) {
	base := time.Now().Unix()
	history := &stubTrades{byAddr: map[string][]polymarketdata.Trade{
		"0xtarget": strongHistory(base),
	}}
	store := newMemStore()
	eng := newTestEngine(t, testEngineConfig(), history, store)

	baseline := eng.HandleTrade(context.Background(),
		config.TargetAccount{Address: "0xtarget"}, observedTrade("tx-a"))

	// Two aligned peers trigger convergence amplification.
	for _, addr := range []string{"0xpeer1", "0xpeer2"} {
		eng.riskMgr.Record("cond-live", risk.Signal{
			Address: addr, Side: "BUY", Outcome: "Yes",
			FollowScore: 7, SeenAt: time.Now(),
		})
	}
	amplified := eng.HandleTrade(context.Background(),
		config.TargetAccount{Address: "0xtarget"}, observedTrade("tx-b"))

	if amplified.Risk.Action != risk.ActionAmplify {
		t.Fatalf("risk action = %s, want AMPLIFY", amplified.Risk.Action)
	}
	if !amplified.Investment.GreaterThan(baseline.Investment) {
		t.Fatalf("amplified %s should exceed baseline %s",
			amplified.Investment, baseline.Investment)
	}
}

func TestRemoveTargetDemotesToShadow(t *testing.T) {
	cfg := testEngineConfig()
	history := &stubTrades{byAddr: map[string][]polymarketdata.Trade{}}
	eng := newTestEngine(t, cfg, history, newMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.AddTarget(ctx, config.TargetAccount{Address: "0xtarget", Nickname: "alpha", Active: true})
	if len(eng.Targets()) != 1 {
		t.Fatalf("targets = %d, want 1", len(eng.Targets()))
	}
	eng.RemoveTarget("0xtarget")
	if len(eng.Targets()) != 0 {
		t.Fatalf("target not removed")
	}
}
