package shadow

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polyshadow/internal/client/polymarket/clob"
	polymarketdata "polyshadow/internal/client/polymarket/data"
	"polyshadow/internal/config"
	"polyshadow/internal/models"
	"polyshadow/internal/profiler"
	"polyshadow/internal/repository"
)

type memStore struct {
	saved   map[string]*models.ShadowScorecardRecord
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]*models.ShadowScorecardRecord)}
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
	var out []models.ShadowScorecardRecord
	for _, r := range m.saved {
		out = append(out, *r)
	}
	return out, nil
}
func (m *memStore) SaveScorecard(ctx context.Context, record *models.ShadowScorecardRecord) error {
	cp := *record
	m.saved[record.Address] = &cp
	return nil
}
func (m *memStore) DeleteScorecard(ctx context.Context, address string) error {
	m.deleted = append(m.deleted, address)
	delete(m.saved, address)
	return nil
}
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

type stubProfiles struct {
	prof *profiler.BehaviorProfile
}

func (s *stubProfiles) Profile(ctx context.Context, address string) (*profiler.BehaviorProfile, error) {
	return s.prof, nil
}

func testShadowConfig() config.ShadowConfig {
	return config.ShadowConfig{
		PollInterval:      5 * time.Second,
		TradeFetchLimit:   10,
		FeeRate:           0.015,
		MinTradesVerified: 5,
		MinHoursVerified:  12,
		InactiveHours:     48,
		BaselineWinRate:   38,
		PromotionTopN:     3,
	}
}

func newTestTracker(trades TradeSource, store repository.Store) *Tracker {
	return NewTracker(trades, nil, store, testShadowConfig(), nil)
}

func shadowTrade(tx, cid, side string, price, size float64, ts int64) polymarketdata.Trade {
	return polymarketdata.Trade{
		TxHash:      tx,
		Side:        side,
		Outcome:     "Yes",
		Price:       polymarketdata.Float(price),
		Size:        polymarketdata.Float(size),
		ConditionID: cid,
		Asset:       "tok-" + cid,
		Title:       "Market " + cid,
		Timestamp:   polymarketdata.Seconds(ts),
	}
}

func TestScorecardRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	card := NewScorecard("0xa", "alpha", now)
	card.RecordBuy("c1", "Market c1", "Yes", 0.5, 100, now)
	card.RecordSell("c1", 0.6, 0.015, now.Add(time.Minute))

	rec, err := card.ToRecord()
	if err != nil {
		t.Fatalf("to record: %v", err)
	}
	back, err := FromRecord(rec)
	if err != nil {
		t.Fatalf("from record: %v", err)
	}
	if back.TotalVirtualTrades != 1 || back.VirtualWins != 1 {
		t.Fatalf("restored counters = %d/%d, want 1/1", back.TotalVirtualTrades, back.VirtualWins)
	}
	if len(back.ClosedTrades) != 1 {
		t.Fatalf("restored closed trades = %d, want 1", len(back.ClosedTrades))
	}
}

func TestRecordSellRealizesPnL(t *testing.T) {
	now := time.Now()
	card := NewScorecard("0xa", "", now)
	card.RecordBuy("c1", "m", "Yes", 0.5, 100, now) // $50 notional
	pnl, closed := card.RecordSell("c1", 0.6, 0.015, now)
	if !closed {
		t.Fatalf("sell did not close the position")
	}
	// (0.6-0.5)*100 - 50*0.015 = 10 - 0.75
	if pnl < 9.24 || pnl > 9.26 {
		t.Fatalf("pnl = %v, want 9.25", pnl)
	}
	if card.VirtualWins != 1 || card.TotalVirtualTrades != 1 {
		t.Fatalf("counters = %d wins / %d trades, want 1/1", card.VirtualWins, card.TotalVirtualTrades)
	}
}

func TestRecordSellWithoutPositionIgnored(t *testing.T) {
	now := time.Now()
	card := NewScorecard("0xa", "", now)
	if _, closed := card.RecordSell("c1", 0.6, 0.015, now); closed {
		t.Fatalf("sell with no open position should not close anything")
	}
	if card.TotalVirtualTrades != 0 {
		t.Fatalf("trade count = %d, want 0", card.TotalVirtualTrades)
	}
}

func TestVerificationByTradeCount(t *testing.T) {
	store := newMemStore()
	trades := &stubTrades{byAddr: map[string][]polymarketdata.Trade{}}
	tr := newTestTracker(trades, store)
	tr.Add("0xa", "alpha")

	// Seed poll: history exists but is not replayed.
	base := time.Now().Unix()
	var hist []polymarketdata.Trade
	tr.PollOnce(context.Background())

	// Five winning round-trips arrive across subsequent polls.
	for i := 0; i < 5; i++ {
		cid := "c1"
		hist = append(hist,
			shadowTrade(txID("buy", i), cid, "BUY", 0.5, 100, base+int64(i*10)),
			shadowTrade(txID("sell", i), cid, "SELL", 0.6, 100, base+int64(i*10+5)),
		)
	}
	trades.byAddr["0xa"] = hist
	tr.PollOnce(context.Background())

	cards := tr.Cards()
	if len(cards) != 1 {
		t.Fatalf("cards = %d, want 1", len(cards))
	}
	card := cards[0]
	if card.TotalVirtualTrades != 5 {
		t.Fatalf("virtual trades = %d, want 5", card.TotalVirtualTrades)
	}
	if card.Status != StatusVerified {
		t.Fatalf("status = %s, want SHADOW_VERIFIED", card.Status)
	}
	if card.VirtualWinRate() != 100 {
		t.Fatalf("win rate = %v, want 100", card.VirtualWinRate())
	}
	if store.saved["0xa"] == nil {
		t.Fatalf("scorecard not persisted after sweep")
	}
}

func TestVerificationByAge(t *testing.T) {
	tr := newTestTracker(&stubTrades{byAddr: map[string][]polymarketdata.Trade{}}, newMemStore())
	now := time.Now()
	tr.nowFunc = func() time.Time { return now }
	tr.Add("0xa", "")

	tr.nowFunc = func() time.Time { return now.Add(13 * time.Hour) }
	tr.PollOnce(context.Background())

	if got := tr.Cards()[0].Status; got != StatusVerified {
		t.Fatalf("status = %s, want SHADOW_VERIFIED after 13h", got)
	}
}

func TestEvictionInactive(t *testing.T) {
	store := newMemStore()
	tr := newTestTracker(&stubTrades{byAddr: map[string][]polymarketdata.Trade{}}, store)
	now := time.Now()
	tr.nowFunc = func() time.Time { return now }
	tr.Add("0xa", "")

	tr.nowFunc = func() time.Time { return now.Add(49 * time.Hour) }
	tr.PollOnce(context.Background())

	if len(tr.Cards()) != 0 {
		t.Fatalf("inactive candidate not evicted")
	}
	if len(store.deleted) != 1 || store.deleted[0] != "0xa" {
		t.Fatalf("deleted = %v, want [0xa]", store.deleted)
	}
}

func TestEvictionBelowBaseline(t *testing.T) {
	store := newMemStore()
	trades := &stubTrades{byAddr: map[string][]polymarketdata.Trade{}}
	tr := newTestTracker(trades, store)
	tr.Add("0xa", "")
	tr.PollOnce(context.Background()) // seed

	// Five losing round-trips: win rate 0, below the 38% baseline.
	base := time.Now().Unix()
	var hist []polymarketdata.Trade
	for i := 0; i < 5; i++ {
		hist = append(hist,
			shadowTrade(txID("b", i), "c1", "BUY", 0.6, 100, base+int64(i*10)),
			shadowTrade(txID("s", i), "c1", "SELL", 0.4, 100, base+int64(i*10+5)),
		)
	}
	trades.byAddr["0xa"] = hist
	tr.PollOnce(context.Background())

	if len(tr.Cards()) != 0 {
		t.Fatalf("losing candidate not evicted")
	}
}

func TestDemotedSurvivesInactivity(t *testing.T) {
	tr := newTestTracker(&stubTrades{byAddr: map[string][]polymarketdata.Trade{}}, newMemStore())
	now := time.Now()
	tr.nowFunc = func() time.Time { return now }
	tr.Demote("0xa", "fallen")

	tr.nowFunc = func() time.Time { return now.Add(100 * time.Hour) }
	tr.PollOnce(context.Background())

	cards := tr.Cards()
	if len(cards) != 1 || cards[0].Status != StatusDemoted {
		t.Fatalf("demoted card should persist through inactivity, got %v", cards)
	}
}

func TestPromotableRanksByScore(t *testing.T) {
	tr := newTestTracker(&stubTrades{byAddr: map[string][]polymarketdata.Trade{}}, newMemStore())
	now := time.Now()

	mkVerified := func(addr string, wins, losses int, profit, loss float64) {
		card := tr.Add(addr, "")
		card.Status = StatusVerified
		card.VirtualWins = wins
		card.VirtualLosses = losses
		card.TotalVirtualTrades = wins + losses
		card.TotalProfit = profit
		card.TotalLoss = loss
		card.AddedAt = now.Add(-24 * time.Hour)
	}
	mkVerified("0xbest", 8, 2, 200, 20)
	mkVerified("0xmid", 5, 5, 50, 40)
	mkVerified("0xworst", 3, 7, 10, 60)
	mkVerified("0xempty", 0, 0, 0, 0) // zero score, must be excluded

	top := tr.Promotable()
	if len(top) != 3 {
		t.Fatalf("promotable = %d, want 3", len(top))
	}
	if top[0].Address != "0xbest" {
		t.Fatalf("best = %s, want 0xbest", top[0].Address)
	}
	for i := 1; i < len(top); i++ {
		if top[i].ShadowScore() > top[i-1].ShadowScore() {
			t.Fatalf("promotable not sorted by score")
		}
	}
}

func TestPromoteRemovesCard(t *testing.T) {
	store := newMemStore()
	tr := newTestTracker(&stubTrades{byAddr: map[string][]polymarketdata.Trade{}}, store)
	tr.Add("0xA", "alpha")

	card, ok := tr.Promote(context.Background(), "0xa")
	if !ok || card.Address != "0xA" {
		t.Fatalf("promote failed: %v %v", card, ok)
	}
	if len(tr.Cards()) != 0 {
		t.Fatalf("promoted card still tracked")
	}
	if _, ok := tr.Promote(context.Background(), "0xa"); ok {
		t.Fatalf("second promote should miss")
	}
}

func TestPessimisticEntryUsesBestAsk(t *testing.T) {
	store := newMemStore()
	trades := &stubTrades{byAddr: map[string][]polymarketdata.Trade{}}
	books := &stubBooks{book: &clob.OrderBook{
		Bids: []clob.Order{{Price: decimal.RequireFromString("0.54"), Size: decimal.NewFromInt(100)}},
		Asks: []clob.Order{{Price: decimal.RequireFromString("0.58"), Size: decimal.NewFromInt(100)}},
	}}
	tr := NewTracker(trades, books, store, testShadowConfig(), nil)
	tr.Add("0xa", "")
	tr.PollOnce(context.Background()) // seed

	trades.byAddr["0xa"] = []polymarketdata.Trade{
		shadowTrade("tx1", "c1", "BUY", 0.55, 100, time.Now().Unix()),
	}
	tr.PollOnce(context.Background())

	card := tr.Cards()[0]
	pos := card.OpenPositions["c1"]
	if pos == nil {
		t.Fatalf("position not opened")
	}
	if pos.EntryPrice != 0.58 {
		t.Fatalf("entry = %v, want best ask 0.58", pos.EntryPrice)
	}
}

func TestShadowScoreBlendsProfilerScore(t *testing.T) {
	mk := func(profScore int) *Scorecard {
		card := NewScorecard("0xa", "", time.Now())
		card.VirtualWins = 8
		card.VirtualLosses = 2
		card.TotalVirtualTrades = 10
		card.TotalProfit = 200
		card.TotalLoss = 20
		card.ProfilerScore = profScore
		return card
	}

	// vWR 80% -> 3.2, profit factor 10 capped -> 3.0, consistency 0.8 -> 1.6.
	lo := mk(0).ShadowScore()
	if lo < 7.79 || lo > 7.81 {
		t.Fatalf("score = %v, want 7.8 with zero profiler score", lo)
	}
	hi := mk(10).ShadowScore()
	if hi < 8.79 || hi > 8.81 {
		t.Fatalf("score = %v, want 8.8 with full profiler score", hi)
	}
	if hi <= lo {
		t.Fatalf("identical ledgers must rank by profiler score: hi=%v lo=%v", hi, lo)
	}
}

func TestTrackerRefreshesProfilerScore(t *testing.T) {
	trades := &stubTrades{byAddr: map[string][]polymarketdata.Trade{}}
	tr := newTestTracker(trades, newMemStore())
	tr.SetProfileSource(&stubProfiles{prof: &profiler.BehaviorProfile{
		FollowScore: 7,
		Archetype:   profiler.ArchetypeSniper,
	}})
	tr.Add("0xa", "")
	tr.PollOnce(context.Background()) // seed

	trades.byAddr["0xa"] = []polymarketdata.Trade{
		shadowTrade("tx1", "c1", "BUY", 0.5, 100, time.Now().Unix()),
	}
	tr.PollOnce(context.Background())

	card := tr.Cards()[0]
	if card.ProfilerScore != 7 {
		t.Fatalf("profiler score = %d, want 7", card.ProfilerScore)
	}
	if card.Archetype != string(profiler.ArchetypeSniper) {
		t.Fatalf("archetype = %q, want %q", card.Archetype, profiler.ArchetypeSniper)
	}
}

func TestCardsDetachedFromLiveState(t *testing.T) {
	tr := newTestTracker(&stubTrades{byAddr: map[string][]polymarketdata.Trade{}}, newMemStore())
	now := time.Now()
	live := tr.Add("0xa", "")
	live.RecordBuy("c1", "m", "Yes", 0.5, 100, now)

	snap := tr.Cards()[0]

	live.RecordBuy("c1", "m", "Yes", 0.7, 100, now) // top-up shifts the live entry
	pos := snap.OpenPositions["c1"]
	if pos == nil || pos.Shares != 100 || pos.EntryPrice != 0.5 {
		t.Fatalf("snapshot position changed with the live card: %+v", pos)
	}

	live.RecordSell("c1", 0.6, 0.015, now)
	if len(snap.ClosedTrades) != 0 {
		t.Fatalf("snapshot gained closed trades from the live card")
	}
	if snap.OpenPositions["c1"] == nil {
		t.Fatalf("snapshot lost its position when the live card closed")
	}
}

func TestProfitFactorCaps(t *testing.T) {
	card := NewScorecard("0xa", "", time.Now())
	card.TotalProfit = 50
	if pf := card.ProfitFactor(); pf != 10 {
		t.Fatalf("profit factor = %v, want capped 10 with no losses", pf)
	}
	card.TotalLoss = 25
	if pf := card.ProfitFactor(); pf != 2 {
		t.Fatalf("profit factor = %v, want 2", pf)
	}
}

func TestConsistencyNeedsSample(t *testing.T) {
	card := NewScorecard("0xa", "", time.Now())
	card.TotalVirtualTrades = 2
	card.VirtualWins = 2
	if card.Consistency() != 0 {
		t.Fatalf("consistency should be 0 under 3 trades")
	}
	card.TotalVirtualTrades = 10
	card.VirtualWins = 8
	card.VirtualLosses = 2
	got := card.Consistency()
	if got < 0.79 || got > 0.81 {
		t.Fatalf("consistency = %v, want 0.8", got)
	}
}

func txID(prefix string, i int) string {
	return prefix + "-" + string(rune('a'+i))
}
