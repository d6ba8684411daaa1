package shadow

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"polyshadow/internal/client/polymarket/clob"
	polymarketdata "polyshadow/internal/client/polymarket/data"
	"polyshadow/internal/config"
	"polyshadow/internal/profiler"
	"polyshadow/internal/repository"
)

// TradeSource fetches recent fills for an address.
type TradeSource interface {
	GetTrades(ctx context.Context, address string, limit int) ([]polymarketdata.Trade, error)
}

// BookSource provides the live book for pessimistic entry pricing.
type BookSource interface {
	GetBook(ctx context.Context, tokenID string) (*clob.OrderBook, error)
}

// ProfileSource supplies behavioral profiles so scorecards carry the
// candidate's follow score and archetype alongside the virtual ledger.
type ProfileSource interface {
	Profile(ctx context.Context, address string) (*profiler.BehaviorProfile, error)
}

// Tracker paper-trades candidate addresses before they are trusted with
// simulated capital. Every observed fill is mirrored into the candidate's
// scorecard; cards that prove out become promotion-eligible, cards that rot
// are evicted.
type Tracker struct {
	trades   TradeSource
	books    BookSource
	profiles ProfileSource
	store    repository.Store
	cfg      config.ShadowConfig
	logger   *zap.Logger

	mu     sync.Mutex
	cards  map[string]*Scorecard
	seenTx map[string]map[string]struct{}
	seeded map[string]bool

	nowFunc func() time.Time
}

func NewTracker(trades TradeSource, books BookSource, store repository.Store, cfg config.ShadowConfig, logger *zap.Logger) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.TradeFetchLimit <= 0 {
		cfg.TradeFetchLimit = 10
	}
	if cfg.FeeRate <= 0 {
		cfg.FeeRate = 0.015
	}
	if cfg.MinTradesVerified <= 0 {
		cfg.MinTradesVerified = 5
	}
	if cfg.MinHoursVerified <= 0 {
		cfg.MinHoursVerified = 12
	}
	if cfg.InactiveHours <= 0 {
		cfg.InactiveHours = 48
	}
	if cfg.BaselineWinRate <= 0 {
		cfg.BaselineWinRate = 38
	}
	if cfg.PromotionTopN <= 0 {
		cfg.PromotionTopN = 3
	}
	return &Tracker{
		trades:  trades,
		books:   books,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		cards:   make(map[string]*Scorecard),
		seenTx:  make(map[string]map[string]struct{}),
		seeded:  make(map[string]bool),
		nowFunc: time.Now,
	}
}

// SetProfileSource attaches the behavioral profiler; scorecard scores fold
// in the candidate's follow score once it is set.
func (t *Tracker) SetProfileSource(profiles ProfileSource) {
	t.profiles = profiles
}

// Restore loads persisted scorecards so tracking survives restarts.
func (t *Tracker) Restore(ctx context.Context) error {
	records, err := t.store.ListScorecards(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range records {
		card, err := FromRecord(&records[i])
		if err != nil {
			if t.logger != nil {
				t.logger.Warn("scorecard restore failed",
					zap.String("address", records[i].Address), zap.Error(err))
			}
			continue
		}
		t.cards[key(card.Address)] = card
	}
	if t.logger != nil && len(t.cards) > 0 {
		t.logger.Info("restored shadow scorecards", zap.Int("count", len(t.cards)))
	}
	return nil
}

// Add begins tracking an address. Re-adding an existing candidate is a
// no-op; a DEMOTED card stays DEMOTED so its history is kept.
func (t *Tracker) Add(address, nickname string) *Scorecard {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(address)
	if card, ok := t.cards[k]; ok {
		return card
	}
	card := NewScorecard(address, nickname, t.nowFunc())
	t.cards[k] = card
	if t.logger != nil {
		t.logger.Info("shadow tracking started",
			zap.String("address", address), zap.String("nickname", nickname))
	}
	return card
}

// Demote re-enters a previously promoted target for observation with its
// status marked DEMOTED.
func (t *Tracker) Demote(address, nickname string) *Scorecard {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(address)
	card, ok := t.cards[k]
	if !ok {
		card = NewScorecard(address, nickname, t.nowFunc())
		t.cards[k] = card
	}
	card.Status = StatusDemoted
	return card
}

// Run polls all tracked candidates until the context ends.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.PollOnce(ctx)
		}
	}
}

// PollOnce fetches fresh fills for every candidate, applies them to the
// scorecards, advances lifecycle states and evicts dead cards.
func (t *Tracker) PollOnce(ctx context.Context) {
	for _, addr := range t.addresses() {
		if ctx.Err() != nil {
			return
		}
		t.pollAddress(ctx, addr)
	}
	t.sweep(ctx)
}

func (t *Tracker) pollAddress(ctx context.Context, address string) {
	trades, err := t.trades.GetTrades(ctx, address, t.cfg.TradeFetchLimit)
	if err != nil {
		if t.logger != nil {
			t.logger.Warn("shadow poll failed",
				zap.String("address", address), zap.Error(err))
		}
		return
	}

	k := key(address)
	t.mu.Lock()
	seen := t.seenTx[k]
	if seen == nil {
		seen = make(map[string]struct{})
		t.seenTx[k] = seen
	}
	firstPoll := !t.seeded[k]
	t.seeded[k] = true
	card := t.cards[k]
	t.mu.Unlock()
	if card == nil {
		return
	}

	// Oldest first, so position opens precede their closes.
	sort.Slice(trades, func(i, j int) bool { return trades[i].Timestamp < trades[j].Timestamp })

	for _, trade := range trades {
		if _, dup := seen[trade.TxHash]; dup {
			continue
		}
		seen[trade.TxHash] = struct{}{}
		if firstPoll {
			// The first poll only seeds the seen set; pre-existing history
			// is not replayed as virtual fills.
			continue
		}
		t.applyTrade(ctx, card, trade)
	}
}

func (t *Tracker) applyTrade(ctx context.Context, card *Scorecard, trade polymarketdata.Trade) {
	now := t.nowFunc()
	entry := t.pessimisticPrice(ctx, trade)

	// Profile refresh does I/O, so it happens before the lock.
	followScore := -1
	archetype := ""
	if t.profiles != nil {
		if prof, err := t.profiles.Profile(ctx, card.Address); err == nil && prof != nil {
			followScore = prof.FollowScore
			archetype = string(prof.Archetype)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if followScore >= 0 {
		card.ProfilerScore = followScore
		card.Archetype = archetype
	}
	if trade.IsBuy() {
		shares := float64(trade.Size)
		card.RecordBuy(trade.ConditionID, trade.Title, trade.Outcome, entry, shares, now)
	} else {
		pnl, closed := card.RecordSell(trade.ConditionID, float64(trade.Price), t.cfg.FeeRate, now)
		if closed && t.logger != nil {
			t.logger.Info("virtual position closed",
				zap.String("address", card.Address),
				zap.String("market", trade.Title),
				zap.Float64("pnl", pnl),
				zap.Float64("virtual_win_rate", card.VirtualWinRate()))
		}
	}
	t.advanceLocked(card)
}

// pessimisticPrice assumes the copy fills at the worse side of the spread:
// the best ask when following a BUY, the best bid when following a SELL.
// Book failures fall back to the observed fill price.
func (t *Tracker) pessimisticPrice(ctx context.Context, trade polymarketdata.Trade) float64 {
	observed := float64(trade.Price)
	if t.books == nil || trade.Asset == "" {
		return observed
	}
	book, err := t.books.GetBook(ctx, trade.Asset)
	if err != nil || book == nil {
		return observed
	}
	levels := book.Levels(trade.IsBuy())
	if len(levels) == 0 || !levels[0].Price.IsPositive() {
		return observed
	}
	price, _ := levels[0].Price.Float64()
	return price
}

// advanceLocked moves a CANDIDATE to SHADOW_VERIFIED once eligible.
// Verification never regresses.
func (t *Tracker) advanceLocked(card *Scorecard) {
	if card.Status != StatusCandidate {
		return
	}
	if card.Eligible(t.cfg.MinTradesVerified, t.cfg.MinHoursVerified, t.nowFunc()) {
		card.Status = StatusVerified
		if t.logger != nil {
			t.logger.Info("shadow candidate verified",
				zap.String("address", card.Address),
				zap.Int("virtual_trades", card.TotalVirtualTrades),
				zap.Float64("shadow_score", card.ShadowScore()))
		}
	}
}

// sweep persists every card and evicts the ones that died: candidates gone
// quiet past the inactivity horizon, or proven losers below the baseline
// win rate.
func (t *Tracker) sweep(ctx context.Context) {
	now := t.nowFunc()

	t.mu.Lock()
	var evict []string
	snapshot := make([]*Scorecard, 0, len(t.cards))
	for k, card := range t.cards {
		t.advanceLocked(card)
		if card.Status != StatusDemoted && card.HoursInactive(now) > t.cfg.InactiveHours {
			evict = append(evict, k)
			continue
		}
		if card.TotalVirtualTrades >= t.cfg.MinTradesVerified &&
			card.VirtualWinRate() < t.cfg.BaselineWinRate {
			evict = append(evict, k)
			continue
		}
		snapshot = append(snapshot, card)
	}
	evicted := make([]*Scorecard, 0, len(evict))
	for _, k := range evict {
		evicted = append(evicted, t.cards[k])
		delete(t.cards, k)
		delete(t.seenTx, k)
		delete(t.seeded, k)
	}
	t.mu.Unlock()

	for _, card := range evicted {
		if t.logger != nil {
			t.logger.Info("shadow candidate evicted",
				zap.String("address", card.Address),
				zap.Float64("virtual_win_rate", card.VirtualWinRate()),
				zap.Float64("hours_inactive", card.HoursInactive(now)))
		}
		if err := t.store.DeleteScorecard(ctx, card.Address); err != nil && t.logger != nil {
			t.logger.Warn("scorecard delete failed",
				zap.String("address", card.Address), zap.Error(err))
		}
	}
	for _, card := range snapshot {
		t.saveCard(ctx, card)
	}
}

// Snapshot persists all live scorecards; the cron schedule drives it.
func (t *Tracker) Snapshot(ctx context.Context) {
	t.mu.Lock()
	cards := make([]*Scorecard, 0, len(t.cards))
	for _, card := range t.cards {
		cards = append(cards, card)
	}
	t.mu.Unlock()
	for _, card := range cards {
		t.saveCard(ctx, card)
	}
}

func (t *Tracker) saveCard(ctx context.Context, card *Scorecard) {
	t.mu.Lock()
	rec, err := card.ToRecord()
	t.mu.Unlock()
	if err != nil {
		if t.logger != nil {
			t.logger.Warn("scorecard encode failed",
				zap.String("address", card.Address), zap.Error(err))
		}
		return
	}
	if err := t.store.SaveScorecard(ctx, rec); err != nil && t.logger != nil {
		t.logger.Warn("scorecard save failed",
			zap.String("address", card.Address), zap.Error(err))
	}
}

// Promotable returns the verified candidates worth promoting, best first:
// top-N by shadow score among SHADOW_VERIFIED cards with a positive score.
func (t *Tracker) Promotable() []*Scorecard {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.nowFunc()
	var out []*Scorecard
	for _, card := range t.cards {
		if card.Status != StatusVerified {
			continue
		}
		if card.ShadowScore() <= 0 {
			continue
		}
		if !card.Eligible(t.cfg.MinTradesVerified, t.cfg.MinHoursVerified, now) {
			continue
		}
		out = append(out, card)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShadowScore() > out[j].ShadowScore() })
	if len(out) > t.cfg.PromotionTopN {
		out = out[:t.cfg.PromotionTopN]
	}
	return out
}

// Promote removes a candidate from shadow tracking and hands its card to
// the caller, which is expected to start live simulation for the address.
func (t *Tracker) Promote(ctx context.Context, address string) (*Scorecard, bool) {
	t.mu.Lock()
	k := key(address)
	card, ok := t.cards[k]
	if ok {
		delete(t.cards, k)
		delete(t.seenTx, k)
		delete(t.seeded, k)
	}
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	if err := t.store.DeleteScorecard(ctx, card.Address); err != nil && t.logger != nil {
		t.logger.Warn("scorecard delete failed",
			zap.String("address", card.Address), zap.Error(err))
	}
	if t.logger != nil {
		t.logger.Info("shadow candidate promoted",
			zap.String("address", card.Address),
			zap.Float64("shadow_score", card.ShadowScore()))
	}
	return card, true
}

// Cards returns a point-in-time copy of all scorecards for the status API.
// Positions and closed trades are copied too, so callers can marshal the
// result while the polling goroutine keeps mutating the live cards.
func (t *Tracker) Cards() []*Scorecard {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Scorecard, 0, len(t.cards))
	for _, card := range t.cards {
		out = append(out, card.clone())
	}
	return out
}

func (t *Tracker) addresses() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.cards))
	for _, card := range t.cards {
		out = append(out, card.Address)
	}
	return out
}

func key(address string) string {
	return strings.ToLower(address)
}
