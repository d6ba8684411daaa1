package profiler

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"polyshadow/internal/cache"
	polymarketdata "polyshadow/internal/client/polymarket/data"
	"polyshadow/internal/config"
)

// Archetype labels a trading behavior class. Classification is first-match
// down the list in classify.
type Archetype string

const (
	ArchetypeSniper          Archetype = "SNIPER"
	ArchetypePotentialSniper Archetype = "POTENTIAL_SNIPER"
	ArchetypeWhale           Archetype = "WHALE"
	ArchetypeScalper         Archetype = "SCALPER"
	ArchetypeNoise           Archetype = "NOISE"
	ArchetypeUnknown         Archetype = "UNKNOWN"
)

// AccumulationPattern describes clustered same-market buying.
type AccumulationPattern struct {
	Score        float64   `json:"score"`
	Active       bool      `json:"active"`
	ConditionID  string    `json:"condition_id,omitempty"`
	MarketTitle  string    `json:"market_title,omitempty"`
	BuyCount     int       `json:"buy_count"`
	LastBuyAgoS  float64   `json:"last_buy_ago_s"`
	WindowStart  time.Time `json:"window_start,omitempty"`
	TotalBought  float64   `json:"total_bought"`
	AvgIntervalS float64   `json:"avg_interval_s"`
}

// BehaviorProfile is the full statistical read of one address.
type BehaviorProfile struct {
	Address           string              `json:"address"`
	Archetype         Archetype           `json:"archetype"`
	Confidence        float64             `json:"confidence"`
	TradeCount        int                 `json:"trade_count"`
	AvgTradeSize      float64             `json:"avg_trade_size"`
	MedianTradeSize   float64             `json:"median_trade_size"`
	MaxTradeSize      float64             `json:"max_trade_size"`
	TradesPerHour     float64             `json:"trades_per_hour"`
	WinRateProxy      float64             `json:"win_rate_proxy"`
	MarketsTraded     int                 `json:"markets_traded"`
	Concentration     float64             `json:"concentration"`
	BuyRatio          float64             `json:"buy_ratio"`
	Accumulation      AccumulationPattern `json:"accumulation"`
	WashScore         float64             `json:"wash_score"`
	FollowScore       int                 `json:"follow_score"`
	PollInterval      time.Duration       `json:"poll_interval"`
	FirstTradeAt      time.Time           `json:"first_trade_at,omitempty"`
	LastTradeAt       time.Time           `json:"last_trade_at,omitempty"`
	ProfiledAt        time.Time           `json:"profiled_at"`
	EstimatedNotional float64             `json:"estimated_notional"`
}

// TradeSource fetches recent fills for an address. The Data-API client
// satisfies it; tests supply stubs.
type TradeSource interface {
	GetTrades(ctx context.Context, address string, limit int) ([]polymarketdata.Trade, error)
}

// Profiler builds and caches behavior profiles for tracked addresses.
type Profiler struct {
	source TradeSource
	cfg    config.ProfilerConfig
	logger *zap.Logger
	cache  *cache.TTL[string, *BehaviorProfile]
}

func New(source TradeSource, cfg config.ProfilerConfig, logger *zap.Logger) *Profiler {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 200
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.AccumulationWindow <= 0 {
		cfg.AccumulationWindow = 30 * time.Minute
	}
	if cfg.AccumulationRecent <= 0 {
		cfg.AccumulationRecent = 5 * time.Minute
	}
	if cfg.WashWindow <= 0 {
		cfg.WashWindow = 15 * time.Minute
	}
	return &Profiler{
		source: source,
		cfg:    cfg,
		logger: logger,
		cache:  cache.NewTTL[string, *BehaviorProfile](cfg.CacheTTL),
	}
}

// Profile returns the cached profile for address, refreshing it when stale.
// An address with no visible history yields an UNKNOWN profile with zero
// confidence rather than an error.
func (p *Profiler) Profile(ctx context.Context, address string) (*BehaviorProfile, error) {
	addr := strings.ToLower(address)
	if prof, ok := p.cache.Get(addr); ok {
		return prof, nil
	}
	trades, err := p.source.GetTrades(ctx, address, p.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	prof := p.Build(address, trades, time.Now())
	p.cache.Set(addr, prof)
	if p.logger != nil {
		p.logger.Debug("profiled address",
			zap.String("address", address),
			zap.String("archetype", string(prof.Archetype)),
			zap.Int("follow_score", prof.FollowScore),
			zap.Int("trades", prof.TradeCount))
	}
	return prof, nil
}

// Invalidate drops the cached profile so the next Profile call refreshes.
func (p *Profiler) Invalidate(address string) {
	p.cache.Delete(strings.ToLower(address))
}

// Cached returns the profile only if a fresh one is already cached.
func (p *Profiler) Cached(address string) (*BehaviorProfile, bool) {
	return p.cache.Get(strings.ToLower(address))
}

// Build computes a profile from raw trade history. now anchors the
// recency-sensitive metrics so tests stay deterministic.
func (p *Profiler) Build(address string, trades []polymarketdata.Trade, now time.Time) *BehaviorProfile {
	prof := &BehaviorProfile{
		Address:      address,
		Archetype:    ArchetypeUnknown,
		PollInterval: 2 * time.Second,
		ProfiledAt:   now,
	}
	if len(trades) == 0 {
		return prof
	}
	if len(trades) > p.cfg.HistoryLimit {
		trades = trades[:p.cfg.HistoryLimit]
	}

	notionals := make([]float64, 0, len(trades))
	byMarket := make(map[string]float64)
	buys := 0
	good := 0
	var total float64
	var firstTS, lastTS int64
	for _, t := range trades {
		n := t.Notional()
		notionals = append(notionals, n)
		total += n
		byMarket[t.ConditionID] += n
		if t.IsBuy() {
			buys++
			if float64(t.Price) < 0.5 {
				good++
			}
		} else if float64(t.Price) > 0.5 {
			good++
		}
		ts := int64(t.Timestamp)
		if firstTS == 0 || ts < firstTS {
			firstTS = ts
		}
		if ts > lastTS {
			lastTS = ts
		}
	}

	prof.TradeCount = len(trades)
	prof.AvgTradeSize = total / float64(len(trades))
	prof.MedianTradeSize = median(notionals)
	prof.MaxTradeSize = maxOf(notionals)
	prof.WinRateProxy = float64(good) / float64(len(trades)) * 100
	prof.MarketsTraded = len(byMarket)
	prof.BuyRatio = float64(buys) / float64(len(trades))
	prof.EstimatedNotional = total
	prof.FirstTradeAt = time.Unix(firstTS, 0).UTC()
	prof.LastTradeAt = time.Unix(lastTS, 0).UTC()

	spanHours := float64(lastTS-firstTS) / 3600
	if spanHours < 1 {
		spanHours = 1
	}
	prof.TradesPerHour = float64(len(trades)) / spanHours

	var topShare float64
	for _, n := range byMarket {
		if share := n / total; share > topShare {
			topShare = share
		}
	}
	prof.Concentration = topShare

	prof.Accumulation = p.detectAccumulation(trades, now)
	prof.WashScore = p.detectWash(trades)
	prof.Confidence = confidenceFor(len(trades))
	prof.Archetype = classify(prof)
	prof.FollowScore = followScore(prof)
	prof.PollInterval = pollInterval(prof)
	return prof
}

func confidenceFor(n int) float64 {
	switch {
	case n >= 100:
		return 1.0
	case n >= 50:
		return 0.8
	case n >= 20:
		return 0.5
	default:
		return 0.2
	}
}

// detectAccumulation looks for clusters of same-market buys inside the
// accumulation window. The best-scoring cluster wins; a cluster is "active"
// only when its latest buy is recent enough to still be in progress.
func (p *Profiler) detectAccumulation(trades []polymarketdata.Trade, now time.Time) AccumulationPattern {
	type buy struct {
		ts       int64
		notional float64
		title    string
	}
	groups := make(map[string][]buy)
	for _, t := range trades {
		if !t.IsBuy() {
			continue
		}
		groups[t.ConditionID] = append(groups[t.ConditionID], buy{
			ts:       int64(t.Timestamp),
			notional: t.Notional(),
			title:    t.Title,
		})
	}

	window := int64(p.cfg.AccumulationWindow / time.Second)
	var best AccumulationPattern
	for cid, bs := range groups {
		if len(bs) < 3 {
			continue
		}
		sort.Slice(bs, func(i, j int) bool { return bs[i].ts < bs[j].ts })
		// Only the most recent cluster that fits in the window counts.
		start := 0
		for start < len(bs) && bs[len(bs)-1].ts-bs[start].ts > window {
			start++
		}
		cluster := bs[start:]
		if len(cluster) < 3 {
			continue
		}

		intervals := make([]float64, 0, len(cluster)-1)
		sizes := make([]float64, 0, len(cluster))
		var totalBought float64
		for i, b := range cluster {
			sizes = append(sizes, b.notional)
			totalBought += b.notional
			if i > 0 {
				intervals = append(intervals, float64(b.ts-cluster[i-1].ts))
			}
		}
		regularity := 1 - coefficientOfVariation(intervals)
		if regularity < 0 {
			regularity = 0
		}
		sizeConsistency := 1 - coefficientOfVariation(sizes)
		if sizeConsistency < 0 {
			sizeConsistency = 0
		}
		density := math.Min(float64(len(cluster))/10, 1)
		score := 0.4*regularity + 0.3*sizeConsistency + 0.3*density
		if score <= best.Score {
			continue
		}
		last := cluster[len(cluster)-1]
		ago := now.Sub(time.Unix(last.ts, 0)).Seconds()
		var avgInterval float64
		if len(intervals) > 0 {
			avgInterval = mean(intervals)
		}
		best = AccumulationPattern{
			Score:        score,
			Active:       score > 0.4 && ago < p.cfg.AccumulationRecent.Seconds(),
			ConditionID:  cid,
			MarketTitle:  last.title,
			BuyCount:     len(cluster),
			LastBuyAgoS:  ago,
			WindowStart:  time.Unix(cluster[0].ts, 0).UTC(),
			TotalBought:  totalBought,
			AvgIntervalS: avgInterval,
		}
	}
	return best
}

// detectWash scores self-hedging: pairs of trades close in time on
// near-identical markets taking opposing exposure. Titles are keyed on a
// 30-char prefix so "Bitcoin Up or Down - June 1, 3am" variants collide.
func (p *Profiler) detectWash(trades []polymarketdata.Trade) float64 {
	if len(trades) < 10 {
		return 0
	}
	type leg struct {
		ts      int64
		buy     bool
		outcome string
	}
	keyed := make(map[string][]leg)
	for _, t := range trades {
		key := strings.ToLower(t.Title)
		if len(key) > 30 {
			key = key[:30]
		}
		keyed[key] = append(keyed[key], leg{
			ts:      int64(t.Timestamp),
			buy:     t.IsBuy(),
			outcome: strings.ToLower(t.Outcome),
		})
	}
	if len(keyed) < 4 {
		return 0
	}

	window := int64(p.cfg.WashWindow / time.Second)
	var pairs, opposing int
	for _, legs := range keyed {
		for i := 0; i < len(legs); i++ {
			for j := i + 1; j < len(legs); j++ {
				dt := legs[i].ts - legs[j].ts
				if dt < 0 {
					dt = -dt
				}
				if dt > window {
					continue
				}
				pairs++
				bothBuyDiffOutcome := legs[i].buy && legs[j].buy && legs[i].outcome != legs[j].outcome
				oppositeSideSameOutcome := legs[i].buy != legs[j].buy && legs[i].outcome == legs[j].outcome
				if bothBuyDiffOutcome || oppositeSideSameOutcome {
					opposing++
				}
			}
		}
	}
	if pairs == 0 {
		return 0
	}
	score := float64(opposing) / float64(pairs)
	return clampFloat(score, 0, 1)
}

func classify(p *BehaviorProfile) Archetype {
	switch {
	case p.TradesPerHour < 5 && p.AvgTradeSize > 100 && p.WinRateProxy > 55 && p.MarketsTraded >= 3:
		return ArchetypeSniper
	case p.WinRateProxy > 50 &&
		(p.Accumulation.Score > 0.4 || p.AvgTradeSize > 80) &&
		p.WashScore < 0.5 && p.MarketsTraded >= 3:
		return ArchetypePotentialSniper
	case p.AvgTradeSize > 500 && p.TradeCount >= 20:
		return ArchetypeWhale
	case p.TradesPerHour > 10 && p.AvgTradeSize < 50:
		return ArchetypeScalper
	case p.AvgTradeSize < 20 || (p.WinRateProxy < 45 && p.TradeCount >= 30):
		return ArchetypeNoise
	default:
		return ArchetypeUnknown
	}
}

func followScore(p *BehaviorProfile) int {
	score := 5

	switch {
	case p.WinRateProxy >= 65:
		score += 2
	case p.WinRateProxy >= 55:
		score++
	case p.WinRateProxy < 45:
		score -= 2
	}

	switch {
	case p.AvgTradeSize > 1000:
		score++
	case p.AvgTradeSize < 20:
		score -= 2
	}

	switch p.Archetype {
	case ArchetypeSniper:
		score += 2
	case ArchetypePotentialSniper:
		score++
	case ArchetypeScalper:
		score -= 3
	case ArchetypeNoise:
		score -= 3
	}

	if p.Confidence < 0.5 {
		score--
	}
	if p.MarketsTraded >= 5 {
		score++
	}

	if p.Accumulation.Active {
		score += 2
	} else if p.Accumulation.Score > 0.5 {
		score++
	}

	if p.WashScore > 0.5 {
		score -= 2
	} else if p.WashScore > 0.3 {
		score--
	}

	return clampInt(score, 0, 10)
}

func pollInterval(p *BehaviorProfile) time.Duration {
	var iv time.Duration
	switch p.Archetype {
	case ArchetypeSniper, ArchetypePotentialSniper:
		iv = 500 * time.Millisecond
	case ArchetypeWhale:
		iv = time.Second
	case ArchetypeScalper:
		iv = 5 * time.Second
	case ArchetypeNoise:
		iv = 10 * time.Second
	default:
		iv = 2 * time.Second
	}
	if p.Accumulation.Active && iv > 500*time.Millisecond {
		iv = 500 * time.Millisecond
	}
	return iv
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func maxOf(vals []float64) float64 {
	var m float64
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}

// coefficientOfVariation returns stddev/mean, 0 for degenerate inputs.
func coefficientOfVariation(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	if m == 0 {
		return 0
	}
	var ss float64
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss/float64(len(vals))) / m
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
