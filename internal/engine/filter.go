package engine

import (
	"regexp"
	"strconv"
	"strings"

	polymarketdata "polyshadow/internal/client/polymarket/data"
	"polyshadow/internal/config"
)

var durationPattern = regexp.MustCompile(`\b(\d+)\s*[-–]?\s*(min|minute)`)

// MarketFilter decides which observed markets are worth copying. It keys off
// the market title only, since that is all the trade feed carries.
type MarketFilter struct {
	cfg     config.FilterConfig
	assets  []string
	keys    []string
	exclude []string
}

func NewMarketFilter(cfg config.FilterConfig) *MarketFilter {
	return &MarketFilter{
		cfg:     cfg,
		assets:  lowerAll(cfg.Assets),
		keys:    lowerAll(cfg.Keywords),
		exclude: lowerAll(cfg.ExcludeKeywords),
	}
}

// Allows reports whether the trade's market passes the filter. A disabled
// filter passes everything.
func (f *MarketFilter) Allows(trade polymarketdata.Trade) bool {
	if f == nil || !f.cfg.Enabled {
		return true
	}
	title := strings.ToLower(trade.Title)
	if title == "" {
		return false
	}
	for _, word := range f.exclude {
		if strings.Contains(title, word) {
			return false
		}
	}
	if len(f.assets) > 0 && !containsAny(title, f.assets) {
		return false
	}
	if len(f.keys) > 0 && !containsAny(title, f.keys) {
		return false
	}
	if minutes, ok := titleDurationMinutes(title); ok {
		if f.cfg.MinDurationMinutes > 0 && minutes < f.cfg.MinDurationMinutes {
			return false
		}
		if f.cfg.MaxDurationMinutes > 0 && minutes > f.cfg.MaxDurationMinutes {
			return false
		}
	}
	return true
}

// titleDurationMinutes extracts a market duration like "5 min" or
// "15-minute" from the title.
func titleDurationMinutes(title string) (int, bool) {
	m := durationPattern.FindStringSubmatch(title)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
