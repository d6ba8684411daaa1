package shadow

import (
	"encoding/json"
	"math"
	"time"

	"polyshadow/internal/models"
)

// Scorecard statuses. CANDIDATE accounts are on probation; SHADOW_VERIFIED
// accounts have enough virtual history to be promotion-eligible; DEMOTED
// marks a previously promoted target sent back for re-evaluation.
const (
	StatusCandidate = models.ShadowStatusCandidate
	StatusVerified  = models.ShadowStatusVerified
	StatusDemoted   = models.ShadowStatusDemoted
)

// Position is a virtual holding opened by mirroring a candidate's BUY.
type Position struct {
	ConditionID string    `json:"condition_id"`
	Title       string    `json:"title"`
	Outcome     string    `json:"outcome"`
	EntryPrice  float64   `json:"entry_price"`
	Shares      float64   `json:"shares"`
	Notional    float64   `json:"notional"`
	OpenedAt    time.Time `json:"opened_at"`
}

// ClosedTrade records a completed virtual round-trip.
type ClosedTrade struct {
	ConditionID string    `json:"condition_id"`
	Title       string    `json:"title"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Shares      float64   `json:"shares"`
	PnL         float64   `json:"pnl"`
	ClosedAt    time.Time `json:"closed_at"`
}

// Scorecard is the paper-trading ledger for one candidate address.
type Scorecard struct {
	Address  string `json:"address"`
	Nickname string `json:"nickname"`
	Status   string `json:"status"`

	AddedAt     time.Time  `json:"added_at"`
	LastTradeAt *time.Time `json:"last_trade_at,omitempty"`

	OpenPositions map[string]*Position `json:"open_positions"`
	ClosedTrades  []ClosedTrade        `json:"closed_trades"`

	TotalVirtualTrades int     `json:"total_virtual_trades"`
	VirtualWins        int     `json:"virtual_wins"`
	VirtualLosses      int     `json:"virtual_losses"`
	TotalProfit        float64 `json:"total_profit"`
	TotalLoss          float64 `json:"total_loss"`

	ProfilerScore int    `json:"profiler_score"`
	Archetype     string `json:"archetype"`
}

func NewScorecard(address, nickname string, now time.Time) *Scorecard {
	return &Scorecard{
		Address:       address,
		Nickname:      nickname,
		Status:        StatusCandidate,
		AddedAt:       now,
		OpenPositions: make(map[string]*Position),
	}
}

// RecordBuy opens (or tops up) a virtual position at the entry price.
func (s *Scorecard) RecordBuy(conditionID, title, outcome string, entryPrice, shares float64, now time.Time) {
	if entryPrice <= 0 || shares <= 0 {
		return
	}
	notional := entryPrice * shares
	if pos, ok := s.OpenPositions[conditionID]; ok {
		// Average the entry across adds.
		totalShares := pos.Shares + shares
		pos.EntryPrice = (pos.EntryPrice*pos.Shares + entryPrice*shares) / totalShares
		pos.Shares = totalShares
		pos.Notional += notional
	} else {
		s.OpenPositions[conditionID] = &Position{
			ConditionID: conditionID,
			Title:       title,
			Outcome:     outcome,
			EntryPrice:  entryPrice,
			Shares:      shares,
			Notional:    notional,
			OpenedAt:    now,
		}
	}
	s.LastTradeAt = &now
}

// RecordSell closes the open position in the market, if any, realizing PnL
// at the exit price net of fees. A SELL with no matching position is ignored.
func (s *Scorecard) RecordSell(conditionID string, exitPrice, feeRate float64, now time.Time) (float64, bool) {
	pos, ok := s.OpenPositions[conditionID]
	if !ok || exitPrice <= 0 {
		s.LastTradeAt = &now
		return 0, false
	}
	delete(s.OpenPositions, conditionID)

	fee := pos.Notional * feeRate
	pnl := (exitPrice-pos.EntryPrice)*pos.Shares - fee

	s.ClosedTrades = append(s.ClosedTrades, ClosedTrade{
		ConditionID: conditionID,
		Title:       pos.Title,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Shares:      pos.Shares,
		PnL:         pnl,
		ClosedAt:    now,
	})
	s.TotalVirtualTrades++
	if pnl > 0 {
		s.VirtualWins++
		s.TotalProfit += pnl
	} else {
		s.VirtualLosses++
		s.TotalLoss += -pnl
	}
	s.LastTradeAt = &now
	return pnl, true
}

// VirtualWinRate is the percentage of closed virtual trades that profited.
func (s *Scorecard) VirtualWinRate() float64 {
	closed := s.VirtualWins + s.VirtualLosses
	if closed == 0 {
		return 0
	}
	return float64(s.VirtualWins) / float64(closed) * 100
}

// ProfitFactor is gross profit over gross loss, capped at 10 when the card
// has profit but no losses yet.
func (s *Scorecard) ProfitFactor() float64 {
	if s.TotalLoss == 0 {
		if s.TotalProfit > 0 {
			return 10
		}
		return 0
	}
	return s.TotalProfit / s.TotalLoss
}

// Consistency rewards a sustained win rate over a meaningful sample.
func (s *Scorecard) Consistency() float64 {
	if s.TotalVirtualTrades < 3 || s.VirtualWins == 0 {
		return 0
	}
	depth := math.Min(float64(s.TotalVirtualTrades)/10, 1)
	return s.VirtualWinRate() / 100 * depth
}

// ShadowScore folds the virtual performance into a single 0-10 ranking:
// win rate weighted 4, profit factor 3, consistency 2, and the behavioral
// follow score 1, so two cards with identical virtual ledgers still rank
// by the quality of the underlying trader.
func (s *Scorecard) ShadowScore() float64 {
	vwr := math.Min(s.VirtualWinRate()/100, 1)
	pf := math.Min(s.ProfitFactor()/5, 1)
	cons := s.Consistency()
	prof := math.Min(float64(s.ProfilerScore)/10, 1)
	return vwr*4 + pf*3 + cons*2 + prof*1
}

// Eligible reports whether the card has enough history for verification:
// either a minimum number of closed virtual trades or a minimum time under
// observation.
func (s *Scorecard) Eligible(minTrades int, minHours float64, now time.Time) bool {
	if s.TotalVirtualTrades >= minTrades {
		return true
	}
	return now.Sub(s.AddedAt).Hours() >= minHours
}

// HoursInactive measures time since the candidate's last observed trade,
// falling back to time since tracking began.
func (s *Scorecard) HoursInactive(now time.Time) float64 {
	ref := s.AddedAt
	if s.LastTradeAt != nil {
		ref = *s.LastTradeAt
	}
	return now.Sub(ref).Hours()
}

// clone makes a detached copy sharing no mutable state with the original.
func (s *Scorecard) clone() *Scorecard {
	cp := *s
	cp.OpenPositions = make(map[string]*Position, len(s.OpenPositions))
	for cid, pos := range s.OpenPositions {
		p := *pos
		cp.OpenPositions[cid] = &p
	}
	cp.ClosedTrades = append([]ClosedTrade(nil), s.ClosedTrades...)
	if s.LastTradeAt != nil {
		ts := *s.LastTradeAt
		cp.LastTradeAt = &ts
	}
	return &cp
}

// ToRecord flattens the scorecard into its persistent form.
func (s *Scorecard) ToRecord() (*models.ShadowScorecardRecord, error) {
	openJSON, err := json.Marshal(s.OpenPositions)
	if err != nil {
		return nil, err
	}
	closedJSON, err := json.Marshal(s.ClosedTrades)
	if err != nil {
		return nil, err
	}
	return &models.ShadowScorecardRecord{
		Address:            s.Address,
		Nickname:           s.Nickname,
		Status:             s.Status,
		AddedAt:            s.AddedAt,
		LastTradeAt:        s.LastTradeAt,
		OpenPositions:      openJSON,
		ClosedTrades:       closedJSON,
		TotalVirtualTrades: s.TotalVirtualTrades,
		VirtualWins:        s.VirtualWins,
		VirtualLosses:      s.VirtualLosses,
		TotalProfit:        s.TotalProfit,
		TotalLoss:          s.TotalLoss,
		ProfilerScore:      s.ProfilerScore,
		Archetype:          s.Archetype,
		ShadowScore:        s.ShadowScore(),
	}, nil
}

// FromRecord restores a scorecard from its persistent form.
func FromRecord(rec *models.ShadowScorecardRecord) (*Scorecard, error) {
	s := &Scorecard{
		Address:            rec.Address,
		Nickname:           rec.Nickname,
		Status:             rec.Status,
		AddedAt:            rec.AddedAt,
		LastTradeAt:        rec.LastTradeAt,
		OpenPositions:      make(map[string]*Position),
		TotalVirtualTrades: rec.TotalVirtualTrades,
		VirtualWins:        rec.VirtualWins,
		VirtualLosses:      rec.VirtualLosses,
		TotalProfit:        rec.TotalProfit,
		TotalLoss:          rec.TotalLoss,
		ProfilerScore:      rec.ProfilerScore,
		Archetype:          rec.Archetype,
	}
	if len(rec.OpenPositions) > 0 {
		if err := json.Unmarshal(rec.OpenPositions, &s.OpenPositions); err != nil {
			return nil, err
		}
	}
	if len(rec.ClosedTrades) > 0 {
		if err := json.Unmarshal(rec.ClosedTrades, &s.ClosedTrades); err != nil {
			return nil, err
		}
	}
	if s.OpenPositions == nil {
		s.OpenPositions = make(map[string]*Position)
	}
	return s, nil
}
