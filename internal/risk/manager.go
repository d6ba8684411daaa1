package risk

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"polyshadow/internal/config"
	"polyshadow/internal/profiler"
)

// Action is the risk verdict for a pending copy decision.
type Action string

const (
	ActionProceed Action = "PROCEED"
	ActionReduce  Action = "REDUCE"
	ActionSkip    Action = "SKIP"
	ActionAmplify Action = "AMPLIFY"
)

// Signal is one recorded trade intent from a tracked address on a market.
type Signal struct {
	Address     string
	Nickname    string
	Side        string
	Outcome     string
	FollowScore int
	Archetype   profiler.Archetype
	Notional    float64
	SeenAt      time.Time
}

// Assessment is the outcome of cross-referencing a signal against its peers
// on the same market.
type Assessment struct {
	Action           Action
	Multiplier       float64
	Reason           string
	ConvergenceCount int
	NoiseConfirmed   bool
}

// Manager keeps a short-lived per-market ledger of signals from all tracked
// addresses and arbitrates conflicts between them. All methods are safe for
// concurrent use and never return errors; a market with no recorded peers
// simply assesses as PROCEED.
type Manager struct {
	mu      sync.Mutex
	byCond  map[string][]Signal
	ttl     time.Duration
	logger  *zap.Logger
	nowFunc func() time.Time
}

func NewManager(cfg config.RiskConfig, logger *zap.Logger) *Manager {
	ttl := cfg.SignalTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Manager{
		byCond:  make(map[string][]Signal),
		ttl:     ttl,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Record registers a signal for later cross-referencing. Expired signals on
// the same market are pruned on the way in.
func (m *Manager) Record(conditionID string, sig Signal) {
	if sig.SeenAt.IsZero() {
		sig.SeenAt = m.nowFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byCond[conditionID] = append(m.pruneLocked(conditionID), sig)
}

// Assess compares the candidate signal against live peers on the market.
// Conflicts take precedence over convergence: a stronger opposing trader
// reduces or skips the copy before any amplification is considered.
func (m *Manager) Assess(conditionID string, candidate Signal) Assessment {
	m.mu.Lock()
	live := m.pruneLocked(conditionID)
	m.byCond[conditionID] = live
	// Copy before unlocking: pruneLocked compacts the backing array in
	// place, so a concurrent Record would otherwise race with the scan.
	peers := append([]Signal(nil), live...)
	m.mu.Unlock()

	var opposing []Signal
	aligned := 0
	for _, p := range peers {
		if p.Address == candidate.Address {
			continue
		}
		if isOpposing(candidate, p) {
			opposing = append(opposing, p)
		} else if sameDirection(candidate, p) {
			aligned++
		}
	}

	res := Assessment{Action: ActionProceed, Multiplier: 1.0, Reason: "no conflicting signals"}

	if len(opposing) > 0 {
		strongest := opposing[0]
		for _, o := range opposing[1:] {
			if o.FollowScore > strongest.FollowScore {
				strongest = o
			}
		}
		switch {
		case strongest.FollowScore > candidate.FollowScore:
			res = Assessment{
				Action:     ActionReduce,
				Multiplier: 0.3,
				Reason: fmt.Sprintf("stronger trader %s (score %d) is on the other side",
					peerName(strongest), strongest.FollowScore),
			}
		case strongest.FollowScore == candidate.FollowScore:
			res = Assessment{
				Action:     ActionSkip,
				Multiplier: 0,
				Reason: fmt.Sprintf("equal-score trader %s (score %d) is on the other side",
					peerName(strongest), strongest.FollowScore),
			}
		default:
			res.Reason = fmt.Sprintf("weaker trader %s (score %d) opposes, proceeding",
				peerName(strongest), strongest.FollowScore)
		}

		// A low-quality trader taking the other side is weak evidence the
		// candidate is right.
		if res.Action != ActionSkip &&
			(strongest.Archetype == profiler.ArchetypeNoise || strongest.Archetype == profiler.ArchetypeScalper) {
			if res.Multiplier < 1.3 {
				res.Multiplier = 1.3
			}
			res.NoiseConfirmed = true
			res.Reason += "; opposing trader is noise-grade"
		}
		if res.Action == ActionSkip {
			m.logSkip(conditionID, candidate, res)
			return res
		}
	}

	if aligned >= 2 && res.Action != ActionReduce {
		mult := 1.0 + 0.2*float64(aligned)
		if mult > 1.5 {
			mult = 1.5
		}
		if mult > res.Multiplier {
			res.Multiplier = mult
		}
		res.Action = ActionAmplify
		res.ConvergenceCount = aligned + 1
		res.Reason = fmt.Sprintf("%d tracked traders converge on the same side", aligned+1)
	}

	return res
}

// Snapshot reports live signal counts per market, for the status API.
func (m *Manager) Snapshot() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.byCond))
	for cid := range m.byCond {
		live := m.pruneLocked(cid)
		m.byCond[cid] = live
		if len(live) > 0 {
			out[cid] = len(live)
		}
	}
	return out
}

func (m *Manager) pruneLocked(conditionID string) []Signal {
	cutoff := m.nowFunc().Add(-m.ttl)
	sigs := m.byCond[conditionID]
	live := sigs[:0]
	for _, s := range sigs {
		if s.SeenAt.After(cutoff) {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		delete(m.byCond, conditionID)
		return nil
	}
	return live
}

func (m *Manager) logSkip(conditionID string, candidate Signal, res Assessment) {
	if m.logger == nil {
		return
	}
	m.logger.Info("risk skip",
		zap.String("condition_id", conditionID),
		zap.String("address", candidate.Address),
		zap.String("reason", res.Reason))
}

// isOpposing reports whether two signals take opposite exposure on the same
// market: both buying different outcomes, or opposite sides of the same one.
func isOpposing(a, b Signal) bool {
	bothBuy := a.Side == b.Side && a.Side == "BUY" && a.Outcome != b.Outcome
	flip := a.Side != b.Side && a.Outcome == b.Outcome
	return bothBuy || flip
}

func sameDirection(a, b Signal) bool {
	return a.Side == b.Side && a.Outcome == b.Outcome
}

func peerName(s Signal) string {
	if s.Nickname != "" {
		return s.Nickname
	}
	if len(s.Address) > 10 {
		return s.Address[:10]
	}
	return s.Address
}
