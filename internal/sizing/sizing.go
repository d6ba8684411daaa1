package sizing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"polyshadow/internal/config"
	"polyshadow/internal/profiler"
)

// Input carries everything the sizer needs about one copy decision.
type Input struct {
	BaseInvestment decimal.Decimal
	Profile        *profiler.BehaviorProfile
	// TargetNotional is the tracked trader's dollar size on this fill, used
	// to cap whale-following at a fraction of their exposure.
	TargetNotional decimal.Decimal
	// PreflightScore is an optional recent-form score on a 0-5 scale;
	// negative means unavailable.
	PreflightScore float64
}

// Result is the sized investment plus the adjustments that produced it.
type Result struct {
	Investment  decimal.Decimal
	Adjustments []string
}

// Sizer converts a follow score into a dollar amount. It is stateless; the
// risk multiplier from conflict arbitration is applied by the caller after
// sizing.
type Sizer struct {
	whaleFollowPct decimal.Decimal
	minInvestment  decimal.Decimal
	decayThreshold int
}

func New(cfg config.SizingConfig) *Sizer {
	pct := cfg.WhaleFollowPct
	if pct <= 0 {
		pct = 0.01
	}
	minInv := cfg.MinInvestment
	if minInv <= 0 {
		minInv = 5
	}
	threshold := cfg.DecayThreshold
	if threshold <= 0 {
		threshold = 3
	}
	return &Sizer{
		whaleFollowPct: decimal.NewFromFloat(pct),
		minInvestment:  decimal.NewFromFloat(minInv),
		decayThreshold: threshold,
	}
}

// Size scales the base investment by the profile's follow score and
// confidence, then applies form, whale-cap and decay adjustments. The result
// is floored at the minimum investment and rounded to cents.
func (s *Sizer) Size(in Input) Result {
	prof := in.Profile
	var res Result

	score := 0
	conf := 0.0
	if prof != nil {
		score = prof.FollowScore
		conf = prof.Confidence
	}
	if conf < 0.2 {
		conf = 0.2
	}

	inv := in.BaseInvestment.
		Mul(decimal.NewFromInt(int64(score))).
		Div(decimal.NewFromInt(10)).
		Mul(decimal.NewFromFloat(conf))
	res.Adjustments = note(res.Adjustments, "score %d/10, confidence %.2f", score, conf)

	if in.PreflightScore >= 4 {
		boost := decimal.NewFromFloat(1.0 + (in.PreflightScore-3)*0.1)
		inv = inv.Mul(boost)
		res.Adjustments = note(res.Adjustments, "strong recent form, x%s", boost.StringFixed(2))
	}

	if in.TargetNotional.IsPositive() {
		cap := in.TargetNotional.Mul(s.whaleFollowPct)
		if cap.GreaterThan(s.minInvestment) && inv.GreaterThan(cap) {
			inv = cap
			res.Adjustments = note(res.Adjustments, "capped at %s%% of target size", s.whaleFollowPct.Mul(decimal.NewFromInt(100)).String())
		}
	}

	if prof != nil && score <= s.decayThreshold &&
		prof.Archetype != profiler.ArchetypeSniper &&
		prof.Archetype != profiler.ArchetypePotentialSniper {
		inv = inv.Mul(decimal.NewFromFloat(0.5))
		res.Adjustments = note(res.Adjustments, "low-score decay, halved")
	}

	if inv.LessThan(s.minInvestment) {
		inv = s.minInvestment
		res.Adjustments = note(res.Adjustments, "floored at minimum %s", s.minInvestment.StringFixed(2))
	}

	res.Investment = inv.Round(2)
	return res
}

func note(trail []string, format string, args ...any) []string {
	return append(trail, fmt.Sprintf(format, args...))
}

// Explain renders the adjustment trail for logs.
func (r Result) Explain() string {
	return strings.Join(r.Adjustments, "; ")
}
