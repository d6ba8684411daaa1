package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	polymarketdata "polyshadow/internal/client/polymarket/data"
	"polyshadow/internal/config"
	"polyshadow/internal/profiler"
	"polyshadow/internal/risk"
	"polyshadow/internal/shadow"
	"polyshadow/internal/simulator"
	"polyshadow/internal/sizing"
)

// TradeSource fetches recent fills for an address.
type TradeSource interface {
	GetTrades(ctx context.Context, address string, limit int) ([]polymarketdata.Trade, error)
}

// Engine runs the copy decision pipeline: watch targets, profile them,
// arbitrate conflicting signals, size the copy and hand it to the fill
// simulator. It never places real orders; the simulator is the only sink.
type Engine struct {
	trades   TradeSource
	profiles *profiler.Profiler
	riskMgr  *risk.Manager
	sizer    *sizing.Sizer
	sim      *simulator.Simulator
	filter   *MarketFilter
	tracker  *shadow.Tracker
	cfg      config.Config
	logger   *zap.Logger

	mu      sync.Mutex
	targets map[string]config.TargetAccount
	cancels map[string]context.CancelFunc

	wg      sync.WaitGroup
	started time.Time
}

type Deps struct {
	Trades   TradeSource
	Profiles *profiler.Profiler
	Risk     *risk.Manager
	Sizer    *sizing.Sizer
	Sim      *simulator.Simulator
	Filter   *MarketFilter
	Tracker  *shadow.Tracker
	Logger   *zap.Logger
}

func New(cfg config.Config, deps Deps) *Engine {
	return &Engine{
		trades:   deps.Trades,
		profiles: deps.Profiles,
		riskMgr:  deps.Risk,
		sizer:    deps.Sizer,
		sim:      deps.Sim,
		filter:   deps.Filter,
		tracker:  deps.Tracker,
		cfg:      cfg,
		logger:   deps.Logger,
		targets:  make(map[string]config.TargetAccount),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Run starts one watch loop per active target plus the shadow pool, and
// blocks until the context ends and all loops drain.
func (e *Engine) Run(ctx context.Context) {
	e.started = time.Now()

	for _, target := range e.cfg.ActiveTargets() {
		e.AddTarget(ctx, target)
	}

	if e.tracker != nil {
		for _, cand := range e.cfg.Candidates {
			if cand.Active {
				e.tracker.Add(cand.Address, cand.Nickname)
			}
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.tracker.Run(ctx)
		}()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.promotionLoop(ctx)
		}()
	}

	<-ctx.Done()
	e.wg.Wait()
}

// AddTarget starts watching an address. Watching an address twice is a
// no-op.
func (e *Engine) AddTarget(ctx context.Context, target config.TargetAccount) {
	e.mu.Lock()
	if _, ok := e.cancels[target.Address]; ok {
		e.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	e.targets[target.Address] = target
	e.cancels[target.Address] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.watchTarget(watchCtx, target)
	}()
	if e.logger != nil {
		e.logger.Info("watching target",
			zap.String("address", target.Address),
			zap.String("nickname", target.Nickname))
	}
}

// RemoveTarget stops watching an address and, when a shadow tracker is
// attached, demotes it back into the observation pool.
func (e *Engine) RemoveTarget(address string) {
	e.mu.Lock()
	cancel, ok := e.cancels[address]
	target := e.targets[address]
	delete(e.cancels, address)
	delete(e.targets, address)
	e.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	if e.tracker != nil {
		e.tracker.Demote(address, target.Nickname)
	}
	if e.logger != nil {
		e.logger.Info("target removed", zap.String("address", address))
	}
}

// Targets lists the currently watched accounts.
func (e *Engine) Targets() []config.TargetAccount {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]config.TargetAccount, 0, len(e.targets))
	for _, t := range e.targets {
		out = append(out, t)
	}
	return out
}

// Started reports when the engine began running.
func (e *Engine) Started() time.Time { return e.started }

// watchTarget polls one address for fresh fills. The first successful fetch
// only seeds the seen set so pre-existing history is not replayed. The poll
// cadence follows the target's archetype, clamped to the configured bounds.
func (e *Engine) watchTarget(ctx context.Context, target config.TargetAccount) {
	seen := make(map[string]struct{})
	seeded := false
	interval := e.clampInterval(2 * time.Second)

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		trades, err := e.trades.GetTrades(ctx, target.Address, e.cfg.Monitor.TradeFetchLimit)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if e.logger != nil {
				e.logger.Warn("trade poll failed",
					zap.String("address", target.Address), zap.Error(err))
			}
			continue
		}

		fresh := make([]polymarketdata.Trade, 0, len(trades))
		for _, t := range trades {
			if _, dup := seen[t.TxHash]; dup {
				continue
			}
			seen[t.TxHash] = struct{}{}
			if seeded {
				fresh = append(fresh, t)
			}
		}
		seeded = true

		for _, t := range fresh {
			e.HandleTrade(ctx, target, t)
		}

		if prof, ok := e.profiles.Cached(target.Address); ok {
			interval = e.clampInterval(prof.PollInterval)
		}
	}
}

// Decision captures what the pipeline did with one observed trade, for logs
// and tests.
type Decision struct {
	Copied     bool
	Reason     string
	Investment decimal.Decimal
	Risk       risk.Assessment
	Records    int
}

// HandleTrade runs the full pipeline for one observed fill.
func (e *Engine) HandleTrade(ctx context.Context, target config.TargetAccount, trade polymarketdata.Trade) Decision {
	if !e.filter.Allows(trade) {
		return Decision{Reason: "market filtered"}
	}

	prof, err := e.profiles.Profile(ctx, target.Address)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("profile fetch failed",
				zap.String("address", target.Address), zap.Error(err))
		}
		return Decision{Reason: "profile unavailable"}
	}

	sig := risk.Signal{
		Address:     target.Address,
		Nickname:    target.Nickname,
		Side:        trade.Side,
		Outcome:     trade.Outcome,
		FollowScore: prof.FollowScore,
		Archetype:   prof.Archetype,
		Notional:    trade.Notional(),
	}
	e.riskMgr.Record(trade.ConditionID, sig)

	assessment := e.riskMgr.Assess(trade.ConditionID, sig)
	if assessment.Action == risk.ActionSkip {
		if e.logger != nil {
			e.logger.Info("copy skipped",
				zap.String("address", target.Address),
				zap.String("market", trade.Title),
				zap.String("reason", assessment.Reason))
		}
		return Decision{Reason: assessment.Reason, Risk: assessment}
	}

	sized := e.sizer.Size(sizing.Input{
		BaseInvestment: decimal.NewFromFloat(e.cfg.Simulation.InvestmentPerTrade),
		Profile:        prof,
		TargetNotional: decimal.NewFromFloat(trade.Notional()),
		PreflightScore: -1,
	})
	investment := sized.Investment.
		Mul(decimal.NewFromFloat(assessment.Multiplier)).
		Round(2)
	if !investment.IsPositive() {
		return Decision{Reason: "sized to zero", Risk: assessment}
	}

	if e.logger != nil {
		e.logger.Info("copying trade",
			zap.String("address", target.Address),
			zap.String("market", trade.Title),
			zap.String("side", trade.Side),
			zap.String("outcome", trade.Outcome),
			zap.String("investment", investment.StringFixed(2)),
			zap.String("risk_action", string(assessment.Action)),
			zap.String("sizing", sized.Explain()))
	}

	created, err := e.sim.Simulate(ctx, simulator.Request{
		Trade:          trade,
		TargetNickname: target.Nickname,
		Investment:     investment,
		RiskNote:       assessment.Reason,
	})
	if err != nil && e.logger != nil {
		e.logger.Warn("simulation incomplete",
			zap.String("tx", trade.TxHash), zap.Error(err))
	}
	return Decision{
		Copied:     created > 0,
		Investment: investment,
		Risk:       assessment,
		Records:    created,
	}
}

// promotionLoop periodically graduates the best shadow candidates into live
// targets.
func (e *Engine) promotionLoop(ctx context.Context) {
	interval := e.cfg.Shadow.PollInterval * 12
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
			for _, card := range e.tracker.Promotable() {
				promoted, ok := e.tracker.Promote(ctx, card.Address)
				if !ok {
					continue
				}
				e.AddTarget(ctx, config.TargetAccount{
					Address:  promoted.Address,
					Nickname: promoted.Nickname,
					Active:   true,
				})
			}
		}
	}
}

func (e *Engine) clampInterval(d time.Duration) time.Duration {
	if min := e.cfg.Monitor.MinPollInterval; min > 0 && d < min {
		d = min
	}
	if max := e.cfg.Monitor.MaxPollInterval; max > 0 && d > max {
		d = max
	}
	if d <= 0 {
		d = 2 * time.Second
	}
	return d
}
