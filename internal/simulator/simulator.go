package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"polyshadow/internal/client/polymarket/clob"
	polymarketdata "polyshadow/internal/client/polymarket/data"
	"polyshadow/internal/config"
	"polyshadow/internal/models"
	"polyshadow/internal/repository"
)

// BookSource fetches the live order book for a token. The CLOB client
// satisfies it; tests supply a scripted book.
type BookSource interface {
	GetBook(ctx context.Context, tokenID string) (*clob.OrderBook, error)
}

// Request is one sized copy decision ready for fill simulation.
type Request struct {
	Trade          polymarketdata.Trade
	TargetNickname string
	Investment     decimal.Decimal
	RiskNote       string
}

// Simulator replays tracked trades against the live book after configured
// delays and persists the hypothetical fills. It never transmits orders;
// the book is read, never written to.
type Simulator struct {
	books  BookSource
	store  repository.Store
	cfg    config.SimulationConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(books BookSource, store repository.Store, cfg config.SimulationConfig, logger *zap.Logger) *Simulator {
	if len(cfg.Delays) == 0 {
		cfg.Delays = []int{1, 3}
	}
	if cfg.MaxBookLevels <= 0 {
		cfg.MaxBookLevels = 10
	}
	if cfg.HardSlippagePct <= 0 {
		cfg.HardSlippagePct = 5
	}
	return &Simulator{
		books:  books,
		store:  store,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Simulate runs one simulated fill per configured delay, each on its own
// goroutine so a record's delay is measured from the source trade rather
// than from the previous delay finishing. A delay whose record already
// exists is skipped, so replaying an already-seen source trade creates
// nothing. Returns the number of new records written.
func (s *Simulator) Simulate(ctx context.Context, req Request) (int, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		firstErr error
	)
	for _, delay := range s.cfg.Delays {
		wg.Add(1)
		go func(delay int) {
			defer wg.Done()
			ok, err := s.simulateDelay(ctx, req, delay)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				if s.logger != nil && ctx.Err() == nil {
					s.logger.Warn("delay simulation failed",
						zap.String("tx", req.Trade.TxHash),
						zap.Int("delay", delay),
						zap.Error(err))
				}
				return
			}
			if ok {
				created++
			}
		}(delay)
	}
	wg.Wait()
	if ctx.Err() != nil {
		return created, ctx.Err()
	}
	return created, firstErr
}

// TradeID derives the stable record id for a source trade at a given delay.
func TradeID(txHash string, delaySeconds int) string {
	return fmt.Sprintf("%s_%ds", txHash, delaySeconds)
}

func (s *Simulator) simulateDelay(ctx context.Context, req Request, delay int) (bool, error) {
	id := TradeID(req.Trade.TxHash, delay)

	exists, err := s.store.SimTradeExists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("existence check: %w", err)
	}
	if exists {
		return false, nil
	}

	if err := s.sleep(ctx, time.Duration(delay)*time.Second); err != nil {
		// Cancellation abandons the fill without writing anything.
		return false, err
	}

	record := s.baseRecord(req, delay, id)

	book, err := s.books.GetBook(ctx, req.Trade.Asset)
	if err != nil {
		s.markFailed(record, fmt.Sprintf("book fetch failed: %v", err))
		return s.persist(ctx, record)
	}

	fill, reason := s.walkBook(book, req)
	if reason != "" {
		s.markFailed(record, reason)
		return s.persist(ctx, record)
	}

	record.SimPrice = &fill.price
	record.SlippagePct = &fill.slippagePct
	record.SimSuccess = true
	record.Status = models.TradeStatusOpen
	record.SimFee = req.Investment.Mul(decimal.NewFromFloat(s.cfg.FeeRate)).Round(4)
	record.TotalCost = req.Investment.Add(record.SimFee)

	if s.logger != nil {
		s.logger.Info("simulated fill",
			zap.String("trade_id", id),
			zap.String("market", req.Trade.Title),
			zap.String("side", req.Trade.Side),
			zap.String("fill_price", fill.price.String()),
			zap.String("slippage_pct", fill.slippagePct.StringFixed(3)),
			zap.String("investment", req.Investment.StringFixed(2)))
	}
	return s.persist(ctx, record)
}

type fillResult struct {
	price       decimal.Decimal
	slippagePct decimal.Decimal
}

// walkBook computes the volume-weighted fill price for the requested notional
// against the relevant side of the book, consuming up to MaxBookLevels
// levels. A non-empty reason means the fill failed.
func (s *Simulator) walkBook(book *clob.OrderBook, req Request) (fillResult, string) {
	levels := book.Levels(req.Trade.IsBuy())
	if len(levels) == 0 {
		return fillResult{}, "order book side is empty"
	}
	if len(levels) > s.cfg.MaxBookLevels {
		levels = levels[:s.cfg.MaxBookLevels]
	}

	remaining := req.Investment
	cost := decimal.Zero
	shares := decimal.Zero
	for _, lvl := range levels {
		if lvl.Price.IsZero() || !lvl.Size.IsPositive() {
			continue
		}
		levelNotional := lvl.Price.Mul(lvl.Size)
		take := levelNotional
		if take.GreaterThan(remaining) {
			take = remaining
		}
		cost = cost.Add(take)
		shares = shares.Add(take.Div(lvl.Price))
		remaining = remaining.Sub(take)
		if !remaining.IsPositive() {
			break
		}
	}
	if remaining.IsPositive() {
		return fillResult{}, fmt.Sprintf("insufficient liquidity: %s uncovered", remaining.StringFixed(2))
	}
	if !shares.IsPositive() {
		return fillResult{}, "order book side is empty"
	}

	fillPrice := cost.Div(shares)
	target := decimal.NewFromFloat(float64(req.Trade.Price))
	var slippage decimal.Decimal
	if target.IsPositive() {
		slippage = fillPrice.Sub(target).Div(target).Mul(decimal.NewFromInt(100))
	}

	if slippage.Abs().GreaterThan(decimal.NewFromFloat(s.cfg.HardSlippagePct)) {
		return fillResult{}, fmt.Sprintf("slippage %s%% beyond hard limit", slippage.StringFixed(2))
	}
	if s.cfg.EnableSlippageCheck && slippage.Abs().GreaterThan(decimal.NewFromFloat(s.cfg.MaxSlippagePct)) {
		return fillResult{}, fmt.Sprintf("slippage %s%% beyond limit", slippage.StringFixed(2))
	}
	return fillResult{price: fillPrice, slippagePct: slippage}, ""
}

func (s *Simulator) baseRecord(req Request, delay int, id string) *models.SimTrade {
	t := req.Trade
	return &models.SimTrade{
		TradeID:         id,
		TargetAddress:   t.Address,
		TargetNickname:  req.TargetNickname,
		MarketID:        t.Asset,
		MarketName:      t.Title,
		ConditionID:     t.ConditionID,
		EventSlug:       t.EventSlug,
		TargetSide:      t.Side,
		TargetOutcome:   t.Outcome,
		TargetPrice:     decimal.NewFromFloat(float64(t.Price)),
		TargetSize:      decimal.NewFromFloat(float64(t.Size)),
		TargetTimestamp: int64(t.Timestamp),
		SimDelay:        delay,
		SimInvestment:   req.Investment,
		TotalCost:       req.Investment,
		Status:          models.TradeStatusFailed,
	}
}

func (s *Simulator) markFailed(record *models.SimTrade, reason string) {
	record.SimSuccess = false
	record.Status = models.TradeStatusFailed
	record.SimFailureReason = &reason
}

func (s *Simulator) persist(ctx context.Context, record *models.SimTrade) (bool, error) {
	inserted, err := s.store.InsertSimTradeIfAbsent(ctx, record)
	if err != nil {
		return false, fmt.Errorf("persist %s: %w", record.TradeID, err)
	}
	return inserted, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
