package gormrepository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"polyshadow/internal/models"
	"polyshadow/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Sim trades -------------------------------------------------------------

// InsertSimTradeIfAbsent inserts the record unless a row with the same
// trade_id already exists. Returns true when a new row was written.
func (s *Store) InsertSimTradeIfAbsent(ctx context.Context, trade *models.SimTrade) (bool, error) {
	if s == nil || s.db == nil || trade == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_id"}},
		DoNothing: true,
	}).Create(trade)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) SimTradeExists(ctx context.Context, tradeID string) (bool, error) {
	if s == nil || s.db == nil || tradeID == "" {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&models.SimTrade{}).
		Where("trade_id = ?", tradeID).
		Count(&count).Error
	return count > 0, err
}

// MarkSettled transitions an OPEN record to SETTLED. Rows already settled or
// failed are left untouched, which keeps settlement replayable.
func (s *Store) MarkSettled(ctx context.Context, tradeID string, price, pnl, pnlPct decimal.Decimal) error {
	if s == nil || s.db == nil || tradeID == "" {
		return nil
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.SimTrade{}).
		Where("trade_id = ? AND status = ?", tradeID, models.TradeStatusOpen).
		Updates(map[string]any{
			"status":           models.TradeStatusSettled,
			"settlement_price": price,
			"pnl":              pnl,
			"pnl_pct":          pnlPct,
			"settled_at":       now,
		}).Error
}

func (s *Store) ListOpenSimTrades(ctx context.Context) ([]models.SimTrade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var out []models.SimTrade
	err := s.db.WithContext(ctx).
		Where("status = ?", models.TradeStatusOpen).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (s *Store) ListSimTrades(ctx context.Context, params repository.ListSimTradesParams) ([]models.SimTrade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SimTrade{})
	if params.TargetAddress != "" {
		query = query.Where("target_address = ?", params.TargetAddress)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Since != nil {
		query = query.Where("created_at >= ?", *params.Since)
	}
	limit := params.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []models.SimTrade
	err := query.Order("created_at DESC").Limit(limit).Offset(params.Offset).Find(&out).Error
	return out, err
}

// --- Market cache -----------------------------------------------------------

func (s *Store) GetCachedMarket(ctx context.Context, conditionID string) (*models.MarketCacheEntry, error) {
	if s == nil || s.db == nil || conditionID == "" {
		return nil, nil
	}
	var entry models.MarketCacheEntry
	err := s.db.WithContext(ctx).
		Where("condition_id = ?", conditionID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) UpsertMarketCache(ctx context.Context, entry *models.MarketCacheEntry) error {
	if s == nil || s.db == nil || entry == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "condition_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"market_id", "market_name", "event_slug", "end_date",
			"is_active", "is_resolved", "resolution_price", "updated_at",
		}),
	}).Create(entry).Error
}

// --- Shadow scorecards ------------------------------------------------------

func (s *Store) ListScorecards(ctx context.Context) ([]models.ShadowScorecardRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var out []models.ShadowScorecardRecord
	err := s.db.WithContext(ctx).Order("shadow_score DESC").Find(&out).Error
	return out, err
}

func (s *Store) SaveScorecard(ctx context.Context, record *models.ShadowScorecardRecord) error {
	if s == nil || s.db == nil || record == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"nickname", "status", "last_trade_at", "open_positions",
			"closed_trades", "total_virtual_trades", "virtual_wins",
			"virtual_losses", "total_profit", "total_loss",
			"profiler_score", "archetype", "shadow_score", "updated_at",
		}),
	}).Create(record).Error
}

func (s *Store) DeleteScorecard(ctx context.Context, address string) error {
	if s == nil || s.db == nil || address == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("address = ?", address).
		Delete(&models.ShadowScorecardRecord{}).Error
}

// --- Stats ------------------------------------------------------------------

func (s *Store) GetTradeStats(ctx context.Context) (repository.TradeStats, error) {
	stats := repository.TradeStats{
		TotalPnL:      decimal.Zero,
		AvgSlippage:   decimal.Zero,
		TotalInvested: decimal.Zero,
	}
	if s == nil || s.db == nil {
		return stats, nil
	}
	var row struct {
		TotalTrades   int64
		OpenPositions int64
		SettledTrades int64
		FailedTrades  int64
		Wins          int64
		TotalPnl      decimal.Decimal
		AvgSlippage   decimal.Decimal
		TotalInvested decimal.Decimal
	}
	err := s.db.WithContext(ctx).Model(&models.SimTrade{}).
		Select(`COUNT(*) AS total_trades,
			COUNT(*) FILTER (WHERE status = 'OPEN') AS open_positions,
			COUNT(*) FILTER (WHERE status = 'SETTLED') AS settled_trades,
			COUNT(*) FILTER (WHERE status = 'FAILED') AS failed_trades,
			COUNT(*) FILTER (WHERE status = 'SETTLED' AND pnl > 0) AS wins,
			COALESCE(SUM(pnl), 0) AS total_pnl,
			COALESCE(AVG(slippage_pct), 0) AS avg_slippage,
			COALESCE(SUM(sim_investment) FILTER (WHERE sim_success), 0) AS total_invested`).
		Scan(&row).Error
	if err != nil {
		return stats, err
	}
	stats.TotalTrades = row.TotalTrades
	stats.OpenPositions = row.OpenPositions
	stats.SettledTrades = row.SettledTrades
	stats.FailedTrades = row.FailedTrades
	stats.TotalPnL = row.TotalPnl
	stats.AvgSlippage = row.AvgSlippage
	stats.TotalInvested = row.TotalInvested
	if row.SettledTrades > 0 {
		stats.WinRate = float64(row.Wins) / float64(row.SettledTrades) * 100
	}
	return stats, nil
}
