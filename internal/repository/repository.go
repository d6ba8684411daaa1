package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"polyshadow/internal/models"
)

// Store is the persistence contract the engine depends on. The duplicate-id
// insert must be a no-op so record creation is exactly-once per derived id,
// and MarkSettled must only transition OPEN rows so a record can never be
// settled twice.
type Store interface {
	InsertSimTradeIfAbsent(ctx context.Context, trade *models.SimTrade) (bool, error)
	SimTradeExists(ctx context.Context, tradeID string) (bool, error)
	MarkSettled(ctx context.Context, tradeID string, price, pnl, pnlPct decimal.Decimal) error
	ListOpenSimTrades(ctx context.Context) ([]models.SimTrade, error)
	ListSimTrades(ctx context.Context, params ListSimTradesParams) ([]models.SimTrade, error)

	GetCachedMarket(ctx context.Context, conditionID string) (*models.MarketCacheEntry, error)
	UpsertMarketCache(ctx context.Context, entry *models.MarketCacheEntry) error

	ListScorecards(ctx context.Context) ([]models.ShadowScorecardRecord, error)
	SaveScorecard(ctx context.Context, record *models.ShadowScorecardRecord) error
	DeleteScorecard(ctx context.Context, address string) error

	GetTradeStats(ctx context.Context) (TradeStats, error)
}

type ListSimTradesParams struct {
	TargetAddress string
	Status        string
	Since         *time.Time
	Limit         int
	Offset        int
}

// TradeStats aggregates across all sim trades for the status API.
type TradeStats struct {
	TotalTrades   int64
	OpenPositions int64
	SettledTrades int64
	FailedTrades  int64
	TotalPnL      decimal.Decimal
	WinRate       float64
	AvgSlippage   decimal.Decimal
	TotalInvested decimal.Decimal
}
