package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade status lifecycle: OPEN -> SETTLED (terminal) or FAILED (terminal).
const (
	TradeStatusOpen    = "OPEN"
	TradeStatusSettled = "SETTLED"
	TradeStatusFailed  = "FAILED"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// SimTrade is one simulated copy-trade record. TradeID is derived from the
// source transaction hash and the configured delay, so re-simulating the
// same (trade, delay) pair maps to the same row.
type SimTrade struct {
	TradeID        string `gorm:"primaryKey;type:varchar(120)"`
	TargetAddress  string `gorm:"type:varchar(64);not null;index"`
	TargetNickname string `gorm:"type:varchar(64)"`

	MarketID    string `gorm:"type:varchar(200);index"`
	MarketName  string `gorm:"type:text"`
	ConditionID string `gorm:"type:varchar(100);index"`
	EventSlug   string `gorm:"type:varchar(200)"`

	TargetSide      string          `gorm:"type:varchar(10);not null"`
	TargetOutcome   string          `gorm:"type:varchar(50)"`
	TargetPrice     decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	TargetSize      decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	TargetTimestamp int64           `gorm:"not null"`

	SimDelay      int              `gorm:"not null"`
	SimPrice      *decimal.Decimal `gorm:"type:numeric(20,10)"`
	SimInvestment decimal.Decimal  `gorm:"type:numeric(20,4);not null"`
	SimFee        decimal.Decimal  `gorm:"type:numeric(20,4);not null"`
	SimSuccess    bool             `gorm:"not null"`
	SimFailureReason *string       `gorm:"type:text"`

	SlippagePct *decimal.Decimal `gorm:"type:numeric(20,6)"`
	TotalCost   decimal.Decimal  `gorm:"type:numeric(20,4);not null"`

	Status          string           `gorm:"type:varchar(10);not null;index"`
	SettlementPrice *decimal.Decimal `gorm:"type:numeric(20,10)"`
	PnL             *decimal.Decimal `gorm:"column:pnl;type:numeric(20,4)"`
	PnLPct          *decimal.Decimal `gorm:"column:pnl_pct;type:numeric(20,4)"`

	CreatedAt time.Time  `gorm:"type:timestamptz;autoCreateTime"`
	SettledAt *time.Time `gorm:"type:timestamptz"`
}

func (SimTrade) TableName() string {
	return "sim_trades"
}
