package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketCacheEntry caches Gamma resolution metadata per condition id so the
// settlement engine does not refetch markets it already knows are resolved.
type MarketCacheEntry struct {
	ConditionID     string           `gorm:"primaryKey;type:varchar(100)"`
	MarketID        string           `gorm:"type:varchar(200)"`
	MarketName      string           `gorm:"type:text"`
	EventSlug       string           `gorm:"type:varchar(200)"`
	EndDate         *time.Time       `gorm:"type:timestamptz"`
	IsActive        bool             `gorm:"not null;default:true"`
	IsResolved      bool             `gorm:"not null;default:false;index"`
	ResolutionPrice *decimal.Decimal `gorm:"type:numeric(20,10)"`
	UpdatedAt       time.Time        `gorm:"type:timestamptz;autoUpdateTime"`
	CreatedAt       time.Time        `gorm:"type:timestamptz;autoCreateTime"`
}

func (MarketCacheEntry) TableName() string {
	return "market_cache"
}
