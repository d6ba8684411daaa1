package models

import (
	"time"

	"gorm.io/datatypes"
)

// Shadow pool lifecycle states.
const (
	ShadowStatusCandidate = "CANDIDATE"
	ShadowStatusVerified  = "SHADOW_VERIFIED"
	ShadowStatusDemoted   = "DEMOTED"
)

// ShadowScorecardRecord is the persisted snapshot of one candidate's shadow
// scorecard. Open positions and closed virtual trades are stored as JSONB so
// the tracker can rebuild its in-memory state across restarts.
type ShadowScorecardRecord struct {
	Address  string `gorm:"primaryKey;type:varchar(64)"`
	Nickname string `gorm:"type:varchar(64)"`
	Status   string `gorm:"type:varchar(20);not null;index"`

	AddedAt     time.Time  `gorm:"type:timestamptz;not null"`
	LastTradeAt *time.Time `gorm:"type:timestamptz"`

	OpenPositions datatypes.JSON `gorm:"type:jsonb"`
	ClosedTrades  datatypes.JSON `gorm:"type:jsonb"`

	TotalVirtualTrades int     `gorm:"not null;default:0"`
	VirtualWins        int     `gorm:"not null;default:0"`
	VirtualLosses      int     `gorm:"not null;default:0"`
	TotalProfit        float64 `gorm:"not null;default:0"`
	TotalLoss          float64 `gorm:"not null;default:0"`
	ProfilerScore      int     `gorm:"not null;default:0"`
	Archetype          string  `gorm:"type:varchar(20)"`
	ShadowScore        float64 `gorm:"not null;default:0;index"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (ShadowScorecardRecord) TableName() string {
	return "shadow_scorecards"
}
