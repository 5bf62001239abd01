package model

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

// StrategyResult is one strategy's outcome inside a run. Passed is false when
// no parameter combination satisfied the drawdown constraints; BestParams and
// the metric columns are null in that case.
type StrategyResult struct {
	ID             uint    `gorm:"primaryKey"`
	RunID          uint    `gorm:"not null"`
	Strategy       string  `gorm:"type:varchar(100);not null"`
	Evaluated      int     `gorm:"not null"`
	Passing        int     `gorm:"not null"`
	Errors         int     `gorm:"not null"`
	Passed         bool    `gorm:"not null"`
	Rank           sql.NullInt32
	BestParams     datatypes.JSON `gorm:"type:jsonb"`
	AvgMetrics     datatypes.JSON `gorm:"type:jsonb"`
	HoldoutMetrics datatypes.JSON `gorm:"type:jsonb"`
	StitchedMaxDD  sql.NullFloat64
	PassRate       sql.NullFloat64
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (StrategyResult) TableName() string {
	return "strategy_results"
}
