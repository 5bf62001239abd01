package model

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

type RunMode string

const (
	RunModeDDCap       RunMode = "ddcap"
	RunModeWalkForward RunMode = "walkforward"
	RunModeSweep       RunMode = "sweep"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// BacktestRun is one pipeline execution. Report carries the full markdown and
// StitchedSeries the winner's out-of-sample curve data, so a run is
// reproducible and chartable without the filesystem artifact.
type BacktestRun struct {
	ID             uint           `gorm:"primaryKey"`
	Mode           RunMode        `gorm:"type:varchar(20);not null"`
	Symbol         string         `gorm:"type:varchar(20);not null"`
	Status         RunStatus      `gorm:"type:varchar(20);not null"`
	RequestParams  datatypes.JSON `gorm:"type:jsonb"`
	WinnerStrategy sql.NullString `gorm:"type:varchar(100)"`
	WinnerParams   datatypes.JSON `gorm:"type:jsonb"`
	StitchedMaxDD  sql.NullFloat64
	StitchedSeries datatypes.JSON `gorm:"type:jsonb"`
	Report         sql.NullString `gorm:"type:text"`
	ErrorMessage   sql.NullString `gorm:"type:text"`
	StartedAt      sql.NullTime
	CompletedAt    sql.NullTime
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`

	StrategyResults []StrategyResult `gorm:"foreignKey:RunID"`
}

func (BacktestRun) TableName() string {
	return "backtest_runs"
}

type GetBacktestRunParam struct {
	IDs      []uint
	Modes    []RunMode
	Statuses []RunStatus
	Limit    *int
}
