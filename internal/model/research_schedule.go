package model

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

// ResearchSchedule is a recurring pipeline run. Payload holds the run options
// as JSON; Timeout is in seconds and bounds a single execution.
type ResearchSchedule struct {
	ID             uint           `gorm:"primaryKey"`
	Name           string         `gorm:"type:varchar(255);not null"`
	CronExpression string         `gorm:"type:varchar(100);not null"`
	Mode           RunMode        `gorm:"type:varchar(20);not null"`
	Payload        datatypes.JSON `gorm:"type:jsonb"`
	Timeout        int            `gorm:"default:3600"`
	IsActive       bool           `gorm:"default:true"`
	NextExecution  sql.NullTime
	LastExecution  sql.NullTime
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (ResearchSchedule) TableName() string {
	return "research_schedules"
}

type GetResearchScheduleParam struct {
	IDs      []uint
	IsActive *bool
	Limit    *int
}
