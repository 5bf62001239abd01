package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"golang-backtest/internal/model"
	"golang-backtest/pkg/utils"
)

type ScheduleRepository interface {
	Create(ctx context.Context, schedule *model.ResearchSchedule, opts ...utils.DBOption) error
	Update(ctx context.Context, schedule *model.ResearchSchedule, opts ...utils.DBOption) error
	Get(ctx context.Context, param *model.GetResearchScheduleParam, opts ...utils.DBOption) ([]model.ResearchSchedule, error)
	FindDue(ctx context.Context, now time.Time, opts ...utils.DBOption) ([]model.ResearchSchedule, error)
}

type scheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

func (r *scheduleRepository) Create(ctx context.Context, schedule *model.ResearchSchedule, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).Create(schedule).Error
}

func (r *scheduleRepository) Update(ctx context.Context, schedule *model.ResearchSchedule, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).Updates(schedule).Error
}

func (r *scheduleRepository) Get(ctx context.Context, param *model.GetResearchScheduleParam, opts ...utils.DBOption) ([]model.ResearchSchedule, error) {
	var schedules []model.ResearchSchedule
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...).Model(&model.ResearchSchedule{})
	if len(param.IDs) > 0 {
		db = db.Where("id IN ?", param.IDs)
	}
	if param.IsActive != nil {
		db = db.Where("is_active = ?", *param.IsActive)
	}
	if param.Limit != nil {
		db = db.Limit(*param.Limit)
	}
	if err := db.Order("id").Find(&schedules).Error; err != nil {
		return nil, err
	}
	return schedules, nil
}

// FindDue returns active schedules whose next execution is unset or past.
func (r *scheduleRepository) FindDue(ctx context.Context, now time.Time, opts ...utils.DBOption) ([]model.ResearchSchedule, error) {
	var schedules []model.ResearchSchedule
	err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Where("is_active = ? AND (next_execution IS NULL OR next_execution <= ?)", true, now).
		Find(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}
