package repository

import (
	"context"

	"gorm.io/gorm"

	"golang-backtest/internal/model"
	"golang-backtest/pkg/utils"
)

type RunRepository interface {
	Create(ctx context.Context, run *model.BacktestRun, opts ...utils.DBOption) error
	Update(ctx context.Context, run *model.BacktestRun, opts ...utils.DBOption) error
	FindByID(ctx context.Context, id uint, opts ...utils.DBOption) (*model.BacktestRun, error)
	Get(ctx context.Context, param *model.GetBacktestRunParam, opts ...utils.DBOption) ([]model.BacktestRun, error)
	CreateStrategyResults(ctx context.Context, results []model.StrategyResult, opts ...utils.DBOption) error
}

type runRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Create(ctx context.Context, run *model.BacktestRun, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).Create(run).Error
}

func (r *runRepository) Update(ctx context.Context, run *model.BacktestRun, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).Updates(run).Error
}

func (r *runRepository) FindByID(ctx context.Context, id uint, opts ...utils.DBOption) (*model.BacktestRun, error) {
	var run model.BacktestRun
	err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).First(&run, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *runRepository) Get(ctx context.Context, param *model.GetBacktestRunParam, opts ...utils.DBOption) ([]model.BacktestRun, error) {
	var runs []model.BacktestRun
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...).Model(&model.BacktestRun{})
	if len(param.IDs) > 0 {
		db = db.Where("id IN ?", param.IDs)
	}
	if len(param.Modes) > 0 {
		db = db.Where("mode IN ?", param.Modes)
	}
	if len(param.Statuses) > 0 {
		db = db.Where("status IN ?", param.Statuses)
	}
	if param.Limit != nil {
		db = db.Limit(*param.Limit)
	}
	result := db.Order("created_at DESC").Find(&runs)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, result.Error
	}
	return runs, nil
}

func (r *runRepository) CreateStrategyResults(ctx context.Context, results []model.StrategyResult, opts ...utils.DBOption) error {
	if len(results) == 0 {
		return nil
	}
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).Create(&results).Error
}
