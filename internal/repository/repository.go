package repository

import (
	"gorm.io/gorm"

	"golang-backtest/config"
	"golang-backtest/pkg/cache"
	"golang-backtest/pkg/logger"
)

type Repository struct {
	PriceRepo    PriceRepository
	RunRepo      RunRepository
	ScheduleRepo ScheduleRepository
	ExplainRepo  ExplainRepository
	UnitOfWork   UnitOfWork
}

func NewRepository(cfg *config.Config, memCache cache.Cache, db *gorm.DB, log *logger.Logger) (*Repository, error) {
	explainRepo, err := NewExplainRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &Repository{
		PriceRepo:    NewPriceRepository(cfg, memCache, log),
		RunRepo:      NewRunRepository(db),
		ScheduleRepo: NewScheduleRepository(db),
		ExplainRepo:  explainRepo,
		UnitOfWork:   NewUnitOfWork(db),
	}, nil
}
