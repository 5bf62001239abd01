package service

import (
	"golang-backtest/config"
	"golang-backtest/internal/repository"
	"golang-backtest/pkg/logger"
	"golang-backtest/pkg/telegram"
)

type Service struct {
	ResearchService  ResearchService
	SchedulerService SchedulerService
}

func NewService(
	cfg *config.Config,
	log *logger.Logger,
	repo *repository.Repository,
	notifier *telegram.Notifier,
) *Service {
	researchService := NewResearchService(cfg, log, repo, notifier)
	schedulerService := NewSchedulerService(cfg, log, repo, researchService)
	return &Service{
		ResearchService:  researchService,
		SchedulerService: schedulerService,
	}
}
