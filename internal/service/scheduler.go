package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"golang-backtest/config"
	"golang-backtest/internal/dto"
	"golang-backtest/internal/model"
	"golang-backtest/internal/repository"
	"golang-backtest/pkg/logger"
	"golang-backtest/pkg/utils"
)

type SchedulerService interface {
	Execute(ctx context.Context) error
	GetSchedules(ctx context.Context, param model.GetResearchScheduleParam) ([]model.ResearchSchedule, error)
	CreateSchedule(ctx context.Context, req dto.CreateScheduleRequest) (*model.ResearchSchedule, error)
	RunScheduleNow(ctx context.Context, scheduleID uint) error
}

type schedulerService struct {
	cfg        *config.Config
	log        *logger.Logger
	cronParser cron.Parser
	repo       *repository.Repository
	research   ResearchService
	semaphore  chan struct{}
}

func NewSchedulerService(
	cfg *config.Config,
	log *logger.Logger,
	repo *repository.Repository,
	research ResearchService,
) *schedulerService {
	return &schedulerService{
		cfg:        cfg,
		log:        log,
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		repo:       repo,
		research:   research,
		semaphore:  make(chan struct{}, cfg.Scheduler.MaxConcurrency),
	}
}

// Execute starts every due schedule. It is called by the in-process ticker
// and by the HTTP trigger endpoint, so an external cron can drive it too.
func (s *schedulerService) Execute(ctx context.Context) error {
	due, err := s.repo.ScheduleRepo.FindDue(ctx, time.Now())
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to find due schedules", logger.ErrorField(err))
		return fmt.Errorf("failed to find due schedules: %w", err)
	}

	if len(due) == 0 {
		s.log.DebugContext(ctx, "No schedules due")
		return nil
	}
	s.log.InfoContext(ctx, "Running due schedules",
		logger.IntField("count", len(due)),
		logger.IntField("max_concurrency", s.cfg.Scheduler.MaxConcurrency),
	)

	for _, sched := range due {
		if ctx.Err() != nil {
			s.log.WarnContext(ctx, "Schedule execution cancelled", logger.ErrorField(ctx.Err()))
			return nil
		}

		if err := s.executeSchedule(ctx, sched); err != nil {
			s.log.ErrorContext(ctx, "Failed to start scheduled run",
				logger.ErrorField(err),
				logger.IntField("schedule_id", int(sched.ID)),
				logger.StringField("name", sched.Name),
			)
		}
	}

	return nil
}

func (s *schedulerService) executeSchedule(ctx context.Context, sched model.ResearchSchedule) error {
	s.log.DebugContext(ctx, "Executing schedule",
		logger.IntField("schedule_id", int(sched.ID)),
		logger.StringField("name", sched.Name),
		logger.IntField("timeout", sched.Timeout),
		logger.IntField("active_concurrency", len(s.semaphore)),
		logger.IntField("max_concurrency", cap(s.semaphore)),
	)

	var req dto.ResearchRequest
	if len(sched.Payload) > 0 {
		if err := json.Unmarshal(sched.Payload, &req); err != nil {
			return fmt.Errorf("bad schedule payload: %w", err)
		}
	}
	if req.Mode == "" {
		req.Mode = string(sched.Mode)
	}

	run, err := s.research.CreateRun(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	s.semaphore <- struct{}{}
	utils.GoSafe(func() {
		defer func() {
			<-s.semaphore
		}()

		// The tick's context is short-lived; the run gets its own deadline.
		timeout := time.Duration(sched.Timeout) * time.Second
		if timeout <= 0 {
			timeout = time.Hour
		}
		runCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := s.research.ExecuteRun(runCtx, run.ID); err != nil {
			s.log.ErrorContext(runCtx, "Scheduled run failed",
				logger.ErrorField(err),
				logger.IntField("schedule_id", int(sched.ID)),
				logger.IntField("run_id", int(run.ID)),
			)
		}
	})

	now := time.Now()
	cronSchedule, err := s.cronParser.Parse(sched.CronExpression)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to parse cron expression",
			logger.ErrorField(err), logger.IntField("schedule_id", int(sched.ID)))
		return fmt.Errorf("failed to parse cron expression: %w", err)
	}

	sched.LastExecution = sql.NullTime{Time: now, Valid: true}
	sched.NextExecution = sql.NullTime{Time: cronSchedule.Next(now), Valid: true}

	if err := s.repo.ScheduleRepo.Update(ctx, &sched); err != nil {
		s.log.ErrorContext(ctx, "Failed to update schedule",
			logger.ErrorField(err), logger.IntField("schedule_id", int(sched.ID)))
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return nil
}

func (s *schedulerService) GetSchedules(ctx context.Context, param model.GetResearchScheduleParam) ([]model.ResearchSchedule, error) {
	return s.repo.ScheduleRepo.Get(ctx, &param)
}

func (s *schedulerService) CreateSchedule(ctx context.Context, req dto.CreateScheduleRequest) (*model.ResearchSchedule, error) {
	cronSchedule, err := s.cronParser.Parse(req.CronExpression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", req.CronExpression, err)
	}

	var payload []byte
	if req.Request != nil {
		payload, err = json.Marshal(req.Request)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request payload: %w", err)
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 3600
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	sched := &model.ResearchSchedule{
		Name:           req.Name,
		CronExpression: req.CronExpression,
		Mode:           model.RunMode(req.Mode),
		Payload:        payload,
		Timeout:        timeout,
		IsActive:       active,
		NextExecution:  sql.NullTime{Time: cronSchedule.Next(time.Now()), Valid: true},
	}
	if err := s.repo.ScheduleRepo.Create(ctx, sched); err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}

	s.log.InfoContext(ctx, "Schedule created",
		logger.IntField("schedule_id", int(sched.ID)),
		logger.StringField("name", sched.Name),
		logger.StringField("next_execution", sched.NextExecution.Time.Format(time.RFC3339)),
	)
	return sched, nil
}

func (s *schedulerService) RunScheduleNow(ctx context.Context, scheduleID uint) error {
	s.log.InfoContext(ctx, "Running schedule", logger.IntField("schedule_id", int(scheduleID)))

	schedules, err := s.repo.ScheduleRepo.Get(ctx, &model.GetResearchScheduleParam{IDs: []uint{scheduleID}})
	if err != nil {
		return fmt.Errorf("failed to find schedule: %w", err)
	}
	if len(schedules) == 0 {
		return fmt.Errorf("schedule %d not found", scheduleID)
	}

	return s.executeSchedule(ctx, schedules[0])
}
