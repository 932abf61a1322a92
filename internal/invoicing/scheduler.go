package invoicing

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler is the daily invoice generation job. It always targets "today" at
// call time, so a late run still bills the right day.
type Scheduler struct {
	service *Service
	logger  *slog.Logger
	now     func() time.Time
}

func NewScheduler(service *Service, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		service: service,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Scheduler) Name() string {
	return "invoicing.daily-generation"
}

func (s *Scheduler) Run(ctx context.Context) error {
	_, err := s.service.GenerateDailyInvoices(ctx, s.now())
	return err
}
