// Package scheduler drives the periodic salary payout in the background.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ledger/internal/app/policy"
)

// PayoutRunner is the slice of the policy engine the scheduler needs.
type PayoutRunner interface {
	PaySalaries(ctx context.Context, now time.Time) (*policy.SalaryReport, error)
}

type Scheduler struct {
	payouts  PayoutRunner
	interval time.Duration
	location *time.Location
	logger   *zap.Logger
}

func New(payouts PayoutRunner, interval time.Duration, location *time.Location, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		payouts:  payouts,
		interval: interval,
		location: location,
		logger:   logger,
	}
}

// Start ticks until the context is cancelled. Each tick checks the payout
// calendar in the configured timezone; the payout itself is day-idempotent,
// so overlapping ticks within the payout hour stay harmless.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("salary scheduler started",
		zap.Duration("interval", s.interval),
		zap.String("timezone", s.location.String()))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("salary scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx, time.Now().In(s.location))
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if !isPayoutTime(now) {
		return
	}
	report, err := s.payouts.PaySalaries(ctx, now)
	if err != nil {
		s.logger.Error("salary payout failed", zap.Error(err))
		return
	}
	if report.Paid > 0 {
		s.logger.Info("salary payout completed",
			zap.Int("paid", report.Paid),
			zap.Int64("total", report.Total))
	}
}

// isPayoutTime reports whether now falls in hour zero of the month's second
// Saturday, evaluated in now's location.
func isPayoutTime(now time.Time) bool {
	if now.Weekday() != time.Saturday || now.Hour() != 0 {
		return false
	}
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	firstSaturday := 1 + (int(time.Saturday)-int(first.Weekday())+7)%7
	return now.Day() == firstSaturday+7
}
