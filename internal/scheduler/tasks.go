package scheduler

import (
	"CasinoLedger/internal/ledger"
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/trading"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RiskJobs is implemented by trading.Engine.
type RiskJobs interface {
	LiquidateDue(ctx context.Context) (trading.Report, error)
	SettleFunding(ctx context.Context) (trading.Report, error)
	AccrueBorrow(ctx context.Context) (trading.Report, error)
}

type Rotator interface {
	Rotate(ctx context.Context) (*model.Round, error)
}

type Auditor interface {
	Audit(ctx context.Context) ([]ledger.Violation, error)
}

// Halter takes the service out of rotation. Halted reports the reason, or
// "" while healthy.
type Halter interface {
	Halt(reason string)
	Halted() string
}

type Intervals struct {
	Liquidation   time.Duration
	Funding       time.Duration
	Borrow        time.Duration
	RoundRotation time.Duration
	Audit         time.Duration
}

func DefaultIntervals() Intervals {
	return Intervals{
		Liquidation:   5 * time.Second,
		Funding:       time.Hour,
		Borrow:        time.Hour,
		RoundRotation: time.Minute,
		Audit:         5 * time.Minute,
	}
}

func reportTask(name string, every time.Duration, job func(context.Context) (trading.Report, error), log zerolog.Logger) Task {
	return Task{
		Name:     name,
		Interval: every,
		Run: func(ctx context.Context) (int, error) {
			rep, err := job(ctx)
			if err != nil {
				return rep.Failed, err
			}
			if rep.Applied > 0 || rep.Failed > 0 {
				log.Info().
					Str("task", name).
					Int("scanned", rep.Scanned).
					Int("applied", rep.Applied).
					Int("skipped", rep.Skipped).
					Int("failed", rep.Failed).
					Msg("risk pass")
			}
			return rep.Failed, nil
		},
	}
}

func LiquidationTask(jobs RiskJobs, every time.Duration, log zerolog.Logger) Task {
	return reportTask("liquidation", every, jobs.LiquidateDue, log)
}

func FundingTask(jobs RiskJobs, every time.Duration, log zerolog.Logger) Task {
	return reportTask("funding", every, jobs.SettleFunding, log)
}

func BorrowTask(jobs RiskJobs, every time.Duration, log zerolog.Logger) Task {
	return reportTask("borrow", every, jobs.AccrueBorrow, log)
}

func RoundRotationTask(rounds Rotator, every time.Duration) Task {
	return Task{
		Name:     "round-rotation",
		Interval: every,
		Run: func(ctx context.Context) (int, error) {
			_, err := rounds.Rotate(ctx)
			return 0, err
		},
	}
}

// LedgerAuditTask verifies every account. A violation is never repaired:
// it is logged and the service halts until an operator intervenes.
func LedgerAuditTask(auditor Auditor, health Halter, every time.Duration, log zerolog.Logger) Task {
	return Task{
		Name:     "ledger-audit",
		Interval: every,
		Run: func(ctx context.Context) (int, error) {
			violations, err := auditor.Audit(ctx)
			if err != nil {
				return 0, err
			}
			if len(violations) == 0 {
				return 0, nil
			}
			for _, v := range violations {
				log.Error().
					Err(v.Err).
					Int64("account_id", v.AccountID).
					Str("account", v.Key.String()).
					Msg("ledger audit violation")
			}
			if health != nil {
				health.Halt(fmt.Sprintf("ledger audit: %d account(s) violate invariants", len(violations)))
			}
			return len(violations), fmt.Errorf("%d account(s): %w", len(violations), model.ErrLedgerInvariantViolation)
		},
	}
}

// SkipWhenHalted wraps t so that no pass runs once health is halted.
func SkipWhenHalted(health Halter, t Task, log zerolog.Logger) Task {
	if health == nil {
		return t
	}
	run := t.Run
	t.Run = func(ctx context.Context) (int, error) {
		if reason := health.Halted(); reason != "" {
			log.Debug().Str("task", t.Name).Str("reason", reason).Msg("halted, pass skipped")
			return 0, nil
		}
		return run(ctx)
	}
	return t
}

// Standard returns the service's task set. Everything except the audit
// stops after a halt.
func Standard(jobs RiskJobs, rounds Rotator, auditor Auditor, health Halter, iv Intervals, log zerolog.Logger) []Task {
	return []Task{
		SkipWhenHalted(health, LiquidationTask(jobs, iv.Liquidation, log), log),
		SkipWhenHalted(health, FundingTask(jobs, iv.Funding, log), log),
		SkipWhenHalted(health, BorrowTask(jobs, iv.Borrow, log), log),
		SkipWhenHalted(health, RoundRotationTask(rounds, iv.RoundRotation), log),
		LedgerAuditTask(auditor, health, iv.Audit, log),
	}
}
