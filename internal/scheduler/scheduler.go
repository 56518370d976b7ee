package scheduler

import (
	"CasinoLedger/internal/observability"
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Func runs one pass of a task. failures counts items that were skipped
// inside an otherwise successful pass.
type Func func(ctx context.Context) (failures int, err error)

// Task is a named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      Func
}

// Scheduler runs every task on its own ticker. A failing or panicking pass
// is logged and counted; the task keeps its schedule.
type Scheduler struct {
	tasks   []Task
	metrics *observability.Metrics
	log     zerolog.Logger
}

func New(metrics *observability.Metrics, log zerolog.Logger, tasks ...Task) *Scheduler {
	return &Scheduler{tasks: tasks, metrics: metrics, log: log}
}

func (s *Scheduler) Add(t Task) {
	s.tasks = append(s.tasks, t)
}

func (s *Scheduler) Tasks() []string {
	names := make([]string, 0, len(s.tasks))
	for _, t := range s.tasks {
		names = append(names, t.Name)
	}
	return names
}

// Run blocks until ctx is cancelled. Each task runs once immediately and
// then every Interval; passes of one task never overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, t := range s.tasks {
		if t.Interval <= 0 || t.Run == nil {
			return fmt.Errorf("task %q: interval and func are required", t.Name)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		g.Go(func() error {
			s.loop(ctx, t)
			return nil
		})
	}
	s.log.Info().Strs("tasks", s.Tasks()).Msg("scheduler started")
	err := g.Wait()
	s.log.Info().Msg("scheduler stopped")
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	s.execute(ctx, t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, t)
		}
	}
}

// RunOnce executes the named task once, outside its schedule.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	for _, t := range s.tasks {
		if t.Name == name {
			return s.execute(ctx, t)
		}
	}
	return fmt.Errorf("unknown task %q", name)
}

func (s *Scheduler) execute(ctx context.Context, t Task) (err error) {
	start := time.Now()
	result := "ok"
	failures := 0

	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			err = fmt.Errorf("task %s panicked: %v", t.Name, r)
			s.log.Error().
				Str("task", t.Name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("task panicked")
		}
		if s.metrics != nil {
			s.metrics.TaskRuns.WithLabelValues(t.Name, result).Inc()
			s.metrics.TaskDuration.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())
			if failures > 0 {
				s.metrics.TaskItemFailures.WithLabelValues(t.Name).Add(float64(failures))
			}
		}
	}()

	failures, err = t.Run(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		result = "cancelled"
	case err != nil:
		result = "error"
		s.log.Error().Err(err).Str("task", t.Name).Msg("task failed")
	case failures > 0:
		s.log.Warn().Str("task", t.Name).Int("failures", failures).Msg("task completed with failures")
	default:
		s.log.Debug().Str("task", t.Name).Dur("took", time.Since(start)).Msg("task completed")
	}
	return err
}
