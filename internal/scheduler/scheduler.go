// Package scheduler периодический запуск фоновых задач: проход очереди,
// восстановление зависших элементов и сроки действия заявок и предложений.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task задача с фиксированным интервалом
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type entry struct {
	Task
	running atomic.Bool
}

type Scheduler struct {
	tasks  []*entry
	logger *slog.Logger
}

// ErrBusy предыдущий запуск задачи ещё не завершился
var ErrBusy = errors.New("task is already running")

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger.With("component", "scheduler")}
}

func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("task name and func are required")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.Name)
	}
	for _, e := range s.tasks {
		e := e
		if e.Name == t.Name {
			return fmt.Errorf("task %s already registered", t.Name)
		}
	}
	s.tasks = append(s.tasks, &entry{Task: t})
	return nil
}

// Run блокируется до отмены ctx. Каждый тик запускает задачу, только если
// предыдущий запуск завершён; пропущенные тики не накапливаются.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range s.tasks {
		e := e
		g.Go(func() error {
			ticker := time.NewTicker(e.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := s.run(ctx, e, e.Run); err != nil && !errors.Is(err, ErrBusy) {
						s.logger.Error("task failed", "task", e.Name, "err", err)
					}
				}
			}
		})
	}
	s.logger.Info("scheduler started", "tasks", len(s.tasks))
	return g.Wait()
}

// Exclusive выполняет fn под тем же запретом наложения, что и плановые
// запуски задачи name: пока выполняется одно, другое получает ErrBusy.
func (s *Scheduler) Exclusive(ctx context.Context, name string, fn func(context.Context) error) error {
	for _, e := range s.tasks {
		e := e
		if e.Name == name {
			return s.run(ctx, e, fn)
		}
	}
	return fmt.Errorf("unknown task %q", name)
}

func (s *Scheduler) run(ctx context.Context, e *entry, fn func(context.Context) error) error {
	if !e.running.CompareAndSwap(false, true) {
		s.logger.Debug("task still running, run skipped", "task", e.Name)
		return ErrBusy
	}
	defer e.running.Store(false)

	start := time.Now()
	err := fn(ctx)
	s.logger.Debug("task finished", "task", e.Name, "duration", time.Since(start), "err", err)
	return err
}
