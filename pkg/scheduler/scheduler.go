package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is any periodic unit of work the scheduler can drive.
type Task interface {
	Name() string
	Run(ctx context.Context)
}

// Scheduler runs registered tasks on fixed intervals. Each task gets
// its own goroutine; an immediate first run precedes the ticker.
type Scheduler struct {
	mu     sync.Mutex
	tasks  []scheduledTask
	logger zerolog.Logger
	wg     sync.WaitGroup
}

type scheduledTask struct {
	task     Task
	interval time.Duration
}

// New creates an empty scheduler.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds a task with its run interval.
func (s *Scheduler) Register(t Task, interval time.Duration) {
	if interval <= 0 {
		s.logger.Error().Str("task", t.Name()).Dur("interval", interval).Msg("Invalid interval, task not registered")
		return
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, scheduledTask{task: t, interval: interval})
	s.mu.Unlock()

	s.logger.Info().Str("task", t.Name()).Dur("interval", interval).Msg("Task registered")
}

// Start launches all registered tasks. It returns immediately; tasks
// run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]scheduledTask, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, st := range tasks {
		s.wg.Add(1)
		go s.runTask(ctx, st.task, st.interval)
	}

	s.logger.Info().Int("tasks", len(tasks)).Msg("Scheduler started")
}

// Wait blocks until all task goroutines have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, t Task, interval time.Duration) {
	defer s.wg.Done()

	t.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Run(ctx)
		case <-ctx.Done():
			s.logger.Info().Str("task", t.Name()).Msg("Task received shutdown signal")
			return
		}
	}
}
