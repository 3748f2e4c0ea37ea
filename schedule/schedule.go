// Package schedule runs background jobs at a fixed interval next to the server.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var ErrInvalidJob = errors.New("schedule: invalid job")

type Task func(ctx context.Context) error

type Job struct {
	name     string
	tasks    []Task
	interval time.Duration
	timeout  time.Duration

	mu                sync.Mutex
	nextExecuteAt     time.Time
	previousExecuteAt time.Time
	running           bool
}

func NewJob(name string) *Job {
	return &Job{
		name:  name,
		tasks: make([]Task, 0),
	}
}

func (job *Job) WithTasks(tasks ...Task) *Job {
	job.tasks = tasks
	return job
}

func (job *Job) WithInterval(interval time.Duration) *Job {
	job.interval = interval
	return job
}

func (job *Job) WithExecuteAt(executeAt time.Time) *Job {
	job.nextExecuteAt = executeAt
	return job
}

// WithTimeout bounds every task of the job through its context.
func (job *Job) WithTimeout(timeout time.Duration) *Job {
	job.timeout = timeout
	return job
}

func (job *Job) AddTask(task Task) {
	job.tasks = append(job.tasks, task)
}

// due marks the job running when it should execute at now. A job never overlaps itself.
func (job *Job) due(now time.Time) bool {
	job.mu.Lock()
	defer job.mu.Unlock()

	if job.running || job.nextExecuteAt.After(now) {
		return false
	}
	job.running = true
	return true
}

func (job *Job) done(now time.Time) {
	job.mu.Lock()
	defer job.mu.Unlock()

	job.running = false
	job.previousExecuteAt = now
	job.nextExecuteAt = now.Add(job.interval)
}

type Scheduler struct {
	jobs       []*Job
	mu         sync.RWMutex
	resolution time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:       make([]*Job, 0),
		resolution: time.Second,
		logger:     logger,
	}
}

func (scheduler *Scheduler) AddJob(job *Job) error {
	if job.interval <= 0 {
		return fmt.Errorf("%w: %s: interval must be greater than 0", ErrInvalidJob, job.name)
	}
	if len(job.tasks) == 0 {
		return fmt.Errorf("%w: %s: at least one task required", ErrInvalidJob, job.name)
	}
	if job.nextExecuteAt.IsZero() {
		job.nextExecuteAt = time.Now().Add(job.interval)
	}

	scheduler.mu.Lock()
	defer scheduler.mu.Unlock()
	if job.interval < scheduler.resolution {
		scheduler.resolution = job.interval
	}
	scheduler.jobs = append(scheduler.jobs, job)
	return nil
}

// Run checks the jobs until ctx is done and waits for running jobs before returning.
func (scheduler *Scheduler) Run(ctx context.Context) {
	scheduler.mu.RLock()
	ticker := time.NewTicker(scheduler.resolution)
	scheduler.mu.RUnlock()
	defer ticker.Stop()
	defer scheduler.wg.Wait()

	for {
		select {
		case now := <-ticker.C:
			scheduler.mu.RLock()
			jobs := make([]*Job, len(scheduler.jobs))
			copy(jobs, scheduler.jobs)
			scheduler.mu.RUnlock()

			for _, job := range jobs {
				if job.due(now) {
					scheduler.wg.Add(1)
					go scheduler.execute(ctx, job, now)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (scheduler *Scheduler) execute(ctx context.Context, job *Job, now time.Time) {
	defer scheduler.wg.Done()
	defer job.done(now)

	logger := scheduler.logger.With("job", job.name)
	for _, task := range job.tasks {
		if err := runTask(ctx, task, job.timeout); err != nil {
			logger.Warn("task failed", "error", err)
		}
	}
}

func runTask(ctx context.Context, task Task, timeout time.Duration) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule: task panic: %v\n%s", r, debug.Stack())
		}
	}()

	return task(ctx)
}
