package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/zinolabs/zino/internal/zino/tasks"
)

// backoffJob tracks the set of one-shot timers scheduled for one
// device: five named,
// increasing-delay probe jobs that are all cancelled together on the
// first successful probe, and whose scheduling is idempotent (a second
// failure while jobs are outstanding is a no-op).
type backoffJob struct {
	timers []*time.Timer
}

// BackoffScheduler implements tasks.BackoffScheduler with plain
// time.AfterFunc timers, one set per device.
type BackoffScheduler struct {
	mu   sync.Mutex
	jobs map[string]*backoffJob
}

// NewBackoffScheduler creates an empty scheduler.
func NewBackoffScheduler() *BackoffScheduler {
	return &BackoffScheduler{jobs: make(map[string]*backoffJob)}
}

var _ tasks.BackoffScheduler = (*BackoffScheduler)(nil)

func (b *BackoffScheduler) ScheduleBackoff(ctx context.Context, deviceName string, probe func(context.Context)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, running := b.jobs[deviceName]; running {
		return
	}

	job := &backoffJob{}
	for _, delay := range tasks.BackoffIntervals {
		timer := time.AfterFunc(delay, func() {
			probe(ctx)
		})
		job.timers = append(job.timers, timer)
	}
	b.jobs[deviceName] = job
}

func (b *BackoffScheduler) CancelBackoff(deviceName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[deviceName]
	if !ok {
		return
	}
	for _, timer := range job.timers {
		timer.Stop()
	}
	delete(b.jobs, deviceName)
}

func (b *BackoffScheduler) BackoffRunning(deviceName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.jobs[deviceName]
	return ok
}
