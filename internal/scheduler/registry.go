package scheduler

import (
	"context"
	"sync"
	"time"
)

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a plain function into a Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (j JobFunc) Name() string                  { return j.JobName }
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

type entry struct {
	job     Job
	nextRun time.Time
	// advance computes the run after the given one.
	advance func(after time.Time) time.Time
}

// Registry tracks scheduled jobs keyed by id. Rescheduling an id replaces the
// previous entry, so tenant policy changes take effect on the next registration
// pass without leaking stale jobs.
type Registry struct {
	entries map[string]*entry
	now     func() time.Time
	mu      sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// ScheduleEvery runs the job at a fixed interval, first run one interval from now.
func (r *Registry) ScheduleEvery(id string, interval time.Duration, job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.entries[id] = &entry{
		job:     job,
		nextRun: now.Add(interval),
		advance: func(after time.Time) time.Time {
			return after.Add(interval)
		},
	}
}

// ScheduleDaily runs the job once a day at the given local time.
func (r *Registry) ScheduleDaily(id string, hour, minute int, job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	advance := func(after time.Time) time.Time {
		next := time.Date(after.Year(), after.Month(), after.Day(), hour, minute, 0, 0, after.Location())
		if !next.After(after) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
	r.entries[id] = &entry{
		job:     job,
		nextRun: advance(r.now()),
		advance: advance,
	}
}

// Cancel removes a job. Unknown ids are ignored.
func (r *Registry) Cancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Scheduled reports whether a job id is currently registered.
func (r *Registry) Scheduled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// due returns the jobs whose next run is at or before now, advancing each
// entry before the job runs so a slow job cannot pile up duplicate runs.
func (r *Registry) due(now time.Time) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var jobs []Job
	for _, e := range r.entries {
		if e.nextRun.After(now) {
			continue
		}
		jobs = append(jobs, e.job)
		e.nextRun = e.advance(now)
	}
	return jobs
}
