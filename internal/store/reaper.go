package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/rezkam/jobqueue/internal/clock"
	"github.com/rezkam/jobqueue/internal/domain"
)

// Reaper periodically sweeps the store for processing jobs whose lease has
// expired and returns them to retrying with a recomputed visible-at — how
// the runtime recovers from worker crashes.
type Reaper struct {
	store    Store
	clock    clock.Clock
	interval time.Duration
	// NextVisibleAt computes the retrying job's visible-at timestamp after
	// a lease expiry; callers typically pass the same backoff function the
	// worker package uses for ordinary retries.
	NextVisibleAt func(job *domain.Job) time.Time
	// OnRecovered, if set, is called after a job's status is atomically
	// moved back to retrying. The store and a job's queue discipline are
	// independent data structures — the discipline still has the job
	// parked in its in-flight set from the lease that never got Ack'd or
	// Nack'd — so the caller must use this hook to re-enter the job into
	// its discipline (normally by calling Discipline.Nack) or it will
	// never be lease-able again.
	OnRecovered func(job *domain.Job, visibleAt time.Time)
}

// NewReaper returns a Reaper that sweeps every interval.
func NewReaper(s Store, c clock.Clock, interval time.Duration) *Reaper {
	return &Reaper{
		store:    s,
		clock:    c,
		interval: interval,
		NextVisibleAt: func(*domain.Job) time.Time {
			return time.Time{} // immediately visible by default
		},
	}
}

// Run sweeps on the reaper's interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	timer := r.clock.NewTimer(r.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
			r.SweepOnce(ctx)
			timer.Reset(r.interval)
		}
	}
}

// SweepOnce runs a single reaper pass and returns the number of jobs
// recovered.
func (r *Reaper) SweepOnce(ctx context.Context) int {
	now := r.clock.Now()
	recovered := 0
	for _, id := range r.store.ExpiredLeases(now) {
		job, err := r.store.Get(ctx, id)
		if err != nil {
			continue
		}
		visibleAt := r.NextVisibleAt(job)
		err = r.store.UpdateStatus(ctx, id, domain.StatusProcessing, domain.StatusRetrying, UpdateFields{
			VisibleAt:   &visibleAt,
			ClearHolder: true,
		})
		if err != nil {
			slog.WarnContext(ctx, "reaper: lost race recovering job", "job_id", id, "error", err)
			continue
		}
		if r.OnRecovered != nil {
			r.OnRecovered(job, visibleAt)
		}
		slog.InfoContext(ctx, "reaper: recovered job with expired lease", "job_id", id, "holder", job.Holder)
		recovered++
	}
	return recovered
}
