package store

import (
	"context"
	"sync"
	"time"

	"github.com/rezkam/jobqueue/internal/domain"
)

// record is the store's internal representation: the domain.Job plus
// bookkeeping the public Store contract doesn't expose directly.
type record struct {
	job        *domain.Job
	terminalAt time.Time
}

// Memory is the reference in-memory Store: a concurrent map keyed by job
// id plus secondary indexes by status and by queue.
type Memory struct {
	mu       sync.RWMutex
	jobs     map[string]*record
	byStatus map[domain.JobStatus]map[string]struct{}
	byQueue  map[string]map[string]struct{}
}

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		jobs:     make(map[string]*record),
		byStatus: make(map[domain.JobStatus]map[string]struct{}),
		byQueue:  make(map[string]map[string]struct{}),
	}
}

func (m *Memory) indexAddLocked(id string, status domain.JobStatus, queueID string) {
	if m.byStatus[status] == nil {
		m.byStatus[status] = make(map[string]struct{})
	}
	m.byStatus[status][id] = struct{}{}
	if m.byQueue[queueID] == nil {
		m.byQueue[queueID] = make(map[string]struct{})
	}
	m.byQueue[queueID][id] = struct{}{}
}

func (m *Memory) indexRemoveLocked(id string, status domain.JobStatus, queueID string) {
	if set, ok := m.byStatus[status]; ok {
		delete(set, id)
	}
	if set, ok := m.byQueue[queueID]; ok {
		delete(set, id)
	}
}

func (m *Memory) Put(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return domain.ErrAlreadyEnqueued
	}
	cp := job.Clone()
	m.jobs[job.ID] = &record{job: cp}
	m.indexAddLocked(job.ID, cp.Status, cp.QueueID)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.job.Clone(), nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, from, to domain.JobStatus, fields UpdateFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.job.Status != from {
		return &domain.ConflictingStatus{JobID: id, Expected: from, Actual: r.job.Status}
	}

	m.indexRemoveLocked(id, r.job.Status, r.job.QueueID)
	r.job.Status = to
	m.indexAddLocked(id, to, r.job.QueueID)

	if fields.IncrementAttempts {
		r.job.Attempts++
	}
	if fields.Result != nil {
		r.job.Result = fields.Result
	}
	if fields.Error != nil {
		r.job.Error = fields.Error
	}
	if fields.VisibleAt != nil {
		r.job.VisibleAt = *fields.VisibleAt
	}
	if fields.ClearHolder {
		r.job.Holder = ""
		r.job.LeaseDeadline = time.Time{}
	}
	if fields.LastAttemptStartedAt != nil {
		r.job.LastAttemptStartedAt = *fields.LastAttemptStartedAt
	}
	if fields.LastAttemptEndedAt != nil {
		r.job.LastAttemptEndedAt = *fields.LastAttemptEndedAt
	}
	if fields.AppendAttempt != nil {
		r.job.AppendAttempt(*fields.AppendAttempt)
	}
	if to.Terminal() {
		r.terminalAt = r.job.LastAttemptEndedAt
		if r.terminalAt.IsZero() {
			r.terminalAt = time.Now()
		}
	}
	return nil
}

func (m *Memory) List(_ context.Context, filter ListFilter) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates map[string]struct{}
	switch {
	case filter.QueueID != "" && filter.Status != nil:
		candidates = intersect(m.byQueue[filter.QueueID], m.byStatus[*filter.Status])
	case filter.QueueID != "":
		candidates = m.byQueue[filter.QueueID]
	case filter.Status != nil:
		candidates = m.byStatus[*filter.Status]
	default:
		out := make([]*domain.Job, 0, len(m.jobs))
		for _, r := range m.jobs {
			out = append(out, r.job.Clone())
		}
		return out, nil
	}

	out := make([]*domain.Job, 0, len(candidates))
	for id := range candidates {
		out = append(out, m.jobs[id].job.Clone())
	}
	return out, nil
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func (m *Memory) Lease(_ context.Context, id, worker string, leaseDeadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.job.Status != domain.StatusPending && r.job.Status != domain.StatusRetrying {
		return &domain.ConflictingStatus{JobID: id, Expected: domain.StatusPending, Actual: r.job.Status}
	}
	m.indexRemoveLocked(id, r.job.Status, r.job.QueueID)
	r.job.Status = domain.StatusProcessing
	m.indexAddLocked(id, domain.StatusProcessing, r.job.QueueID)
	r.job.Holder = worker
	r.job.LeaseDeadline = leaseDeadline
	r.job.LastAttemptStartedAt = time.Now()
	return nil
}

func (m *Memory) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.job.Holder = ""
	r.job.LeaseDeadline = time.Time{}
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.indexRemoveLocked(id, r.job.Status, r.job.QueueID)
	delete(m.jobs, id)
	return nil
}

func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Stats{ByStatus: make(map[domain.JobStatus]int, len(m.byStatus))}
	for status, set := range m.byStatus {
		snap.ByStatus[status] = len(set)
	}
	snap.Total = len(m.jobs)
	return snap
}

func (m *Memory) ExpiredLeases(now time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id := range m.byStatus[domain.StatusProcessing] {
		r := m.jobs[id]
		if !r.job.LeaseDeadline.IsZero() && !r.job.LeaseDeadline.After(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Memory) PurgeTerminalBefore(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.jobs {
		if r.job.Status.Terminal() && r.terminalAt.Before(cutoff) {
			m.indexRemoveLocked(id, r.job.Status, r.job.QueueID)
			delete(m.jobs, id)
			n++
		}
	}
	return n
}
