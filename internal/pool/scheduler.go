// Package pool implements the worker pool and the pluggable scheduler
// disciplines that decide which queue an idle worker services next:
// round-robin, weighted and priority-of-queue with a starvation fuse.
package pool

import (
	"sort"
	"sync"

	"github.com/rezkam/jobqueue/internal/domain"
)

// SizeFunc reports a queue's live ready/in-flight/delayed breakdown,
// satisfied by a Discipline's Size method.
type SizeFunc func() domain.QueueSize

// Scheduler decides which registered queue an idle worker should try next.
type Scheduler interface {
	// Register adds a queue to the scheduler's rotation. priority is used
	// only by priority-of-queue, weight only by weighted; both are ignored
	// by disciplines that don't use them.
	Register(queueID string, priority int64, weight int, sizeFn SizeFunc)
	// Unregister removes a queue from the rotation.
	Unregister(queueID string)
	// Next returns the queue id an idle worker should try. RoundRobin and
	// PriorityOfQueue return ok=false if no registered queue currently has
	// ready work; Weighted ignores queue sizes and returns ok=false only
	// when no queue is registered.
	Next() (queueID string, ok bool)
}

// RoundRobin visits queues in a fixed order, tie-broken by
// least-recently-served: the internal cursor always advances past the
// queue it just returned.
type RoundRobin struct {
	mu      sync.Mutex
	order   []string
	sizeFns map[string]SizeFunc
	pos     int
}

// NewRoundRobin returns an empty round-robin scheduler.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{sizeFns: make(map[string]SizeFunc)}
}

func (r *RoundRobin) Register(queueID string, _ int64, _ int, sizeFn SizeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sizeFns[queueID]; !ok {
		r.order = append(r.order, queueID)
	}
	r.sizeFns[queueID] = sizeFn
}

func (r *RoundRobin) Unregister(queueID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sizeFns, queueID)
	for i, id := range r.order {
		if id == queueID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			if r.pos > i {
				r.pos--
			}
			break
		}
	}
}

func (r *RoundRobin) Next() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.order)
	if n == 0 {
		return "", false
	}
	for i := 0; i < n; i++ {
		idx := (r.pos + i) % n
		id := r.order[idx]
		if r.sizeFns[id]().Ready > 0 {
			r.pos = (idx + 1) % n
			return id, true
		}
	}
	return "", false
}

// Weighted produces a deterministic weighted interleaving via smooth
// weighted round-robin (the algorithm nginx uses for upstream balancing):
// every queue is visited within sum(weights) picks regardless of pick
// history.
type Weighted struct {
	mu      sync.Mutex
	entries []*weightedEntry
	index   map[string]*weightedEntry
}

type weightedEntry struct {
	id      string
	weight  int
	current int
}

// NewWeighted returns an empty weighted scheduler.
func NewWeighted() *Weighted {
	return &Weighted{index: make(map[string]*weightedEntry)}
}

func (w *Weighted) Register(queueID string, _ int64, weight int, _ SizeFunc) {
	if weight <= 0 {
		weight = 1
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.index[queueID]; ok {
		e.weight = weight
		return
	}
	e := &weightedEntry{id: queueID, weight: weight}
	w.entries = append(w.entries, e)
	w.index[queueID] = e
}

func (w *Weighted) Unregister(queueID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.index, queueID)
	for i, e := range w.entries {
		if e.id == queueID {
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
			break
		}
	}
}

func (w *Weighted) Next() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return "", false
	}
	total := 0
	for _, e := range w.entries {
		e.current += e.weight
		total += e.weight
	}
	pick := w.entries[0]
	for _, e := range w.entries[1:] {
		if e.current > pick.current {
			pick = e
		}
	}
	pick.current -= total
	return pick.id, true
}

// PriorityOfQueue drains higher-priority queues first; a lower-priority
// queue is serviced only when every higher-priority queue has nothing
// ready, except that the starvation fuse forces service of a queue that
// has been skipped fuseN-1 times in a row, bounding starvation at fuseN
// consecutive picks.
type PriorityOfQueue struct {
	mu      sync.Mutex
	fuseN   int
	entries map[string]*priorityEntry
	insert  []string // registration order, for stable priority ties
	order   []string // cached priority-desc order, rebuilt on (un)register
}

type priorityEntry struct {
	priority int64
	sizeFn   SizeFunc
	skip     int
}

// NewPriorityOfQueue returns a priority scheduler with the given starvation
// fuse. fuseN <= 0 defaults to 32.
func NewPriorityOfQueue(fuseN int) *PriorityOfQueue {
	if fuseN <= 0 {
		fuseN = 32
	}
	return &PriorityOfQueue{fuseN: fuseN, entries: make(map[string]*priorityEntry)}
}

func (p *PriorityOfQueue) Register(queueID string, priority int64, _ int, sizeFn SizeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[queueID]; ok {
		e.priority = priority
		e.sizeFn = sizeFn
		p.rebuildLocked()
		return
	}
	p.entries[queueID] = &priorityEntry{priority: priority, sizeFn: sizeFn}
	p.insert = append(p.insert, queueID)
	p.rebuildLocked()
}

func (p *PriorityOfQueue) Unregister(queueID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, queueID)
	for i, id := range p.insert {
		if id == queueID {
			p.insert = append(p.insert[:i], p.insert[i+1:]...)
			break
		}
	}
	p.rebuildLocked()
}

func (p *PriorityOfQueue) rebuildLocked() {
	order := append([]string(nil), p.insert...)
	sort.SliceStable(order, func(i, j int) bool {
		return p.entries[order[i]].priority > p.entries[order[j]].priority
	})
	p.order = order
}

func (p *PriorityOfQueue) Next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.order) == 0 {
		return "", false
	}

	for i := len(p.order) - 1; i >= 0; i-- {
		id := p.order[i]
		if p.entries[id].skip >= p.fuseN-1 {
			p.serviceLocked(id)
			return id, true
		}
	}

	for _, id := range p.order {
		if p.entries[id].sizeFn().Ready > 0 {
			p.serviceLocked(id)
			return id, true
		}
	}
	return "", false
}

func (p *PriorityOfQueue) serviceLocked(pickID string) {
	picked := p.entries[pickID]
	for id, e := range p.entries {
		if id == pickID {
			e.skip = 0
			continue
		}
		if e.priority < picked.priority {
			e.skip++
		}
	}
}
