package domain

// DisciplineKind names a queue's ordering rule.
type DisciplineKind string

const (
	DisciplineFIFO     DisciplineKind = "fifo"
	DisciplinePriority DisciplineKind = "priority"
	DisciplineDelay    DisciplineKind = "delay"
	DisciplineBounded  DisciplineKind = "bounded"
)

// OverflowPolicy governs a Bounded queue's behavior when Enqueue is called
// at capacity.
type OverflowPolicy string

const (
	OverflowReject     OverflowPolicy = "reject"
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	OverflowDropNewest OverflowPolicy = "drop_newest"
	OverflowBlockUntil OverflowPolicy = "block_until"
)

// QueueSize is the live ready/in-flight/delayed breakdown a Discipline
// reports from Size().
type QueueSize struct {
	Ready    int
	InFlight int
	Delayed  int
	Capacity int // 0 means unbounded
}

// Total returns the number of non-terminal jobs the queue currently owns.
func (s QueueSize) Total() int { return s.Ready + s.InFlight + s.Delayed }

// QueueMeta identifies a queue and names its discipline.
type QueueMeta struct {
	ID         string
	Discipline DisciplineKind
}

// BackpressureAction is the admission decision a Strategy.Apply returns.
type BackpressureAction string

const (
	ActionAdmit      BackpressureAction = "admit"
	ActionReject     BackpressureAction = "reject"
	ActionBlock      BackpressureAction = "block"
	ActionThrottle   BackpressureAction = "throttle"
	ActionRedirect   BackpressureAction = "redirect"
	ActionDeadLetter BackpressureAction = "dead_letter"
)

// BackpressureState is the per-queue record of an active backpressure
// application: at most one exists per queue at a time.
type BackpressureState struct {
	Strategy  string
	Action    BackpressureAction
	AppliedAt int64 // unix nanos, set by the controller's clock
	Blocked   uint64
	Rejected  uint64
	Throttled uint64
	Redirected uint64
}

// WorkerStatus is a worker's position in its state machine.
type WorkerStatus string

const (
	WorkerIdle       WorkerStatus = "idle"
	WorkerLeasing    WorkerStatus = "leasing"
	WorkerProcessing WorkerStatus = "processing"
	WorkerStopping   WorkerStatus = "stopping"
	WorkerStopped    WorkerStatus = "stopped"
)
