// Package job implements the per-kind job registry. Every asynchronous
// operation owns exactly one slot keyed by its kind; the worker holding a
// slot is the only writer, and pollers read atomically swapped immutable
// snapshots so they never observe a torn status.
package job

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
)

// ErrJobRunning is returned by Begin when a job of that kind is already
// running. Jobs are rejected, never queued.
var ErrJobRunning = eris.New("a job of this kind is already running")

// Kind identifies an operation type. At most one job per kind runs at a
// time.
type Kind string

const (
	KindScan          Kind = "scan"
	KindDeleteScan    Kind = "delete_scan"
	KindDeleteSingle  Kind = "delete_single"
	KindDeleteBulk    Kind = "delete_bulk"
	KindMarkRead      Kind = "mark_read"
	KindLabelApply    Kind = "label_apply"
	KindLabelRemove   Kind = "label_remove"
	KindArchive       Kind = "archive"
	KindMarkImportant Kind = "mark_important"
	KindDownload      Kind = "download"
)

// Counters carries the kind-specific tallies a worker accumulates.
// Fields are flat so the status JSON matches what pollers expect; zero
// fields are omitted.
type Counters struct {
	TotalEmails   int `json:"total_emails,omitempty"`
	FetchedCount  int `json:"fetched_count,omitempty"`
	FailedCount   int `json:"failed_count,omitempty"`
	MarkedCount   int `json:"marked_count,omitempty"`
	DeletedCount  int `json:"deleted_count,omitempty"`
	ArchivedCount int `json:"archived_count,omitempty"`
	AffectedCount int `json:"affected_count,omitempty"`
	TotalSenders  int `json:"total_senders,omitempty"`
	CurrentSender int `json:"current_sender,omitempty"`
}

// Status is one immutable snapshot of a job. Progress is 0..100 and
// monotonically non-decreasing within a job. Done and Error can coexist:
// done means no further changes will occur, error indicates the outcome.
type Status struct {
	Kind      Kind      `json:"kind"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Done      bool      `json:"done"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Counters
}

// Running reports whether the job this snapshot belongs to is still
// executing.
func (s *Status) Running() bool {
	return s != nil && !s.Done
}

// slot holds the current snapshot for one kind.
type slot struct {
	current atomic.Pointer[Status]
}

// Registry owns one slot per kind.
type Registry struct {
	mu    sync.Mutex // serializes Begin decisions
	slots map[Kind]*slot
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		slots: make(map[Kind]*slot),
		now:   time.Now,
	}
}

func (r *Registry) slotFor(kind Kind) *slot {
	if s, ok := r.slots[kind]; ok {
		return s
	}
	s := &slot{}
	r.slots[kind] = s
	return s
}

// Begin claims the slot for kind and returns the writer handle. It fails
// with ErrJobRunning if a job of that kind has started and not finished.
// Beginning after done or failed resets progress, message, error and
// counters.
func (r *Registry) Begin(kind Kind) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.slotFor(kind)
	if s.current.Load().Running() {
		return nil, eris.Wrapf(ErrJobRunning, "kind %s", kind)
	}

	fresh := &Status{
		Kind:      kind,
		StartedAt: r.now(),
	}
	s.current.Store(fresh)
	return &Job{slot: s, now: r.now}, nil
}

// Status returns a value copy of the current snapshot for kind. A kind
// that never ran yields an idle record.
func (r *Registry) Status(kind Kind) Status {
	r.mu.Lock()
	s := r.slotFor(kind)
	r.mu.Unlock()

	if cur := s.current.Load(); cur != nil {
		return *cur
	}
	return Status{Kind: kind, Message: "Ready"}
}

// Job is the single-writer handle for one running job. Methods copy the
// current snapshot, mutate the copy and swap it in; concurrent pollers
// keep reading the previous consistent snapshot until the swap.
type Job struct {
	slot *slot
	now  func() time.Time
}

func (j *Job) swap(mutate func(*Status)) {
	cur := j.slot.current.Load()
	next := *cur
	mutate(&next)
	j.slot.current.Store(&next)
}

// Progress moves the progress forward. Values below the current progress
// or outside 0..100 are clamped; progress never decreases within a job.
func (j *Job) Progress(pct int) {
	j.swap(func(s *Status) {
		if pct > 100 {
			pct = 100
		}
		if pct > s.Progress {
			s.Progress = pct
		}
	})
}

// Message replaces the human-readable status line.
func (j *Job) Message(msg string) {
	j.swap(func(s *Status) { s.Message = msg })
}

// Update applies fn to a copy of the counters and publishes it.
func (j *Job) Update(fn func(*Counters)) {
	j.swap(func(s *Status) { fn(&s.Counters) })
}

// Complete marks the job done with progress forced to 100.
func (j *Job) Complete(msg string) {
	j.swap(func(s *Status) {
		s.Progress = 100
		s.Message = msg
		s.Done = true
		s.EndedAt = j.now()
	})
}

// Fail marks the job done with the error populated. Progress stays frozen
// at its last value.
func (j *Job) Fail(err error) {
	j.swap(func(s *Status) {
		s.Error = err.Error()
		s.Done = true
		s.EndedAt = j.now()
	})
}
