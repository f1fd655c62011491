// Package jobs implements the Job Tracker (spec §4.I): an in-process
// jobId -> Job registry backing the Publish Pipeline's asynchronous mode.
//
// Grounded on statemanager/manager.go's Manager: the same map-plus-mutex
// shape, the same oldest-first eviction on overflow, generalized from that
// file's generic "operation" vocabulary to publish-specific job steps and
// results, and extended with the terminal-TTL sweep and per-user listing
// spec §4.I/§5 add on top.
package jobs

import (
	"sync"
	"time"

	"oip.network/indexd/logging"
)

// Status is a Job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DestinationResult is one entry of a multi-destination publish's
// per-destination outcome (spec §4.H "Multi-destination publish").
type DestinationResult struct {
	Destination string
	Status      string // "success" | "failed"
	DID         string
	Error       string
	Gateway     string
}

// Job is one tracked publish operation.
type Job struct {
	ID          string
	UserID      string
	Operation   string
	Status      Status
	Step        string
	Progress    int // 0-100
	Result      string // resulting DID on success
	Destinations []DestinationResult
	Error       string
	Cancelled   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (j Job) clone() *Job {
	c := j
	if j.Destinations != nil {
		c.Destinations = make([]DestinationResult, len(j.Destinations))
		copy(c.Destinations, j.Destinations)
	}
	return &c
}

const (
	defaultSoftCap = 1000
	terminalTTL    = 24 * time.Hour
	sweepInterval  = 10 * time.Minute
)

// Tracker is the jobId -> Job registry. Operations are serialized through a
// single mutex, matching the teacher's Manager — spec §5 notes Job-map
// contention is expected to be low, so a per-jobId lock would be
// over-engineering here.
type Tracker struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	softCap int
	log     *logging.Fields
}

func New(softCap int) *Tracker {
	if softCap <= 0 {
		softCap = defaultSoftCap
	}
	return &Tracker{jobs: make(map[string]*Job), softCap: softCap, log: logging.New("jobs")}
}

// Create registers a new job in pending state.
func (t *Tracker) Create(id, userID, operation string) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.jobs) >= t.softCap {
		t.evictOldestTerminal()
	}

	now := time.Now().UTC()
	job := &Job{ID: id, UserID: userID, Operation: operation, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	t.jobs[id] = job
	return job.clone()
}

// Update advances a job's step/progress. A no-op once the job has reached a
// terminal status (e.g. cancelled between steps), so a late progress report
// from an in-flight pipeline can't resurrect it.
func (t *Tracker) Update(id string, step string, progress int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	job.Status = StatusRunning
	job.Step = step
	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()
}

// Complete marks a job as terminally successful, carrying the resulting DID.
func (t *Tracker) Complete(id, did string, destinations []DestinationResult) {
	t.finish(id, StatusCompleted, did, "", destinations)
}

// Fail marks a job as terminally failed.
func (t *Tracker) Fail(id string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	t.finish(id, StatusFailed, "", msg, nil)
}

func (t *Tracker) finish(id string, status Status, result, errMsg string, destinations []DestinationResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	job.Status = status
	job.Result = result
	job.Error = errMsg
	job.Destinations = destinations
	job.UpdatedAt = now
	job.CompletedAt = &now
}

// Cancel requests cooperative cancellation (spec §4.H: "skips remaining
// steps"). The pipeline goroutine observes IsCancelled between steps; this
// call does not itself stop anything.
func (t *Tracker) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok || job.Status.Terminal() {
		return false
	}
	job.Cancelled = true
	job.Status = StatusCancelled
	now := time.Now().UTC()
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true
}

// IsCancelled reports whether id has been cancelled, for the pipeline to
// poll between steps.
func (t *Tracker) IsCancelled(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	return ok && job.Cancelled
}

func (t *Tracker) Get(id string) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

// List returns the most recently created jobs for forUser (or all users if
// forUser is empty), newest first, capped at limit.
func (t *Tracker) List(forUser string, limit int) []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	var matched []*Job
	for _, job := range t.jobs {
		if forUser != "" && job.UserID != forUser {
			continue
		}
		matched = append(matched, job.clone())
	}
	sortJobsNewestFirst(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

func sortJobsNewestFirst(jobs []*Job) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && jobs[j].CreatedAt.After(jobs[j-1].CreatedAt); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
}

// evictOldestTerminal removes the oldest terminal job, called with mu held.
// If no terminal job exists, capacity is exceeded anyway — spec §4.I says
// active entries never auto-evict, so this is a no-op in that case.
func (t *Tracker) evictOldestTerminal() {
	var oldestID string
	var oldestTime time.Time
	for id, job := range t.jobs {
		if !job.Status.Terminal() {
			continue
		}
		if oldestID == "" || job.CreatedAt.Before(oldestTime) {
			oldestID = id
			oldestTime = job.CreatedAt
		}
	}
	if oldestID != "" {
		delete(t.jobs, oldestID)
	}
}

// RunSweep runs the TTL cleanup loop until stop is closed, removing terminal
// jobs older than terminalTTL at a fixed interval (spec §4.I/§5).
func (t *Tracker) RunSweep(stop <-chan struct{}) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.sweepExpired()
		}
	}
}

func (t *Tracker) sweepExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().UTC().Add(-terminalTTL)
	for id, job := range t.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(t.jobs, id)
		}
	}
}
