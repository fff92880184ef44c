package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"livinginsider-scraper/models"
	"livinginsider-scraper/utils"
)

var (
	// ErrNotFound is returned for unknown or expired job ids.
	ErrNotFound = errors.New("job not found")
	// ErrNotReady is returned when an export is requested before the job is done.
	ErrNotReady = errors.New("job not done yet")
)

// subscriberBuffer is the per-subscriber event buffer; a subscriber that
// falls this far behind loses intermediate events, never blocks the pipeline.
const subscriberBuffer = 16

// maxSweepInterval bounds how rarely the TTL sweeper runs even for long TTLs.
const maxSweepInterval = time.Minute

// Job is one scrape run's lifecycle record. Fields are guarded by the
// owning Store's mutex; callers only ever see copies via Snapshot.
type Job struct {
	ID        string
	Status    models.JobStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	Options   models.RunOptions
	Meta      models.JobMeta
	Rows      []*models.Listing
	Err       string

	cancel      context.CancelFunc
	subscribers map[chan models.ProgressEvent]struct{}
}

// Store holds every live job in memory, bounded by a TTL and a capacity
// limit. Evictions disconnect subscribers before removing the record so no
// open connection leaks.
type Store struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	logger *utils.Logger

	ttl      time.Duration
	capacity int

	stopOnce sync.Once
	stop     chan struct{}
}

// NewStore creates a Store and starts its background TTL sweeper.
func NewStore(ttl time.Duration, capacity int, logger *utils.Logger) *Store {
	if capacity < 1 {
		capacity = 1
	}
	s := &Store{
		jobs:     make(map[string]*Job),
		logger:   logger.Tagged("store"),
		ttl:      ttl,
		capacity: capacity,
		stop:     make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Create registers a new running job and returns its id together with the
// context the pipeline must run under. Exceeding capacity evicts the
// oldest-created jobs first.
func (s *Store) Create(opts models.RunOptions) (string, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	job := &Job{
		ID:          uuid.NewString(),
		Status:      models.StatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
		Options:     opts,
		cancel:      cancel,
		subscribers: make(map[chan models.ProgressEvent]struct{}),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	for len(s.jobs) > s.capacity {
		s.evictOldestLocked()
	}
	s.mu.Unlock()

	s.logger.Info("job %s created (max_results=%d)", job.ID, opts.MaxResults)
	return job.ID, ctx
}

// Snapshot returns the externally visible view of a job. Rows are included
// only once the job is done.
func (s *Store) Snapshot(id string) (models.JobSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.JobSnapshot{}, ErrNotFound
	}
	return snapshotLocked(job), nil
}

func snapshotLocked(job *Job) models.JobSnapshot {
	snap := models.JobSnapshot{
		ID:        job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		Options:   job.Options,
		Meta:      job.Meta,
		Error:     job.Err,
		Rows:      []*models.Listing{},
	}
	if job.Status == models.StatusDone {
		snap.Rows = job.Rows
	}
	return snap
}

// Rows returns a done job's rows for export. ErrNotReady before completion.
func (s *Store) Rows(id string) ([]*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != models.StatusDone {
		return nil, ErrNotReady
	}
	return job.Rows, nil
}

// UpdateMeta applies fn to the job's meta under the store lock and bumps
// UpdatedAt. Unknown ids are ignored (the job may have been evicted while
// its pipeline was still winding down).
func (s *Store) UpdateMeta(id string, fn func(*models.JobMeta)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	fn(&job.Meta)
	job.UpdatedAt = time.Now()
}

// Broadcast pushes the job's current status and meta to every subscriber.
func (s *Store) Broadcast(id, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return
	}
	broadcastLocked(job, message)
}

func broadcastLocked(job *Job, message string) {
	ev := models.ProgressEvent{
		Status:    job.Status,
		Meta:      job.Meta,
		Message:   message,
		Timestamp: time.Now(),
	}
	for ch := range job.subscribers {
		select {
		case ch <- ev:
		default: // slow subscriber, drop rather than stall the pipeline
		}
	}
}

// Complete transitions a running job to done, installing rows and final meta
// atomically, then notifies and disconnects subscribers. Terminal jobs are
// never revived.
func (s *Store) Complete(id string, rows []*models.Listing, finalize func(*models.JobMeta)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	if finalize != nil {
		finalize(&job.Meta)
	}
	job.Rows = rows
	job.Status = models.StatusDone
	job.UpdatedAt = time.Now()

	broadcastLocked(job, "done")
	closeSubscribersLocked(job)
	s.logger.Info("job %s done: %d rows, %d dupes, %d errors",
		job.ID, len(rows), job.Meta.DuplicatesRemoved, len(job.Meta.Errors))
}

// Fail transitions a running job to error. Accumulated meta stays as-is.
func (s *Store) Fail(id string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	job.Status = models.StatusError
	job.Err = cause.Error()
	job.UpdatedAt = time.Now()

	broadcastLocked(job, "error")
	closeSubscribersLocked(job)
	s.logger.Error("job %s failed: %v", job.ID, cause)
}

// Cancel triggers the job's cooperative cancellation signal. The pipeline
// notices at its next suspension point and finishes with what it has.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	var cancel context.CancelFunc
	if ok {
		cancel = job.cancel
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	cancel()
	return nil
}

// Subscribe attaches a progress listener to a job. The subscriber
// immediately receives a snapshot event; for a terminal job the channel is
// then closed. The returned func detaches the subscriber.
func (s *Store) Subscribe(id string) (<-chan models.ProgressEvent, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, nil, ErrNotFound
	}

	ch := make(chan models.ProgressEvent, subscriberBuffer)
	ch <- models.ProgressEvent{
		Status:    job.Status,
		Meta:      job.Meta,
		Message:   "snapshot",
		Timestamp: time.Now(),
	}

	if job.Status.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	job.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if j, ok := s.jobs[id]; ok {
			if _, attached := j.subscribers[ch]; attached {
				delete(j.subscribers, ch)
				close(ch)
			}
		}
	}
	return ch, unsubscribe, nil
}

// Len returns the number of stored jobs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Close stops the sweeper and cancels every live job.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		job.cancel()
		closeSubscribersLocked(job)
	}
}

func (s *Store) sweepLoop() {
	interval := s.ttl / 2
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *Store) sweepExpired() {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			s.removeLocked(job)
			s.logger.Debug("job %s expired (ttl %v)", id, s.ttl)
		}
	}
}

func (s *Store) evictOldestLocked() {
	var oldest *Job
	for _, job := range s.jobs {
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest != nil {
		s.removeLocked(oldest)
		s.logger.Info("job %s evicted (capacity %d)", oldest.ID, s.capacity)
	}
}

// removeLocked disconnects subscribers first, then drops the record, so an
// evicted job never leaks an open connection.
func (s *Store) removeLocked(job *Job) {
	job.cancel()
	closeSubscribersLocked(job)
	delete(s.jobs, job.ID)
}

func closeSubscribersLocked(job *Job) {
	for ch := range job.subscribers {
		close(ch)
	}
	job.subscribers = make(map[chan models.ProgressEvent]struct{})
}
