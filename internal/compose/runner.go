package compose

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/ports"
)

// RunnerConfig configures the composition job runner
type RunnerConfig struct {
	Workers     int
	MaxAttempts int
	BaseBackoff time.Duration
	JobTimeout  time.Duration
}

type job struct {
	state     ports.CompositionJobState
	attempts  int
	nextRetry *time.Time
	lastErr   string
}

// Runner drains composition jobs with a worker pool. It implements
// ports.CompositionQueue: enqueueing is idempotent, transient failures are
// retried with bounded exponential backoff, and exhausted or permanently
// failed jobs are surfaced to the issuer while the document stays Pending.
type Runner struct {
	composer *Composer
	docs     ports.DocumentRepository
	cfg      RunnerConfig
	log      *logrus.Logger

	jobs chan string
	quit chan struct{}
	wg   sync.WaitGroup

	mu    sync.Mutex
	state map[string]*job
}

// NewRunner creates a runner; call Start to launch its workers
func NewRunner(composer *Composer, docs ports.DocumentRepository, cfg RunnerConfig, log *logrus.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	return &Runner{
		composer: composer,
		docs:     docs,
		cfg:      cfg,
		log:      log,
		jobs:     make(chan string, 256),
		quit:     make(chan struct{}),
		state:    make(map[string]*job),
	}
}

// Start launches the worker pool
func (r *Runner) Start() {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Stop shuts the pool down and waits for in-flight jobs to finish
func (r *Runner) Stop() {
	close(r.quit)
	r.wg.Wait()
}

// Enqueue schedules composition for a document. Idempotent: duplicates for a
// queued, running, retrying, or already composed document are no-ops. A job
// that previously exhausted its retries may be enqueued again.
func (r *Runner) Enqueue(documentID string) {
	r.mu.Lock()
	if j, ok := r.state[documentID]; ok {
		switch j.state {
		case ports.JobStateQueued, ports.JobStateRunning, ports.JobStateRetrying, ports.JobStateDone:
			r.mu.Unlock()
			return
		}
	}
	r.state[documentID] = &job{state: ports.JobStateQueued}
	r.mu.Unlock()

	r.push(documentID)
}

// InFlight reports whether composition for the document is queued or
// executing; field submissions are rejected while it is
func (r *Runner) InFlight(documentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.state[documentID]
	if !ok {
		return false
	}
	switch j.state {
	case ports.JobStateQueued, ports.JobStateRunning, ports.JobStateRetrying:
		return true
	}
	return false
}

// Status returns the job status for a document, if any
func (r *Runner) Status(documentID string) (*ports.CompositionJobStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.state[documentID]
	if !ok {
		return nil, false
	}
	out := &ports.CompositionJobStatus{
		State:     j.state,
		Attempts:  j.attempts,
		LastError: j.lastErr,
	}
	if j.nextRetry != nil {
		t := *j.nextRetry
		out.NextRetry = &t
	}
	return out, true
}

// Recover re-enqueues pending documents whose recipients have all
// completed; called once at startup so a crash mid-composition is retried
func (r *Runner) Recover(ctx context.Context) error {
	ids, err := r.docs.ListAwaitingComposition(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		r.log.WithField("document_id", id).Info("Recovering composition job")
		r.Enqueue(id)
	}
	return nil
}

func (r *Runner) push(documentID string) {
	select {
	case r.jobs <- documentID:
	case <-r.quit:
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.quit:
			return
		case documentID := <-r.jobs:
			r.run(documentID)
		}
	}
}

func (r *Runner) run(documentID string) {
	r.mu.Lock()
	j, ok := r.state[documentID]
	if !ok {
		r.mu.Unlock()
		return
	}
	j.state = ports.JobStateRunning
	j.attempts++
	j.nextRetry = nil
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.JobTimeout)
	err := r.composer.Compose(ctx, documentID)
	cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err == nil {
		j.state = ports.JobStateDone
		j.lastErr = ""
		return
	}

	j.lastErr = err.Error()

	// validation errors and invariant violations never heal on retry
	if domain.IsValidation(err) || errors.Is(err, domain.ErrInvariantViolation) {
		j.state = ports.JobStateFailed
		r.log.WithError(err).WithField("document_id", documentID).Error("Composition failed permanently")
		return
	}

	if j.attempts >= r.cfg.MaxAttempts {
		j.state = ports.JobStateFailed
		r.log.WithError(err).WithFields(logrus.Fields{
			"document_id": documentID,
			"attempts":    j.attempts,
		}).Error("Composition retries exhausted")
		return
	}

	backoff := r.cfg.BaseBackoff << (j.attempts - 1)
	next := time.Now().Add(backoff)
	j.state = ports.JobStateRetrying
	j.nextRetry = &next
	r.log.WithError(err).WithFields(logrus.Fields{
		"document_id": documentID,
		"attempt":     j.attempts,
		"retry_in":    backoff.String(),
	}).Warn("Composition failed, will retry")

	time.AfterFunc(backoff, func() {
		select {
		case <-r.quit:
		default:
			r.push(documentID)
		}
	})
}
