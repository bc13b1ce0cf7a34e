// Package scheduler runs the single active-model execution loop: one
// FIFO queue per model, one global execution lock, and a scoring
// function that picks the next model when the active one drains. While
// the gateway runs it is the sole caller of the supervisor's
// ensure_up/ensure_down for the providers it manages (at shutdown the
// supervisor module itself ensure_downs every owned provider), and the
// sole caller of the provider adapters.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/gatewayd/internal/catalog"
	"github.com/flemzord/gatewayd/internal/metrics"
)

var tracer = otel.Tracer("github.com/flemzord/gatewayd/internal/scheduler")

// Adapter forwards one job's request body to its resolved provider.
type Adapter interface {
	Forward(ctx context.Context, p *catalog.Provider, requestBody []byte) ([]byte, catalog.NormalizedError, error)
}

// Supervisor is the subset of internal/supervisor the scheduler drives
// around a provider switch.
type Supervisor interface {
	EnsureUp(ctx context.Context, p *catalog.Provider) error
	EnsureDown(ctx context.Context, p *catalog.Provider) error
}

// ModelResolver answers which provider currently serves a model id, and
// exposes the per-model scoring attributes.
type ModelResolver interface {
	Provider(modelID string) (*catalog.Provider, bool)
	Model(modelID string) (catalog.Model, bool)
}

// Scheduler owns the queue map and the single execution loop goroutine.
type Scheduler struct {
	logger   *slog.Logger
	sup      Supervisor
	adapter  Adapter
	resolver ModelResolver
	metrics  *metrics.Metrics

	agingBonusPerSecond float64
	idleShutdown        time.Duration

	mu              sync.Mutex
	queues          map[string][]*catalog.Job
	oldestCreatedAt map[string]time.Time
	activeModel     string
	activeProvider  *catalog.Provider
	lastUsedAt      time.Time
	wake            chan struct{}

	execLock sync.Mutex // "one local job runs at a time"

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Config bundles the tuning knobs read from the global config.
type Config struct {
	AgingBonusPerSecond float64
	IdleShutdown        time.Duration
}

// New creates a Scheduler. Run must be called to start its loop. m may be
// nil to skip instrumentation.
func New(logger *slog.Logger, sup Supervisor, adapter Adapter, resolver ModelResolver, m *metrics.Metrics, cfg Config) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:              logger,
		sup:                 sup,
		adapter:             adapter,
		resolver:            resolver,
		metrics:             m,
		agingBonusPerSecond: cfg.AgingBonusPerSecond,
		idleShutdown:        cfg.IdleShutdown,
		queues:              make(map[string][]*catalog.Job),
		oldestCreatedAt:     make(map[string]time.Time),
		wake:                make(chan struct{}, 1),
		stop:                make(chan struct{}),
		done:                make(chan struct{}),
	}
}

// Submit appends job to its model's queue and wakes the loop. The caller
// awaits job.Done for the result.
func (s *Scheduler) Submit(job *catalog.Job) {
	s.mu.Lock()
	if len(s.queues[job.ModelID]) == 0 {
		s.oldestCreatedAt[job.ModelID] = job.CreatedAt
	}
	s.queues[job.ModelID] = append(s.queues[job.ModelID], job)
	s.metrics.SetQueueDepth(job.ModelID, len(s.queues[job.ModelID]))
	s.mu.Unlock()
	s.nudge()
}

// Cancel removes job from its queue if still queued and marks it failed
// with timeout. If the job is already running, it is left to finish —
// v1 adapters cannot be preempted mid-flight.
func (s *Scheduler) Cancel(job *catalog.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.Status != catalog.JobQueued {
		return
	}
	q := s.queues[job.ModelID]
	for i, j := range q {
		if j == job {
			s.queues[job.ModelID] = append(q[:i], q[i+1:]...)
			s.metrics.SetQueueDepth(job.ModelID, len(s.queues[job.ModelID]))
			break
		}
	}
	job.Error = catalog.ErrTimeout
	job.Finish(catalog.JobFailed)
}

// Stats is a point-in-time view for the health and status endpoints.
type Stats struct {
	ActiveModel    string         `json:"active_model,omitempty"`
	ActiveProvider string         `json:"active_provider,omitempty"`
	QueueSizes     map[string]int `json:"queue_sizes"`
	Pending        int            `json:"pending"`
}

// Stats reports the current queues and active pair.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{ActiveModel: s.activeModel, QueueSizes: make(map[string]int)}
	if s.activeProvider != nil {
		st.ActiveProvider = s.activeProvider.ID
	}
	for model, q := range s.queues {
		if len(q) > 0 {
			st.QueueSizes[model] = len(q)
			st.Pending += len(q)
		}
	}
	return st
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the scheduling loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.wake:
		case <-time.After(time.Second):
			// Periodic tick drives the idle-shutdown check even with no
			// new arrivals.
		}
		s.tick(ctx)
	}
}

// Stop signals Run to exit and waits for it to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Scheduler) tick(ctx context.Context) {
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, model, ok := s.popHeadOfActiveOrPickNext()
		if !ok {
			s.checkIdleShutdown(ctx)
			return
		}

		provider, found := s.resolver.Provider(model)
		if !found {
			job.Error = catalog.ErrNotFound
			job.Finish(catalog.JobFailed)
			continue
		}
		job.ProviderID = provider.ID

		// A cloud provider without its credential can never succeed;
		// fail fast instead of burning a provider switch on it.
		if provider.APIKeyEnv != "" {
			if v, ok := os.LookupEnv(provider.APIKeyEnv); !ok || v == "" {
				provider.LastError = "missing credential: " + provider.APIKeyEnv + " is not set"
				s.logger.Error("scheduler: missing provider credential",
					"provider", provider.ID, "env", provider.APIKeyEnv)
				job.Trace = append(job.Trace, catalog.Attempt{Model: model, ProviderID: provider.ID, Error: catalog.ErrOther})
				job.Error = catalog.ErrOther
				job.Finish(catalog.JobFailed)
				continue
			}
		}

		s.mu.Lock()
		prev := s.activeProvider
		s.mu.Unlock()

		// A switch is needed when the provider changes; a re-ensure is
		// needed when the active provider's health regressed between jobs
		// (crash detection) — the invariant is that the active provider is
		// up-and-running or absent, never owned-but-dead.
		if prev == nil || prev.ID != provider.ID || !provider.Healthy {
			if err := s.switchProvider(ctx, prev, provider); err != nil {
				s.failJobAndQueue(job, model, catalog.ErrUnreachable)
				continue
			}
		}

		s.mu.Lock()
		s.activeModel = model
		s.activeProvider = provider
		s.mu.Unlock()

		s.runJob(ctx, provider, job)

		s.mu.Lock()
		empty := len(s.queues[model]) == 0
		if empty {
			s.activeModel = ""
		}
		s.mu.Unlock()
		if empty {
			s.checkIdleShutdown(ctx)
			return
		}
	}
}

// popHeadOfActiveOrPickNext prefers draining the active model; otherwise
// it scores the non-empty queues and picks the next one.
func (s *Scheduler) popHeadOfActiveOrPickNext() (*catalog.Job, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeModel != "" {
		if q := s.queues[s.activeModel]; len(q) > 0 {
			return s.popLocked(s.activeModel), s.activeModel, true
		}
	}

	model, ok := s.pickNextModelLocked()
	if !ok {
		return nil, "", false
	}
	s.activeModel = model
	return s.popLocked(model), model, true
}

func (s *Scheduler) popLocked(model string) *catalog.Job {
	q := s.queues[model]
	job := q[0]
	s.queues[model] = q[1:]
	s.metrics.SetQueueDepth(model, len(s.queues[model]))
	if len(s.queues[model]) > 0 {
		s.oldestCreatedAt[model] = s.queues[model][0].CreatedAt
	}
	return job
}

func (s *Scheduler) pickNextModelLocked() (string, bool) {
	now := time.Now()

	type candidate struct {
		id        string
		score     float64
		oldest    time.Time
		deferLast bool
	}

	var candidates []candidate
	for id, q := range s.queues {
		if len(q) == 0 {
			continue
		}
		m, _ := s.resolver.Model(id)
		oldest := s.oldestCreatedAt[id]
		age := now.Sub(oldest).Seconds()
		score := m.BasePriority - m.LoadPenalty - m.RuntimePenalty + s.agingBonusPerSecond*age
		candidates = append(candidates, candidate{id: id, score: score, oldest: oldest, deferLast: m.AlwaysRunLast})
	}
	if len(candidates) == 0 {
		return "", false
	}

	// always_run_last models wait until they are the only candidates.
	nonLast := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.deferLast {
			nonLast = append(nonLast, c)
		}
	}
	pool := candidates
	if len(nonLast) > 0 {
		pool = nonLast
	}

	sort.Slice(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		if !pool[i].oldest.Equal(pool[j].oldest) {
			return pool[i].oldest.Before(pool[j].oldest)
		}
		return pool[i].id < pool[j].id
	})
	return pool[0].id, true
}

// switchProvider performs the stop-before-start sequence that keeps at
// most one local backend resident: ensure_down the previous owned
// provider, then ensure_up the next one.
func (s *Scheduler) switchProvider(ctx context.Context, prev, next *catalog.Provider) error {
	if prev != nil && prev.ID != next.ID && prev.HasProcess() {
		prev.Lock()
		_ = s.sup.EnsureDown(ctx, prev)
		prev.Unlock()
		s.mu.Lock()
		s.activeProvider = nil
		s.mu.Unlock()
	}

	next.Lock()
	defer next.Unlock()
	if err := s.sup.EnsureUp(ctx, next); err != nil {
		return err
	}
	if prev == nil || prev.ID != next.ID {
		s.metrics.RecordSwitch()
	}
	return nil
}

// failJobAndQueue delivers err to job and to every job still queued for
// model, one at a time, so the Router can independently decide whether to
// fall back for each.
func (s *Scheduler) failJobAndQueue(job *catalog.Job, model string, err catalog.NormalizedError) {
	s.mu.Lock()
	q := s.queues[model]
	s.queues[model] = nil
	s.metrics.SetQueueDepth(model, 0)
	if s.activeModel == model {
		s.activeModel = ""
	}
	s.mu.Unlock()

	for _, j := range append([]*catalog.Job{job}, q...) {
		j.Trace = append(j.Trace, catalog.Attempt{Model: j.ModelID, ProviderID: j.ProviderID, Error: err})
		j.Error = err
		j.Finish(catalog.JobFailed)
	}
	s.logger.Warn("scheduler: failed queue", "model", model, "error", err, "jobs", 1+len(q))
}

func (s *Scheduler) runJob(ctx context.Context, provider *catalog.Provider, job *catalog.Job) {
	job.QueueWait = time.Since(job.CreatedAt)
	job.Status = catalog.JobRunning
	s.metrics.ObserveQueueWait(job.QueueWait)

	forwardCtx, span := tracer.Start(ctx, "scheduler.forward", trace.WithAttributes(
		attribute.String("job_id", job.JobID),
		attribute.String("model", job.ModelID),
		attribute.String("provider", provider.ID),
		attribute.Int("attempt", job.AttemptIdx),
	))

	s.execLock.Lock()
	start := time.Now()
	body, normErr, err := s.adapter.Forward(forwardCtx, provider, job.RequestBody)
	job.Runtime = time.Since(start)
	s.execLock.Unlock()

	s.metrics.ObserveForward(provider.ID, job.Runtime)
	provider.LastUsedAt = time.Now()
	s.mu.Lock()
	s.lastUsedAt = time.Now()
	s.mu.Unlock()

	attempt := catalog.Attempt{Model: job.ModelID, ProviderID: provider.ID, WallTime: job.Runtime}

	if err != nil || normErr != "" {
		if normErr == "" {
			normErr = catalog.ErrOther
		}
		span.SetStatus(codes.Error, string(normErr))
		span.End()

		// An unreachable verdict means the process died under us; drop
		// the healthy flag so the next head-of-queue re-ensures.
		if normErr == catalog.ErrUnreachable {
			provider.Healthy = false
		}

		attempt.Error = normErr
		job.Trace = append(job.Trace, attempt)
		job.Error = normErr
		job.Finish(catalog.JobFailed)
		s.logger.Warn("scheduler: job failed",
			"job_id", job.JobID, "model", job.ModelID, "provider", provider.ID, "error", normErr)
		return
	}

	span.End()
	job.Trace = append(job.Trace, attempt)
	job.ResponseBody = body
	job.Finish(catalog.JobDone)
}

// checkIdleShutdown tears the active provider down if it has been idle
// past its configured threshold with no jobs pending anywhere.
func (s *Scheduler) checkIdleShutdown(ctx context.Context) {
	s.mu.Lock()
	provider := s.activeProvider
	anyPending := false
	for _, q := range s.queues {
		if len(q) > 0 {
			anyPending = true
			break
		}
	}
	idleFor := time.Since(s.lastUsedAt)
	s.mu.Unlock()

	if provider == nil || anyPending {
		return
	}
	threshold := s.idleShutdown
	if provider.Policy.IdleShutdown > 0 {
		threshold = provider.Policy.IdleShutdown
	}
	if threshold <= 0 || idleFor < threshold || provider.Policy.KeepWarm {
		return
	}

	provider.Lock()
	_ = s.sup.EnsureDown(ctx, provider)
	provider.Unlock()
	s.logger.Info("scheduler: idle shutdown", "provider", provider.ID, "idle", idleFor.Truncate(time.Second))

	s.mu.Lock()
	s.activeProvider = nil
	s.mu.Unlock()
}
