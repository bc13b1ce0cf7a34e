// Package router resolves a client-facing request (a route alias or an
// explicit model id) to one or more Scheduler submissions, driving the
// fallback cascade described by a route's fallback_on set and
// max_fallback_attempts budget.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/flemzord/gatewayd/internal/catalog"
	"github.com/flemzord/gatewayd/internal/metrics"
)

// Submitter is the Scheduler's client-facing surface.
type Submitter interface {
	Submit(job *catalog.Job)
	Cancel(job *catalog.Job)
}

// SnapshotLookup resolves an explicit model id to a provider id.
type SnapshotLookup interface {
	Lookup(modelID string) (string, bool)
}

// Refresher performs the one-shot refresh-on-miss the Router is allowed
// to request from the Registry.
type Refresher interface {
	RefreshOnMiss(ctx context.Context, modelID string) (string, bool)
}

// RouteStore resolves a route:<name> alias.
type RouteStore interface {
	Route(name string) (catalog.Route, bool)
}

// JobFactory mints Job ids/request ids so the router never has to import
// an id-generation concern of its own.
type JobFactory func(modelID, routeName string, fallbacks []string, body []byte) *catalog.Job

// Router is stateless aside from its collaborators; every call is
// independent.
type Router struct {
	scheduler         Submitter
	snapshot          SnapshotLookup
	refresher         Refresher
	routes            RouteStore
	newJob            JobFactory
	metrics           *metrics.Metrics
	autoRefreshOnMiss bool
	maxFallback       int
}

// New creates a Router. maxFallback counts additional attempts beyond the
// primary; explicit model-id calls never fall back regardless of it.
func New(scheduler Submitter, snapshot SnapshotLookup, refresher Refresher, routes RouteStore, newJob JobFactory, m *metrics.Metrics, autoRefreshOnMiss bool, maxFallback int) *Router {
	return &Router{
		scheduler:         scheduler,
		snapshot:          snapshot,
		refresher:         refresher,
		routes:            routes,
		newJob:            newJob,
		metrics:           m,
		autoRefreshOnMiss: autoRefreshOnMiss,
		maxFallback:       maxFallback,
	}
}

// Result is what a client-facing handler needs to render a response.
type Result struct {
	ResponseBody []byte
	Error        catalog.NormalizedError
	Trace        []catalog.Attempt
	Jobs         []*catalog.Job // every job submitted, for request logging
}

const routePrefix = "route:"

// Resolve routes requestedModel (either "route:<name>" or a bare model
// id) to one or more Job submissions, following the fallback cascade
// until success, exhaustion, or a normalized error outside fallback_on.
// The context's deadline is the per-request timeout: on expiry a queued
// job is withdrawn and a running one is abandoned, and the caller gets
// a timeout verdict either way.
func (r *Router) Resolve(ctx context.Context, requestedModel string, body []byte) Result {
	if name, ok := strings.CutPrefix(requestedModel, routePrefix); ok {
		return r.resolveRoute(ctx, name, body)
	}
	return r.resolveExplicitModel(ctx, requestedModel, body)
}

func (r *Router) resolveExplicitModel(ctx context.Context, modelID string, body []byte) Result {
	if !r.lookupWithRefresh(ctx, modelID) {
		return Result{Error: catalog.ErrNotFound}
	}

	job := r.newJob(modelID, "", nil, body)
	r.scheduler.Submit(job)
	if !r.await(ctx, job) {
		return Result{Error: catalog.ErrTimeout, Trace: job.Trace, Jobs: []*catalog.Job{job}}
	}

	// Explicit model ids never fall back in this revision.
	return Result{ResponseBody: job.ResponseBody, Error: job.Error, Trace: job.Trace, Jobs: []*catalog.Job{job}}
}

func (r *Router) resolveRoute(ctx context.Context, name string, body []byte) Result {
	route, ok := r.routes.Route(name)
	if !ok {
		return Result{Error: catalog.ErrNotFound}
	}

	candidates := append([]string{route.PrimaryModel}, route.FallbackModels...)
	maxAttempts := 1 + r.effectiveMaxFallback()
	if maxAttempts > len(candidates) {
		maxAttempts = len(candidates)
	}

	var (
		trace   []catalog.Attempt
		jobs    []*catalog.Job
		lastErr catalog.NormalizedError
	)

	for attemptIdx := 0; attemptIdx < maxAttempts; attemptIdx++ {
		modelID := candidates[attemptIdx]
		if attemptIdx > 0 {
			r.metrics.RecordFallback()
		}

		if !r.lookupWithRefresh(ctx, modelID) {
			lastErr = catalog.ErrNotFound
			trace = append(trace, catalog.Attempt{Model: modelID, Error: lastErr})
			if _, retryable := route.FallbackOn[lastErr]; !retryable {
				break
			}
			continue
		}

		job := r.newJob(modelID, name, candidates[attemptIdx+1:], body)
		job.AttemptIdx = attemptIdx
		jobs = append(jobs, job)
		r.scheduler.Submit(job)
		if !r.await(ctx, job) {
			return Result{Error: catalog.ErrTimeout, Trace: append(trace, job.Trace...), Jobs: jobs}
		}

		if job.Status == catalog.JobDone {
			return Result{ResponseBody: job.ResponseBody, Trace: append(trace, job.Trace...), Jobs: jobs}
		}

		lastErr = job.Error
		trace = append(trace, job.Trace...)

		if _, retryable := route.FallbackOn[lastErr]; !retryable {
			break
		}
	}

	return Result{Error: lastErr, Trace: trace, Jobs: jobs}
}

// await blocks until the job finishes or the request deadline fires. On
// expiry, a still-queued job is withdrawn; a running job is left to
// complete but its result is discarded.
func (r *Router) await(ctx context.Context, job *catalog.Job) bool {
	select {
	case <-job.Done:
		return true
	case <-ctx.Done():
		r.scheduler.Cancel(job)
		return false
	}
}

// lookupWithRefresh resolves modelID in the snapshot, asking the registry
// for at most one cooldown-respecting rebuild on a miss.
func (r *Router) lookupWithRefresh(ctx context.Context, modelID string) bool {
	if _, ok := r.snapshot.Lookup(modelID); ok {
		return true
	}
	if !r.autoRefreshOnMiss || r.refresher == nil {
		return false
	}
	_, ok := r.refresher.RefreshOnMiss(ctx, modelID)
	return ok
}

func (r *Router) effectiveMaxFallback() int {
	if r.maxFallback < 0 {
		return 0
	}
	return r.maxFallback
}

// NewJobFactory returns a JobFactory backed by genID, which should be a
// collision-resistant id generator (uuid.NewString in production).
func NewJobFactory(genID func() string, now func() time.Time) JobFactory {
	return func(modelID, routeName string, fallbacks []string, body []byte) *catalog.Job {
		id := genID()
		return catalog.NewJob(id, id, modelID, routeName, fallbacks, body, now())
	}
}
