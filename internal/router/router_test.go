package router

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/flemzord/gatewayd/internal/catalog"
)

// scriptedScheduler completes each submitted job synchronously with the
// verdict scripted for its model id.
type scriptedScheduler struct {
	verdicts map[string][]catalog.NormalizedError // per-model verdict queue; "" means success
	submits  []string
	hold     bool // leave jobs unfinished (for timeout tests)
	canceled []*catalog.Job
}

func (f *scriptedScheduler) Submit(job *catalog.Job) {
	f.submits = append(f.submits, job.ModelID)
	if f.hold {
		return
	}
	var verdict catalog.NormalizedError
	if q := f.verdicts[job.ModelID]; len(q) > 0 {
		verdict = q[0]
		f.verdicts[job.ModelID] = q[1:]
	}
	attempt := catalog.Attempt{Model: job.ModelID, ProviderID: "prov-" + job.ModelID, WallTime: time.Millisecond}
	if verdict == "" {
		job.Trace = append(job.Trace, attempt)
		job.ResponseBody = []byte(`{"model":"` + job.ModelID + `"}`)
		job.Finish(catalog.JobDone)
		return
	}
	attempt.Error = verdict
	job.Trace = append(job.Trace, attempt)
	job.Error = verdict
	job.Finish(catalog.JobFailed)
}

func (f *scriptedScheduler) Cancel(job *catalog.Job) {
	f.canceled = append(f.canceled, job)
	if job.Status == catalog.JobQueued {
		job.Error = catalog.ErrTimeout
		job.Finish(catalog.JobFailed)
	}
}

// staticSnapshot knows a fixed model set.
type staticSnapshot map[string]string

func (s staticSnapshot) Lookup(modelID string) (string, bool) {
	pid, ok := s[modelID]
	return pid, ok
}

type staticRoutes map[string]catalog.Route

func (s staticRoutes) Route(name string) (catalog.Route, bool) {
	r, ok := s[name]
	return r, ok
}

type countingRefresher struct {
	calls int
	found map[string]string
}

func (c *countingRefresher) RefreshOnMiss(_ context.Context, modelID string) (string, bool) {
	c.calls++
	pid, ok := c.found[modelID]
	return pid, ok
}

func testFactory() JobFactory {
	n := 0
	return NewJobFactory(func() string {
		n++
		return "job-" + strconv.Itoa(n)
	}, time.Now)
}

func onErrors(errs ...catalog.NormalizedError) map[catalog.NormalizedError]struct{} {
	out := make(map[catalog.NormalizedError]struct{}, len(errs))
	for _, e := range errs {
		out[e] = struct{}{}
	}
	return out
}

func TestExplicitModelSuccess(t *testing.T) {
	t.Parallel()

	sched := &scriptedScheduler{verdicts: map[string][]catalog.NormalizedError{}}
	r := New(sched, staticSnapshot{"llama3": "ollama"}, nil, staticRoutes{}, testFactory(), nil, false, 2)

	res := r.Resolve(context.Background(), "llama3", []byte(`{}`))
	if res.Error != "" {
		t.Fatalf("error = %q", res.Error)
	}
	if len(res.ResponseBody) == 0 {
		t.Error("missing response body")
	}
	if len(res.Jobs) != 1 {
		t.Errorf("jobs = %d", len(res.Jobs))
	}
}

func TestExplicitModelDoesNotFallBack(t *testing.T) {
	t.Parallel()

	sched := &scriptedScheduler{verdicts: map[string][]catalog.NormalizedError{
		"local-x": {catalog.ErrUnreachable},
	}}
	r := New(sched, staticSnapshot{"local-x": "p1", "cloud-y": "p2"}, nil, staticRoutes{}, testFactory(), nil, false, 5)

	res := r.Resolve(context.Background(), "local-x", []byte(`{}`))
	if res.Error != catalog.ErrUnreachable {
		t.Errorf("error = %q, want unreachable", res.Error)
	}
	if len(sched.submits) != 1 {
		t.Errorf("submits = %v, explicit calls must not retry", sched.submits)
	}
}

func TestExplicitModelNotFound(t *testing.T) {
	t.Parallel()

	sched := &scriptedScheduler{}
	r := New(sched, staticSnapshot{}, nil, staticRoutes{}, testFactory(), nil, false, 2)

	res := r.Resolve(context.Background(), "ghost", nil)
	if res.Error != catalog.ErrNotFound {
		t.Errorf("error = %q, want not_found", res.Error)
	}
	if len(sched.submits) != 0 {
		t.Error("nothing should be submitted on a lookup miss")
	}
}

func TestAutoRefreshOnMiss(t *testing.T) {
	t.Parallel()

	sched := &scriptedScheduler{verdicts: map[string][]catalog.NormalizedError{}}
	refresher := &countingRefresher{found: map[string]string{"fresh": "p1"}}
	r := New(sched, staticSnapshot{}, refresher, staticRoutes{}, testFactory(), nil, true, 2)

	res := r.Resolve(context.Background(), "fresh", []byte(`{}`))
	if res.Error != "" {
		t.Fatalf("error = %q", res.Error)
	}
	if refresher.calls != 1 {
		t.Errorf("refresher calls = %d, want exactly 1", refresher.calls)
	}

	res = r.Resolve(context.Background(), "still-ghost", nil)
	if res.Error != catalog.ErrNotFound {
		t.Errorf("error = %q, want not_found after failed refresh", res.Error)
	}
}

func TestRouteFallbackOnUnreachable(t *testing.T) {
	t.Parallel()

	sched := &scriptedScheduler{verdicts: map[string][]catalog.NormalizedError{
		"local-x": {catalog.ErrUnreachable},
	}}
	routes := staticRoutes{"r": {
		Name:           "r",
		PrimaryModel:   "local-x",
		FallbackModels: []string{"cloud-y"},
		FallbackOn:     onErrors(catalog.ErrUnreachable),
	}}
	r := New(sched, staticSnapshot{"local-x": "p1", "cloud-y": "p2"}, nil, routes, testFactory(), nil, false, 2)

	res := r.Resolve(context.Background(), "route:r", []byte(`{}`))
	if res.Error != "" {
		t.Fatalf("error = %q, want success via fallback", res.Error)
	}
	if len(res.Trace) != 2 {
		t.Fatalf("trace = %+v, want 2 attempts", res.Trace)
	}
	if res.Trace[0].Model != "local-x" || res.Trace[0].Error != catalog.ErrUnreachable {
		t.Errorf("first attempt = %+v", res.Trace[0])
	}
	if res.Trace[1].Model != "cloud-y" || res.Trace[1].Error != "" {
		t.Errorf("second attempt = %+v", res.Trace[1])
	}
}

func TestRouteStopsOutsideFallbackOn(t *testing.T) {
	t.Parallel()

	sched := &scriptedScheduler{verdicts: map[string][]catalog.NormalizedError{
		"local-x": {catalog.ErrContextLength},
	}}
	routes := staticRoutes{"r": {
		Name:           "r",
		PrimaryModel:   "local-x",
		FallbackModels: []string{"cloud-y"},
		FallbackOn:     onErrors(catalog.ErrUnreachable),
	}}
	r := New(sched, staticSnapshot{"local-x": "p1", "cloud-y": "p2"}, nil, routes, testFactory(), nil, false, 2)

	res := r.Resolve(context.Background(), "route:r", []byte(`{}`))
	if res.Error != catalog.ErrContextLength {
		t.Errorf("error = %q, want context_length", res.Error)
	}
	if len(sched.submits) != 1 {
		t.Errorf("submits = %v, error outside fallback_on must stop the cascade", sched.submits)
	}
}

func TestRouteExhaustsBudget(t *testing.T) {
	t.Parallel()

	sched := &scriptedScheduler{verdicts: map[string][]catalog.NormalizedError{
		"m1": {catalog.ErrUnreachable},
		"m2": {catalog.ErrUnreachable},
		"m3": {catalog.ErrUnreachable},
	}}
	routes := staticRoutes{"r": {
		Name:           "r",
		PrimaryModel:   "m1",
		FallbackModels: []string{"m2", "m3"},
		FallbackOn:     onErrors(catalog.ErrUnreachable),
	}}
	snapshot := staticSnapshot{"m1": "p", "m2": "p", "m3": "p"}

	// max_fallback_attempts=1: one additional attempt beyond the primary.
	r := New(sched, snapshot, nil, routes, testFactory(), nil, false, 1)

	res := r.Resolve(context.Background(), "route:r", []byte(`{}`))
	if res.Error != catalog.ErrUnreachable {
		t.Errorf("error = %q", res.Error)
	}
	if len(sched.submits) != 2 {
		t.Errorf("submits = %v, want primary + 1 fallback", sched.submits)
	}
	if len(res.Trace) != 2 {
		t.Errorf("trace = %+v", res.Trace)
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	t.Parallel()

	r := New(&scriptedScheduler{}, staticSnapshot{}, nil, staticRoutes{}, testFactory(), nil, false, 2)
	res := r.Resolve(context.Background(), "route:ghost", nil)
	if res.Error != catalog.ErrNotFound {
		t.Errorf("error = %q, want not_found", res.Error)
	}
}

func TestFallbackDeterminism(t *testing.T) {
	t.Parallel()

	routes := staticRoutes{"r": {
		Name:           "r",
		PrimaryModel:   "m1",
		FallbackModels: []string{"m2", "m3"},
		FallbackOn:     onErrors(catalog.ErrUnreachable, catalog.ErrOOM),
	}}
	snapshot := staticSnapshot{"m1": "p", "m2": "p", "m3": "p"}

	run := func() ([]catalog.Attempt, catalog.NormalizedError) {
		sched := &scriptedScheduler{verdicts: map[string][]catalog.NormalizedError{
			"m1": {catalog.ErrUnreachable},
			"m2": {catalog.ErrOOM},
			"m3": {catalog.ErrTimeout},
		}}
		r := New(sched, snapshot, nil, routes, testFactory(), nil, false, 5)
		res := r.Resolve(context.Background(), "route:r", []byte(`{}`))
		return res.Trace, res.Error
	}

	trace1, err1 := run()
	trace2, err2 := run()
	if err1 != err2 || err1 != catalog.ErrTimeout {
		t.Errorf("final errors differ or wrong: %q vs %q", err1, err2)
	}
	if len(trace1) != len(trace2) || len(trace1) != 3 {
		t.Fatalf("trace lengths: %d vs %d", len(trace1), len(trace2))
	}
	for i := range trace1 {
		if trace1[i].Model != trace2[i].Model || trace1[i].Error != trace2[i].Error {
			t.Errorf("attempt %d differs: %+v vs %+v", i, trace1[i], trace2[i])
		}
	}
}

func TestRequestTimeoutCancelsQueuedJob(t *testing.T) {
	t.Parallel()

	sched := &scriptedScheduler{hold: true}
	r := New(sched, staticSnapshot{"llama3": "p"}, nil, staticRoutes{}, testFactory(), nil, false, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := r.Resolve(ctx, "llama3", []byte(`{}`))
	if res.Error != catalog.ErrTimeout {
		t.Errorf("error = %q, want timeout", res.Error)
	}
	if len(sched.canceled) != 1 {
		t.Errorf("canceled = %d, want 1", len(sched.canceled))
	}
}
