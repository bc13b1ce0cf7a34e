package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/gatewayd/internal/catalog"
)

// fakeSupervisor records lifecycle calls and keeps providers "healthy"
// in memory.
type fakeSupervisor struct {
	mu     sync.Mutex
	events []string
	failUp map[string]bool
}

func (f *fakeSupervisor) EnsureUp(_ context.Context, p *catalog.Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUp[p.ID] {
		f.events = append(f.events, "up-failed:"+p.ID)
		return errors.New("start failed")
	}
	f.events = append(f.events, "up:"+p.ID)
	p.Healthy = true
	return nil
}

func (f *fakeSupervisor) EnsureDown(_ context.Context, p *catalog.Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "down:"+p.ID)
	p.Healthy = false
	p.Owned = false
	p.ProcessPID = 0
	return nil
}

func (f *fakeSupervisor) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// fakeAdapter completes instantly and records the order of forwards.
type fakeAdapter struct {
	mu          sync.Mutex
	order       []string
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
	verdicts    map[string]catalog.NormalizedError // job id -> error
}

func (f *fakeAdapter) Forward(_ context.Context, p *catalog.Provider, body []byte) ([]byte, catalog.NormalizedError, error) {
	cur := f.inFlight.Add(1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	id := string(body)
	f.order = append(f.order, id)
	verdict := f.verdicts[id]
	f.mu.Unlock()
	f.inFlight.Add(-1)
	if verdict != "" {
		return nil, verdict, nil
	}
	return []byte(`{"ok":true}`), "", nil
}

func (f *fakeAdapter) Order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// fakeResolver binds each model to a fixed provider and serves scoring
// attributes from a static map.
type fakeResolver struct {
	providers map[string]*catalog.Provider // model -> provider
	models    map[string]catalog.Model
}

func (f *fakeResolver) Provider(modelID string) (*catalog.Provider, bool) {
	p, ok := f.providers[modelID]
	return p, ok
}

func (f *fakeResolver) Model(modelID string) (catalog.Model, bool) {
	if m, ok := f.models[modelID]; ok {
		return m, true
	}
	return catalog.Model{ID: modelID}, true
}

func provider(id string) *catalog.Provider {
	return &catalog.Provider{ID: id, Kind: catalog.KindOpenAICompat, BaseURL: "http://127.0.0.1:1"}
}

func newJob(id, model string) *catalog.Job {
	return catalog.NewJob(id, id, model, "", nil, []byte(id), time.Now())
}

func startScheduler(t *testing.T, sup Supervisor, ad Adapter, res ModelResolver, cfg Config) *Scheduler {
	t.Helper()
	s := New(nil, sup, ad, res, nil, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})
	return s
}

func await(t *testing.T, jobs ...*catalog.Job) {
	t.Helper()
	for _, j := range jobs {
		select {
		case <-j.Done:
		case <-time.After(5 * time.Second):
			t.Fatalf("job %s did not complete", j.JobID)
		}
	}
}

func TestFIFOWithinModelSwitchAfterDrain(t *testing.T) {
	t.Parallel()

	provA, provB := provider("prov-a"), provider("prov-b")
	provA.Owned = true
	provA.ProcessPID = 4242 // owned process that must be stopped before B starts
	sup := &fakeSupervisor{}
	ad := &fakeAdapter{delay: 10 * time.Millisecond}
	res := &fakeResolver{providers: map[string]*catalog.Provider{"A": provA, "B": provB}}

	s := startScheduler(t, sup, ad, res, Config{})

	a1, a2, b1 := newJob("A1", "A"), newJob("A2", "A"), newJob("B1", "B")
	s.Submit(a1)
	s.Submit(a2)
	s.Submit(b1)
	await(t, a1, a2, b1)

	order := ad.Order()
	if len(order) != 3 || order[0] != "A1" || order[1] != "A2" || order[2] != "B1" {
		t.Errorf("completion order = %v, want [A1 A2 B1]", order)
	}

	// The switch to B must stop A first.
	events := sup.Events()
	downA, upB := -1, -1
	for i, e := range events {
		if e == "down:prov-a" && downA == -1 {
			downA = i
		}
		if e == "up:prov-b" {
			upB = i
		}
	}
	if downA == -1 || upB == -1 || downA > upB {
		t.Errorf("expected down:prov-a before up:prov-b, got %v", events)
	}
}

func TestAppendBeforeSwitch(t *testing.T) {
	t.Parallel()

	provA, provB := provider("prov-a"), provider("prov-b")
	sup := &fakeSupervisor{}
	blocker := make(chan struct{})
	ad := &gatedAdapter{gate: blocker}
	res := &fakeResolver{providers: map[string]*catalog.Provider{"A": provA, "B": provB}}

	s := startScheduler(t, sup, ad, res, Config{})

	a2 := newJob("A2", "A")
	s.Submit(a2)
	// Wait until A2 is running so A is the active model.
	ad.waitRunning(t)

	a3, b1 := newJob("A3", "A"), newJob("B1", "B")
	s.Submit(a3)
	s.Submit(b1)
	close(blocker)

	await(t, a2, a3, b1)
	order := ad.Order()
	if len(order) != 3 || order[0] != "A2" || order[1] != "A3" || order[2] != "B1" {
		t.Errorf("completion order = %v, want [A2 A3 B1]", order)
	}
}

// gatedAdapter blocks its first forward until gate closes, so tests can
// interleave submissions with a running job.
type gatedAdapter struct {
	fakeAdapter
	gate          chan struct{}
	once          sync.Once
	runningClosed atomic.Bool
}

func (g *gatedAdapter) Forward(ctx context.Context, p *catalog.Provider, body []byte) ([]byte, catalog.NormalizedError, error) {
	g.once.Do(func() {
		g.runningClosed.Store(true)
		<-g.gate
	})
	return g.fakeAdapter.Forward(ctx, p, body)
}

func (g *gatedAdapter) waitRunning(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !g.runningClosed.Load() {
		if time.Now().After(deadline) {
			t.Fatal("first job never started")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAgingTieBreak(t *testing.T) {
	t.Parallel()

	provA, provB := provider("prov-a"), provider("prov-b")
	sup := &fakeSupervisor{}
	ad := &fakeAdapter{}
	res := &fakeResolver{providers: map[string]*catalog.Provider{"A": provA, "B": provB}}

	s := New(nil, sup, ad, res, nil, Config{})

	// B's head is older than A's; equal priority means B wins the pick.
	older := time.Now().Add(-10 * time.Second)
	b := catalog.NewJob("B1", "B1", "B", "", nil, []byte("B1"), older)
	a := catalog.NewJob("A1", "A1", "A", "", nil, []byte("A1"), time.Now())
	s.Submit(b)
	s.Submit(a)

	_, model, ok := s.popHeadOfActiveOrPickNext()
	if !ok || model != "B" {
		t.Errorf("picked %q, want B", model)
	}
}

func TestAgingBonusOvercomesPriority(t *testing.T) {
	t.Parallel()

	provA, provB := provider("prov-a"), provider("prov-b")
	res := &fakeResolver{
		providers: map[string]*catalog.Provider{"A": provA, "B": provB},
		models: map[string]catalog.Model{
			"A": {ID: "A", BasePriority: 5},
			"B": {ID: "B", BasePriority: 0},
		},
	}
	s := New(nil, &fakeSupervisor{}, &fakeAdapter{}, res, nil, Config{AgingBonusPerSecond: 1})

	// B has waited 10s: score 0 + 10 > A's 5.
	b := catalog.NewJob("B1", "B1", "B", "", nil, []byte("B1"), time.Now().Add(-10*time.Second))
	a := catalog.NewJob("A1", "A1", "A", "", nil, []byte("A1"), time.Now())
	s.Submit(b)
	s.Submit(a)

	_, model, ok := s.popHeadOfActiveOrPickNext()
	if !ok || model != "B" {
		t.Errorf("picked %q, want B (aging)", model)
	}
}

func TestAlwaysRunLastDeferred(t *testing.T) {
	t.Parallel()

	provA, provB := provider("prov-a"), provider("prov-b")
	res := &fakeResolver{
		providers: map[string]*catalog.Provider{"A": provA, "W": provB},
		models: map[string]catalog.Model{
			"W": {ID: "W", BasePriority: 100, AlwaysRunLast: true},
		},
	}
	s := New(nil, &fakeSupervisor{}, &fakeAdapter{}, res, nil, Config{})

	w := newJob("W1", "W")
	a := newJob("A1", "A")
	s.Submit(w)
	s.Submit(a)

	_, model, ok := s.popHeadOfActiveOrPickNext()
	if !ok || model != "A" {
		t.Errorf("picked %q, want A (always_run_last deferral)", model)
	}

	// Drain A; W is now the only candidate and must run.
	s.mu.Lock()
	s.activeModel = ""
	s.mu.Unlock()
	_, model, ok = s.popHeadOfActiveOrPickNext()
	if !ok || model != "W" {
		t.Errorf("picked %q, want W", model)
	}
}

func TestStartFailureFailsJobsWithUnreachable(t *testing.T) {
	t.Parallel()

	provA := provider("prov-a")
	sup := &fakeSupervisor{failUp: map[string]bool{"prov-a": true}}
	ad := &fakeAdapter{}
	res := &fakeResolver{providers: map[string]*catalog.Provider{"A": provA}}

	s := startScheduler(t, sup, ad, res, Config{})

	j1, j2 := newJob("A1", "A"), newJob("A2", "A")
	s.Submit(j1)
	s.Submit(j2)
	await(t, j1, j2)

	for _, j := range []*catalog.Job{j1, j2} {
		if j.Status != catalog.JobFailed || j.Error != catalog.ErrUnreachable {
			t.Errorf("job %s: status=%s error=%s, want failed/unreachable", j.JobID, j.Status, j.Error)
		}
		if len(j.Trace) == 0 {
			t.Errorf("job %s: missing attempt trace", j.JobID)
		}
	}
	if len(ad.Order()) != 0 {
		t.Errorf("no forward should run after a start failure, got %v", ad.Order())
	}
}

func TestUnknownModelFailsNotFound(t *testing.T) {
	t.Parallel()

	res := &fakeResolver{providers: map[string]*catalog.Provider{}}
	s := startScheduler(t, &fakeSupervisor{}, &fakeAdapter{}, res, Config{})

	j := newJob("X1", "ghost")
	s.Submit(j)
	await(t, j)
	if j.Error != catalog.ErrNotFound {
		t.Errorf("error = %q, want not_found", j.Error)
	}
}

func TestMissingCloudCredentialFailsFast(t *testing.T) {
	provCloud := provider("cloud")
	provCloud.ResourceGroup = catalog.ResourceCloud
	provCloud.APIKeyEnv = "GWD_TEST_MISSING_KEY"
	sup := &fakeSupervisor{}
	ad := &fakeAdapter{}
	res := &fakeResolver{providers: map[string]*catalog.Provider{"gpt-x": provCloud}}

	s := startScheduler(t, sup, ad, res, Config{})

	j := newJob("C1", "gpt-x")
	s.Submit(j)
	await(t, j)

	if j.Status != catalog.JobFailed || j.Error != catalog.ErrOther {
		t.Errorf("status=%s error=%s, want failed/other", j.Status, j.Error)
	}
	if len(ad.Order()) != 0 {
		t.Error("no forward should happen without the credential")
	}
	if len(sup.Events()) != 0 {
		t.Errorf("no provider switch should happen, got %v", sup.Events())
	}
	if provCloud.LastError == "" {
		t.Error("provider should carry a descriptive last error")
	}
}

func TestSingleFlight(t *testing.T) {
	t.Parallel()

	provA, provB := provider("prov-a"), provider("prov-b")
	sup := &fakeSupervisor{}
	ad := &fakeAdapter{delay: 5 * time.Millisecond}
	res := &fakeResolver{providers: map[string]*catalog.Provider{"A": provA, "B": provB}}

	s := startScheduler(t, sup, ad, res, Config{})

	var jobs []*catalog.Job
	for i := 0; i < 20; i++ {
		model := "A"
		if i%2 == 1 {
			model = "B"
		}
		j := newJob(model+"-"+string(rune('a'+i)), model)
		jobs = append(jobs, j)
		s.Submit(j)
	}
	await(t, jobs...)

	if max := ad.maxInFlight.Load(); max > 1 {
		t.Errorf("observed %d concurrent forwards, want at most 1", max)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	t.Parallel()

	res := &fakeResolver{providers: map[string]*catalog.Provider{"A": provider("prov-a")}}
	s := New(nil, &fakeSupervisor{}, &fakeAdapter{}, res, nil, Config{})

	j := newJob("A1", "A")
	s.Submit(j)
	s.Cancel(j)

	if j.Status != catalog.JobFailed || j.Error != catalog.ErrTimeout {
		t.Errorf("status=%s error=%s, want failed/timeout", j.Status, j.Error)
	}
	if st := s.Stats(); st.Pending != 0 {
		t.Errorf("pending = %d after cancel", st.Pending)
	}
}

func TestQueueWaitPlusRuntimeCoversWallTime(t *testing.T) {
	t.Parallel()

	res := &fakeResolver{providers: map[string]*catalog.Provider{"A": provider("prov-a")}}
	ad := &fakeAdapter{delay: 20 * time.Millisecond}
	s := startScheduler(t, &fakeSupervisor{}, ad, res, Config{})

	j := newJob("A1", "A")
	submitAt := time.Now()
	s.Submit(j)
	await(t, j)
	wall := time.Since(submitAt)

	total := j.QueueWait + j.Runtime
	if total > wall+50*time.Millisecond {
		t.Errorf("queue_wait(%v)+runtime(%v) exceeds wall time %v", j.QueueWait, j.Runtime, wall)
	}
	if j.Runtime < 15*time.Millisecond {
		t.Errorf("runtime %v should cover the adapter delay", j.Runtime)
	}
}

func TestIdleShutdownStopsProvider(t *testing.T) {
	t.Parallel()

	provA := provider("prov-a")
	provA.Policy.IdleShutdown = 30 * time.Millisecond
	sup := &fakeSupervisor{}
	res := &fakeResolver{providers: map[string]*catalog.Provider{"A": provA}}

	s := startScheduler(t, sup, &fakeAdapter{}, res, Config{})

	j := newJob("A1", "A")
	s.Submit(j)
	await(t, j)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range sup.Events() {
			if e == "down:prov-a" {
				if st := s.Stats(); st.ActiveProvider != "" {
					t.Errorf("active provider should clear after idle shutdown, got %q", st.ActiveProvider)
				}
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("idle shutdown never happened")
}

func TestKeepWarmSkipsIdleShutdown(t *testing.T) {
	t.Parallel()

	provA := provider("prov-a")
	provA.Policy.IdleShutdown = 10 * time.Millisecond
	provA.Policy.KeepWarm = true
	sup := &fakeSupervisor{}
	res := &fakeResolver{providers: map[string]*catalog.Provider{"A": provA}}

	s := startScheduler(t, sup, &fakeAdapter{}, res, Config{})

	j := newJob("A1", "A")
	s.Submit(j)
	await(t, j)

	time.Sleep(100 * time.Millisecond)
	s.nudge()
	time.Sleep(100 * time.Millisecond)
	for _, e := range sup.Events() {
		if e == "down:prov-a" {
			t.Fatal("keep_warm provider must not be idle-stopped")
		}
	}
}
