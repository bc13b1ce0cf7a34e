// Package supervisor reconciles each provider's desired state (needed /
// not needed) with its observed state (healthy / not healthy), starting
// and stopping gateway-owned backend processes per their configured
// start and stop descriptors. Externally managed processes are probed
// but never started or stopped.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/flemzord/gatewayd/internal/catalog"
	"github.com/flemzord/gatewayd/internal/metrics"
)

// ErrStartFailed is returned by EnsureUp when a managed provider could not
// be brought to a healthy state within its start budget.
var ErrStartFailed = errors.New("supervisor: start failed")

const healthPollInterval = 300 * time.Millisecond

// Supervisor owns the process lifecycle of every gateway-managed provider.
type Supervisor struct {
	logger  *slog.Logger
	client  *http.Client
	metrics *metrics.Metrics
}

// New creates a Supervisor. logger may be nil, in which case slog.Default
// is used; m may be nil to skip instrumentation.
func New(logger *slog.Logger, m *metrics.Metrics) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		logger:  logger,
		client:  &http.Client{Timeout: 2 * time.Second},
		metrics: m,
	}
}

// Probe issues the health request with the provider's configured timeout.
// healthy iff the status code is in the configured success set. Updates
// LastHealthAt. Probe never starts anything.
func (s *Supervisor) Probe(ctx context.Context, p *catalog.Provider) bool {
	timeout := p.Health.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := p.Health.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(reqCtx, method, p.BaseURL+p.Health.Path, nil)
	if err != nil {
		p.Healthy = false
		return false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		p.Healthy = false
		s.metrics.SetProviderUp(p.ID, false)
		return false
	}
	defer resp.Body.Close()

	p.LastHealthAt = time.Now()

	if len(p.Health.SuccessCode) == 0 {
		p.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
	} else {
		_, ok := p.Health.SuccessCode[resp.StatusCode]
		p.Healthy = ok
	}
	s.metrics.SetProviderUp(p.ID, p.Healthy)
	return p.Healthy
}

// Detect reports whether a provider's backend is present on the host,
// per its configured DetectPolicy. It never mutates runtime health state.
func (s *Supervisor) Detect(ctx context.Context, p *catalog.Provider) bool {
	switch p.Detect {
	case catalog.DetectNone:
		p.Detected = true
		return true
	case catalog.DetectProbeOnly:
		p.Detected = s.probeURL(ctx, p.ProbeURL)
		return p.Detected
	default: // DetectPathOrProbe, and the zero value
		if p.BinaryName != "" {
			if _, err := execLookPath(p.BinaryName); err == nil {
				p.Detected = true
				return true
			}
		}
		p.Detected = s.probeURL(ctx, p.ProbeURL)
		return p.Detected
	}
}

func (s *Supervisor) probeURL(ctx context.Context, url string) bool {
	if url == "" {
		return false
	}
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// EnsureUp brings provider to a healthy state. If already healthy it
// returns nil immediately. Otherwise, if start is enabled, it launches the
// configured command and polls health until either it succeeds or the
// startup grace interval elapses, in which case the child is terminated
// and ErrStartFailed is returned. If start is disabled, EnsureUp reduces
// to Probe.
//
// No two EnsureUp/EnsureDown calls for the same provider ever run
// concurrently: callers must hold p's lifecycle lock (p.Lock/p.Unlock)
// for the duration of the call — the scheduler does this around every
// provider switch.
func (s *Supervisor) EnsureUp(ctx context.Context, p *catalog.Provider) error {
	if s.Probe(ctx, p) {
		p.StartAttempts = 0
		return nil
	}

	if !p.Start.Enabled {
		return ErrStartFailed
	}

	if p.StartAttempts >= maxStartAttempts(p) {
		return ErrStartFailed
	}
	p.StartAttempts++

	cmd := exec.CommandContext(context.Background(), p.Start.Command, p.Start.Args...)
	cmd.Dir = p.Start.Cwd
	cmd.Env = mergeEnv(os.Environ(), p.Start.Env)

	if err := cmd.Start(); err != nil {
		p.LastError = err.Error()
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	p.Owned = true
	p.ProcessPID = cmd.Process.Pid

	// Reap the child in the background so a crash never leaves a zombie,
	// independent of whether health ever came up.
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	grace := p.Start.StartupGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	deadline := time.Now().Add(grace)
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-exited:
			p.Owned = false
			p.ProcessPID = 0
			p.LastError = "process exited before becoming healthy"
			return ErrStartFailed
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return ctx.Err()
		case <-ticker.C:
			if s.Probe(ctx, p) {
				p.StartAttempts = 0
				return nil
			}
			if time.Now().After(deadline) {
				_ = cmd.Process.Kill()
				p.Owned = false
				p.ProcessPID = 0
				p.LastError = "startup grace period elapsed"
				return ErrStartFailed
			}
		}
	}
}

// EnsureDown tears a managed process down per its stop descriptor. If the
// provider is not owned, it is a no-op external process and EnsureDown
// returns nil immediately. On success the provider is left with
// Healthy=false, Owned=false, ProcessPID=0.
func (s *Supervisor) EnsureDown(ctx context.Context, p *catalog.Provider) error {
	if !p.Owned {
		return nil
	}

	switch p.Stop.Method {
	case catalog.StopHTTPRequest:
		s.stopViaHTTP(ctx, p)
	case catalog.StopKillProcess:
		s.killProcess(p)
	case catalog.StopNone:
		// External lifecycle management; just forget the handle.
	default: // StopTerminateProcess
		s.terminateProcess(p)
	}

	p.Healthy = false
	p.Owned = false
	p.ProcessPID = 0
	s.metrics.SetProviderUp(p.ID, false)
	return nil
}

func (s *Supervisor) stopViaHTTP(ctx context.Context, p *catalog.Provider) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.Stop.StopURL, nil)
	if err == nil {
		if resp, err := s.client.Do(req); err == nil {
			resp.Body.Close()
		}
	}
	s.waitForUnhealthy(ctx, p, 5*time.Second)
	// Escalate only if the process survived the shutdown request.
	if p.ProcessPID != 0 && processAlive(p.ProcessPID) {
		s.killProcess(p)
	}
}

func (s *Supervisor) terminateProcess(p *catalog.Provider) {
	if p.ProcessPID == 0 {
		return
	}
	_ = syscall.Kill(p.ProcessPID, syscall.SIGTERM)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(p.ProcessPID) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	s.killProcess(p)
}

func (s *Supervisor) killProcess(p *catalog.Provider) {
	if p.ProcessPID == 0 {
		return
	}
	_ = syscall.Kill(p.ProcessPID, syscall.SIGKILL)
}

func (s *Supervisor) waitForUnhealthy(ctx context.Context, p *catalog.Provider, bound time.Duration) {
	deadline := time.Now().Add(bound)
	for time.Now().Before(deadline) {
		if !s.Probe(ctx, p) {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func maxStartAttempts(p *catalog.Provider) int {
	if p.Policy.MaxStartAttempts > 0 {
		return p.Policy.MaxStartAttempts
	}
	return 3
}

func mergeEnv(base []string, overrides map[string]string) []string {
	merged := make([]string, len(base), len(base)+len(overrides))
	copy(merged, base)
	for k, v := range overrides {
		merged = append(merged, k+"="+v)
	}
	return merged
}

// execLookPath is a thin indirection over exec.LookPath so tests can stub
// binary detection without touching the real PATH.
var execLookPath = exec.LookPath
