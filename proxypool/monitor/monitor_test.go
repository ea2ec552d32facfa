package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"proxyhive/proxypool/event"
	"proxyhive/proxypool/model"
	"proxyhive/proxypool/pool"
)

// fakeProber scripts probe outcomes per proxy id. Unscripted ids succeed.
type fakeProber struct {
	mu      sync.Mutex
	fail    map[string]bool
	probes  int
	latency time.Duration
	delay   time.Duration
}

func (f *fakeProber) Probe(ctx context.Context, p *model.Proxy) (time.Duration, error) {
	f.mu.Lock()
	f.probes++
	shouldFail := f.fail[p.ID]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if shouldFail {
		return 0, errors.New("probe failed")
	}
	latency := f.latency
	if latency <= 0 {
		latency = 25 * time.Millisecond
	}
	return latency, nil
}

func (f *fakeProber) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

func monitorFixture(failing map[string]bool, proxyIDs ...string) (*Monitor, *pool.Pool, *fakeProber, *event.Bus) {
	cfg := model.DefaultPoolConfig()
	cfg.HealthCheckInterval = time.Hour // scheduled ticks never fire in tests
	cfg.FailureThreshold = 3
	cfg.RecoveryThreshold = 2

	bus := event.NewBus()
	pl := pool.New(cfg, bus)
	for _, id := range proxyIDs {
		pl.AddProxy(&model.Proxy{
			ID:       id,
			Host:     "10.0.0.1",
			Port:     8080,
			Protocol: model.ProtocolHTTP,
			Timeout:  time.Second,
		})
	}

	prober := &fakeProber{fail: failing}
	return New(cfg, pl, prober, bus, 2), pl, prober, bus
}

func TestForceHealthCheck_ProbesEveryProxy(t *testing.T) {
	m, pl, prober, _ := monitorFixture(nil, "p1", "p2", "p3")

	if err := m.ForceHealthCheck(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if prober.probeCount() != 3 {
		t.Errorf("expected 3 probes, got %d", prober.probeCount())
	}
	for _, id := range []string{"p1", "p2", "p3"} {
		if st := pl.StatusOf(id); st.Health != model.HealthHealthy {
			t.Errorf("%s: expected healthy after a successful probe, got %s", id, st.Health)
		}
	}

	stats := m.Stats()
	if stats.SweepsCompleted != 1 || stats.LastSweepProbed != 3 || stats.LastSweepFailed != 0 {
		t.Errorf("unexpected sweep stats: %+v", stats)
	}
}

func TestForceHealthCheck_FailuresFlipUnhealthy(t *testing.T) {
	m, pl, _, _ := monitorFixture(map[string]bool{"bad": true}, "good", "bad")

	for i := 0; i < 3; i++ {
		if err := m.ForceHealthCheck(context.Background()); err != nil {
			t.Fatalf("sweep %d failed: %v", i, err)
		}
	}

	if st := pl.StatusOf("bad"); st.Health != model.HealthUnhealthy {
		t.Errorf("expected bad proxy unhealthy after 3 failed sweeps, got %s", st.Health)
	}
	if st := pl.StatusOf("good"); st.Health != model.HealthHealthy {
		t.Errorf("expected good proxy healthy, got %s", st.Health)
	}
	if stats := m.Stats(); stats.LastSweepFailed != 1 {
		t.Errorf("expected 1 failed probe in the last sweep, got %d", stats.LastSweepFailed)
	}
}

func TestForceHealthCheck_RecoveryThreshold(t *testing.T) {
	m, pl, prober, _ := monitorFixture(map[string]bool{"p1": true}, "p1")

	for i := 0; i < 3; i++ {
		m.ForceHealthCheck(context.Background())
	}
	if st := pl.StatusOf("p1"); st.Health != model.HealthUnhealthy {
		t.Fatalf("setup: expected unhealthy, got %s", st.Health)
	}

	prober.mu.Lock()
	prober.fail["p1"] = false
	prober.mu.Unlock()

	m.ForceHealthCheck(context.Background())
	if st := pl.StatusOf("p1"); st.Health != model.HealthUnhealthy {
		t.Fatalf("one success must not recover with threshold 2, got %s", st.Health)
	}
	m.ForceHealthCheck(context.Background())
	if st := pl.StatusOf("p1"); st.Health != model.HealthHealthy {
		t.Errorf("two consecutive successes should recover, got %s", st.Health)
	}
}

func TestForceHealthCheck_RejectsConcurrentSweep(t *testing.T) {
	m, _, prober, _ := monitorFixture(nil, "p1")
	prober.delay = 300 * time.Millisecond

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.ForceHealthCheck(context.Background())
	}()

	// Wait for the first sweep to claim the slot.
	deadline := time.Now().Add(time.Second)
	for prober.probeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.ForceHealthCheck(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Errorf("expected ErrSweepInProgress, got %v", err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("first sweep should complete cleanly, got %v", err)
	}
}

func TestForceHealthCheck_EmitsEvents(t *testing.T) {
	m, _, _, bus := monitorFixture(nil, "p1")

	var mu sync.Mutex
	var got []event.Type
	bus.Subscribe(event.ObserverFunc(func(ev event.Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	}))

	if err := m.ForceHealthCheck(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var sawHealthChanged, sawCheckCompleted bool
	for _, ev := range got {
		if ev == event.HealthChanged {
			sawHealthChanged = true
		}
		if ev == event.CheckCompleted {
			sawCheckCompleted = true
		}
	}
	if !sawHealthChanged {
		t.Errorf("expected a health_changed event for the unknown->healthy flip, got %v", got)
	}
	if !sawCheckCompleted {
		t.Errorf("expected a check_completed event, got %v", got)
	}
}

func TestForceHealthCheck_EmptyPoolIsNoop(t *testing.T) {
	m, _, prober, _ := monitorFixture(nil)
	if err := m.ForceHealthCheck(context.Background()); err != nil {
		t.Fatalf("empty sweep failed: %v", err)
	}
	if prober.probeCount() != 0 {
		t.Errorf("no probes expected for an empty pool, got %d", prober.probeCount())
	}
	if stats := m.Stats(); stats.SweepsCompleted != 0 {
		t.Errorf("empty sweeps do not count, got %d", stats.SweepsCompleted)
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	m, _, _, _ := monitorFixture(nil, "p1")

	m.Start()
	m.Start() // second start is a no-op
	if !m.Stats().Running {
		t.Error("monitor should report running after Start")
	}

	m.Stop()
	m.Stop() // second stop is a no-op
	if m.Stats().Running {
		t.Error("monitor should report stopped after Stop")
	}

	// The monitor can be restarted after a stop.
	m.Start()
	defer m.Stop()
	if !m.Stats().Running {
		t.Error("monitor should be restartable")
	}
}

func TestConcurrencyBound(t *testing.T) {
	cfg := model.DefaultPoolConfig()
	cfg.HealthCheckInterval = time.Hour
	pl := pool.New(cfg, nil)
	for i := 0; i < 8; i++ {
		pl.AddProxy(&model.Proxy{
			ID:       fmt.Sprintf("p%d", i),
			Host:     "10.0.0.1",
			Port:     8080,
			Protocol: model.ProtocolHTTP,
			Timeout:  time.Second,
		})
	}

	var mu sync.Mutex
	var inFlight, peak int
	prober := proberFunc(func(ctx context.Context, p *model.Proxy) (time.Duration, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return time.Millisecond, nil
	})

	m := New(cfg, pl, prober, nil, 3)
	if err := m.ForceHealthCheck(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > 3 {
		t.Errorf("concurrency bound exceeded: peak %d > 3", peak)
	}
}

type proberFunc func(ctx context.Context, p *model.Proxy) (time.Duration, error)

func (f proberFunc) Probe(ctx context.Context, p *model.Proxy) (time.Duration, error) {
	return f(ctx, p)
}
