package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"proxyhive/internal/shared/logger"
	"proxyhive/proxypool/event"
	"proxyhive/proxypool/model"
	"proxyhive/proxypool/pool"
)

// ErrSweepInProgress is returned when a forced sweep is requested while
// another sweep is still running. Sweeps never run in parallel.
var ErrSweepInProgress = errors.New("health sweep already in progress")

// Prober performs one active connectivity check against a proxy.
type Prober interface {
	Probe(ctx context.Context, p *model.Proxy) (time.Duration, error)
}

// Monitor periodically verifies every pool member independent of organic
// traffic. Probe outcomes feed the same failure/recovery counters as
// passive response recording, so active and passive signals share one
// state machine per proxy.
type Monitor struct {
	cfg    *model.ProxyPoolConfig
	pool   *pool.Pool
	prober Prober
	bus    *event.Bus
	log    zerolog.Logger

	concurrency int

	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	running  *atomic.Bool
	sweeping *atomic.Bool
	sweeps   *atomic.Int64

	statsMu           sync.Mutex
	lastSweepAt       time.Time
	lastSweepDuration time.Duration
	lastSweepProbed   int
	lastSweepFailed   int
}

func New(cfg *model.ProxyPoolConfig, pl *pool.Pool, prober Prober, bus *event.Bus, concurrency int) *Monitor {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Monitor{
		cfg:         cfg,
		pool:        pl,
		prober:      prober,
		bus:         bus,
		log:         logger.WithComponent("ProxyPool/Monitor"),
		concurrency: concurrency,
		running:     atomic.NewBool(false),
		sweeping:    atomic.NewBool(false),
		sweeps:      atomic.NewInt64(0),
	}
}

// Start launches the scheduler loop. Starting a running monitor is a
// no-op.
func (m *Monitor) Start() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.stopChan = make(chan struct{})

	m.log.Info().Dur("interval", m.cfg.HealthCheckInterval).Msg("Health monitor starting.")

	m.wg.Add(1)
	go m.schedulerLoop(ctx)
}

func (m *Monitor) schedulerLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// A sweep still in flight keeps the slot; this tick is
			// skipped rather than run in parallel.
			if err := m.performHealthChecks(ctx); err != nil {
				m.log.Debug().Err(err).Msg("Scheduled sweep skipped.")
			}
		case <-m.stopChan:
			m.log.Info().Msg("Stop signal received. Shutting down health monitor.")
			return
		}
	}
}

// Stop halts scheduling and waits for any in-flight sweep to finish or
// abandon cleanly. Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	m.cancel()
	close(m.stopChan)
	m.wg.Wait()
	m.log.Info().Msg("Health monitor stopped.")
}

// ForceHealthCheck triggers an out-of-cycle full sweep, synchronously.
// It is rejected with ErrSweepInProgress while another sweep runs.
func (m *Monitor) ForceHealthCheck(ctx context.Context) error {
	return m.performHealthChecks(ctx)
}

// performHealthChecks probes every pool member, bounded by the per-proxy
// timeout and the configured concurrency.
func (m *Monitor) performHealthChecks(ctx context.Context) error {
	if !m.sweeping.CompareAndSwap(false, true) {
		return ErrSweepInProgress
	}
	defer m.sweeping.Store(false)

	proxies := m.pool.Proxies()
	if len(proxies) == 0 {
		return nil
	}

	start := time.Now()
	m.log.Debug().Int("count", len(proxies)).Msg("Starting health sweep.")

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, m.concurrency)
	failed := atomic.NewInt64(0)

	for _, p := range proxies {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(p *model.Proxy) {
			defer wg.Done()
			defer func() { <-semaphore }()

			timeout := p.Timeout
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			latency, err := m.prober.Probe(probeCtx, p)
			if ctx.Err() != nil {
				// Monitor stopped mid-sweep; the aborted probe must not
				// pollute the shared status state.
				return
			}
			if err != nil {
				failed.Inc()
			}

			from, to, changed := m.pool.ApplyProbeResult(p.ID, err == nil, latency)
			if changed {
				m.emit(event.HealthChanged, map[string]string{
					"proxy_id": p.ID,
					"from":     string(from),
					"to":       string(to),
				})
			}
		}(p)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	duration := time.Since(start)
	m.sweeps.Inc()

	m.statsMu.Lock()
	m.lastSweepAt = time.Now().UTC()
	m.lastSweepDuration = duration
	m.lastSweepProbed = len(proxies)
	m.lastSweepFailed = int(failed.Load())
	m.statsMu.Unlock()

	m.log.Info().
		Int("probed", len(proxies)).
		Int64("failed", failed.Load()).
		Dur("duration", duration).
		Msg("Health sweep finished.")

	m.emit(event.CheckCompleted, map[string]interface{}{
		"probed":   len(proxies),
		"failed":   failed.Load(),
		"duration": duration.String(),
	})
	return nil
}

func (m *Monitor) emit(t event.Type, data interface{}) {
	if m.bus != nil {
		m.bus.Publish(t, data)
	}
}

// Stats summarizes sweep activity.
func (m *Monitor) Stats() model.MonitorStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return model.MonitorStats{
		Running:           m.running.Load(),
		SweepsCompleted:   m.sweeps.Load(),
		LastSweepAt:       m.lastSweepAt,
		LastSweepDuration: m.lastSweepDuration,
		LastSweepProbed:   m.lastSweepProbed,
		LastSweepFailed:   m.lastSweepFailed,
	}
}
