package pool

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"proxyhive/internal/shared/logger"
	"proxyhive/proxypool/event"
	"proxyhive/proxypool/model"
)

// historyLimit bounds request-history retention; the oldest entry is
// evicted first when the cap is exceeded.
const historyLimit = 1000

type session struct {
	proxyID   string
	expiresAt time.Time
}

// Pool is the authoritative in-memory registry of proxies and their live
// status. Request-driven calls and monitor sweeps both mutate the status
// table; a single mutex serializes every update so that no outcome is
// lost.
type Pool struct {
	mu  sync.RWMutex
	cfg *model.ProxyPoolConfig
	bus *event.Bus
	log zerolog.Logger

	proxies  map[string]*model.Proxy
	statuses map[string]*model.ProxyStatus
	order    []string // insertion order, drives round-robin
	rrIndex  int

	sessions map[string]session
	history  []*model.ProxyResponse
}

func New(cfg *model.ProxyPoolConfig, bus *event.Bus) *Pool {
	if cfg == nil {
		cfg = model.DefaultPoolConfig()
	}
	return &Pool{
		cfg:      cfg,
		bus:      bus,
		log:      logger.WithComponent("ProxyPool/Pool"),
		proxies:  make(map[string]*model.Proxy),
		statuses: make(map[string]*model.ProxyStatus),
		sessions: make(map[string]session),
	}
}

// SetConfig swaps the policy knobs. Existing status records keep their
// counters; thresholds apply from the next observation.
func (pl *Pool) SetConfig(cfg *model.ProxyPoolConfig) {
	pl.mu.Lock()
	pl.cfg = cfg
	pl.mu.Unlock()
}

// AddProxy registers a proxy, creating its status record with an initial
// unknown classification. Re-adding an existing id updates the proxy
// record and keeps its status.
func (pl *Pool) AddProxy(p *model.Proxy) {
	pl.mu.Lock()
	_, exists := pl.proxies[p.ID]
	pl.proxies[p.ID] = p
	if !exists {
		pl.order = append(pl.order, p.ID)
		pl.statuses[p.ID] = &model.ProxyStatus{ProxyID: p.ID, Health: model.HealthUnknown}
	}
	pl.mu.Unlock()

	if exists {
		pl.emit(event.ProxyUpdated, p)
	} else {
		pl.emit(event.ProxyAdded, p)
	}
}

// RemoveProxy drops a proxy and its status, releasing any session bound
// to it. Removal is terminal for the status record.
func (pl *Pool) RemoveProxy(id string) bool {
	pl.mu.Lock()
	p, ok := pl.proxies[id]
	if !ok {
		pl.mu.Unlock()
		return false
	}
	delete(pl.proxies, id)
	if st, ok := pl.statuses[id]; ok {
		st.Health = model.HealthRemoved
		delete(pl.statuses, id)
	}
	pl.order = lo.Without(pl.order, id)
	for key, s := range pl.sessions {
		if s.proxyID == id {
			delete(pl.sessions, key)
		}
	}
	pl.mu.Unlock()

	pl.emit(event.ProxyRemoved, p)
	return true
}

// RemoveProvider drops every proxy owned by the given provider tag and
// returns the removed ids. Proxies owned by other providers are
// untouched.
func (pl *Pool) RemoveProvider(providerTag string) []string {
	pl.mu.RLock()
	ids := make([]string, 0)
	for id, p := range pl.proxies {
		if p.Provider == providerTag {
			ids = append(ids, id)
		}
	}
	pl.mu.RUnlock()

	for _, id := range ids {
		pl.RemoveProxy(id)
	}
	return ids
}

// Get returns the proxy with the given id, or nil.
func (pl *Pool) Get(id string) *model.Proxy {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.proxies[id]
}

// Proxies returns a snapshot of all registered proxies.
func (pl *Pool) Proxies() []*model.Proxy {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return lo.Values(pl.proxies)
}

// StatusOf returns a copy of a proxy's status record, or nil.
func (pl *Pool) StatusOf(id string) *model.ProxyStatus {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	st, ok := pl.statuses[id]
	if !ok {
		return nil
	}
	cp := *st
	return &cp
}

// RecordProxyResponse feeds a consumer-reported outcome into the status
// table and the bounded request history. Responses for unknown proxy ids
// are ignored.
func (pl *Pool) RecordProxyResponse(resp *model.ProxyResponse) {
	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now().UTC()
	}

	pl.mu.Lock()
	st, ok := pl.statuses[resp.ProxyID]
	if !ok {
		pl.mu.Unlock()
		return
	}

	pl.history = append(pl.history, resp)
	if len(pl.history) > historyLimit {
		pl.history = pl.history[len(pl.history)-historyLimit:]
	}

	from, to := pl.applyOutcome(st, resp.Success, resp.ResponseTime)
	pl.mu.Unlock()

	pl.emit(event.ResponseRecorded, resp)
	pl.emitTransition(resp.ProxyID, from, to)
}

// ApplyProbeResult feeds an active health-probe outcome into the same
// counters as passive recording and reports the resulting transition.
func (pl *Pool) ApplyProbeResult(id string, success bool, responseTime time.Duration) (from, to model.HealthState, changed bool) {
	pl.mu.Lock()
	st, ok := pl.statuses[id]
	if !ok {
		pl.mu.Unlock()
		return "", "", false
	}
	from, to = pl.applyOutcome(st, success, responseTime)
	pl.mu.Unlock()

	pl.emitTransition(id, from, to)
	return from, to, from != to
}

// applyOutcome updates one status record and derives its classification
// from the counters and thresholds. Must be called with pl.mu held.
//
// Transitions: unknown -> healthy on the first success; unknown/healthy
// -> unhealthy after FailureThreshold consecutive failures; unhealthy ->
// healthy after RecoveryThreshold consecutive successes.
func (pl *Pool) applyOutcome(st *model.ProxyStatus, success bool, responseTime time.Duration) (from, to model.HealthState) {
	from = st.Health
	st.LastChecked = time.Now().UTC()
	st.TotalRequests++

	if success {
		st.ConsecutiveFailures = 0
		st.ConsecutiveSuccesses++
		st.LastResponseTime = responseTime
		successes := st.TotalRequests - st.TotalFailures
		st.AvgResponseTime += (responseTime - st.AvgResponseTime) / time.Duration(successes)
	} else {
		st.TotalFailures++
		st.ConsecutiveSuccesses = 0
		st.ConsecutiveFailures++
	}
	st.SuccessRate = float64(st.TotalRequests-st.TotalFailures) / float64(st.TotalRequests)

	switch st.Health {
	case model.HealthUnknown:
		if success {
			st.Health = model.HealthHealthy
		} else if st.ConsecutiveFailures >= pl.cfg.FailureThreshold {
			st.Health = model.HealthUnhealthy
		}
	case model.HealthHealthy:
		if !success && st.ConsecutiveFailures >= pl.cfg.FailureThreshold {
			st.Health = model.HealthUnhealthy
		}
	case model.HealthUnhealthy:
		if success && st.ConsecutiveSuccesses >= pl.cfg.RecoveryThreshold {
			st.Health = model.HealthHealthy
		}
	}

	return from, st.Health
}

func (pl *Pool) emitTransition(id string, from, to model.HealthState) {
	if from == to {
		return
	}
	data := map[string]string{"proxy_id": id, "from": string(from), "to": string(to)}
	switch to {
	case model.HealthUnhealthy:
		pl.log.Warn().Str("proxy_id", id).Msg("Proxy flipped to unhealthy.")
		pl.emit(event.ProxyUnhealthy, data)
	case model.HealthHealthy:
		if from == model.HealthUnhealthy {
			pl.log.Info().Str("proxy_id", id).Msg("Proxy recovered.")
			pl.emit(event.ProxyRecovered, data)
		}
	}
}

func (pl *Pool) emit(t event.Type, data interface{}) {
	if pl.bus != nil {
		pl.bus.Publish(t, data)
	}
}

// HistorySize returns the current request-history length.
func (pl *Pool) HistorySize() int {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return len(pl.history)
}

// History returns a snapshot of the retained responses, oldest first.
func (pl *Pool) History() []*model.ProxyResponse {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	out := make([]*model.ProxyResponse, len(pl.history))
	copy(out, pl.history)
	return out
}

// ClearHistory drops the transient request history.
func (pl *Pool) ClearHistory() {
	pl.mu.Lock()
	pl.history = nil
	pl.sessions = make(map[string]session)
	pl.mu.Unlock()
}

// Stats aggregates the registry and status table into one snapshot.
func (pl *Pool) Stats() model.PoolStats {
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	stats := model.PoolStats{
		Total:          len(pl.proxies),
		HistorySize:    len(pl.history),
		ActiveSessions: len(pl.sessions),
	}

	var totalRequests, totalFailures int64
	var latencySum time.Duration
	var latencyCount int
	for _, st := range pl.statuses {
		switch st.Health {
		case model.HealthHealthy:
			stats.Healthy++
		case model.HealthUnhealthy:
			stats.Unhealthy++
		default:
			stats.Unknown++
		}
		totalRequests += st.TotalRequests
		totalFailures += st.TotalFailures
		if st.AvgResponseTime > 0 {
			latencySum += st.AvgResponseTime
			latencyCount++
		}
	}
	if totalRequests > 0 {
		stats.SuccessRate = float64(totalRequests-totalFailures) / float64(totalRequests)
	}
	if latencyCount > 0 {
		stats.AvgResponseTime = latencySum / time.Duration(latencyCount)
	}
	return stats
}
