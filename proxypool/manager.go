package proxypool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"proxyhive/internal/shared/logger"
	"proxyhive/internal/shared/store"
	"proxyhive/proxypool/event"
	"proxyhive/proxypool/model"
	"proxyhive/proxypool/monitor"
	"proxyhive/proxypool/pool"
	"proxyhive/proxypool/provider"
)

// Persisted state keys in the external key-value store.
const (
	keyProxies    = "proxy.proxies"
	keyProviders  = "proxy.providers"
	keyPoolConfig = "proxy.poolConfig"
)

var (
	// ErrNotInitialized is returned by operations invoked before
	// Initialize or after Cleanup.
	ErrNotInitialized = errors.New("proxy manager is not initialized")
	// ErrProviderInit wraps a connect/refresh failure during provider
	// setup; the provider is not registered.
	ErrProviderInit = errors.New("provider initialization failed")
	// ErrProviderNotFound marks removal of a provider type that is not
	// active.
	ErrProviderNotFound = errors.New("provider not active")
	// ErrProxyNotFound marks an operation referencing an unknown proxy id.
	ErrProxyNotFound = provider.ErrProxyNotFound
)

// Options tune the manager's probe endpoints.
type Options struct {
	JudgeURL         string
	GeoURL           string
	ProbeConcurrency int
}

// Manager is the orchestration façade: it owns the pool, the health
// monitor and the set of active providers, persists every mutation to
// the key-value store, and forwards lifecycle events to the bus. It is
// the single entry point consumers use to request and report proxy
// usage. No failure is fatal; the manager degrades to fewer or no
// healthy proxies rather than crashing.
type Manager struct {
	opts  Options
	store store.Store
	bus   *event.Bus
	log   zerolog.Logger

	mu          sync.Mutex
	initialized bool
	cfg         *model.ProxyPoolConfig
	pool        *pool.Pool
	monitor     *monitor.Monitor
	providers   map[model.ProviderType]provider.Provider
	configs     map[model.ProviderType]*model.ProviderConfig
}

func NewManager(st store.Store, bus *event.Bus, opts Options) *Manager {
	return &Manager{
		opts:      opts,
		store:     st,
		bus:       bus,
		log:       logger.WithComponent("ProxyPool/Manager"),
		providers: make(map[model.ProviderType]provider.Provider),
		configs:   make(map[model.ProviderType]*model.ProviderConfig),
	}
}

// Initialize loads persisted proxies and provider configs, re-instantiates
// each enabled provider and starts the health monitor. A second call is a
// no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		m.log.Debug().Msg("Initialize called on an initialized manager; ignoring.")
		return nil
	}

	cfg := model.DefaultPoolConfig()
	if _, err := m.store.Get(keyPoolConfig, cfg); err != nil {
		m.log.Warn().Err(err).Msg("Failed to load pool config, using defaults.")
		cfg = model.DefaultPoolConfig()
	}
	m.cfg = cfg
	m.pool = pool.New(cfg, m.bus)

	var persisted []*model.Proxy
	if _, err := m.store.Get(keyProxies, &persisted); err != nil {
		m.log.Warn().Err(err).Msg("Failed to load persisted proxies. Starting with an empty pool.")
	}
	for _, p := range persisted {
		m.pool.AddProxy(p)
	}

	var providerConfigs []*model.ProviderConfig
	if _, err := m.store.Get(keyProviders, &providerConfigs); err != nil {
		m.log.Warn().Err(err).Msg("Failed to load provider configs.")
	}
	for _, pc := range providerConfigs {
		m.configs[pc.Type] = pc
		if !pc.Enabled {
			continue
		}
		if err := m.activateProviderLocked(ctx, pc, persisted); err != nil {
			m.log.Error().Err(err).Str("provider", string(pc.Type)).Msg("Failed to re-instantiate provider.")
		}
	}

	prober := &provider.NetProber{JudgeURL: m.opts.JudgeURL, RetryDelay: cfg.RetryDelay}
	m.monitor = monitor.New(cfg, m.pool, prober, m.bus, m.opts.ProbeConcurrency)
	m.monitor.Start()

	m.initialized = true
	m.log.Info().Int("proxies", len(persisted)).Int("providers", len(m.providers)).Msg("Proxy manager initialized.")
	m.emit(event.ManagerInitialized, nil)
	return nil
}

// activateProviderLocked constructs and initializes a provider and syncs
// its proxies into the pool. Must be called with m.mu held.
func (m *Manager) activateProviderLocked(ctx context.Context, pc *model.ProviderConfig, seed []*model.Proxy) error {
	prov, err := provider.New(pc, m.bus, provider.ProbeSettings{JudgeURL: m.opts.JudgeURL, GeoURL: m.opts.GeoURL})
	if err != nil {
		return err
	}

	// The custom provider's registry is rebuilt from persisted entries
	// before the template init runs; its refresh is a no-op.
	if custom, ok := prov.(*provider.CustomProvider); ok {
		for _, p := range seed {
			if p.Provider == string(model.ProviderCustom) {
				if _, err := custom.AddProxy(p); err != nil {
					m.log.Warn().Err(err).Str("proxy_id", p.ID).Msg("Skipping invalid persisted custom proxy.")
				}
			}
		}
	}

	if err := prov.Initialize(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderInit, err)
	}

	fetched, err := prov.FetchProxies(ctx)
	if err != nil {
		return fmt.Errorf("%w: fetch: %v", ErrProviderInit, err)
	}
	known := make(map[string]struct{}, len(fetched))
	for _, p := range fetched {
		known[p.ID] = struct{}{}
		m.pool.AddProxy(p)
	}
	// Drop pool entries this provider no longer reports, so the pool stays
	// the union of the active providers' sets. Manual entries are owned by
	// explicit add/remove operations, never by refresh sync.
	if pc.Type != model.ProviderCustom {
		for _, p := range m.pool.Proxies() {
			if p.Provider != string(pc.Type) {
				continue
			}
			if _, ok := known[p.ID]; !ok {
				m.pool.RemoveProxy(p.ID)
			}
		}
	}

	m.providers[pc.Type] = prov
	return nil
}

// AddProvider constructs a provider variant, synchronizes its proxies
// into the pool and persists its config. Initialization failures leave
// pool and provider state unmodified.
func (m *Manager) AddProvider(ctx context.Context, pc *model.ProviderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}
	if _, exists := m.providers[pc.Type]; exists {
		return fmt.Errorf("provider %s is already registered", pc.Type)
	}

	if err := m.activateProviderLocked(ctx, pc, nil); err != nil {
		m.log.Error().Err(err).Str("provider", string(pc.Type)).Msg("Provider setup failed.")
		return err
	}
	m.configs[pc.Type] = pc

	if err := m.persistLocked(); err != nil {
		m.log.Error().Err(err).Msg("Failed to persist state after provider add.")
	}
	m.emit(event.ProviderAdded, pc)
	return nil
}

// RemoveProvider tears a provider down and removes exactly the proxies it
// owns from the pool.
func (m *Manager) RemoveProvider(ctx context.Context, typ model.ProviderType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}
	prov, ok := m.providers[typ]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, typ)
	}

	prov.Cleanup(ctx)
	removed := m.pool.RemoveProvider(string(typ))
	delete(m.providers, typ)
	delete(m.configs, typ)

	if err := m.persistLocked(); err != nil {
		m.log.Error().Err(err).Msg("Failed to persist state after provider removal.")
	}

	m.log.Info().Str("provider", string(typ)).Int("proxies_removed", len(removed)).Msg("Provider removed.")
	m.emit(event.ProviderRemoved, map[string]interface{}{"provider": string(typ), "proxies_removed": len(removed)})
	return nil
}

// ensureCustomLocked returns the custom provider, creating and
// registering it on first use. Must be called with m.mu held.
func (m *Manager) ensureCustomLocked(ctx context.Context) (*provider.CustomProvider, error) {
	if prov, ok := m.providers[model.ProviderCustom]; ok {
		return prov.(*provider.CustomProvider), nil
	}

	pc := &model.ProviderConfig{Type: model.ProviderCustom, Name: "Custom Proxies", Enabled: true}
	if err := m.activateProviderLocked(ctx, pc, nil); err != nil {
		return nil, err
	}
	m.configs[pc.Type] = pc
	m.emit(event.ProviderAdded, pc)
	return m.providers[model.ProviderCustom].(*provider.CustomProvider), nil
}

// AddCustomProxy registers a manually entered proxy with the custom
// provider and the pool, persisting the change.
func (m *Manager) AddCustomProxy(ctx context.Context, p *model.Proxy) (*model.Proxy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, ErrNotInitialized
	}
	custom, err := m.ensureCustomLocked(ctx)
	if err != nil {
		return nil, err
	}

	registered, err := custom.AddProxy(p)
	if err != nil {
		return nil, err
	}
	m.pool.AddProxy(registered)

	if err := m.persistLocked(); err != nil {
		m.log.Error().Err(err).Msg("Failed to persist state after proxy add.")
	}
	return registered, nil
}

// ImportProxies bulk-ingests a newline-separated proxy list through the
// custom provider. Per-line failures are reported in the result without
// aborting the batch.
func (m *Manager) ImportProxies(ctx context.Context, text string) (*provider.ImportResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, ErrNotInitialized
	}
	custom, err := m.ensureCustomLocked(ctx)
	if err != nil {
		return nil, err
	}

	result := custom.ImportFromText(text)
	for _, p := range result.Added {
		m.pool.AddProxy(p)
	}
	if len(result.Added) > 0 {
		if err := m.persistLocked(); err != nil {
			m.log.Error().Err(err).Msg("Failed to persist state after bulk import.")
		}
	}
	return result, nil
}

// RemoveProxy drops a proxy from the pool and, when custom-owned, from
// the custom provider's registry.
func (m *Manager) RemoveProxy(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}
	p := m.pool.Get(id)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrProxyNotFound, id)
	}

	m.pool.RemoveProxy(id)
	if p.Provider == string(model.ProviderCustom) {
		if prov, ok := m.providers[model.ProviderCustom]; ok {
			prov.(*provider.CustomProvider).RemoveProxy(id)
		}
	}

	if err := m.persistLocked(); err != nil {
		m.log.Error().Err(err).Msg("Failed to persist state after proxy removal.")
	}
	return nil
}

// TestProxy delegates a live probe to the proxy's owning provider. An
// entry whose provider is not active is probed directly on a copy, so
// its ownership and the pool's shared record stay untouched.
func (m *Manager) TestProxy(ctx context.Context, id string) (*model.ProxyTestResult, error) {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil, ErrNotInitialized
	}
	p := m.pool.Get(id)
	if p == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrProxyNotFound, id)
	}

	prov, ok := m.providers[model.ProviderType(p.Provider)]
	if !ok {
		cp := *p
		m.mu.Unlock()
		return provider.EvaluateProxy(ctx, &cp, provider.ProbeSettings{
			JudgeURL: m.opts.JudgeURL,
			GeoURL:   m.opts.GeoURL,
		}), nil
	}
	m.mu.Unlock()

	return prov.TestProxy(ctx, id)
}

// GetProxyForRequest is the consumer-facing selection call. A nil proxy
// with a nil error means no eligible proxy exists.
func (m *Manager) GetProxyForRequest(req *model.ProxyRequest) (*model.Proxy, error) {
	pl := m.poolRef()
	if pl == nil {
		return nil, ErrNotInitialized
	}

	p := pl.GetProxy(req)
	if p == nil {
		m.emit(event.ProxyUnavailable, req)
		return nil, nil
	}
	m.emit(event.ProxySelected, map[string]string{"request_id": reqID(req), "proxy_id": p.ID})
	return p, nil
}

// RecordProxyResponse feeds a usage outcome back into the pool. Consumers
// must call this after every attempted use, success or failure.
func (m *Manager) RecordProxyResponse(resp *model.ProxyResponse) error {
	pl := m.poolRef()
	if pl == nil {
		return ErrNotInitialized
	}
	pl.RecordProxyResponse(resp)
	return nil
}

// ForceHealthCheck triggers an out-of-cycle sweep.
func (m *Manager) ForceHealthCheck(ctx context.Context) error {
	m.mu.Lock()
	mon := m.monitor
	initialized := m.initialized
	m.mu.Unlock()

	if !initialized {
		return ErrNotInitialized
	}
	return mon.ForceHealthCheck(ctx)
}

// GetProxyStats aggregates pool, monitor and per-provider stats into one
// snapshot.
func (m *Manager) GetProxyStats(ctx context.Context) (*model.ManagerStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, ErrNotInitialized
	}

	stats := &model.ManagerStats{
		Pool:    m.pool.Stats(),
		Monitor: m.monitor.Stats(),
	}
	for typ, prov := range m.providers {
		ps := model.ProviderStats{Type: typ, Name: prov.Name()}
		if proxies, err := prov.FetchProxies(ctx); err == nil {
			ps.ProxyCount = len(proxies)
		}
		if quota, err := prov.GetUsageQuota(ctx); err == nil {
			ps.Quota = quota
		} else {
			m.log.Warn().Err(err).Str("provider", string(typ)).Msg("Quota lookup failed.")
		}
		stats.Providers = append(stats.Providers, ps)
	}
	return stats, nil
}

// Proxies returns the current pool contents with their statuses.
func (m *Manager) Proxies() ([]*model.Proxy, map[string]*model.ProxyStatus, error) {
	pl := m.poolRef()
	if pl == nil {
		return nil, nil, ErrNotInitialized
	}
	proxies := pl.Proxies()
	statuses := make(map[string]*model.ProxyStatus, len(proxies))
	for _, p := range proxies {
		statuses[p.ID] = pl.StatusOf(p.ID)
	}
	return proxies, statuses, nil
}

// UpdatePoolConfig persists new policy knobs and restarts the monitor so
// the sweep interval takes effect.
func (m *Manager) UpdatePoolConfig(cfg *model.ProxyPoolConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}

	m.cfg = cfg
	m.pool.SetConfig(cfg)
	if err := m.store.Set(keyPoolConfig, cfg); err != nil {
		return fmt.Errorf("failed to persist pool config: %w", err)
	}

	m.monitor.Stop()
	prober := &provider.NetProber{JudgeURL: m.opts.JudgeURL, RetryDelay: cfg.RetryDelay}
	m.monitor = monitor.New(cfg, m.pool, prober, m.bus, m.opts.ProbeConcurrency)
	m.monitor.Start()

	m.emit(event.PoolConfigUpdated, cfg)
	return nil
}

// Cleanup stops the monitor, cleans up all providers and clears transient
// history. Subsequent operations require re-initialization.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return
	}

	m.monitor.Stop()
	for typ, prov := range m.providers {
		prov.Cleanup(ctx)
		delete(m.providers, typ)
	}
	m.configs = make(map[model.ProviderType]*model.ProviderConfig)
	m.pool.ClearHistory()
	m.initialized = false

	m.log.Info().Msg("Proxy manager cleaned up.")
	m.emit(event.ManagerCleanedUp, nil)
}

// persistLocked writes the proxy registry and provider configs through
// the store. Must be called with m.mu held.
func (m *Manager) persistLocked() error {
	if err := m.store.Set(keyProxies, m.pool.Proxies()); err != nil {
		return err
	}
	configs := make([]*model.ProviderConfig, 0, len(m.configs))
	for _, pc := range m.configs {
		configs = append(configs, pc)
	}
	return m.store.Set(keyProviders, configs)
}

func (m *Manager) poolRef() *pool.Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil
	}
	return m.pool
}

func (m *Manager) emit(t event.Type, data interface{}) {
	if m.bus != nil {
		m.bus.Publish(t, data)
	}
}

func reqID(req *model.ProxyRequest) string {
	if req == nil {
		return ""
	}
	return req.ID
}
