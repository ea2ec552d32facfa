package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"proxyhive/internal/shared/logger"
	"proxyhive/proxypool/event"
	"proxyhive/proxypool/model"
)

var (
	// ErrUnsupportedProvider is returned by the factory for unknown types.
	ErrUnsupportedProvider = errors.New("unsupported provider type")
	// ErrInvalidProxyConfig marks a proxy that failed validation.
	ErrInvalidProxyConfig = errors.New("invalid proxy configuration")
	// ErrProxyNotFound marks an operation referencing an unknown proxy id.
	ErrProxyNotFound = errors.New("proxy not found")
)

// Provider is a source of proxy entries. Implementations manage any
// external session via Connect/Disconnect and expose their current proxy
// set through FetchProxies. Initialize and Cleanup are template operations
// shared by all variants.
type Provider interface {
	Type() model.ProviderType
	Name() string

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// FetchProxies returns the provider's current proxy set.
	FetchProxies(ctx context.Context) ([]*model.Proxy, error)
	// RefreshProxyList re-synchronizes the proxy set from the source.
	// A no-op for statically managed providers.
	RefreshProxyList(ctx context.Context) error

	// TestProxy performs a live connectivity and anonymity probe.
	// Probe failures are captured in the result, not returned.
	TestProxy(ctx context.Context, id string) (*model.ProxyTestResult, error)
	GetUsageQuota(ctx context.Context) (*model.ProxyUsageQuota, error)

	// Initialize connects and refreshes the proxy list, emitting a
	// connected or error event.
	Initialize(ctx context.Context) error
	// Cleanup disconnects, clears the local registry and emits a
	// disconnected event even when disconnect fails.
	Cleanup(ctx context.Context)
}

// hooks are the variant-specific operations the base template calls.
type hooks struct {
	connect    func(ctx context.Context) error
	disconnect func(ctx context.Context) error
	refresh    func(ctx context.Context) error
}

// base carries the registry and lifecycle template shared by all
// provider variants.
type base struct {
	typ  model.ProviderType
	name string

	mu       sync.RWMutex
	registry map[string]*model.Proxy

	bus   *event.Bus
	log   zerolog.Logger
	hooks hooks
}

func newBase(typ model.ProviderType, name string, bus *event.Bus) base {
	return base{
		typ:      typ,
		name:     name,
		registry: make(map[string]*model.Proxy),
		bus:      bus,
		log:      logger.WithComponent("ProxyPool/Provider"),
	}
}

func (b *base) Type() model.ProviderType { return b.typ }
func (b *base) Name() string             { return b.name }

// Initialize connects the provider and synchronizes its proxy list.
// Failures leave the provider unregistered and are propagated.
func (b *base) Initialize(ctx context.Context) error {
	if err := b.hooks.connect(ctx); err != nil {
		b.emit(event.ProviderError, map[string]string{"provider": string(b.typ), "error": err.Error()})
		return err
	}
	if err := b.hooks.refresh(ctx); err != nil {
		b.emit(event.ProviderError, map[string]string{"provider": string(b.typ), "error": err.Error()})
		return err
	}
	b.emit(event.ProviderConnected, map[string]string{"provider": string(b.typ)})
	return nil
}

// Cleanup tears the provider down. A failing disconnect is logged, not
// propagated; the disconnected event fires regardless.
func (b *base) Cleanup(ctx context.Context) {
	if err := b.hooks.disconnect(ctx); err != nil {
		b.log.Warn().Err(err).Str("provider", string(b.typ)).Msg("Disconnect failed during cleanup.")
	}

	b.mu.Lock()
	b.registry = make(map[string]*model.Proxy)
	b.mu.Unlock()

	b.emit(event.ProviderDisconnected, map[string]string{"provider": string(b.typ)})
}

func (b *base) emit(t event.Type, data interface{}) {
	if b.bus != nil {
		b.bus.Publish(t, data)
	}
}

// snapshot returns a copy of the registry values.
func (b *base) snapshot() []*model.Proxy {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*model.Proxy, 0, len(b.registry))
	for _, p := range b.registry {
		out = append(out, p)
	}
	return out
}

func (b *base) lookup(id string) (*model.Proxy, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.registry[id]
	return p, ok
}

func (b *base) store(p *model.Proxy) {
	b.mu.Lock()
	b.registry[p.ID] = p
	b.mu.Unlock()
}

func (b *base) remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.registry[id]; !ok {
		return false
	}
	delete(b.registry, id)
	return true
}

func (b *base) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.registry)
}
