package event

import (
	"sync"
	"time"
)

// Type names a pool lifecycle event.
type Type string

const (
	ProviderAdded        Type = "provider_added"
	ProviderRemoved      Type = "provider_removed"
	ProviderConnected    Type = "provider_connected"
	ProviderDisconnected Type = "provider_disconnected"
	ProviderError        Type = "provider_error"

	ProxyAdded       Type = "proxy_added"
	ProxyRemoved     Type = "proxy_removed"
	ProxyUpdated     Type = "proxy_updated"
	ProxySelected    Type = "proxy_selected"
	ProxyUnavailable Type = "proxy_unavailable"
	ProxyUnhealthy   Type = "proxy_unhealthy"
	ProxyRecovered   Type = "proxy_recovered"

	ResponseRecorded  Type = "response_recorded"
	PoolConfigUpdated Type = "pool_config_updated"

	HealthChanged  Type = "monitor_health_changed"
	CheckCompleted Type = "monitor_check_completed"

	ManagerInitialized Type = "manager_initialized"
	ManagerCleanedUp   Type = "manager_cleaned_up"
)

// Event is a single notification pushed to observers.
type Event struct {
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Observer receives published events. Notify is called synchronously in
// publish order; observers that do slow work must hand it off themselves.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(ev Event) { f(ev) }

// Bus fans events out to registered observers. Publication is synchronous
// so that order-sensitive sequences (persist, then announce) hold.
type Bus struct {
	mu        sync.RWMutex
	observers []Observer
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers an observer for all subsequent events.
func (b *Bus) Subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Publish delivers an event to every registered observer.
func (b *Bus) Publish(t Type, data interface{}) {
	b.mu.RLock()
	observers := b.observers
	b.mu.RUnlock()

	ev := Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
	for _, o := range observers {
		o.Notify(ev)
	}
}
