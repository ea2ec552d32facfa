package model

import (
	"net"
	"strconv"
	"time"
)

// Protocol is the wire protocol spoken by a proxy.
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolSOCKS4 Protocol = "socks4"
	ProtocolSOCKS5 Protocol = "socks5"
)

// AuthType describes how a proxy authenticates its clients.
type AuthType string

const (
	AuthNone  AuthType = "none"
	AuthBasic AuthType = "basic"
)

// Credentials are optional basic-auth credentials for a proxy.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Proxy describes a single egress point. ID, Host, Port and Protocol form
// its immutable identity; the remaining fields are administrative. IDs are
// unique across the whole pool regardless of the originating provider.
type Proxy struct {
	ID       string   `json:"id"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Protocol Protocol `json:"protocol"`

	AuthType    AuthType     `json:"auth_type"`
	Credentials *Credentials `json:"credentials,omitempty"`

	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`

	// Provider is the type tag of the owning provider, e.g. "custom".
	Provider string `json:"provider"`

	Sticky        bool          `json:"sticky"`
	MaxConcurrent int           `json:"max_concurrent"`
	Timeout       time.Duration `json:"timeout"`
	Retries       int           `json:"retries"`
	Tags          []string      `json:"tags,omitempty"`
	// Enabled is tri-state so an explicit false on a new entry survives
	// normalization; unset means enabled.
	Enabled   *bool     `json:"enabled,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Addr returns the host:port form used for dialing and logging.
func (p *Proxy) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// IsEnabled reports whether the proxy may be handed out.
func (p *Proxy) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// HealthState is the classification derived from a proxy's counters.
// It is never set directly by callers.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthRemoved   HealthState = "removed"
)

// ProxyStatus is the mutable per-proxy health record. It is created
// alongside its proxy and only ever updated by the pool or the monitor.
type ProxyStatus struct {
	ProxyID string      `json:"proxy_id"`
	Health  HealthState `json:"health"`

	ConsecutiveFailures  int `json:"consecutive_failures"`
	ConsecutiveSuccesses int `json:"consecutive_successes"`

	TotalRequests int64   `json:"total_requests"`
	TotalFailures int64   `json:"total_failures"`
	SuccessRate   float64 `json:"success_rate"`

	AvgResponseTime  time.Duration `json:"avg_response_time"`
	LastResponseTime time.Duration `json:"last_response_time"`
	LastChecked      time.Time     `json:"last_checked"`
}
