package model

import "time"

// ProviderType identifies a provider variant. Exactly one provider of each
// type may be active at a time.
type ProviderType string

const (
	ProviderCustom   ProviderType = "custom"
	ProviderFreelist ProviderType = "freelist"
)

// ProviderConfig is the persisted descriptor of an active provider.
type ProviderConfig struct {
	Type        ProviderType      `json:"type"`
	Name        string            `json:"name"`
	Credentials map[string]string `json:"credentials,omitempty"`
	Settings    map[string]string `json:"settings,omitempty"`
	Enabled     bool              `json:"enabled"`
}

// ProxyUsageQuota is a provider-scoped usage snapshot. A limit of -1 means
// unlimited.
type ProxyUsageQuota struct {
	RequestsUsed   int64     `json:"requests_used"`
	RequestsLimit  int64     `json:"requests_limit"`
	BandwidthUsed  int64     `json:"bandwidth_used"`
	BandwidthLimit int64     `json:"bandwidth_limit"`
	ResetAt        time.Time `json:"reset_at,omitempty"`
	Cost           float64   `json:"cost"`
}

// UnlimitedQuota is the quota reported by providers with no remote
// accounting, such as manually entered proxies.
func UnlimitedQuota() *ProxyUsageQuota {
	return &ProxyUsageQuota{RequestsLimit: -1, BandwidthLimit: -1}
}

// AnonymityLevel is the tier detected by a live proxy test.
type AnonymityLevel string

const (
	AnonymityTransparent AnonymityLevel = "transparent"
	AnonymityAnonymous   AnonymityLevel = "anonymous"
	AnonymityElite       AnonymityLevel = "elite"
)

// ProxyFeatures are the capabilities probed during a proxy test.
type ProxyFeatures struct {
	JavaScript bool `json:"javascript"`
	Cookies    bool `json:"cookies"`
	Referer    bool `json:"referer"`
	UserAgent  bool `json:"user_agent"`
}

// ProxyTestResult is the structured outcome of a live connectivity and
// anonymity probe. Network failures are captured in Error rather than
// returned to the caller.
type ProxyTestResult struct {
	ProxyID      string         `json:"proxy_id"`
	Success      bool           `json:"success"`
	ResponseTime time.Duration  `json:"response_time"`
	PublicIP     string         `json:"public_ip,omitempty"`
	Country      string         `json:"country,omitempty"`
	Region       string         `json:"region,omitempty"`
	City         string         `json:"city,omitempty"`
	Anonymity    AnonymityLevel `json:"anonymity"`
	Features     ProxyFeatures  `json:"features"`
	Error        string         `json:"error,omitempty"`
	CheckedAt    time.Time      `json:"checked_at"`
}
