package model

import "time"

// SelectionStrategy names the algorithm the pool uses to pick among
// healthy candidates.
type SelectionStrategy string

const (
	StrategyRoundRobin SelectionStrategy = "round_robin"
	// StrategyWeighted prefers candidates with a higher recent success
	// rate, breaking ties on latency.
	StrategyWeighted SelectionStrategy = "weighted"
)

// ProxyPoolConfig holds the policy knobs shared by the pool and the
// monitor. The manager owns the single instance.
type ProxyPoolConfig struct {
	Strategy            SelectionStrategy `json:"strategy"`
	HealthCheckInterval time.Duration     `json:"health_check_interval"`
	MaxRetries          int               `json:"max_retries"`
	RetryDelay          time.Duration     `json:"retry_delay"`
	FailureThreshold    int               `json:"failure_threshold"`
	RecoveryThreshold   int               `json:"recovery_threshold"`
	LoadBalancing       bool              `json:"load_balancing"`
	EnableGeoMatching   bool              `json:"enable_geo_matching"`
	SessionStickiness   bool              `json:"session_stickiness"`
	SessionTimeout      time.Duration     `json:"session_timeout"`
}

// DefaultPoolConfig returns the documented defaults used when no pool
// config has been persisted yet.
func DefaultPoolConfig() *ProxyPoolConfig {
	return &ProxyPoolConfig{
		Strategy:            StrategyRoundRobin,
		HealthCheckInterval: 60 * time.Second,
		MaxRetries:          3,
		RetryDelay:          time.Second,
		FailureThreshold:    3,
		RecoveryThreshold:   2,
		LoadBalancing:       true,
		EnableGeoMatching:   false,
		SessionStickiness:   false,
		SessionTimeout:      5 * time.Minute,
	}
}
