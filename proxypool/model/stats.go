package model

import "time"

// PoolStats is an aggregate snapshot of the registry and status table.
type PoolStats struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Unknown   int `json:"unknown"`

	AvgResponseTime time.Duration `json:"avg_response_time"`
	SuccessRate     float64       `json:"success_rate"`
	HistorySize     int           `json:"history_size"`
	ActiveSessions  int           `json:"active_sessions"`
}

// MonitorStats summarizes the health monitor's sweep activity.
type MonitorStats struct {
	Running           bool          `json:"running"`
	SweepsCompleted   int64         `json:"sweeps_completed"`
	LastSweepAt       time.Time     `json:"last_sweep_at,omitempty"`
	LastSweepDuration time.Duration `json:"last_sweep_duration"`
	LastSweepProbed   int           `json:"last_sweep_probed"`
	LastSweepFailed   int           `json:"last_sweep_failed"`
}

// ProviderStats is the per-provider slice of a manager stats snapshot.
type ProviderStats struct {
	Type       ProviderType     `json:"type"`
	Name       string           `json:"name"`
	ProxyCount int              `json:"proxy_count"`
	Quota      *ProxyUsageQuota `json:"quota,omitempty"`
}

// ManagerStats is the combined snapshot returned by the manager.
type ManagerStats struct {
	Pool      PoolStats       `json:"pool"`
	Monitor   MonitorStats    `json:"monitor"`
	Providers []ProviderStats `json:"providers"`
}
