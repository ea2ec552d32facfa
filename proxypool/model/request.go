package model

import "time"

// ProxyRequest describes a caller's need for an egress point. All fields
// except ID are optional hints for the selection policy.
type ProxyRequest struct {
	ID         string `json:"id"`
	Country    string `json:"country,omitempty"`
	City       string `json:"city,omitempty"`
	SessionKey string `json:"session_key,omitempty"`
	Complexity string `json:"complexity,omitempty"`
}

// ProxyResponse is the outcome record a consumer feeds back into the pool
// after every attempted use of a proxy, success or failure.
type ProxyResponse struct {
	RequestID    string        `json:"request_id"`
	ProxyID      string        `json:"proxy_id"`
	Success      bool          `json:"success"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}
