package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"proxyhive/internal/shared/logger"
	"proxyhive/proxypool/model"
)

const (
	defaultMaxConcurrent = 10
	defaultTimeout       = 30 * time.Second
	defaultRetries       = 3
	geoAPITimeout        = 5 * time.Second
)

// RetryPolicy bounds a network call: per-attempt timeout, capped retry
// count and an exponential backoff that doubles per attempt.
type RetryPolicy struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

// DoWithRetry executes an idempotent HTTP request with bounded retries.
// newReq rebuilds the request for each attempt. Exceeding the retry cap
// surfaces the last error to the caller instead of hanging.
func DoWithRetry(ctx context.Context, client *http.Client, newReq func() (*http.Request, error), pol RetryPolicy) (*http.Response, error) {
	if pol.Retries < 0 {
		pol.Retries = 0
	}
	backoff := pol.Backoff

	var lastErr error
	for attempt := 0; attempt <= pol.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := newReq()
		if err != nil {
			return nil, err
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if pol.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, pol.Timeout)
		}

		resp, err := client.Do(req.WithContext(attemptCtx))
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 400 {
			if cancel != nil {
				// The caller owns the body; tie the context to its closure.
				resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
			}
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			resp.Body.Close()
			lastErr = fmt.Errorf("received non-successful status code: %d", resp.StatusCode)
		}
		if cancel != nil {
			cancel()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", pol.Retries+1, lastErr)
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// BuildProxyURL renders the proxy as a URL, embedding credentials when
// present.
func BuildProxyURL(p *model.Proxy) (*url.URL, error) {
	u := &url.URL{
		Scheme: string(p.Protocol),
		Host:   p.Addr(),
	}
	if p.AuthType == model.AuthBasic && p.Credentials != nil {
		u.User = url.UserPassword(p.Credentials.Username, p.Credentials.Password)
	}
	return u, nil
}

// ValidateProxy enforces the minimal invariants every pool member must
// satisfy.
func ValidateProxy(p *model.Proxy) error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidProxyConfig)
	}
	if p.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidProxyConfig)
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidProxyConfig, p.Port)
	}
	if p.AuthType == model.AuthBasic {
		if p.Credentials == nil || p.Credentials.Username == "" || p.Credentials.Password == "" {
			return fmt.Errorf("%w: basic auth requires username and password", ErrInvalidProxyConfig)
		}
	}
	return nil
}

// NormalizeProxy fills defaults on a partially specified proxy entry.
func NormalizeProxy(p *model.Proxy) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Protocol == "" {
		p.Protocol = model.ProtocolHTTP
	}
	if p.AuthType == "" {
		if p.Credentials != nil && p.Credentials.Username != "" {
			p.AuthType = model.AuthBasic
		} else {
			p.AuthType = model.AuthNone
		}
	}
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = defaultMaxConcurrent
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	if p.Retries <= 0 {
		p.Retries = defaultRetries
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
}

// geoAPIResponse matches the ip-api.com JSON shape.
type geoAPIResponse struct {
	Status     string `json:"status"`
	Country    string `json:"country"`
	RegionName string `json:"regionName"`
	City       string `json:"city"`
}

// Geolocate looks an IP up against a public IP-info endpoint. Lookup
// failures are tolerated and return empty values rather than an error.
func Geolocate(ctx context.Context, client *http.Client, baseURL, ip string) (country, region, city string) {
	l := logger.WithComponent("ProxyPool/Provider")
	apiURL := fmt.Sprintf("%s/%s?fields=status,country,regionName,city", baseURL, ip)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return "", "", ""
	}
	resp, err := client.Do(req)
	if err != nil {
		l.Warn().Err(err).Str("ip", ip).Msg("Geo API request failed.")
		return "", "", ""
	}
	defer resp.Body.Close()

	var apiResp geoAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		l.Warn().Err(err).Str("ip", ip).Msg("Failed to decode Geo API response.")
		return "", "", ""
	}
	if apiResp.Status != "success" {
		l.Debug().Str("ip", ip).Str("status", apiResp.Status).Msg("Geo API returned non-success status.")
		return "", "", ""
	}
	return apiResp.Country, apiResp.RegionName, apiResp.City
}
