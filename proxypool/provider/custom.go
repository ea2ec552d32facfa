package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"proxyhive/proxypool/event"
	"proxyhive/proxypool/model"
)

// CustomProvider manages manually entered proxies. Entries are never
// fetched remotely; RefreshProxyList is a no-op and the usage quota is
// always unlimited.
type CustomProvider struct {
	base

	judgeURL   string
	geoURL     string
	retryDelay time.Duration
	geoClient  *http.Client
}

// NewCustomProvider creates the custom provider. judgeURL and geoURL may
// be empty to use the built-in defaults.
func NewCustomProvider(bus *event.Bus, judgeURL, geoURL string) *CustomProvider {
	if judgeURL == "" {
		judgeURL = DefaultJudgeURL
	}
	if geoURL == "" {
		geoURL = DefaultGeoURL
	}
	c := &CustomProvider{
		base:       newBase(model.ProviderCustom, "Custom Proxies", bus),
		judgeURL:   judgeURL,
		geoURL:     geoURL,
		retryDelay: time.Second,
		geoClient:  &http.Client{Timeout: geoAPITimeout},
	}
	c.hooks = hooks{
		connect:    c.Connect,
		disconnect: c.Disconnect,
		refresh:    c.RefreshProxyList,
	}
	return c
}

// Connect is a no-op; manually entered proxies need no external session.
func (c *CustomProvider) Connect(ctx context.Context) error { return nil }

// Disconnect is a no-op.
func (c *CustomProvider) Disconnect(ctx context.Context) error { return nil }

// FetchProxies returns the current manual registry.
func (c *CustomProvider) FetchProxies(ctx context.Context) ([]*model.Proxy, error) {
	return c.snapshot(), nil
}

// RefreshProxyList is a no-op for statically managed proxies.
func (c *CustomProvider) RefreshProxyList(ctx context.Context) error { return nil }

// GetUsageQuota reports unlimited usage; no remote accounting exists for
// manually entered proxies.
func (c *CustomProvider) GetUsageQuota(ctx context.Context) (*model.ProxyUsageQuota, error) {
	return model.UnlimitedQuota(), nil
}

// AddProxy normalizes, validates and registers a single entry.
func (c *CustomProvider) AddProxy(p *model.Proxy) (*model.Proxy, error) {
	NormalizeProxy(p)
	p.Provider = string(model.ProviderCustom)
	if err := ValidateProxy(p); err != nil {
		return nil, err
	}
	c.store(p)
	return p, nil
}

// AddProxies registers a batch of entries. Each entry succeeds or fails
// independently; failures are collected and reported alongside successes.
func (c *CustomProvider) AddProxies(entries []*model.Proxy) (added []*model.Proxy, errs []error) {
	for i, p := range entries {
		registered, err := c.AddProxy(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d (%s): %w", i, p.Addr(), err))
			continue
		}
		added = append(added, registered)
	}
	return added, errs
}

// RemoveProxy drops an entry from the manual registry.
func (c *CustomProvider) RemoveProxy(id string) bool {
	return c.remove(id)
}

// ParseProxyURL parses the scheme://[user:pass@]host:port form.
func ParseProxyURL(raw string) (*model.Proxy, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProxyConfig, err)
	}
	if u.Scheme == "" || u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("%w: %q is not a proxy URL", ErrInvalidProxyConfig, raw)
	}

	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidProxyConfig, u.Port())
	}

	p := &model.Proxy{
		Host:     u.Hostname(),
		Port:     port,
		Protocol: model.Protocol(strings.ToLower(u.Scheme)),
	}
	switch p.Protocol {
	case model.ProtocolHTTP, model.ProtocolHTTPS, model.ProtocolSOCKS4, model.ProtocolSOCKS5:
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", ErrInvalidProxyConfig, u.Scheme)
	}

	if u.User != nil {
		pass, _ := u.User.Password()
		p.Credentials = &model.Credentials{Username: u.User.Username(), Password: pass}
		p.AuthType = model.AuthBasic
	}
	return p, nil
}

// parseHostPortLine parses the host:port[:username:password] form.
func parseHostPortLine(line string) (*model.Proxy, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 2 && len(parts) != 4 {
		return nil, fmt.Errorf("%w: %q is not host:port[:user:pass]", ErrInvalidProxyConfig, line)
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidProxyConfig, parts[1])
	}

	p := &model.Proxy{Host: parts[0], Port: port}
	if parts[0] == "" {
		return nil, fmt.Errorf("%w: empty host in %q", ErrInvalidProxyConfig, line)
	}
	if len(parts) == 4 {
		p.Credentials = &model.Credentials{Username: parts[2], Password: parts[3]}
		p.AuthType = model.AuthBasic
	}
	return p, nil
}

// ImportError records one rejected line of a bulk import.
type ImportError struct {
	Line  int    `json:"line"`
	Input string `json:"input"`
	Err   string `json:"error"`
}

// ImportResult is the outcome of a line-delimited bulk import.
type ImportResult struct {
	Added  []*model.Proxy `json:"added"`
	Errors []ImportError  `json:"errors,omitempty"`
}

// ImportFromText ingests a newline-separated proxy list. Blank lines and
// lines starting with '#' or '//' are skipped. Each remaining line is
// either a full proxy URL or host:port[:user:pass]; malformed lines are
// reported per-line without aborting the batch.
func (c *CustomProvider) ImportFromText(text string) *ImportResult {
	result := &ImportResult{}

	for i, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		var p *model.Proxy
		var err error
		if strings.Contains(line, "://") {
			p, err = ParseProxyURL(line)
		} else {
			p, err = parseHostPortLine(line)
		}
		if err == nil {
			p, err = c.AddProxy(p)
		}
		if err != nil {
			result.Errors = append(result.Errors, ImportError{Line: i + 1, Input: line, Err: err.Error()})
			continue
		}
		result.Added = append(result.Added, p)
	}

	c.log.Info().
		Int("added", len(result.Added)).
		Int("errors", len(result.Errors)).
		Msg("Bulk import finished.")
	return result
}

// TestProxy composes a connectivity probe with geolocation, anonymity
// inference and feature probing. Probe failures are captured in the
// result's Error field; the proxy is then conservatively classified as
// transparent with no supported features.
func (c *CustomProvider) TestProxy(ctx context.Context, id string) (*model.ProxyTestResult, error) {
	p, ok := c.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProxyNotFound, id)
	}
	return evaluateProxy(ctx, p, c.judgeURL, c.geoURL, c.retryDelay, c.geoClient), nil
}
