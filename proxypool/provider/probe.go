package provider

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	xproxy "golang.org/x/net/proxy"
	"h12.io/socks"

	"proxyhive/proxypool/model"
)

// DefaultJudgeURL is the header-reflecting endpoint probes are routed to
// when no judge is configured.
const DefaultJudgeURL = "https://httpbin.org/get"

// DefaultGeoURL is the IP geolocation endpoint used when none is
// configured.
const DefaultGeoURL = "http://ip-api.com/json"

// ProbeResult is the raw outcome of routing one request through a proxy.
type ProbeResult struct {
	Latency  time.Duration
	PublicIP string
	// Headers are the request headers as seen by the judge endpoint,
	// used for anonymity inference.
	Headers http.Header
}

// judgeResponse matches the httpbin-style judge JSON body.
type judgeResponse struct {
	Headers map[string]string `json:"headers"`
	Origin  string            `json:"origin"`
}

// CheckConnectivity routes a request to the judge endpoint through the
// proxy, honoring the proxy's own timeout/retry settings with exponential
// backoff between attempts.
func CheckConnectivity(ctx context.Context, p *model.Proxy, judgeURL string, retryDelay time.Duration) (*ProbeResult, error) {
	transport, err := buildTransport(p)
	if err != nil {
		return nil, err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{Transport: transport, Timeout: p.Timeout}
	if judgeURL == "" {
		judgeURL = DefaultJudgeURL
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	pol := RetryPolicy{Timeout: p.Timeout, Retries: p.Retries, Backoff: retryDelay}
	// The request builder runs once per attempt, so the clock covers only
	// the attempt that succeeded, not earlier failures or backoff sleeps.
	var attemptStart time.Time
	resp, err := DoWithRetry(ctx, client, func() (*http.Request, error) {
		attemptStart = time.Now()
		return http.NewRequest(http.MethodGet, judgeURL, nil)
	}, pol)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	latency := time.Since(attemptStart)

	result := &ProbeResult{Latency: latency, Headers: http.Header{}}
	var body judgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		result.PublicIP = body.Origin
		for k, v := range body.Headers {
			result.Headers.Set(k, v)
		}
	}
	return result, nil
}

// buildTransport constructs an HTTP transport that dials through the
// proxy according to its protocol.
func buildTransport(p *model.Proxy) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: p.Timeout, KeepAlive: 30 * time.Second}

	transport := &http.Transport{
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		IdleConnTimeout:       p.Timeout,
		TLSHandshakeTimeout:   p.Timeout / 2,
		ExpectContinueTimeout: time.Second,
	}

	switch p.Protocol {
	case model.ProtocolHTTP, model.ProtocolHTTPS:
		proxyURL, err := BuildProxyURL(p)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		transport.DialContext = dialer.DialContext

	case model.ProtocolSOCKS5:
		var auth *xproxy.Auth
		if p.AuthType == model.AuthBasic && p.Credentials != nil {
			auth = &xproxy.Auth{User: p.Credentials.Username, Password: p.Credentials.Password}
		}
		socksDialer, err := xproxy.SOCKS5("tcp", p.Addr(), auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.DialContext = socksDialer.(xproxy.ContextDialer).DialContext

	case model.ProtocolSOCKS4:
		dial := socks.Dial(fmt.Sprintf("socks4://%s?timeout=%s", p.Addr(), p.Timeout))
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dial(network, addr)
		}

	default:
		return nil, fmt.Errorf("%w: unknown protocol %q", ErrInvalidProxyConfig, p.Protocol)
	}

	return transport, nil
}

// Header names that reveal the original client address. Their presence at
// the judge demotes the proxy to transparent.
var clientLeakHeaders = []string{
	"X-Forwarded-For",
	"X-Real-Ip",
	"X-Client-Ip",
	"Forwarded",
}

// Header names that reveal a proxy is in the path without leaking the
// client. Their presence demotes the proxy to anonymous.
var proxyIndicatorHeaders = []string{
	"Via",
	"Proxy-Connection",
	"X-Proxy-Id",
	"X-Cache",
}

// InferAnonymity classifies a proxy from the request headers the judge
// endpoint observed.
func InferAnonymity(hdr http.Header) model.AnonymityLevel {
	for _, h := range clientLeakHeaders {
		if hdr.Get(h) != "" {
			return model.AnonymityTransparent
		}
	}
	for _, h := range proxyIndicatorHeaders {
		if hdr.Get(h) != "" {
			return model.AnonymityAnonymous
		}
	}
	return model.AnonymityElite
}

// EvaluateProxy composes a connectivity probe with anonymity inference
// and geolocation without registering the proxy with any provider. Probe
// failures are captured in the result's Error field, not returned.
func EvaluateProxy(ctx context.Context, p *model.Proxy, probe ProbeSettings) *model.ProxyTestResult {
	return evaluateProxy(ctx, p, probe.JudgeURL, probe.GeoURL, time.Second, &http.Client{Timeout: geoAPITimeout})
}

func evaluateProxy(ctx context.Context, p *model.Proxy, judgeURL, geoURL string, retryDelay time.Duration, geoClient *http.Client) *model.ProxyTestResult {
	if geoURL == "" {
		geoURL = DefaultGeoURL
	}

	result := &model.ProxyTestResult{ProxyID: p.ID, CheckedAt: time.Now().UTC()}
	probe, err := CheckConnectivity(ctx, p, judgeURL, retryDelay)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		result.Anonymity = model.AnonymityTransparent
		return result
	}

	result.Success = true
	result.ResponseTime = probe.Latency
	result.PublicIP = probe.PublicIP
	result.Anonymity = InferAnonymity(probe.Headers)
	// Approximated: a proxy that passes the connectivity test is assumed
	// to pass javascript/cookie/referer/user-agent traffic untouched.
	result.Features = model.ProxyFeatures{JavaScript: true, Cookies: true, Referer: true, UserAgent: true}

	if probe.PublicIP != "" {
		result.Country, result.Region, result.City = Geolocate(ctx, geoClient, geoURL, probe.PublicIP)
	}
	return result
}

// NetProber performs live connectivity checks for the health monitor.
type NetProber struct {
	JudgeURL   string
	RetryDelay time.Duration
}

// Probe routes one request through the proxy and reports its latency.
func (np *NetProber) Probe(ctx context.Context, p *model.Proxy) (time.Duration, error) {
	res, err := CheckConnectivity(ctx, p, np.JudgeURL, np.RetryDelay)
	if err != nil {
		return 0, err
	}
	return res.Latency, nil
}
