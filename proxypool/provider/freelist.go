package provider

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"

	"proxyhive/proxypool/event"
	"proxyhive/proxypool/model"
)

const freelistUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"

// hostPortPattern matches ip:port entries inside plaintext or HTML proxy
// catalogs.
var hostPortPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3}):(\d{2,5})`)

// FreelistProvider sources proxies from a remote free proxy-list catalog.
// RefreshProxyList re-scrapes the catalog URL; the parsed entries become
// the provider's proxy set.
type FreelistProvider struct {
	base

	catalogURL string
	protocol   model.Protocol
	collector  *colly.Collector

	judgeURL   string
	geoURL     string
	retryDelay time.Duration
	geoClient  *http.Client
}

// NewFreelistProvider creates a catalog-scraping provider. cfg.Settings
// must carry "url"; "protocol" defaults to http.
func NewFreelistProvider(cfg *model.ProviderConfig, bus *event.Bus, judgeURL, geoURL string) (*FreelistProvider, error) {
	catalogURL := cfg.Settings["url"]
	if catalogURL == "" {
		return nil, fmt.Errorf("%w: freelist provider requires a catalog url", ErrInvalidProxyConfig)
	}
	protocol := model.Protocol(cfg.Settings["protocol"])
	if protocol == "" {
		protocol = model.ProtocolHTTP
	}
	if judgeURL == "" {
		judgeURL = DefaultJudgeURL
	}
	if geoURL == "" {
		geoURL = DefaultGeoURL
	}

	name := cfg.Name
	if name == "" {
		name = "Free Proxy List"
	}

	c := colly.NewCollector(colly.UserAgent(freelistUserAgent))
	c.SetRequestTimeout(20 * time.Second)

	f := &FreelistProvider{
		base:       newBase(model.ProviderFreelist, name, bus),
		catalogURL: catalogURL,
		protocol:   protocol,
		collector:  c,
		judgeURL:   judgeURL,
		geoURL:     geoURL,
		retryDelay: time.Second,
		geoClient:  &http.Client{Timeout: geoAPITimeout},
	}
	f.hooks = hooks{
		connect:    f.Connect,
		disconnect: f.Disconnect,
		refresh:    f.RefreshProxyList,
	}
	return f, nil
}

// Connect is a no-op; the catalog is stateless HTTP.
func (f *FreelistProvider) Connect(ctx context.Context) error { return nil }

// Disconnect is a no-op.
func (f *FreelistProvider) Disconnect(ctx context.Context) error { return nil }

// FetchProxies returns the entries from the last catalog scrape.
func (f *FreelistProvider) FetchProxies(ctx context.Context) ([]*model.Proxy, error) {
	return f.snapshot(), nil
}

// RefreshProxyList re-scrapes the catalog and replaces the provider's
// proxy set with the parsed entries.
func (f *FreelistProvider) RefreshProxyList(ctx context.Context) error {
	f.log.Info().Str("url", f.catalogURL).Msg("Starting catalog scrape...")

	var mu sync.Mutex
	scraped := make(map[string]*model.Proxy)
	var scrapeErr error

	// A fresh collector per refresh keeps callbacks from accumulating
	// across cycles.
	collector := f.collector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		matches := hostPortPattern.FindAllSubmatch(r.Body, -1)
		mu.Lock()
		defer mu.Unlock()
		for _, m := range matches {
			host := string(m[1])
			port, err := strconv.Atoi(string(m[2]))
			if err != nil || port < 1 || port > 65535 {
				continue
			}
			addr := fmt.Sprintf("%s:%d", host, port)
			if _, seen := scraped[addr]; seen {
				continue
			}
			// IDs are derived from the address so that re-scraping the same
			// catalog yields the same entries instead of duplicates.
			scraped[addr] = &model.Proxy{
				ID:            uuid.NewSHA1(uuid.NameSpaceURL, []byte("freelist://"+addr)).String(),
				Host:          host,
				Port:          port,
				Protocol:      f.protocol,
				AuthType:      model.AuthNone,
				Provider:      string(model.ProviderFreelist),
				MaxConcurrent: defaultMaxConcurrent,
				Timeout:       defaultTimeout,
				Retries:       defaultRetries,
				CreatedAt:     time.Now().UTC(),
			}
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		scrapeErr = err
	})

	if err := collector.Visit(f.catalogURL); err != nil {
		return fmt.Errorf("catalog visit failed: %w", err)
	}
	collector.Wait()

	if scrapeErr != nil {
		return fmt.Errorf("catalog scrape failed: %w", scrapeErr)
	}

	f.mu.Lock()
	f.registry = make(map[string]*model.Proxy, len(scraped))
	for _, p := range scraped {
		f.registry[p.ID] = p
	}
	f.mu.Unlock()

	f.log.Info().Int("count", len(scraped)).Str("url", f.catalogURL).Msg("Catalog scrape finished.")
	return nil
}

// GetUsageQuota reports unlimited usage; free catalogs have no accounting.
func (f *FreelistProvider) GetUsageQuota(ctx context.Context) (*model.ProxyUsageQuota, error) {
	return model.UnlimitedQuota(), nil
}

// TestProxy shares the probe composition with the custom provider.
func (f *FreelistProvider) TestProxy(ctx context.Context, id string) (*model.ProxyTestResult, error) {
	p, ok := f.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProxyNotFound, id)
	}
	return evaluateProxy(ctx, p, f.judgeURL, f.geoURL, f.retryDelay, f.geoClient), nil
}
