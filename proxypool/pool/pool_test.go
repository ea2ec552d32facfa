package pool

import (
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"

	"proxyhive/proxypool/event"
	"proxyhive/proxypool/model"
)

func testConfig() *model.ProxyPoolConfig {
	cfg := model.DefaultPoolConfig()
	cfg.FailureThreshold = 3
	cfg.RecoveryThreshold = 2
	return cfg
}

func newProxy(id string) *model.Proxy {
	return &model.Proxy{
		ID:       id,
		Host:     "10.0.0.1",
		Port:     8080,
		Protocol: model.ProtocolHTTP,
		AuthType: model.AuthNone,
	}
}

func markHealthy(t *testing.T, pl *Pool, id string) {
	t.Helper()
	pl.RecordProxyResponse(&model.ProxyResponse{ProxyID: id, Success: true, ResponseTime: 50 * time.Millisecond})
	if st := pl.StatusOf(id); st == nil || st.Health != model.HealthHealthy {
		t.Fatalf("expected %s to be healthy after a success, got %+v", id, st)
	}
}

func TestGetProxy_UnknownIsIneligible(t *testing.T) {
	pl := New(testConfig(), nil)
	pl.AddProxy(newProxy("p1"))

	if got := pl.GetProxy(&model.ProxyRequest{ID: "r1"}); got != nil {
		t.Errorf("expected no proxy while classification is unknown, got %s", got.ID)
	}
}

func TestRecordResponse_FailureThresholdFlipsUnhealthy(t *testing.T) {
	pl := New(testConfig(), nil)
	pl.AddProxy(newProxy("p1"))
	markHealthy(t, pl, "p1")

	for i := 0; i < 3; i++ {
		if st := pl.StatusOf("p1"); i > 0 && st.Health != model.HealthHealthy {
			t.Fatalf("flipped unhealthy after only %d failures", i)
		}
		pl.RecordProxyResponse(&model.ProxyResponse{ProxyID: "p1", Success: false, Error: "connection refused"})
	}

	if st := pl.StatusOf("p1"); st.Health != model.HealthUnhealthy {
		t.Fatalf("expected unhealthy after 3 consecutive failures, got %s", st.Health)
	}
	if got := pl.GetProxy(&model.ProxyRequest{ID: "r1"}); got != nil {
		t.Errorf("GetProxy returned an unhealthy proxy: %s", got.ID)
	}
}

func TestRecordResponse_RecoveryRequiresThreshold(t *testing.T) {
	pl := New(testConfig(), nil)
	pl.AddProxy(newProxy("p1"))
	markHealthy(t, pl, "p1")
	for i := 0; i < 3; i++ {
		pl.RecordProxyResponse(&model.ProxyResponse{ProxyID: "p1", Success: false})
	}

	pl.RecordProxyResponse(&model.ProxyResponse{ProxyID: "p1", Success: true, ResponseTime: 40 * time.Millisecond})
	if st := pl.StatusOf("p1"); st.Health != model.HealthUnhealthy {
		t.Fatalf("one success should not recover with threshold 2, got %s", st.Health)
	}

	pl.RecordProxyResponse(&model.ProxyResponse{ProxyID: "p1", Success: true, ResponseTime: 40 * time.Millisecond})
	if st := pl.StatusOf("p1"); st.Health != model.HealthHealthy {
		t.Fatalf("expected recovery after 2 consecutive successes, got %s", st.Health)
	}
}

func TestRecordResponse_UnknownProxyIgnored(t *testing.T) {
	pl := New(testConfig(), nil)
	pl.RecordProxyResponse(&model.ProxyResponse{ProxyID: "ghost", Success: true})
	if pl.HistorySize() != 0 {
		t.Errorf("responses for unknown ids must be ignored, history=%d", pl.HistorySize())
	}
}

func TestHealthTransitions_EmitEvents(t *testing.T) {
	bus := event.NewBus()
	var got []event.Type
	bus.Subscribe(event.ObserverFunc(func(ev event.Event) {
		got = append(got, ev.Type)
	}))

	pl := New(testConfig(), bus)
	pl.AddProxy(newProxy("p1"))
	markHealthy(t, pl, "p1")
	for i := 0; i < 3; i++ {
		pl.RecordProxyResponse(&model.ProxyResponse{ProxyID: "p1", Success: false})
	}
	pl.RecordProxyResponse(&model.ProxyResponse{ProxyID: "p1", Success: true})
	pl.RecordProxyResponse(&model.ProxyResponse{ProxyID: "p1", Success: true})

	var sawUnhealthy, sawRecovered bool
	for _, ev := range got {
		if ev == event.ProxyUnhealthy {
			sawUnhealthy = true
		}
		if ev == event.ProxyRecovered {
			sawRecovered = true
		}
	}
	if !sawUnhealthy || !sawRecovered {
		t.Errorf("expected unhealthy and recovered events, got %v", got)
	}
}

func TestAddProxy_DuplicateIDUpdatesInPlace(t *testing.T) {
	pl := New(testConfig(), nil)
	pl.AddProxy(newProxy("p1"))
	markHealthy(t, pl, "p1")

	update := newProxy("p1")
	update.Country = "DE"
	pl.AddProxy(update)

	if n := len(pl.Proxies()); n != 1 {
		t.Fatalf("duplicate id must not grow the pool, got %d entries", n)
	}
	if st := pl.StatusOf("p1"); st.Health != model.HealthHealthy {
		t.Errorf("re-adding a proxy must keep its status, got %s", st.Health)
	}
	if pl.Get("p1").Country != "DE" {
		t.Errorf("re-adding a proxy must update its record")
	}
}

func TestRemoveProxy_ReleasesSessionBinding(t *testing.T) {
	cfg := testConfig()
	cfg.SessionStickiness = true
	pl := New(cfg, nil)
	pl.AddProxy(newProxy("p1"))
	pl.AddProxy(newProxy("p2"))
	markHealthy(t, pl, "p1")
	markHealthy(t, pl, "p2")

	first := pl.GetProxy(&model.ProxyRequest{ID: "r1", SessionKey: "sess"})
	if first == nil {
		t.Fatal("expected a proxy")
	}
	pl.RemoveProxy(first.ID)

	second := pl.GetProxy(&model.ProxyRequest{ID: "r2", SessionKey: "sess"})
	if second == nil {
		t.Fatal("expected a replacement proxy after removal")
	}
	if second.ID == first.ID {
		t.Errorf("session still bound to removed proxy %s", first.ID)
	}
}

func TestGetProxy_DisabledProxyIneligible(t *testing.T) {
	pl := New(testConfig(), nil)
	p := newProxy("p1")
	p.Enabled = lo.ToPtr(false)
	pl.AddProxy(p)

	// Healthy but disabled: still not selectable.
	pl.RecordProxyResponse(&model.ProxyResponse{ProxyID: "p1", Success: true, ResponseTime: 10 * time.Millisecond})

	if got := pl.GetProxy(&model.ProxyRequest{ID: "r1"}); got != nil {
		t.Errorf("disabled proxies must never be selected, got %s", got.ID)
	}
}

func TestGetProxy_RoundRobinDistributes(t *testing.T) {
	pl := New(testConfig(), nil)
	for i := 0; i < 3; i++ {
		p := newProxy(fmt.Sprintf("p%d", i))
		pl.AddProxy(p)
		markHealthy(t, pl, p.ID)
	}

	seen := make(map[string]int)
	for i := 0; i < 9; i++ {
		p := pl.GetProxy(&model.ProxyRequest{ID: fmt.Sprintf("r%d", i)})
		if p == nil {
			t.Fatal("expected a proxy")
		}
		seen[p.ID]++
	}
	for id, n := range seen {
		if n != 3 {
			t.Errorf("round robin should distribute evenly, %s selected %d times", id, n)
		}
	}
}

func TestGetProxy_LoadBalancingDisabledPinsFirst(t *testing.T) {
	cfg := testConfig()
	cfg.LoadBalancing = false
	pl := New(cfg, nil)
	pl.AddProxy(newProxy("p1"))
	pl.AddProxy(newProxy("p2"))
	markHealthy(t, pl, "p1")
	markHealthy(t, pl, "p2")

	for i := 0; i < 4; i++ {
		if p := pl.GetProxy(&model.ProxyRequest{}); p.ID != "p1" {
			t.Fatalf("expected pinned selection of p1, got %s", p.ID)
		}
	}
}

func TestGetProxy_GeoMatchingPrefersCountry(t *testing.T) {
	cfg := testConfig()
	cfg.EnableGeoMatching = true
	pl := New(cfg, nil)

	us := newProxy("us")
	us.Country = "US"
	de := newProxy("de")
	de.Country = "DE"
	pl.AddProxy(us)
	pl.AddProxy(de)
	markHealthy(t, pl, "us")
	markHealthy(t, pl, "de")

	for i := 0; i < 4; i++ {
		p := pl.GetProxy(&model.ProxyRequest{Country: "DE"})
		if p.ID != "de" {
			t.Fatalf("expected geo match to pick de, got %s", p.ID)
		}
	}

	// No candidate matches: fall back to the healthy set instead of none.
	if p := pl.GetProxy(&model.ProxyRequest{Country: "JP"}); p == nil {
		t.Error("geo preference must fall back when nothing matches")
	}
}

func TestGetProxy_StickySessionReusesProxy(t *testing.T) {
	cfg := testConfig()
	cfg.SessionStickiness = true
	cfg.SessionTimeout = time.Minute
	pl := New(cfg, nil)
	pl.AddProxy(newProxy("p1"))
	pl.AddProxy(newProxy("p2"))
	markHealthy(t, pl, "p1")
	markHealthy(t, pl, "p2")

	first := pl.GetProxy(&model.ProxyRequest{ID: "r1", SessionKey: "sess"})
	for i := 0; i < 5; i++ {
		next := pl.GetProxy(&model.ProxyRequest{ID: fmt.Sprintf("r%d", i+2), SessionKey: "sess"})
		if next.ID != first.ID {
			t.Fatalf("sticky session switched from %s to %s", first.ID, next.ID)
		}
	}
}

func TestGetProxy_StickyFallsBackWhenBoundProxyUnhealthy(t *testing.T) {
	cfg := testConfig()
	cfg.SessionStickiness = true
	pl := New(cfg, nil)
	pl.AddProxy(newProxy("p1"))
	pl.AddProxy(newProxy("p2"))
	markHealthy(t, pl, "p1")
	markHealthy(t, pl, "p2")

	first := pl.GetProxy(&model.ProxyRequest{ID: "r1", SessionKey: "sess"})
	for i := 0; i < 3; i++ {
		pl.RecordProxyResponse(&model.ProxyResponse{ProxyID: first.ID, Success: false})
	}

	next := pl.GetProxy(&model.ProxyRequest{ID: "r2", SessionKey: "sess"})
	if next == nil || next.ID == first.ID {
		t.Fatalf("expected fallback away from unhealthy %s, got %v", first.ID, next)
	}
}

func TestGetProxy_WeightedPrefersSuccessRate(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = model.StrategyWeighted
	cfg.LoadBalancing = false
	pl := New(cfg, nil)
	pl.AddProxy(newProxy("good"))
	pl.AddProxy(newProxy("flaky"))
	markHealthy(t, pl, "good")
	markHealthy(t, pl, "flaky")

	// Degrade flaky's success rate without flipping it unhealthy.
	pl.RecordProxyResponse(&model.ProxyResponse{ProxyID: "flaky", Success: false})
	pl.RecordProxyResponse(&model.ProxyResponse{ProxyID: "flaky", Success: true})

	if p := pl.GetProxy(&model.ProxyRequest{}); p.ID != "good" {
		t.Errorf("weighted strategy should prefer the higher success rate, got %s", p.ID)
	}
}

func TestHistory_BoundedFIFOEviction(t *testing.T) {
	pl := New(testConfig(), nil)
	pl.AddProxy(newProxy("p1"))

	for i := 0; i < 1001; i++ {
		pl.RecordProxyResponse(&model.ProxyResponse{
			RequestID: fmt.Sprintf("r%d", i),
			ProxyID:   "p1",
			Success:   true,
		})
	}

	if n := pl.HistorySize(); n != 1000 {
		t.Fatalf("history must be capped at 1000, got %d", n)
	}
	history := pl.History()
	if history[0].RequestID != "r1" {
		t.Errorf("oldest entry must be evicted first, head is %s", history[0].RequestID)
	}
	if history[len(history)-1].RequestID != "r1000" {
		t.Errorf("newest entry must be retained, tail is %s", history[len(history)-1].RequestID)
	}
}

func TestUniqueIDs_AcrossMutations(t *testing.T) {
	pl := New(testConfig(), nil)
	for i := 0; i < 10; i++ {
		pl.AddProxy(newProxy(fmt.Sprintf("p%d", i%5))) // deliberate duplicates
	}
	seen := make(map[string]bool)
	for _, p := range pl.Proxies() {
		if seen[p.ID] {
			t.Fatalf("duplicate id %s in pool", p.ID)
		}
		seen[p.ID] = true
	}
	if len(seen) != 5 {
		t.Errorf("expected 5 unique proxies, got %d", len(seen))
	}
}
