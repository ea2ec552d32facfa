package pool

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"proxyhive/proxypool/model"
)

// GetProxy returns the best matching enabled, healthy proxy for the
// request per the configured strategy, or nil when no eligible proxy
// exists. A nil result is a valid outcome, not an error.
func (pl *Pool) GetProxy(req *model.ProxyRequest) *model.Proxy {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if req == nil {
		req = &model.ProxyRequest{}
	}

	// Sticky sessions: a bound proxy is reused for the session window as
	// long as it is still eligible.
	if pl.cfg.SessionStickiness && req.SessionKey != "" {
		if s, ok := pl.sessions[req.SessionKey]; ok {
			if time.Now().Before(s.expiresAt) {
				if p, ok := pl.proxies[s.proxyID]; ok && pl.eligible(p) {
					pl.sessions[req.SessionKey] = session{proxyID: p.ID, expiresAt: time.Now().Add(pl.cfg.SessionTimeout)}
					return p
				}
			}
			delete(pl.sessions, req.SessionKey)
		}
	}

	candidates := pl.candidates(req)
	if len(candidates) == 0 {
		return nil
	}

	var chosen *model.Proxy
	switch pl.cfg.Strategy {
	case model.StrategyWeighted:
		chosen = pl.pickWeighted(candidates)
	default:
		chosen = pl.pickRoundRobin(candidates)
	}

	if pl.cfg.SessionStickiness && req.SessionKey != "" {
		pl.sessions[req.SessionKey] = session{proxyID: chosen.ID, expiresAt: time.Now().Add(pl.cfg.SessionTimeout)}
	}
	return chosen
}

// eligible reports whether a proxy may be handed out. Only healthy
// proxies qualify; unknown is ineligible until an observation exists.
// Must be called with pl.mu held.
func (pl *Pool) eligible(p *model.Proxy) bool {
	if !p.IsEnabled() {
		return false
	}
	st, ok := pl.statuses[p.ID]
	return ok && st.Health == model.HealthHealthy
}

// candidates returns the eligible proxies in insertion order, narrowed by
// geo matching when enabled and requested. Geo matching is a preference:
// when no candidate matches the requested location the unmatched healthy
// set is used instead. Must be called with pl.mu held.
func (pl *Pool) candidates(req *model.ProxyRequest) []*model.Proxy {
	eligible := make([]*model.Proxy, 0, len(pl.order))
	for _, id := range pl.order {
		if p, ok := pl.proxies[id]; ok && pl.eligible(p) {
			eligible = append(eligible, p)
		}
	}

	if !pl.cfg.EnableGeoMatching || (req.Country == "" && req.City == "") {
		return eligible
	}

	matched := lo.Filter(eligible, func(p *model.Proxy, _ int) bool {
		if req.Country != "" && p.Country != req.Country {
			return false
		}
		if req.City != "" && p.City != req.City {
			return false
		}
		return true
	})
	if len(matched) > 0 {
		return matched
	}
	return eligible
}

// pickRoundRobin distributes selections across the candidate set. With
// load balancing disabled the first candidate is always used. Must be
// called with pl.mu held.
func (pl *Pool) pickRoundRobin(candidates []*model.Proxy) *model.Proxy {
	if !pl.cfg.LoadBalancing {
		return candidates[0]
	}
	chosen := candidates[pl.rrIndex%len(candidates)]
	pl.rrIndex++
	return chosen
}

// pickWeighted prefers candidates with the best recent success rate,
// breaking ties on average latency.
func (pl *Pool) pickWeighted(candidates []*model.Proxy) *model.Proxy {
	sorted := make([]*model.Proxy, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := pl.statuses[sorted[i].ID], pl.statuses[sorted[j].ID]
		if si.SuccessRate != sj.SuccessRate {
			return si.SuccessRate > sj.SuccessRate
		}
		return si.AvgResponseTime < sj.AvgResponseTime
	})
	if !pl.cfg.LoadBalancing {
		return sorted[0]
	}
	// Rotate among the equally best candidates to spread load.
	best := lo.Filter(sorted, func(p *model.Proxy, _ int) bool {
		return pl.statuses[p.ID].SuccessRate == pl.statuses[sorted[0].ID].SuccessRate
	})
	chosen := best[pl.rrIndex%len(best)]
	pl.rrIndex++
	return chosen
}
