package provider

import (
	"fmt"

	"proxyhive/proxypool/event"
	"proxyhive/proxypool/model"
)

// ProbeSettings are the shared probe endpoints handed to every variant.
type ProbeSettings struct {
	JudgeURL string
	GeoURL   string
}

// New constructs a concrete provider variant from its persisted config.
func New(cfg *model.ProviderConfig, bus *event.Bus, probe ProbeSettings) (Provider, error) {
	switch cfg.Type {
	case model.ProviderCustom:
		return NewCustomProvider(bus, probe.JudgeURL, probe.GeoURL), nil
	case model.ProviderFreelist:
		return NewFreelistProvider(cfg, bus, probe.JudgeURL, probe.GeoURL)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Type)
	}
}
