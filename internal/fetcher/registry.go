package fetcher

import (
	"sort"

	"github.com/rs/zerolog"

	"finpath-insight/internal/config"
)

// Provider names as used in configuration and response sources.
const (
	ProviderEODHD        = "eodhd"
	ProviderYahoo        = "yahoo"
	ProviderIndianAPI    = "indianapi"
	ProviderAlphaVantage = "alphavantage"
	ProviderNewsAPI      = "newsapi"
	ProviderFMP          = "fmp"
)

type constructor func(cfg config.ProviderConfig, defaultExchange string, logger zerolog.Logger) Provider

var constructors = map[string]constructor{
	ProviderEODHD: func(cfg config.ProviderConfig, exch string, logger zerolog.Logger) Provider {
		return NewEODHD(cfg, exch, logger)
	},
	ProviderYahoo: func(cfg config.ProviderConfig, exch string, logger zerolog.Logger) Provider {
		return NewYahoo(cfg, exch, logger)
	},
	ProviderIndianAPI: func(cfg config.ProviderConfig, exch string, logger zerolog.Logger) Provider {
		return NewIndianAPI(cfg, exch, logger)
	},
	ProviderAlphaVantage: func(cfg config.ProviderConfig, exch string, logger zerolog.Logger) Provider {
		return NewAlphaVantage(cfg, exch, logger)
	},
	ProviderNewsAPI: func(cfg config.ProviderConfig, _ string, logger zerolog.Logger) Provider {
		return NewNewsAPI(cfg, logger)
	},
	ProviderFMP: func(cfg config.ProviderConfig, exch string, logger zerolog.Logger) Provider {
		return NewFMP(cfg, exch, logger)
	},
}

// Yahoo's public endpoints need no key; every other provider does.
var keyRequired = map[string]bool{
	ProviderEODHD:        true,
	ProviderYahoo:        false,
	ProviderIndianAPI:    true,
	ProviderAlphaVantage: true,
	ProviderNewsAPI:      true,
	ProviderFMP:          true,
}

// Registry is the provider-keyed dispatch table.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry from ready providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// FromConfig instantiates every enabled provider that has the credentials it
// needs. Skipped providers are logged and simply absent from the table.
func FromConfig(cfg config.ProvidersConfig, logger zerolog.Logger) *Registry {
	log := logger.With().Str("component", "fetcher").Logger()
	r := NewRegistry()
	for name, pc := range cfg.ByName() {
		build, ok := constructors[name]
		if !ok {
			continue
		}
		if !pc.Enabled {
			log.Info().Str("provider", name).Msg("provider disabled")
			continue
		}
		if keyRequired[name] && pc.APIKey == "" {
			log.Warn().Str("provider", name).Msg("provider has no api_key configured; skipping")
			continue
		}
		r.Register(build(pc, cfg.DefaultExchange, logger))
	}
	return r
}

// Register adds or replaces a provider under its name.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names lists registered providers alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
