package config

// RouteJSON mirrors Route for the admin API's normalized JSON view
// (GET /web/config?format=json), carrying the stable route_index
// field clients key off of across reloads.
type RouteJSON struct {
	RouteIndex     int                  `json:"route_index"`
	Name           string               `json:"name"`
	Host           *string              `json:"host"`
	PathPrefix     string               `json:"path_prefix"`
	IsDefault      bool                 `json:"is_default"`
	LB             LBStrategy           `json:"lb"`
	MaxRetries     int                  `json:"max_retries"`
	RetryBackoffMs int                  `json:"retry_backoff_ms"`
	CircuitBreaker CircuitBreakerPolicy `json:"circuit_breaker"`
	Upstreams      []Upstream           `json:"upstreams"`
}

// ConfigJSON mirrors Config for the admin API's normalized JSON view.
type ConfigJSON struct {
	Server        ServerConfig        `json:"server"`
	Observability ObservabilityConfig `json:"observability"`
	Routes        []RouteJSON         `json:"routes"`
}

// ToJSON projects cfg into the admin API's JSON shape, filling in each
// route's declaration-order route_index. It normalizes a copy, so cfg
// itself is left unchanged.
func ToJSON(cfg *Config) ConfigJSON {
	c := *cfg
	c.Routes = make([]Route, len(cfg.Routes))
	for i, r := range cfg.Routes {
		r.Upstreams = append([]Upstream(nil), r.Upstreams...)
		c.Routes[i] = r
	}
	Normalize(&c)
	cfg = &c

	out := ConfigJSON{
		Server:        cfg.Server,
		Observability: cfg.Observability,
		Routes:        make([]RouteJSON, len(cfg.Routes)),
	}
	for i, r := range cfg.Routes {
		out.Routes[i] = RouteJSON{
			RouteIndex:     r.Index(),
			Name:           r.Name,
			Host:           r.Host,
			PathPrefix:     r.PathPrefix,
			IsDefault:      r.IsDefault,
			LB:             r.LB,
			MaxRetries:     r.MaxRetries,
			RetryBackoffMs: r.RetryBackoffMs,
			CircuitBreaker: r.CircuitBreaker,
			Upstreams:      r.Upstreams,
		}
	}
	return out
}
