// Package config holds prx's configuration model: the in-memory
// representation of a Prx.toml file, its validator, and normalization
// rules. Everything here is pure and side-effect free so it can be
// exercised identically at startup, on reload, and from the admin API.
package config

import (
	"fmt"
	"net"
	"strings"
)

// LBStrategy selects a route's load-balancing algorithm.
type LBStrategy string

const (
	LBRoundRobin LBStrategy = "round_robin"
	LBRandom     LBStrategy = "random"
	LBHash       LBStrategy = "hash"
)

// Config is the root of a prx configuration. It is immutable once
// validated: nothing downstream mutates a Config in place.
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Observability ObservabilityConfig `toml:"observability"`
	Routes        []Route             `toml:"route"`
}

// ServerConfig holds the front-listener and lifecycle settings.
type ServerConfig struct {
	Listen                   []string `toml:"listen"`
	HealthPath               string   `toml:"health_path"`
	ReadyPath                string   `toml:"ready_path"`
	Threads                  int      `toml:"threads"`
	GracePeriodMs            int      `toml:"grace_period_ms"`
	GracefulShutdownTimeoutS int      `toml:"graceful_shutdown_timeout_seconds"`
	ConfigReloadDebounceMs   int      `toml:"config_reload_debounce_ms"`
	TLS                      *TLS     `toml:"tls"`
}

// TLS holds the front listener's static certificate, if prx
// terminates TLS itself rather than sitting behind a terminator.
type TLS struct {
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// ObservabilityConfig holds logging/metrics knobs. Metrics emission is
// out of spec scope; MetricsListen is retained purely as a pass-through
// value for an external collaborator to bind to.
type ObservabilityConfig struct {
	LogLevel      string `toml:"log_level"`
	AccessLog     bool   `toml:"access_log"`
	MetricsListen string `toml:"metrics_listen"`
}

// Route maps a (host, path) to an ordered set of upstreams.
type Route struct {
	Name           string               `toml:"name"`
	Host           *string              `toml:"host"`
	PathPrefix     string               `toml:"path_prefix"`
	IsDefault      bool                 `toml:"is_default"`
	LB             LBStrategy           `toml:"lb"`
	MaxRetries     int                  `toml:"max_retries"`
	RetryBackoffMs int                  `toml:"retry_backoff_ms"`
	CircuitBreaker CircuitBreakerPolicy `toml:"circuit_breaker"`
	Upstreams      []Upstream           `toml:"upstream"`

	// index is the route's position in the original [[route]] sequence.
	// It is filled in by Normalize/Validate and used by the router as
	// the final tie-break in ordering, and surfaced as route_index by
	// the admin API.
	index int
}

// Index returns the route's zero-based declaration order, as set by
// the most recent call to Normalize/Validate.
func (r Route) Index() int { return r.index }

// Upstream is a single forwarding destination.
type Upstream struct {
	Addr           string `toml:"addr"`
	TLS            bool   `toml:"tls"`
	SNI            string `toml:"sni"`
	Weight         int    `toml:"weight"`
	VerifyCert     *bool  `toml:"verify_cert"`
	VerifyHostname *bool  `toml:"verify_hostname"`
	ConnectMs      int    `toml:"connect_ms"`
	TotalConnectMs int    `toml:"total_connect_ms"`
	ReadMs         int    `toml:"read_ms"`
	WriteMs        int    `toml:"write_ms"`
	IdleMs         int    `toml:"idle_ms"`
}

// EffectiveVerifyCert reports whether certificate verification is on
// for this upstream, defaulting to true when unset.
func (u Upstream) EffectiveVerifyCert() bool {
	return u.VerifyCert == nil || *u.VerifyCert
}

// EffectiveVerifyHostname reports whether hostname verification is on
// for this upstream, defaulting to true when unset.
func (u Upstream) EffectiveVerifyHostname() bool {
	return u.VerifyHostname == nil || *u.VerifyHostname
}

// CircuitBreakerPolicy configures the passive breaker for a route.
type CircuitBreakerPolicy struct {
	Enabled             bool `toml:"enabled"`
	ConsecutiveFailures int  `toml:"consecutive_failures"`
	OpenMs              int  `toml:"open_ms"`
}

const (
	defaultHealthPath       = "/healthz"
	defaultReadyPath        = "/readyz"
	defaultReloadDebounceMs = 250
	defaultConsecutiveFails = 3
	defaultOpenMs           = 30000
	minWeight               = 1
	maxWeight               = 256
)

// Default returns a minimally-populated Config with defaults filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HealthPath:             defaultHealthPath,
			ReadyPath:              defaultReadyPath,
			ConfigReloadDebounceMs: defaultReloadDebounceMs,
		},
	}
}

// sniHost extracts the host portion of a host:port address, falling
// back to "localhost" if it cannot be parsed.
func sniHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

func clampWeight(w int) int {
	if w < minWeight {
		return minWeight
	}
	if w > maxWeight {
		return maxWeight
	}
	return w
}

// Normalize mutates cfg in place: lowercases host patterns, clamps
// upstream weights, fills default SNI, default breaker policy, and
// route indices. It never rejects a config; call Validate separately
// to collect errors. Normalize is idempotent.
func Normalize(cfg *Config) {
	if cfg.Server.HealthPath == "" {
		cfg.Server.HealthPath = defaultHealthPath
	}
	if cfg.Server.ReadyPath == "" {
		cfg.Server.ReadyPath = defaultReadyPath
	}
	if cfg.Server.ConfigReloadDebounceMs <= 0 {
		cfg.Server.ConfigReloadDebounceMs = defaultReloadDebounceMs
	}

	for i := range cfg.Routes {
		r := &cfg.Routes[i]
		r.index = i

		if r.Host != nil {
			lower := strings.ToLower(*r.Host)
			r.Host = &lower
		}
		if r.LB == "" {
			r.LB = LBRoundRobin
		}
		if r.CircuitBreaker.ConsecutiveFailures <= 0 {
			r.CircuitBreaker.ConsecutiveFailures = defaultConsecutiveFails
		}
		if r.CircuitBreaker.OpenMs <= 0 {
			r.CircuitBreaker.OpenMs = defaultOpenMs
		}

		for j := range r.Upstreams {
			u := &r.Upstreams[j]
			u.Weight = clampWeight(u.Weight)
			if u.SNI == "" {
				u.SNI = sniHost(u.Addr)
			}
		}
	}
}

// Error is a single validation failure. Message is a stable,
// machine-matchable string rather than a formatted human sentence.
type Error struct {
	Message string
}

func (e Error) Error() string { return e.Message }

// Validate normalizes cfg and then exhaustively checks it, returning
// every problem found rather than stopping at the first. A nil
// return means cfg is safe to build a RuntimeFabric from.
func Validate(cfg *Config) []error {
	Normalize(cfg)

	var errs []error

	if len(cfg.Routes) == 0 {
		errs = append(errs, Error{"config must include at least one [[route]] block"})
	}

	if !strings.HasPrefix(cfg.Server.HealthPath, "/") {
		errs = append(errs, Error{"server.health_path must start with '/'"})
	}
	if !strings.HasPrefix(cfg.Server.ReadyPath, "/") {
		errs = append(errs, Error{"server.ready_path must start with '/'"})
	}
	if cfg.Server.HealthPath == cfg.Server.ReadyPath {
		errs = append(errs, Error{"server.health_path and server.ready_path must be different"})
	}

	defaultCount := 0
	for _, r := range cfg.Routes {
		if r.IsDefault {
			defaultCount++
		}

		if len(r.Upstreams) == 0 {
			errs = append(errs, Error{fmt.Sprintf("route '%s' must include at least one [[route.upstream]]", r.Name)})
		}
		if r.PathPrefix == "" {
			errs = append(errs, Error{fmt.Sprintf("route '%s' has empty path_prefix", r.Name)})
		} else if !strings.HasPrefix(r.PathPrefix, "/") {
			errs = append(errs, Error{fmt.Sprintf("route '%s' path_prefix must start with '/'", r.Name)})
		}

		for _, u := range r.Upstreams {
			if u.Addr == "" {
				errs = append(errs, Error{fmt.Sprintf("route '%s' includes upstream with empty addr", r.Name)})
				break
			}
		}
	}
	if defaultCount > 1 {
		errs = append(errs, Error{"only one route can be marked is_default = true"})
	}

	return errs
}
