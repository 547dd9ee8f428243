package config

import (
	"strings"
	"testing"
)

func boolPtr(b bool) *bool { return &b }

func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HealthPath: "/healthz",
			ReadyPath:  "/readyz",
		},
		Routes: []Route{
			{
				Name:       "default",
				PathPrefix: "/",
				IsDefault:  true,
				Upstreams: []Upstream{
					{Addr: "127.0.0.1:9000"},
				},
			},
		},
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	cfg := minimalValidConfig()
	if errs := Validate(cfg); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidateNoRoutes(t *testing.T) {
	cfg := &Config{Server: ServerConfig{HealthPath: "/healthz", ReadyPath: "/readyz"}}
	errs := Validate(cfg)
	if !containsMsg(errs, "config must include at least one [[route]] block") {
		t.Fatalf("expected missing-routes error, got %v", errs)
	}
}

func TestValidateHealthReadySamePath(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Server.ReadyPath = cfg.Server.HealthPath
	errs := Validate(cfg)
	if !containsMsg(errs, "server.health_path and server.ready_path must be different") {
		t.Fatalf("expected health/ready collision error, got %v", errs)
	}
}

func TestValidatePathsMustStartWithSlash(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Server.HealthPath = "healthz"
	cfg.Server.ReadyPath = "readyz"
	errs := Validate(cfg)
	if !containsMsg(errs, "server.health_path must start with '/'") {
		t.Fatalf("expected health_path error, got %v", errs)
	}
	if !containsMsg(errs, "server.ready_path must start with '/'") {
		t.Fatalf("expected ready_path error, got %v", errs)
	}
}

func TestValidateRouteEmptyUpstreams(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Routes[0].Upstreams = nil
	errs := Validate(cfg)
	if !containsMsg(errs, "route 'default' must include at least one [[route.upstream]]") {
		t.Fatalf("expected empty-upstreams error, got %v", errs)
	}
}

func TestValidateRoutePathPrefix(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Routes[0].PathPrefix = ""
	errs := Validate(cfg)
	if !containsMsg(errs, "route 'default' has empty path_prefix") {
		t.Fatalf("expected empty path_prefix error, got %v", errs)
	}

	cfg2 := minimalValidConfig()
	cfg2.Routes[0].PathPrefix = "api"
	errs2 := Validate(cfg2)
	if !containsMsg(errs2, "route 'default' path_prefix must start with '/'") {
		t.Fatalf("expected path_prefix-slash error, got %v", errs2)
	}
}

func TestValidateUpstreamEmptyAddr(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Routes[0].Upstreams = append(cfg.Routes[0].Upstreams, Upstream{Addr: ""})
	errs := Validate(cfg)
	if !containsMsg(errs, "route 'default' includes upstream with empty addr") {
		t.Fatalf("expected empty-addr error, got %v", errs)
	}
}

func TestValidateMultipleDefaults(t *testing.T) {
	cfg := minimalValidConfig()
	second := cfg.Routes[0]
	second.Name = "second"
	cfg.Routes = append(cfg.Routes, second)
	errs := Validate(cfg)
	if !containsMsg(errs, "only one route can be marked is_default = true") {
		t.Fatalf("expected multiple-defaults error, got %v", errs)
	}
}

func TestValidateIsExhaustive(t *testing.T) {
	// A config with several independent problems should report all of
	// them, not just the first encountered.
	cfg := &Config{
		Server: ServerConfig{HealthPath: "x", ReadyPath: "x"},
		Routes: []Route{
			{Name: "a", PathPrefix: "", Upstreams: nil},
		},
	}
	errs := Validate(cfg)
	if len(errs) < 4 {
		t.Fatalf("expected several independent errors, got %d: %v", len(errs), errs)
	}
}

func TestNormalizeDefaultsAndClamping(t *testing.T) {
	host := "API.Example.com"
	cfg := &Config{
		Routes: []Route{
			{
				Name:       "r",
				Host:       &host,
				PathPrefix: "/",
				Upstreams: []Upstream{
					{Addr: "10.0.0.1:8080", Weight: 0},
					{Addr: "10.0.0.2:8080", Weight: 9999},
					{Addr: "not-a-valid-addr", Weight: 5},
				},
			},
		},
	}
	Normalize(cfg)

	if cfg.Server.HealthPath != defaultHealthPath {
		t.Errorf("expected default health path, got %q", cfg.Server.HealthPath)
	}
	if *cfg.Routes[0].Host != "api.example.com" {
		t.Errorf("expected lowercased host, got %q", *cfg.Routes[0].Host)
	}
	if cfg.Routes[0].LB != LBRoundRobin {
		t.Errorf("expected default LB round_robin, got %q", cfg.Routes[0].LB)
	}
	if cfg.Routes[0].Upstreams[0].Weight != minWeight {
		t.Errorf("expected weight clamped to %d, got %d", minWeight, cfg.Routes[0].Upstreams[0].Weight)
	}
	if cfg.Routes[0].Upstreams[1].Weight != maxWeight {
		t.Errorf("expected weight clamped to %d, got %d", maxWeight, cfg.Routes[0].Upstreams[1].Weight)
	}
	if cfg.Routes[0].Upstreams[0].SNI != "10.0.0.1" {
		t.Errorf("expected SNI defaulted from addr host, got %q", cfg.Routes[0].Upstreams[0].SNI)
	}
	if cfg.Routes[0].Upstreams[2].SNI != "localhost" {
		t.Errorf("expected SNI fallback to localhost, got %q", cfg.Routes[0].Upstreams[2].SNI)
	}
	if cfg.Routes[0].CircuitBreaker.ConsecutiveFailures != defaultConsecutiveFails {
		t.Errorf("expected default consecutive_failures, got %d", cfg.Routes[0].CircuitBreaker.ConsecutiveFailures)
	}
	if cfg.Routes[0].CircuitBreaker.OpenMs != defaultOpenMs {
		t.Errorf("expected default open_ms, got %d", cfg.Routes[0].CircuitBreaker.OpenMs)
	}
}

func TestVerifyDefaultsTrue(t *testing.T) {
	u := Upstream{}
	if !u.EffectiveVerifyCert() {
		t.Error("expected verify_cert to default true")
	}
	if !u.EffectiveVerifyHostname() {
		t.Error("expected verify_hostname to default true")
	}
	u.VerifyCert = boolPtr(false)
	if u.EffectiveVerifyCert() {
		t.Error("expected verify_cert false to stick")
	}
	if !u.EffectiveVerifyHostname() {
		t.Error("verify_hostname should be independent of verify_cert")
	}
}

func TestParseSerializeRoundTrip(t *testing.T) {
	cfg := minimalValidConfig()
	data, err := Serialize(cfg)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	Normalize(cfg)
	Normalize(parsed)
	if len(parsed.Routes) != len(cfg.Routes) {
		t.Fatalf("route count mismatch: got %d want %d", len(parsed.Routes), len(cfg.Routes))
	}
	if parsed.Routes[0].PathPrefix != cfg.Routes[0].PathPrefix {
		t.Errorf("path_prefix mismatch after round trip: %q vs %q",
			parsed.Routes[0].PathPrefix, cfg.Routes[0].PathPrefix)
	}
}

func containsMsg(errs []error, msg string) bool {
	for _, e := range errs {
		if strings.Contains(e.Error(), msg) {
			return true
		}
	}
	return false
}
