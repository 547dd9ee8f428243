// Package admin implements prx's admin HTTP surface: the bit-exact
// contract consumed by the configuration SPA. It never participates
// in the proxy hot path; every handler here goes through the
// supervisor's validate/build/publish path rather than touching a
// RuntimeFabric directly, so a bad PUT can never leave a half-applied
// config on disk or in memory.
package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"prx/config"
	"prx/fabric"
	"prx/logging"
)

// Server wires the admin routes to a config path and the fabric
// supervisor they read from and write through.
type Server struct {
	Supervisor *fabric.Supervisor
	ConfigPath string
	Prober     Prober
	InstanceID string
}

// NewRouter builds the chi mux for the admin listener.
func (s *Server) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/web/config", s.getConfig)
	r.Put("/web/config", s.putConfig)
	r.Get("/web/health/routes", s.getHealthRoutes)
	r.Post("/web/health/routes", s.postHealthRoutes)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.L().Debug("admin request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.Supervisor.Current().Config()

	if r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(config.ToJSON(cfg))
		return
	}

	data, err := os.ReadFile(s.ConfigPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	cfg, err := config.Parse(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		writeValidationErrors(w, errs)
		return
	}

	if err := config.Save(s.ConfigPath, cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.Supervisor.ReloadFromConfig(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("applied"))
}

func writeValidationErrors(w http.ResponseWriter, errs []error) {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(struct {
		Errors []string `json:"errors"`
	}{msgs})
}

func (s *Server) getHealthRoutes(w http.ResponseWriter, r *http.Request) {
	cfg := s.Supervisor.Current().Config()
	s.writeHealthReport(w, r, cfg)
}

func (s *Server) postHealthRoutes(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	cfg, err := config.Parse(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	config.Normalize(cfg)
	s.writeHealthReport(w, r, cfg)
}

func (s *Server) writeHealthReport(w http.ResponseWriter, r *http.Request, cfg *config.Config) {
	timeoutMs := clampTimeoutMs(parseTimeoutMs(r.URL.Query().Get("timeout_ms")))
	report := s.Prober.Probe(r.Context(), cfg, timeoutMs)
	report.InstanceID = s.InstanceID

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

func parseTimeoutMs(raw string) int {
	if raw == "" {
		return defaultTimeoutMs
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultTimeoutMs
	}
	return n
}

func clampTimeoutMs(ms int) int {
	if ms < minTimeoutMs {
		return minTimeoutMs
	}
	if ms > maxTimeoutMs {
		return maxTimeoutMs
	}
	return ms
}

const (
	defaultTimeoutMs = 2000
	minTimeoutMs     = 100
	maxTimeoutMs     = 10000
)
