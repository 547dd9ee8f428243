package fabric

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"prx/config"
	"prx/logging"
)

// Supervisor owns the single active RuntimeFabric and republishes it
// atomically whenever the on-disk config changes and validates
// cleanly. Request handlers call Current() and hold onto the returned
// pointer for the lifetime of one request; they never observe a
// partially built fabric.
type Supervisor struct {
	path    string
	current atomic.Pointer[RuntimeFabric]
}

// NewSupervisor builds the initial fabric from the config at path.
// Unlike later reloads, a failure here is fatal: there is no previous
// fabric to keep serving.
func NewSupervisor(path string) (*Supervisor, error) {
	cfg, errs := config.LoadAndValidate(path)
	if len(errs) > 0 {
		return nil, fmt.Errorf("initial config at %s is invalid: %w", path, joinErrs(errs))
	}

	f, err := Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("building initial fabric: %w", err)
	}

	s := &Supervisor{path: path}
	s.current.Store(f)
	return s, nil
}

// Current returns the active fabric. The returned pointer remains
// valid and consistent even after a later reload swaps in a new one.
func (s *Supervisor) Current() *RuntimeFabric {
	return s.current.Load()
}

// Reload attempts to read, parse, validate, and build a new fabric
// from the file at s.path, publishing it atomically on success. On
// any failure the active fabric is left untouched and a diagnostic is
// logged.
func (s *Supervisor) Reload() {
	cfg, errs := config.LoadAndValidate(s.path)
	if len(errs) > 0 {
		logging.L().Error("failed to reload config, keeping previous version",
			zap.String("path", s.path), zap.Error(joinErrs(errs)))
		return
	}

	f, err := Build(cfg)
	if err != nil {
		logging.L().Error("failed to reload config, keeping previous version",
			zap.String("path", s.path), zap.Error(err))
		return
	}

	s.current.Store(f)
	logging.L().Info("config reloaded", zap.String("path", s.path), zap.Int("routes", len(cfg.Routes)))
}

// ReloadFromConfig validates and builds a fabric from an
// already-parsed candidate config (used by the admin API's PUT
// /web/config, which has the new TOML in hand rather than on disk)
// and, on success, publishes it and returns nil. On failure the
// active fabric is left untouched and the validation error is
// returned for the caller to report to its client.
func (s *Supervisor) ReloadFromConfig(cfg *config.Config) error {
	if errs := config.Validate(cfg); len(errs) > 0 {
		return joinErrs(errs)
	}
	f, err := Build(cfg)
	if err != nil {
		return err
	}
	s.current.Store(f)
	return nil
}

// Watch runs a debounced filesystem watch loop until ctx is
// cancelled. Events within debounceMs of each other coalesce into a
// single Reload call using the latest file content.
func (s *Supervisor) Watch(ctx context.Context, debounceMs int) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(s.path); err != nil {
		return fmt.Errorf("watch config path %s: %w", s.path, err)
	}

	if debounceMs <= 0 {
		debounceMs = 250
	}
	debounce := time.Duration(debounceMs) * time.Millisecond

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(debounce)
				}
				timerC = timer.C
			}

		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logging.L().Warn("config watcher error", zap.Error(werr))

		case <-timerC:
			timerC = nil
			s.Reload()
		}
	}
}

func joinErrs(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msg := errs[0].Error()
	for _, e := range errs[1:] {
		msg += "; " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
