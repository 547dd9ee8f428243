// Package server wires prx's listeners, the proxy handler, the admin
// API, and the config watcher together into one running process, and
// owns graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prx/admin"
	"prx/config"
	"prx/fabric"
	"prx/logging"
	"prx/proxyhandler"
)

// DefaultAdminListen is used when PRX_ADMIN_LISTEN is unset.
const DefaultAdminListen = "localhost:2021"

// AdminListen returns the admin listener address, honoring
// PRX_ADMIN_LISTEN.
func AdminListen() string {
	if v := os.Getenv("PRX_ADMIN_LISTEN"); v != "" {
		return v
	}
	return DefaultAdminListen
}

// Options configures one running prx process.
type Options struct {
	ConfigPath string
	Supervisor *fabric.Supervisor
	Dialer     proxyhandler.Dialer
	AdminAddr  string
}

// Run starts the proxy listener(s), the admin listener, and the
// config watcher, and blocks until ctx is cancelled, then shuts the
// listeners down, waiting for in-flight requests for at most
// server.graceful_shutdown_timeout_seconds (10s when unset).
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Supervisor.Current().Config()

	instanceID, err := InstanceID(opts.ConfigPath)
	if err != nil {
		logging.L().Warn("failed to establish instance id", zap.Error(err))
	} else {
		logging.L().Info("starting prx", zap.String("instance_id", instanceID.String()))
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = proxyhandler.HTTPDialer{}
	}
	handler := &proxyhandler.Handler{
		Supervisor: opts.Supervisor,
		Dialer:     dialer,
		AccessLog:  cfg.Observability.AccessLog,
	}

	adminAddr := opts.AdminAddr
	if adminAddr == "" {
		adminAddr = AdminListen()
	}
	adminSrv := &admin.Server{
		Supervisor: opts.Supervisor,
		ConfigPath: opts.ConfigPath,
		Prober:     admin.TCPProber{},
		InstanceID: instanceID.String(),
	}

	proxyServers, err := buildProxyServers(cfg, handler)
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)

	for _, srv := range proxyServers {
		srv := srv
		group.Go(func() error { return serveOne(gctx, srv) })
	}

	adminHTTPServer := &http.Server{Addr: adminAddr, Handler: adminSrv.NewRouter()}
	group.Go(func() error { return serveOne(gctx, adminHTTPServer) })

	group.Go(func() error {
		return opts.Supervisor.Watch(gctx, cfg.Server.ConfigReloadDebounceMs)
	})

	group.Go(func() error {
		<-gctx.Done()
		return shutdownAll(cfg, append(proxyServers, adminHTTPServer))
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func buildProxyServers(cfg *config.Config, handler http.Handler) ([]*http.Server, error) {
	listen := cfg.Server.Listen
	if len(listen) == 0 {
		listen = []string{":8080"}
	}

	var tlsConfig *tls.Config
	if cfg.Server.TLS != nil {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading front-listener certificate: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	servers := make([]*http.Server, len(listen))
	for i, addr := range listen {
		servers[i] = &http.Server{
			Addr:      addr,
			Handler:   handler,
			TLSConfig: tlsConfig,
		}
	}
	return servers, nil
}

func serveOne(ctx context.Context, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	if srv.TLSConfig != nil {
		ln = tls.NewListener(ln, srv.TLSConfig)
	}

	logging.L().Info("listening", zap.String("addr", srv.Addr))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func shutdownAll(cfg *config.Config, servers []*http.Server) error {
	timeout := time.Duration(cfg.Server.GracefulShutdownTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
