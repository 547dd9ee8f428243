// Package proxyhandler threads the fabric's Router, load balancers,
// and breakers together into the request-handling algorithm: match a
// route, then retry across its load balancer until max_retries is
// exhausted, recording transport failures into the chosen upstream's
// breaker and forwarding upstream HTTP responses (including 5xx)
// verbatim.
package proxyhandler

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"time"

	"prx/config"
)

// Dialer is the out-of-core collaborator that actually opens a
// connection/round-trips a request to an upstream. Production code
// wires this to the HTTP/1.1+HTTP/2 framing engine; tests supply a
// fake.
type Dialer interface {
	// RoundTrip proxies req to the given upstream using the supplied
	// transport parameters and returns the upstream's response, or an
	// error for any transport-level failure (connect refused, TLS
	// handshake failure, read/write/idle timeout, abort). HTTP
	// response codes — including 5xx — are never represented as an
	// error; those are forwarded verbatim.
	RoundTrip(req *http.Request, upstream config.Upstream) (*http.Response, error)
}

// HTTPDialer is a Dialer backed by net/http. It builds a fresh
// *http.Transport for every request from that upstream's settings, so
// connections are not reused across requests. The scheme is chosen per
// upstream: https when upstream.TLS is set, http otherwise.
type HTTPDialer struct{}

// RoundTrip implements Dialer using net/http against the upstream's
// addr, honoring its per-upstream timeout knobs.
func (d HTTPDialer) RoundTrip(req *http.Request, upstream config.Upstream) (*http.Response, error) {
	transport := buildTransport(upstream)

	scheme := "http"
	if upstream.TLS {
		scheme = "https"
	}

	outReq := req.Clone(req.Context())
	outReq.URL.Scheme = scheme
	outReq.URL.Host = upstream.Addr
	outReq.Host = upstream.SNI
	outReq.RequestURI = ""

	return transport.RoundTrip(outReq)
}

func buildTransport(u config.Upstream) *http.Transport {
	connectTimeout := durationOr(u.ConnectMs, 10*time.Second)
	readTimeout := durationOr(u.ReadMs, 0)
	writeTimeout := durationOr(u.WriteMs, 0)
	idleTimeout := durationOr(u.IdleMs, 90*time.Second)

	dialer := &net.Dialer{Timeout: connectTimeout}

	return &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfigFor(u),
		ResponseHeaderTimeout: readTimeout,
		IdleConnTimeout:       idleTimeout,
		// http.Transport has no write-timeout field and no write
		// deadline is set on the connection, so write_ms does not
		// bound writes. Its value is placed in ExpectContinueTimeout,
		// which only limits the wait for a "100 Continue" reply.
		ExpectContinueTimeout: writeTimeout,
	}
}

// tlsConfigFor builds the per-upstream TLS client config, treating
// verify_cert and verify_hostname as independent knobs: verify_cert=
// false skips chain verification entirely (via InsecureSkipVerify);
// verify_cert=true with verify_hostname=false still verifies the
// chain but not the hostname, which crypto/tls only supports via a
// custom VerifyPeerCertificate callback.
func tlsConfigFor(u config.Upstream) *tls.Config {
	if !u.TLS {
		return nil
	}

	cfg := &tls.Config{ServerName: u.SNI}

	verifyCert := u.EffectiveVerifyCert()
	verifyHostname := u.EffectiveVerifyHostname()

	switch {
	case !verifyCert:
		cfg.InsecureSkipVerify = true
	case !verifyHostname:
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyChainIgnoringHostname
	}

	return cfg
}

// verifyChainIgnoringHostname re-implements the chain-trust portion
// of crypto/tls's default verification without the hostname check,
// for upstreams configured with verify_cert=true, verify_hostname=false.
func verifyChainIgnoringHostname(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("tls: no certificates presented by upstream")
	}
	certs := make([]*x509.Certificate, len(rawCerts))
	for i, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("tls: parsing upstream certificate: %w", err)
		}
		certs[i] = cert
	}

	opts := x509.VerifyOptions{Roots: nil, Intermediates: x509.NewCertPool()}
	for _, cert := range certs[1:] {
		opts.Intermediates.AddCert(cert)
	}
	_, err := certs[0].Verify(opts)
	return err
}

func durationOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
