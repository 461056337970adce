package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"

	"github.com/vmfltlwms/rollout/internal/metrics"
	"github.com/vmfltlwms/rollout/pkg/models"
	"go.uber.org/zap"
)

// Server is the reverse proxy fronting the worker pool. It terminates TLS
// when the descriptor carries a certificate, rewrites forwarding headers, and
// load-balances across the upstream set; the chosen worker always receives
// plain HTTP.
type Server struct {
	upstreams *UpstreamSet
	cfg       models.ProxyConfig
	logger    *zap.SugaredLogger
	metrics   *metrics.Collector
	httpSrv   *http.Server
}

// NewServer creates the proxy server over the given upstream set.
func NewServer(upstreams *UpstreamSet, cfg models.ProxyConfig, collector *metrics.Collector, logger *zap.SugaredLogger) *Server {
	return &Server{
		upstreams: upstreams,
		cfg:       cfg,
		logger:    logger,
		metrics:   collector,
	}
}

// Handler returns the dispatch handler: pick the next READY endpoint, proxy
// to it, 503 when the rotation is empty.
func (s *Server) Handler() http.Handler {
	reverse := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			// The target was resolved before ServeHTTP; the director only
			// finalizes scheme and forwarding headers.
			req.URL.Scheme = "http"
			req.Header.Set("X-Forwarded-Host", req.Host)
			if req.TLS != nil {
				req.Header.Set("X-Forwarded-Proto", "https")
			} else {
				req.Header.Set("X-Forwarded-Proto", "http")
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.metrics.RecordProxyRequest("upstream_error")
			s.logger.Warnf("upstream %s failed: %v", r.URL.Host, err)
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target, err := s.upstreams.Next()
		if err != nil {
			s.metrics.RecordProxyRequest("no_upstream")
			http.Error(w, "no workers available", http.StatusServiceUnavailable)
			return
		}
		r.URL.Host = target
		s.metrics.RecordProxyRequest("ok")
		reverse.ServeHTTP(w, r)
	})
}

// Start begins serving on the configured listen address. TLS is terminated
// here when a certificate pair is configured. The returned error channel
// reports a listener failure after startup.
func (s *Server) Start() (<-chan error, error) {
	if s.cfg.Listen == "" {
		return nil, fmt.Errorf("proxy listen address is empty")
	}

	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("proxy cannot listen on %s: %v", s.cfg.Listen, err)
	}

	s.httpSrv = &http.Server{Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		var serveErr error
		if s.cfg.TLSCert != "" {
			s.logger.Infof("reverse proxy listening on %s with TLS", s.cfg.Listen)
			serveErr = s.httpSrv.ServeTLS(listener, s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			s.logger.Infof("reverse proxy listening on %s", s.cfg.Listen)
			serveErr = s.httpSrv.Serve(listener)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
		close(errCh)
	}()
	return errCh, nil
}

// Shutdown drains in-flight connections and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
