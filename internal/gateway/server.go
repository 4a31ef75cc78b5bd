// Package gateway serves the websocket endpoint, the Prometheus scrape
// endpoint and a health probe.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/matheus3301/pairchat/internal/auth"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/hub"
	"github.com/matheus3301/pairchat/internal/metrics"
	"github.com/matheus3301/pairchat/internal/router"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const writeTimeout = 10 * time.Second

// Options tune the transport.
type Options struct {
	Addr            string
	OriginPatterns  []string
	RateLimitRPS    float64
	RateLimitBurst  int
	MaxMessageBytes int64
}

// Server is the HTTP/websocket front of the coordinator.
type Server struct {
	opts    Options
	gate    *auth.Gate
	router  *router.Router
	metrics *metrics.Metrics
	log     *zap.Logger

	srv      *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	conns    sync.WaitGroup
}

// New creates a gateway server.
func New(opts Options, gate *auth.Gate, r *router.Router, m *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 20
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 40
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 << 10
	}
	return &Server{opts: opts, gate: gate, router: r, metrics: m, log: log}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.serveWS).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	return r
}

// Start listens on opts.Addr and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.listener = ln
	s.cancel = cancel
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("gateway serve error", zap.Error(err))
		}
	}()
	s.log.Info("gateway listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, useful with ":0".
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener, ends every websocket session and waits for
// their cleanup.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// serveWS authenticates and admits the user before upgrading, so a refused
// handshake never reaches any registry.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	userID, err := s.gate.Authenticate(r)
	if err != nil {
		s.metrics.HandshakeRejected()
		s.log.Info("handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	profile, err := s.router.Admit(r.Context(), userID)
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		s.metrics.HandshakeRejected()
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	case err != nil:
		s.log.Warn("admission failed", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
	if err != nil {
		s.log.Info("websocket accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(s.opts.MaxMessageBytes)

	s.conns.Add(1)
	defer s.conns.Done()
	s.session(r.Context(), conn, profile)
}

func (s *Server) session(ctx context.Context, conn *websocket.Conn, profile chat.User) {
	connID := uuid.NewString()
	log := s.log.With(zap.String("conn_id", connID), zap.String("user_id", profile.ID))

	peer := s.router.Connect(ctx, connID, profile)
	defer s.router.Disconnect(context.WithoutCancel(ctx), connID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx, conn, connID) })
	g.Go(func() error { return s.writeLoop(gctx, conn, peer) })
	err := g.Wait()

	switch {
	case errors.Is(err, hub.ErrSlowConsumer):
		log.Warn("closing slow consumer")
		_ = conn.Close(websocket.StatusPolicyViolation, "slow consumer")
	case websocket.CloseStatus(err) != -1:
		log.Debug("peer closed", zap.Int("status", int(websocket.CloseStatus(err))))
		_ = conn.CloseNow()
	case errors.Is(err, context.Canceled):
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		log.Debug("session ended", zap.Error(err))
		_ = conn.CloseNow()
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, connID string) error {
	limiter := rate.NewLimiter(rate.Limit(s.opts.RateLimitRPS), s.opts.RateLimitBurst)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if !limiter.Allow() {
			s.metrics.RateLimited()
			s.router.Reject(connID, chat.ErrRateLimited)
			continue
		}
		s.router.Handle(ctx, connID, data)
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, peer *hub.Peer) error {
	for {
		select {
		case f := <-peer.Outbound():
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, f.Bytes)
			cancel()
			if err != nil {
				return err
			}
		case <-peer.Done():
			return peer.Reason()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
