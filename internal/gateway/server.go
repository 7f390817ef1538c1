// Package gateway implements the trust-anchored WebSocket relay: the
// listener, the per-connection authentication state machine, the device
// registry and the relay engine.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/michelhabib/privatehomebox/internal/audit"
	"github.com/michelhabib/privatehomebox/internal/state"
)

// Server routes JSON envelopes between one desktop and the household's
// devices. Devices trust the desktop; the server enforces that trust at
// the socket boundary and otherwise treats payloads as opaque.
type Server struct {
	cfg      Config
	state    *state.Store
	registry *Registry
	auditLog *audit.Log
	pairing  *pairingTable
	log      *slog.Logger
	upgrader websocket.Upgrader

	connCount atomic.Int64
}

// NewServer wires a Server from its collaborators. auditLog may be nil
// to disable auditing.
func NewServer(cfg Config, st *state.Store, auditLog *audit.Log, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		state:    st,
		registry: NewRegistry(),
		auditLog: auditLog,
		pairing:  newPairingTable(),
		log:      logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			// The relay is origin-agnostic; authentication happens at
			// the protocol layer, not via browser origin checks.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Registry exposes the connected-sessions table.
func (g *Server) Registry() *Registry {
	return g.registry
}

// Addr returns the configured bind address.
func (g *Server) Addr() string {
	return net.JoinHostPort(g.cfg.Host, fmt.Sprintf("%d", g.cfg.Port))
}

// Router builds the HTTP surface: the WebSocket endpoint and a health
// probe.
func (g *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", g.handleWS)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"sessions": g.registry.Len(),
		})
	})
	return r
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled.
func (g *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.Addr())
	if err != nil {
		return fmt.Errorf("bind %s: %w", g.Addr(), err)
	}
	return g.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts
// down gracefully: stop accepting, send every session a going-away
// close frame, wait up to the shutdown grace period, force-close the
// rest.
func (g *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:     g.Router(),
		ReadTimeout: g.cfg.HandshakeTimeout,
	}

	stopped := make(chan struct{})
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		select {
		case <-ctx.Done():
			g.shutdown(srv)
		case <-stopped:
		}
	}()

	g.log.Info("gateway listening", "addr", ln.Addr().String(), "claimed", g.state.IsClaimed())
	err := srv.Serve(ln)
	close(stopped)
	// srv.Serve returns as soon as the listener closes; wait for the
	// session drain to finish before reporting the server as stopped.
	<-shutdownDone
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (g *Server) shutdown(srv *http.Server) {
	g.log.Info("shutting down", "sessions", g.registry.Len())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.cfg.ShutdownGrace)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	deadline := time.Now().Add(g.cfg.ShutdownGrace)
	for _, s := range g.registry.All() {
		s.announceClose(websocket.CloseGoingAway, "going away", deadline)
	}

	// Give peers until the deadline to close their side; the read loops
	// unregister as they drain.
	for g.registry.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	for _, s := range g.registry.All() {
		s.Close(websocket.CloseGoingAway, "going away")
	}
}

// handleWS upgrades a connection and hands it to the auth state
// machine. Non-upgrade requests are answered with HTTP 400 by the
// upgrader itself.
func (g *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if g.cfg.MaxConnections > 0 && int(g.connCount.Load()) >= g.cfg.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	deviceID := r.URL.Query().Get("device_id")

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	g.connCount.Add(1)
	go func() {
		defer g.connCount.Add(-1)
		g.handleConn(conn, deviceID)
	}()
}

// handleConn owns one socket for its whole life: handshake, relay loop,
// teardown. A panic closes this session only.
func (g *Server) handleConn(conn *websocket.Conn, deviceID string) {
	defer func() {
		if v := recover(); v != nil {
			g.log.Error("session panic", "device_id", deviceID, "panic", v)
			closeConn(conn, websocket.CloseInternalServerErr, "internal error")
		}
	}()

	conn.SetReadLimit(g.cfg.MaxFrameBytes)

	if deviceID == "" {
		g.log.Warn("connection without device_id", "remote", conn.RemoteAddr())
		closeConn(conn, CloseMissingDeviceID, "missing_device_id")
		return
	}

	sess := g.authenticate(conn, deviceID)
	if sess == nil {
		return
	}
	g.readLoop(sess)
}

// auditEvent records an audit entry; failures are logged and swallowed.
func (g *Server) auditEvent(action, deviceID, role, detail string) {
	if g.auditLog == nil {
		return
	}
	err := g.auditLog.Record(audit.Event{
		Action:   action,
		DeviceID: deviceID,
		Role:     role,
		Detail:   detail,
	})
	if err != nil {
		g.log.Warn("audit write failed", "action", action, "error", err)
	}
}
