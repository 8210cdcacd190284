// Package operator implements the dual-channel operator text protocol:
// a command channel (challenge-response auth, a longest-prefix command
// dispatcher, multi-line input and output) and a notification channel
// tied to a command session by a one-time nonce, fed by the event
// store's observer stream. Session and the command table form a thin
// protocol adapter over the domain they front (store.Store,
// scheduler.Scheduler, pm.Engine); no business logic lives here.
package operator

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/store"
)

// Metrics tracks the connected-session gauge, satisfied by
// *zinometrics.Collector. A nil Metrics disables tracking.
type Metrics interface {
	IncOperatorSessions()
	DecOperatorSessions()
}

// Server ties the command and notification listeners to the domain
// dependencies every Session needs.
type Server struct {
	store      *store.Store
	secrets    Secrets
	controller Controller
	pm         PMEngine
	notify     *NotifyServer
	version    string
	metrics    Metrics
	logger     *slog.Logger

	mu    sync.Mutex
	ties  []*notifyConn
	table map[string]*command
}

// SetMetrics wires a session gauge into the accept path. Call before
// ServeCommand.
func (s *Server) SetMetrics(m Metrics) { s.metrics = m }

// New constructs a Server and registers its store observer. Call
// ServeCommand and the NotifyServer's Serve concurrently to start
// accepting connections.
func New(st *store.Store, secrets Secrets, controller Controller, pmEngine PMEngine, version string, logger *slog.Logger) *Server {
	srv := &Server{
		store:      st,
		secrets:    secrets,
		controller: controller,
		pm:         pmEngine,
		notify:     NewNotifyServer(logger),
		version:    version,
		logger:     logger.With(slog.String("component", "operator")),
		table:      commandTable(),
	}
	st.AddObserver(srv.onCommit)
	return srv
}

// NotifyServer exposes the tied notification listener for the caller to
// Serve alongside ServeCommand.
func (s *Server) NotifyServer() *NotifyServer { return s.notify }

// ServeCommand accepts command-channel connections on ln until ctx is
// cancelled.
func (s *Server) ServeCommand(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("command accept failed", slog.String("error", err.Error()))
			continue
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	if s.metrics != nil {
		s.metrics.IncOperatorSessions()
		defer s.metrics.DecOperatorSessions()
	}
	sess := &Session{
		conn:       conn,
		w:          newBufWriter(conn),
		table:      s.table,
		store:      s.store,
		secrets:    s.secrets,
		controller: s.controller,
		pm:         s.pm,
		notify:     s.notify,
		version:    s.version,
		logger:     s.logger,
		onTie:      s.tieSession,
	}
	sess.Run(ctx)
	if sess.tie != nil {
		s.untie(sess.tie)
		_ = sess.tie.conn.Close()
	}
}

func (s *Server) tieSession(nc *notifyConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ties = append(s.ties, nc)
}

func (s *Server) untie(nc *notifyConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.ties {
		if t == nc {
			s.ties = append(s.ties[:i], s.ties[i+1:]...)
			return
		}
	}
}

// onCommit translates one store commit into notification lines and
// broadcasts them to every tied connection.
func (s *Server) onCommit(newEvent, oldEvent *model.Event, changed []string) {
	id := strconv.Itoa(newEvent.ID)
	var lines []string

	switch {
	case oldEvent == nil:
		lines = append(lines, id+" state EMBRYONIC "+newEvent.State.String())
	default:
		for _, field := range changed {
			switch field {
			case "State":
				lines = append(lines, id+" state "+oldEvent.State.String()+" "+newEvent.State.String())
			case "Log":
				lines = append(lines, id+" log 1")
			case "History":
				lines = append(lines, id+" history 1")
			default:
				lines = append(lines, id+" attr "+attrName(field))
			}
		}
	}
	if len(lines) == 0 {
		return
	}

	s.mu.Lock()
	ties := append([]*notifyConn(nil), s.ties...)
	s.mu.Unlock()
	for _, line := range lines {
		broadcast(ties, line)
	}
}

// attrName converts a Go field name (PortState, BGP, ...) to the
// dashed, lowercase attribute name the notification wire format uses.
func attrName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
