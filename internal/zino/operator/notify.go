package operator

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sync"
)

// notifyConn is one accepted notification-channel connection, identified
// to the command channel by the nonce sent as its first line. It stays
// pending (claimable by NTIE) until a command session ties it, then
// receives broadcast lines until it closes.
type notifyConn struct {
	nonce string
	conn  net.Conn
	out   chan string
}

func (nc *notifyConn) writeLoop(logger *slog.Logger) {
	w := bufio.NewWriter(nc.conn)
	for line := range nc.out {
		if _, err := w.WriteString(line + "\r\n"); err != nil {
			logger.Debug("notify write failed", slog.String("error", err.Error()))
			return
		}
		if err := w.Flush(); err != nil {
			logger.Debug("notify flush failed", slog.String("error", err.Error()))
			return
		}
	}
}

// NotifyServer accepts notification-channel connections, issues each
// one a nonce, and lets command sessions claim them by that nonce via
// NTIE. A mutex-guarded map tracks the pending connections; claiming
// removes the entry and hands the connection to the command session.
type NotifyServer struct {
	mu      sync.Mutex
	pending map[string]*notifyConn
	logger  *slog.Logger
}

// NewNotifyServer constructs an empty NotifyServer.
func NewNotifyServer(logger *slog.Logger) *NotifyServer {
	return &NotifyServer{
		pending: make(map[string]*notifyConn),
		logger:  logger.With(slog.String("component", "operator.notify")),
	}
}

// Serve accepts connections on ln until ctx is cancelled, closing ln
// when it returns.
func (n *NotifyServer) Serve(ctx context.Context, ln net.Listener) error {
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
			n.logger.Warn("notify accept failed", slog.String("error", err.Error()))
			continue
		}
		go n.handle(conn)
	}
}

func (n *NotifyServer) handle(conn net.Conn) {
	nonce, err := newNonce()
	if err != nil {
		n.logger.Error("notify nonce generation failed", slog.String("error", err.Error()))
		_ = conn.Close()
		return
	}
	if _, err := conn.Write([]byte(nonce + "\r\n")); err != nil {
		_ = conn.Close()
		return
	}

	nc := &notifyConn{nonce: nonce, conn: conn, out: make(chan string, 64)}
	n.mu.Lock()
	n.pending[nonce] = nc
	n.mu.Unlock()

	nc.writeLoop(n.logger)

	n.mu.Lock()
	delete(n.pending, nonce)
	n.mu.Unlock()
	_ = conn.Close()
}

// Claim removes and returns the pending connection for nonce, if one is
// still waiting to be tied. A nonce can only be claimed once.
func (n *NotifyServer) Claim(nonce string) (*notifyConn, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	nc, ok := n.pending[nonce]
	if ok {
		delete(n.pending, nonce)
	}
	return nc, ok
}

// Broadcast sends line to every currently tied connection registered
// with the given tie set; it never blocks on a slow or dead peer
// beyond the channel's buffer, dropping the line for that peer instead.
func broadcast(ties []*notifyConn, line string) {
	for _, nc := range ties {
		select {
		case nc.out <- line:
		default:
		}
	}
}
