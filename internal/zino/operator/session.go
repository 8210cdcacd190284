package operator

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/zinolabs/zino/internal/zino/store"
)

// newBufWriter wraps conn in a buffered writer sized for typical
// multi-line responses without reallocating mid-write.
func newBufWriter(conn net.Conn) *bufio.Writer {
	return bufio.NewWriterSize(conn, 4096)
}

// Session is one command-channel connection's state: authentication,
// the optional tied notification channel, and ADDHIST's multi-line
// input buffer. A Session is owned entirely by its own goroutine; no
// field is touched from outside Run.
type Session struct {
	conn    net.Conn
	w       *bufio.Writer
	table   map[string]*command
	store   *store.Store
	secrets Secrets
	controller Controller
	pm      PMEngine
	notify  *NotifyServer
	version string
	logger  *slog.Logger
	nowFn   func() time.Time
	onTie   func(*notifyConn)

	authenticated bool
	user          string
	challenge     string
	quitting      bool
	tie           *notifyConn

	inMultiline      bool
	pendingAddHistID int
	multilineBuf     []string
}

func (s *Session) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

// Run drives one connection end to end: greeting, line loop, dispatch.
// It returns when the client disconnects, QUITs, or the context is
// cancelled.
func (s *Session) Run(ctx context.Context) {
	defer func() { _ = s.conn.Close() }()

	challenge, err := newNonce()
	if err != nil {
		s.logger.Error("challenge generation failed", slog.String("error", err.Error()))
		return
	}
	s.challenge = challenge
	if err := writeResponse(s.w, 200, []string{challenge + " Hello, there"}); err != nil {
		return
	}

	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if s.inMultiline {
			if s.handleMultilineLine(line) {
				continue
			}
			continue
		}
		if !s.dispatch(ctx, line) {
			return
		}
		if s.quitting {
			return
		}
	}
}

// handleMultilineLine buffers one ADDHIST body line, or closes out the
// block on a lone ".". Always returns true; the shape mirrors dispatch's
// bool-for-"keep going" convention even though multi-line input never
// ends the connection on its own.
func (s *Session) handleMultilineLine(line string) bool {
	if line == "." {
		s.inMultiline = false
		text := strings.Join(s.multilineBuf, "\n")
		s.multilineBuf = nil
		s.commitAddHist(text)
		return true
	}
	s.multilineBuf = append(s.multilineBuf, line)
	return true
}

func (s *Session) commitAddHist(text string) {
	ev, err := s.store.Checkout(s.pendingAddHistID)
	if err != nil {
		_ = writeResponse(s.w, 500, []string{"no such event"})
		return
	}
	ev.AddHistory(s.now(), s.user+": "+text)
	if _, err := s.store.Commit(ev, s.user, s.now()); err != nil {
		_ = writeResponse(s.w, 500, []string{err.Error()})
		return
	}
	_ = writeResponse(s.w, 200, []string{"history added"})
}

// dispatch parses one line into a command name plus arguments, looks it
// up by the longest-matching-name rule, and runs it. It returns false
// only when the connection should be torn down due to a write failure.
func (s *Session) dispatch(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	words := strings.Fields(line)
	cmd, args := lookupCommand(s.table, words)
	if cmd == nil {
		return s.reply(single(500, "unknown command: \""+words[0]+"\""))
	}
	if cmd.requiresAuth && !s.authenticated {
		return s.reply(single(500, "Not authenticated"))
	}
	if len(args) < len(cmd.argNames) {
		return s.reply(needsParams(cmd.name, cmd.argNames...))
	}

	resp := s.safeHandle(ctx, cmd, args)
	return s.reply(resp)
}

func (s *Session) safeHandle(ctx context.Context, cmd *command, args []string) (resp response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("command handler panicked", slog.String("command", cmd.name), slog.Any("panic", r))
			resp = single(500, "internal error")
		}
	}()
	return cmd.handler(ctx, s, args)
}

func (s *Session) reply(resp response) bool {
	return writeResponse(s.w, resp.code, resp.lines) == nil
}
