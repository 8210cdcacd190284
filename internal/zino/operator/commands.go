package operator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zinolabs/zino/internal/zino/model"
)

// Controller is the subset of scheduler.Scheduler the operator protocol
// drives: queuing polls, clearing flap state, and reading a device's
// configured community string.
type Controller interface {
	PollDevice(ctx context.Context, device string) error
	PollInterface(ctx context.Context, device string, ifIndex uint32) error
	ClearFlap(device string, ifIndex uint32) error
	Community(device string) (string, error)
}

// PMEngine is the subset of pm.Engine the PM sub-command family drives.
type PMEngine interface {
	List() []*model.PlannedMaintenance
	Get(id int) (*model.PlannedMaintenance, bool)
	Create(start, end time.Time, kind model.PMKind, matchType model.PMMatchType, expr, device string) int
	Cancel(id int, now time.Time) bool
}

// command describes one protocol responder. len(argNames) is the
// minimum argument count, checked before the handler runs, and the names
// appear in the "needs N parameters" error message; handler receives the
// arguments already split past the command name.
type command struct {
	name         string
	argNames     []string
	requiresAuth bool
	handler      func(ctx context.Context, s *Session, args []string) response
}

// response is what a handler produces; a handler that enters multi-line
// input mode (ADDHIST) sets the session's pending state and returns the
// 300 prompt for the body.
type response struct {
	code  int
	lines []string
}

func single(code int, text string) response { return response{code: code, lines: []string{text}} }

// commandTable is matched by longest-prefix-of-words against the input
// line, so two-word families like "PM LIST" take priority over a
// hypothetical bare "PM". Order doesn't matter; lookup is by name.
func commandTable() map[string]*command {
	table := []*command{
		{name: "USER", argNames: []string{"user", "response"}, handler: cmdUser},
		{name: "QUIT", handler: cmdQuit},
		{name: "HELP", handler: cmdHelp},
		{name: "VERSION", requiresAuth: true, handler: cmdVersion},
		{name: "CASEIDS", requiresAuth: true, handler: cmdCaseIDs},
		{name: "GETATTRS", argNames: []string{"id"}, requiresAuth: true, handler: cmdGetAttrs},
		{name: "GETHIST", argNames: []string{"id"}, requiresAuth: true, handler: cmdGetHist},
		{name: "GETLOG", argNames: []string{"id"}, requiresAuth: true, handler: cmdGetLog},
		{name: "ADDHIST", argNames: []string{"id"}, requiresAuth: true, handler: cmdAddHist},
		{name: "SETSTATE", argNames: []string{"id", "state"}, requiresAuth: true, handler: cmdSetState},
		{name: "COMMUNITY", argNames: []string{"router"}, requiresAuth: true, handler: cmdCommunity},
		{name: "NTIE", argNames: []string{"nonce"}, requiresAuth: true, handler: cmdNtie},
		{name: "POLLRTR", argNames: []string{"router"}, requiresAuth: true, handler: cmdPollRtr},
		{name: "POLLINTF", argNames: []string{"router", "ifindex"}, requiresAuth: true, handler: cmdPollIntf},
		{name: "CLEARFLAP", argNames: []string{"router", "ifindex"}, requiresAuth: true, handler: cmdClearFlap},
		{name: "PM LIST", requiresAuth: true, handler: cmdPMList},
		{name: "PM ADD", argNames: []string{"start", "end", "kind", "match-type", "expr"}, requiresAuth: true, handler: cmdPMAdd},
		{name: "PM CANCEL", argNames: []string{"id"}, requiresAuth: true, handler: cmdPMCancel},
		{name: "PM DETAILS", argNames: []string{"id"}, requiresAuth: true, handler: cmdPMDetails},
		{name: "PM HELP", handler: cmdPMHelp},
	}
	m := make(map[string]*command, len(table))
	for _, c := range table {
		m[c.name] = c
	}
	return m
}

// lookupCommand implements the longest-matching-name dispatch rule:
// try the first N words joined by a space, longest N first, so that
// "PM LIST 3" resolves to "PM LIST" with args ["3"] rather than falling
// through to an unknown bare "PM".
func lookupCommand(table map[string]*command, words []string) (*command, []string) {
	for n := len(words); n >= 1; n-- {
		name := strings.ToUpper(strings.Join(words[:n], " "))
		if cmd, ok := table[name]; ok {
			return cmd, words[n:]
		}
	}
	return nil, nil
}

func cmdUser(_ context.Context, s *Session, args []string) response {
	if len(args) < 2 {
		return needsParams("USER", "user", "response")
	}
	if s.authenticated {
		return single(500, "already authenticated")
	}
	user, resp := args[0], args[1]
	if !s.secrets.Verify(user, s.challenge, resp) {
		return single(500, "Authentication failure")
	}
	s.authenticated = true
	s.user = user
	return single(200, "welcome")
}

func cmdQuit(_ context.Context, s *Session, _ []string) response {
	s.quitting = true
	return single(205, "bye")
}

func cmdHelp(_ context.Context, s *Session, _ []string) response {
	names := make([]string, 0, len(s.table))
	for name := range s.table {
		names = append(names, name)
	}
	return response{code: 200, lines: append([]string{"commands:"}, names...)}
}

func cmdVersion(_ context.Context, s *Session, _ []string) response {
	return single(200, s.version)
}

func cmdCaseIDs(_ context.Context, s *Session, _ []string) response {
	ids := s.store.NonClosedIDs()
	lines := make([]string, 0, len(ids)+1)
	lines = append(lines, strconv.Itoa(len(ids))+" ids follow")
	for _, id := range ids {
		lines = append(lines, strconv.Itoa(id))
	}
	return response{code: 200, lines: lines}
}

func cmdGetAttrs(_ context.Context, s *Session, args []string) response {
	ev, err := resolveEvent(s, args)
	if err != nil {
		return single(500, err.Error())
	}
	return response{code: 200, lines: formatAttrs(ev)}
}

func cmdGetHist(_ context.Context, s *Session, args []string) response {
	ev, err := resolveEvent(s, args)
	if err != nil {
		return single(500, err.Error())
	}
	return response{code: 200, lines: formatLogEntries(ev.History)}
}

func cmdGetLog(_ context.Context, s *Session, args []string) response {
	ev, err := resolveEvent(s, args)
	if err != nil {
		return single(500, err.Error())
	}
	return response{code: 200, lines: formatLogEntries(ev.Log)}
}

func cmdAddHist(_ context.Context, s *Session, args []string) response {
	if len(args) < 1 {
		return needsParams("ADDHIST", "id")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return single(500, "invalid id")
	}
	s.pendingAddHistID = id
	s.multilineBuf = s.multilineBuf[:0]
	s.inMultiline = true
	return single(300, "please enter history, end with '.'")
}

func cmdSetState(_ context.Context, s *Session, args []string) response {
	if len(args) < 2 {
		return needsParams("SETSTATE", "id", "state")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return single(500, "invalid id")
	}
	newState, err := model.ParseEventState(args[1])
	if err != nil {
		return single(500, "invalid state")
	}
	ev, err := s.store.Checkout(id)
	if err != nil {
		return single(500, "no such event")
	}
	ev.State = newState
	if _, err := s.store.Commit(ev, s.user, s.now()); err != nil {
		return single(500, err.Error())
	}
	return single(200, "state changed")
}

func cmdCommunity(_ context.Context, s *Session, args []string) response {
	if len(args) < 1 {
		return needsParams("COMMUNITY", "router")
	}
	community, err := s.controller.Community(args[0])
	if err != nil {
		return single(500, "no such router")
	}
	return single(200, community)
}

func cmdNtie(_ context.Context, s *Session, args []string) response {
	if len(args) < 1 {
		return needsParams("NTIE", "nonce")
	}
	nc, ok := s.notify.Claim(args[0])
	if !ok {
		return single(500, "no such notification channel")
	}
	s.tie = nc
	if s.onTie != nil {
		s.onTie(nc)
	}
	return single(200, "tied")
}

func cmdPollRtr(ctx context.Context, s *Session, args []string) response {
	if len(args) < 1 {
		return needsParams("POLLRTR", "router")
	}
	if err := s.controller.PollDevice(ctx, args[0]); err != nil {
		return single(500, err.Error())
	}
	return single(200, "poll queued")
}

func cmdPollIntf(ctx context.Context, s *Session, args []string) response {
	if len(args) < 2 {
		return needsParams("POLLINTF", "router", "ifindex")
	}
	ifIndex, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return single(500, "invalid ifindex")
	}
	if err := s.controller.PollInterface(ctx, args[0], uint32(ifIndex)); err != nil {
		return single(500, err.Error())
	}
	return single(200, "poll queued")
}

func cmdClearFlap(_ context.Context, s *Session, args []string) response {
	if len(args) < 2 {
		return needsParams("CLEARFLAP", "router", "ifindex")
	}
	ifIndex, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return single(500, "invalid ifindex")
	}
	if err := s.controller.ClearFlap(args[0], uint32(ifIndex)); err != nil {
		return single(500, err.Error())
	}
	return single(200, "flap cleared")
}

func cmdPMList(_ context.Context, s *Session, _ []string) response {
	pms := s.pm.List()
	lines := make([]string, 0, len(pms)+1)
	lines = append(lines, strconv.Itoa(len(pms))+" maintenances follow")
	for _, pm := range pms {
		lines = append(lines, fmt.Sprintf("%d %s %s %s %q",
			pm.ID, pm.Kind, pm.MatchType, pm.MatchExpression, pm.Start.UTC().Format(time.RFC3339)))
	}
	return response{code: 200, lines: lines}
}

// cmdPMAdd registers a new maintenance window. Start and end are Unix
// seconds, matching the protocol's timestamp convention everywhere
// else; an intf-regexp match additionally takes the device name as a
// sixth argument.
func cmdPMAdd(_ context.Context, s *Session, args []string) response {
	if len(args) < 5 {
		return needsParams("PM ADD", "start", "end", "kind", "match-type", "expr")
	}
	start, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return single(500, "invalid start time")
	}
	end, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return single(500, "invalid end time")
	}
	if end <= start {
		return single(500, "end must be after start")
	}
	kind, err := model.ParsePMKind(args[2])
	if err != nil {
		return single(500, err.Error())
	}
	matchType, err := model.ParsePMMatchType(args[3])
	if err != nil {
		return single(500, err.Error())
	}
	expr := args[4]
	var device string
	if len(args) > 5 {
		device = args[5]
	}
	if matchType == model.MatchIntfRegexp && device == "" {
		return single(500, "intf-regexp match needs a device argument")
	}
	id := s.pm.Create(time.Unix(start, 0), time.Unix(end, 0), kind, matchType, expr, device)
	return single(200, "PM id "+strconv.Itoa(id)+" successfully added")
}

func cmdPMCancel(_ context.Context, s *Session, args []string) response {
	if len(args) < 1 {
		return needsParams("PM CANCEL", "id")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return single(500, "invalid id")
	}
	if !s.pm.Cancel(id, s.now()) {
		return single(500, "no such PM")
	}
	return single(200, "PM cancelled")
}

func cmdPMDetails(_ context.Context, s *Session, args []string) response {
	if len(args) < 1 {
		return needsParams("PM DETAILS", "id")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return single(500, "invalid id")
	}
	pm, ok := s.pm.Get(id)
	if !ok {
		return single(500, "no such PM")
	}
	lines := []string{
		"id: " + strconv.Itoa(pm.ID),
		"start: " + strconv.FormatInt(pm.Start.Unix(), 10),
		"end: " + strconv.FormatInt(pm.End.Unix(), 10),
		"kind: " + pm.Kind.String(),
		"match-type: " + pm.MatchType.String(),
		"match-expression: " + pm.MatchExpression,
	}
	if pm.MatchDevice != "" {
		lines = append(lines, "match-device: "+pm.MatchDevice)
	}
	ids := make([]string, len(pm.EventIDs))
	for i, eid := range pm.EventIDs {
		ids[i] = strconv.Itoa(eid)
	}
	lines = append(lines, "event-ids: "+strings.Join(ids, " "))
	return response{code: 200, lines: lines}
}

func cmdPMHelp(_ context.Context, _ *Session, _ []string) response {
	return response{code: 200, lines: []string{"PM sub-commands: LIST, ADD, CANCEL, DETAILS, HELP"}}
}

func needsParams(name string, params ...string) response {
	return single(500, fmt.Sprintf("%s needs %d parameters (%s)", name, len(params), strings.Join(params, ", ")))
}

func resolveEvent(s *Session, args []string) (*model.Event, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("GETATTRS needs 1 parameters (id)")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid id")
	}
	ev, ok := s.store.ByID(id)
	if !ok {
		return nil, fmt.Errorf("no such event")
	}
	return ev, nil
}

func formatLogEntries(entries []model.LogEntry) []string {
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, strconv.Itoa(len(entries))+" entries follow")
	for _, e := range entries {
		for i, textLine := range strings.Split(e.Text, "\n") {
			if i == 0 {
				lines = append(lines, strconv.FormatInt(e.Timestamp.Unix(), 10)+" "+textLine)
			} else {
				lines = append(lines, " "+textLine)
			}
		}
	}
	return lines
}

func formatAttrs(ev *model.Event) []string {
	lines := []string{
		"id: " + strconv.Itoa(ev.ID),
		"router: " + ev.Router,
		"sub-index: " + ev.SubIndex,
		"kind: " + ev.Kind.String(),
		"state: " + ev.State.String(),
		"opened: " + strconv.FormatInt(ev.Opened.Unix(), 10),
		"updated: " + strconv.FormatInt(ev.Updated.Unix(), 10),
		"priority: " + strconv.Itoa(ev.Priority),
	}
	switch ev.Kind {
	case model.KindPortState:
		lines = append(lines,
			"ifindex: "+strconv.FormatUint(uint64(ev.PortState.IfIndex), 10),
			"port-state: "+ev.PortState.PortState.String(),
			"flap-state: "+ev.PortState.FlapState.String(),
			"flaps: "+strconv.Itoa(ev.PortState.Flaps),
			"descr: "+ev.PortState.Descr,
			"alias: "+ev.PortState.Alias,
			"ac-down: "+strconv.FormatFloat(ev.PortState.ACDown.Seconds(), 'f', 0, 64),
		)
	case model.KindBGP:
		lines = append(lines,
			"remote-addr: "+ev.BGP.RemoteAddr,
			"remote-as: "+strconv.Itoa(ev.BGP.RemoteAS),
			"peer-uptime: "+strconv.FormatFloat(ev.BGP.PeerUptime.Seconds(), 'f', 0, 64),
			"bgpos: "+ev.BGP.BGPOS,
			"bgpas: "+ev.BGP.BGPAS,
		)
	case model.KindBFD:
		lines = append(lines,
			"bfdix: "+strconv.FormatUint(uint64(ev.BFD.BFDIndex), 10),
			"bfddiscr: "+strconv.FormatUint(uint64(ev.BFD.BFDDiscr), 10),
			"bfdaddr: "+ev.BFD.BFDAddr,
			"bfdstate: "+ev.BFD.BFDState,
			"neigh-rdns: "+ev.BFD.NeighRDNS,
		)
	case model.KindReachability:
		lines = append(lines,
			"reachability: "+ev.Reachability.Reachability.String(),
			"unit: "+ev.Reachability.Unit,
		)
	case model.KindAlarm:
		lines = append(lines,
			"alarm-type: "+ev.Alarm.AlarmType,
			"alarm-count: "+strconv.Itoa(ev.Alarm.AlarmCount),
		)
	}
	return append([]string{strconv.Itoa(len(lines)) + " attrs follow"}, lines...)
}
