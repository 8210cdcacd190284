package trapobservers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zinolabs/zino/internal/zino/trapd"
	"github.com/zinolabs/zino/internal/zino/trapobservers"
)

type recordingPoller struct {
	polled []string
}

func (p *recordingPoller) PollDevice(_ context.Context, device string) error {
	p.polled = append(p.polled, device)
	return nil
}

func TestBFDObserverSchedulesRepollFromDiagRange(t *testing.T) {
	t.Parallel()
	poller := &recordingPoller{}
	obs := &trapobservers.BFDObserver{Poller: poller, Logger: noopLogger()}

	trap := &trapd.Trap{
		Device: "router1",
		MIB:    "BFD-STD-MIB",
		Name:   "bfdSessDown",
		Vars: map[string]any{
			"bfdSessDiag.3": int64(3),
			"bfdSessDiag.7": int64(7),
		},
	}
	require.True(t, obs.Handle(context.Background(), trap))
	assert.Equal(t, []string{"router1"}, poller.polled)
}

func TestBFDObserverDropsTrapWithoutRange(t *testing.T) {
	t.Parallel()
	poller := &recordingPoller{}
	obs := &trapobservers.BFDObserver{Poller: poller, Logger: noopLogger()}

	trap := &trapd.Trap{
		Device: "router1",
		MIB:    "BFD-STD-MIB",
		Name:   "bfdSessUp",
		Vars:   map[string]any{"bfdSessDiag.3": int64(3)},
	}
	require.True(t, obs.Handle(context.Background(), trap))
	assert.Empty(t, poller.polled, "fewer than two diag bindings means no determinable range")
}

func TestIgnoreSetStopsDispatchChain(t *testing.T) {
	t.Parallel()
	ignore := &trapobservers.IgnoreSet{IDs: []trapd.TrapID{{MIB: "SNMPv2-MIB", Name: "authenticationFailure"}}}
	assert.False(t, ignore.Handle(context.Background(), &trapd.Trap{}),
		"ignore set returns false so later observers never run")
	assert.Equal(t, ignore.IDs, ignore.Wants())
}

func TestLogOnlySetContinuesDispatchChain(t *testing.T) {
	t.Parallel()
	logOnly := &trapobservers.LogOnlySet{
		IDs:    []trapd.TrapID{{MIB: "SNMPv2-MIB", Name: "coldStart"}},
		Logger: noopLogger(),
	}
	trap := &trapd.Trap{Device: "router1", MIB: "SNMPv2-MIB", Name: "coldStart"}
	assert.True(t, logOnly.Handle(context.Background(), trap))
}
