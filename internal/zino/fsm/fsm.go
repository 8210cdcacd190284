// Package fsm is the pure event-lifecycle state machine: a directed
// transition graph modeled as a table keyed by (from, to) pairs,
// consulted by a pure function, with no side effects and no knowledge
// of the store that owns the events it is applied to.
package fsm

import (
	"fmt"

	"github.com/zinolabs/zino/internal/zino/model"
)

// transitionKey is the lookup key into the allowed-transitions table.
type transitionKey struct {
	From model.EventState
	To   model.EventState
}

// allowed enumerates every legal (from, to) pair of the lifecycle graph:
//
//	embryonic -> open
//	open      <-> working
//	open, working -> waiting -> {open, working, closed}
//	any non-terminal -> ignored -> open
//	any non-terminal -> closed
var allowed = buildTable()

func buildTable() map[transitionKey]bool {
	t := make(map[transitionKey]bool)
	add := func(from, to model.EventState) { t[transitionKey{from, to}] = true }

	add(model.StateEmbryonic, model.StateOpen)

	add(model.StateOpen, model.StateWorking)
	add(model.StateWorking, model.StateOpen)

	add(model.StateOpen, model.StateWaiting)
	add(model.StateWorking, model.StateWaiting)
	add(model.StateWaiting, model.StateOpen)
	add(model.StateWaiting, model.StateWorking)
	add(model.StateWaiting, model.StateClosed)

	nonTerminal := []model.EventState{
		model.StateEmbryonic, model.StateOpen, model.StateWorking,
		model.StateWaiting, model.StateConfirmWait, model.StateIgnored,
	}
	for _, s := range nonTerminal {
		if s != model.StateIgnored {
			add(s, model.StateIgnored)
		}
		add(s, model.StateClosed)
	}
	add(model.StateIgnored, model.StateOpen)

	// confirm-wait behaves like waiting's sibling: entered from open or
	// working, resolves back to open/working or closes.
	add(model.StateOpen, model.StateConfirmWait)
	add(model.StateWorking, model.StateConfirmWait)
	add(model.StateConfirmWait, model.StateOpen)
	add(model.StateConfirmWait, model.StateWorking)
	add(model.StateConfirmWait, model.StateClosed)

	return t
}

// CanTransition reports whether moving an event directly from from to to
// is legal under the lifecycle graph.
func CanTransition(from, to model.EventState) bool {
	if from == to {
		return true // no-op transitions are always legal
	}
	return allowed[transitionKey{from, to}]
}

// Validate returns model.ErrIllegalTransition wrapped with the offending
// pair if the transition is not legal; nil otherwise.
func Validate(from, to model.EventState) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%s -> %s: %w", from, to, model.ErrIllegalTransition)
}

// HistoryText formats the audit history entry for a transition:
// it must contain both state names and the acting user.
func HistoryText(from, to model.EventState, user string) string {
	return fmt.Sprintf("state %s -> %s by %s", from, to, user)
}
