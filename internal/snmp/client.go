package snmp

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why an operation did not produce a varbind.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTimeout
	FailureNoSuchObject
	FailureNoSuchInstance
	FailureEndOfMIBView
	FailureMIBNotFound
	FailureBackendError
)

func (f FailureKind) String() string {
	switch f {
	case FailureTimeout:
		return "timeout"
	case FailureNoSuchObject:
		return "no-such-object"
	case FailureNoSuchInstance:
		return "no-such-instance"
	case FailureEndOfMIBView:
		return "end-of-mib-view"
	case FailureMIBNotFound:
		return "mib-not-found"
	case FailureBackendError:
		return "backend-error"
	default:
		return "none"
	}
}

// Failure wraps a FailureKind as an error, so callers can both log a
// human message and branch on the kind via errors.As.
type Failure struct {
	Kind OID
	Op   string
	What FailureKind
}

func (f *Failure) Error() string {
	return fmt.Sprintf("snmp %s %s: %s", f.Op, f.Kind, f.What)
}

// ErrTimeout is a sentinel distinguishing a reachability-probe timeout,
// which the Reachability task promotes into a device-unreachable signal.
var ErrTimeout = errors.New("snmp: timeout")

// VarBind is one OID/value pair returned by a successful operation.
type VarBind struct {
	OID   OID
	Value any
}

// Row is one table row returned by SparseWalk, keyed by column name.
type Row map[string]any

// Symbol identifies an SNMP object by symbolic name, optionally with an
// instance/row index, resolved against a loaded MIB set.
type Symbol struct {
	MIB      string
	Object   string
	RowIndex string // empty for scalar objects
}

// Client represents a management session to one device. A closed
// session is not reopened by later operations; SessionCache.Release
// evicts it so that the next Acquire opens a new one.
type Client interface {
	Get(ctx context.Context, sym Symbol) (VarBind, error)
	GetMany(ctx context.Context, syms []Symbol) ([]VarBind, error)
	GetNext(ctx context.Context, root OID) (VarBind, error)
	Walk(ctx context.Context, root OID) ([]VarBind, error)
	BulkWalk(ctx context.Context, root OID, maxRepetitions int) ([]VarBind, error)
	// SparseWalk retrieves only the requested column roots across a
	// table via repeated GET-BULK, walking the columns one after another
	// (the response chunks of different columns are not interleaved) and
	// stopping each column independently at end-of-MIB-view. The result
	// is keyed by row index.
	SparseWalk(ctx context.Context, columns map[string]OID, maxRepetitions int) (map[string]Row, error)

	// Close releases the session's transport state. Later operations do
	// not reopen it: the gosnmp-backed client's transport stays closed,
	// while FakeClient keeps serving its canned data.
	Close() error
}

// Factory opens a Client for a device, given its address, community, and
// per-device timing/port parameters. Acquiring a session allocates
// transport state; releasing it (Client.Close) frees it.
type Factory interface {
	Open(ctx context.Context, cfg SessionParams) (Client, error)
}

// SessionParams are the per-device parameters needed to open a session.
type SessionParams struct {
	Address        string
	Community      string
	Port           int
	Timeout        int // seconds
	Retries        int
	HighCounters   bool
	MaxRepetitions int
}

// CacheKey identifies a cacheable idle session: sessions are shareable
// between callers that agree on address, community, and the
// high-counters setting.
type CacheKey struct {
	Address      string
	Community    string
	HighCounters bool
}

func KeyFor(p SessionParams) CacheKey {
	return CacheKey{Address: p.Address, Community: p.Community, HighCounters: p.HighCounters}
}
