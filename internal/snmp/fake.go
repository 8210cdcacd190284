package snmp

import "context"

// FakeClient is a fully in-memory Client used by every other package's
// tests in place of real sockets.
type FakeClient struct {
	// Scalars maps a "MIB::Object[.row]" key to a canned VarBind value.
	Scalars map[string]any
	// Tables maps a "MIB::Object" column name to row index -> value. Only
	// SparseWalk reads it; Walk serves Walks and BulkWalk does not use it.
	Tables map[string]map[string]any

	// Walks maps a dotted OID string to the canned VarBind slice Walk
	// should return for that exact root, for tasks (the alarm counters)
	// that walk a single scalar OID directly rather than through a
	// symbolically-resolved table.
	Walks map[string][]VarBind

	// Fail, if set, is returned by every operation instead of a result.
	Fail error

	closed bool
}

// NewFakeClient creates an empty FakeClient ready to have Scalars/Tables
// populated by the test.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Scalars: make(map[string]any),
		Tables:  make(map[string]map[string]any),
		Walks:   make(map[string][]VarBind),
	}
}

func symKey(s Symbol) string {
	if s.RowIndex == "" {
		return s.MIB + "::" + s.Object
	}
	return s.MIB + "::" + s.Object + "." + s.RowIndex
}

func (f *FakeClient) Get(_ context.Context, sym Symbol) (VarBind, error) {
	if f.Fail != nil {
		return VarBind{}, f.Fail
	}
	v, ok := f.Scalars[symKey(sym)]
	if !ok {
		return VarBind{}, &Failure{What: FailureNoSuchObject, Op: "get"}
	}
	return VarBind{Value: v}, nil
}

func (f *FakeClient) GetMany(ctx context.Context, syms []Symbol) ([]VarBind, error) {
	out := make([]VarBind, 0, len(syms))
	for _, sym := range syms {
		vb, err := f.Get(ctx, sym)
		if err != nil {
			return nil, err
		}
		out = append(out, vb)
	}
	return out, nil
}

func (f *FakeClient) GetNext(_ context.Context, _ OID) (VarBind, error) {
	if f.Fail != nil {
		return VarBind{}, f.Fail
	}
	return VarBind{}, &Failure{What: FailureEndOfMIBView, Op: "get-next"}
}

func (f *FakeClient) Walk(_ context.Context, root OID) ([]VarBind, error) {
	if f.Fail != nil {
		return nil, f.Fail
	}
	return f.Walks[root.String()], nil
}

func (f *FakeClient) BulkWalk(_ context.Context, _ OID, _ int) ([]VarBind, error) {
	if f.Fail != nil {
		return nil, f.Fail
	}
	return nil, nil
}

// SparseWalk joins the configured Tables columns by row index.
func (f *FakeClient) SparseWalk(_ context.Context, columns map[string]OID, _ int) (map[string]Row, error) {
	if f.Fail != nil {
		return nil, f.Fail
	}
	rows := make(map[string]Row)
	for col := range columns {
		table, ok := f.Tables[col]
		if !ok {
			continue
		}
		for rowIdx, val := range table {
			row, ok := rows[rowIdx]
			if !ok {
				row = make(Row)
				rows[rowIdx] = row
			}
			row[col] = val
		}
	}
	return rows, nil
}

func (f *FakeClient) Close() error {
	f.closed = true
	return nil
}

// Closed reports whether Close has been called, for test assertions on
// resource-scope discipline.
func (f *FakeClient) Closed() bool { return f.closed }

// FakeFactory opens the same FakeClient for every device, useful when a
// test only cares about one simulated device.
type FakeFactory struct {
	Client *FakeClient
}

func (ff *FakeFactory) Open(_ context.Context, _ SessionParams) (Client, error) {
	return ff.Client, nil
}
