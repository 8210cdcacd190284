package tasks_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zinolabs/zino/internal/snmp"
	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/tasks"
)

func ifTable(descr, alias string, admin, oper int64) map[string]map[string]any {
	return map[string]map[string]any{
		"ifDescr":       {".1": descr},
		"ifAlias":       {".1": alias},
		"ifAdminStatus": {".1": admin},
		"ifOperStatus":  {".1": oper},
		"ifLastChange":  {".1": int64(0)},
	}
}

func TestLinkStateTask_FirstSightingRecordsPortWithoutCommit(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	client := snmp.NewFakeClient()
	client.Tables = ifTable("ge-0/0/0", "uplink", 1, 1)
	tc := newTestContext(dev, client)

	task := &tasks.LinkStateTask{}
	require.NoError(t, task.Run(context.Background(), tc))

	port, ok := dev.Ports[1]
	require.True(t, ok)
	assert.Equal(t, model.PortUp, port.OperState)

	idx := model.EventIndex{Router: dev.Name, SubIndex: "1", Kind: model.KindPortState}
	_, hasEvent := tc.Store.Get(idx)
	assert.False(t, hasEvent, "a stable interface's first sighting should not open an event")
}

func TestLinkStateTask_FirstSightingDownCommitsEvent(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	client := snmp.NewFakeClient()
	client.Tables = ifTable("Gi1/1", "uplink", 1, 2)
	tc := newTestContext(dev, client)

	task := &tasks.LinkStateTask{}
	require.NoError(t, task.Run(context.Background(), tc))

	idx := model.EventIndex{Router: dev.Name, SubIndex: "1", Kind: model.KindPortState}
	ev, ok := tc.Store.Get(idx)
	require.True(t, ok, "an interface first seen down on an empty store opens an event")
	assert.Equal(t, model.PortDown, ev.PortState.PortState)
	assert.Equal(t, "Gi1/1", ev.PortState.Descr)
	assert.Equal(t, "uplink", ev.PortState.Alias)
	assert.Equal(t, dev.Priority, ev.Priority)
}

func TestLinkStateTask_OperStateChangeCommitsEvent(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	dev.Ports[1] = &model.Port{IfIndex: 1, OperState: model.PortUp}
	client := snmp.NewFakeClient()
	client.Tables = ifTable("ge-0/0/0", "uplink", 1, 2)
	tc := newTestContext(dev, client)

	task := &tasks.LinkStateTask{}
	require.NoError(t, task.Run(context.Background(), tc))

	idx := model.EventIndex{Router: dev.Name, SubIndex: "1", Kind: model.KindPortState}
	ev, ok := tc.Store.Get(idx)
	require.True(t, ok)
	assert.Equal(t, model.PortDown, ev.PortState.PortState)
}

func TestLinkStateTask_AdminDownNeverFlags(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	dev.Ports[1] = &model.Port{IfIndex: 1, OperState: model.PortUp}
	client := snmp.NewFakeClient()
	client.Tables = ifTable("ge-0/0/0", "uplink", 2, 2)
	tc := newTestContext(dev, client)

	task := &tasks.LinkStateTask{}
	require.NoError(t, task.Run(context.Background(), tc))

	idx := model.EventIndex{Router: dev.Name, SubIndex: "1", Kind: model.KindPortState}
	_, hasEvent := tc.Store.Get(idx)
	assert.False(t, hasEvent)
}

func TestLinkStateTask_IgnoredInterfaceSkipped(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	dev.Ports[1] = &model.Port{IfIndex: 1, OperState: model.PortUp}
	dev.IgnorePat = mustCompile(t, "^ge-0/0/0$")
	client := snmp.NewFakeClient()
	client.Tables = ifTable("ge-0/0/0", "uplink", 1, 2)
	tc := newTestContext(dev, client)

	task := &tasks.LinkStateTask{}
	require.NoError(t, task.Run(context.Background(), tc))

	idx := model.EventIndex{Router: dev.Name, SubIndex: "1", Kind: model.KindPortState}
	_, hasEvent := tc.Store.Get(idx)
	assert.False(t, hasEvent)
}
