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

func TestAlarmsTask_SkipsNonJuniper(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	dev.EnterpriseID = 9 // Cisco
	client := snmp.NewFakeClient()
	tc := newTestContext(dev, client)

	task := &tasks.AlarmsTask{}
	assert.NoError(t, task.Run(context.Background(), tc))
	idx := model.EventIndex{Router: dev.Name, SubIndex: "yellow", Kind: model.KindAlarm}
	_, ok := tc.Store.Get(idx)
	assert.False(t, ok)
}

func TestAlarmsTask_NonZeroCountOpensEvent(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	dev.EnterpriseID = 2636
	client := snmp.NewFakeClient()
	yellowOID, err := snmp.ParseOID(".1.3.6.1.4.1.2636.3.4.2.2.0")
	require.NoError(t, err)
	client.Walks[yellowOID.String()] = []snmp.VarBind{{OID: yellowOID, Value: int64(3)}}
	tc := newTestContext(dev, client)

	task := &tasks.AlarmsTask{}
	require.NoError(t, task.Run(context.Background(), tc))
	idx := model.EventIndex{Router: dev.Name, SubIndex: "yellow", Kind: model.KindAlarm}
	ev, ok := tc.Store.Get(idx)
	require.True(t, ok)
	assert.Equal(t, 3, ev.Alarm.AlarmCount)
}

func TestAlarmsTask_CountDroppingToZeroClosesEvent(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	dev.EnterpriseID = 2636
	client := snmp.NewFakeClient()
	yellowOID, err := snmp.ParseOID(".1.3.6.1.4.1.2636.3.4.2.2.0")
	require.NoError(t, err)
	client.Walks[yellowOID.String()] = []snmp.VarBind{{OID: yellowOID, Value: int64(1)}}
	tc := newTestContext(dev, client)

	task := &tasks.AlarmsTask{}
	require.NoError(t, task.Run(context.Background(), tc))

	client.Walks[yellowOID.String()] = []snmp.VarBind{{OID: yellowOID, Value: int64(0)}}
	require.NoError(t, task.Run(context.Background(), tc))

	idx := model.EventIndex{Router: dev.Name, SubIndex: "yellow", Kind: model.KindAlarm}
	_, ok := tc.Store.Get(idx)
	assert.False(t, ok, "a closed event is no longer in the open index")
}
