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

func bgpTable(state, as, uptime int64) map[string]map[string]any {
	return map[string]map[string]any{
		"state":  {".10.0.0.2": state},
		"as":     {".10.0.0.2": as},
		"uptime": {".10.0.0.2": uptime},
		"admin":  {".10.0.0.2": int64(1)},
	}
}

func TestBGPTask_NewPeerEstablishedCommitsEvent(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	client := snmp.NewFakeClient()
	client.Tables = bgpTable(6, 65001, 1000)
	tc := newTestContext(dev, client)

	task := &tasks.BGPTask{}
	require.NoError(t, task.Run(context.Background(), tc))

	idx := model.EventIndex{Router: dev.Name, SubIndex: "10.0.0.2", Kind: model.KindBGP}
	ev, ok := tc.Store.Get(idx)
	require.True(t, ok)
	assert.Equal(t, "established", ev.BGP.BGPAS)
	assert.Equal(t, 65001, ev.BGP.RemoteAS)
}

func TestBGPTask_SkipsWhenDoBGPDisabled(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	dev.DoBGP = false
	client := snmp.NewFakeClient()
	client.Tables = bgpTable(6, 65001, 1000)
	tc := newTestContext(dev, client)

	task := &tasks.BGPTask{}
	require.NoError(t, task.Run(context.Background(), tc))

	idx := model.EventIndex{Router: dev.Name, SubIndex: "10.0.0.2", Kind: model.KindBGP}
	_, ok := tc.Store.Get(idx)
	assert.False(t, ok)
}

func TestBGPTask_UptimeWraparoundTriggersRecommit(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	dev.Peers["10.0.0.2"] = &model.BGPPeerSession{RemoteAddr: "10.0.0.2", State: "established", LastUptime: 500000}
	client := snmp.NewFakeClient()
	client.Tables = bgpTable(6, 65001, 50)
	tc := newTestContext(dev, client)

	task := &tasks.BGPTask{}
	require.NoError(t, task.Run(context.Background(), tc))

	idx := model.EventIndex{Router: dev.Name, SubIndex: "10.0.0.2", Kind: model.KindBGP}
	_, ok := tc.Store.Get(idx)
	assert.True(t, ok, "a large backward jump in uptime should be treated as a session restart")
}
