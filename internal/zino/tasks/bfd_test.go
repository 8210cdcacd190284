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

func TestBFDTask_NoTableIsSilentNoOp(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	client := snmp.NewFakeClient()
	tc := newTestContext(dev, client)

	task := &tasks.BFDTask{}
	assert.NoError(t, task.Run(context.Background(), tc))
}

func TestBFDTask_NewSessionCommitsEvent(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	client := snmp.NewFakeClient()
	client.Tables["state"] = map[string]any{".1": int64(4)}
	client.Tables["discr"] = map[string]any{".1": int64(77)}
	client.Tables["addr"] = map[string]any{".1": "10.0.0.2"}
	tc := newTestContext(dev, client)

	task := &tasks.BFDTask{}
	require.NoError(t, task.Run(context.Background(), tc))

	idx := model.EventIndex{Router: dev.Name, SubIndex: "1", Kind: model.KindBFD}
	ev, ok := tc.Store.Get(idx)
	require.True(t, ok)
	assert.Equal(t, "up", ev.BFD.BFDState)
	assert.Equal(t, uint32(77), ev.BFD.BFDDiscr)
}

func TestBFDTask_UnchangedStateDoesNotRecommit(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	client := snmp.NewFakeClient()
	client.Tables["state"] = map[string]any{".1": int64(4)}
	client.Tables["discr"] = map[string]any{".1": int64(77)}
	client.Tables["addr"] = map[string]any{".1": "10.0.0.2"}
	tc := newTestContext(dev, client)

	task := &tasks.BFDTask{}
	require.NoError(t, task.Run(context.Background(), tc))
	idx := model.EventIndex{Router: dev.Name, SubIndex: "1", Kind: model.KindBFD}
	first, _ := tc.Store.Get(idx)

	require.NoError(t, task.Run(context.Background(), tc))
	second, _ := tc.Store.Get(idx)
	assert.Equal(t, first.Updated, second.Updated)
}
