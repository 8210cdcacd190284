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

func TestAddressMapTask_RecordsNewAddressesInIndex(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	client := snmp.NewFakeClient()
	client.Tables["ifIndex"] = map[string]any{
		".10.0.0.1": int64(1),
		".10.0.0.2": int64(2),
	}
	tc := newTestContext(dev, client)

	task := &tasks.AddressMapTask{}
	require.NoError(t, task.Run(context.Background(), tc))

	_, ok1 := dev.Addresses["10.0.0.1"]
	_, ok2 := dev.Addresses["10.0.0.2"]
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestAddressMapTask_DropsStaleAddresses(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	dev.Addresses["10.0.0.9"] = struct{}{}
	client := snmp.NewFakeClient()
	client.Tables["ifIndex"] = map[string]any{".10.0.0.1": int64(1)}
	tc := newTestContext(dev, client)
	fa := tc.Addresses.(*fakeAddresses)
	fa.set["10.0.0.9"] = dev.Name

	task := &tasks.AddressMapTask{}
	require.NoError(t, task.Run(context.Background(), tc))

	_, stillTracked := fa.set["10.0.0.9"]
	assert.False(t, stillTracked)
	_, present := dev.Addresses["10.0.0.9"]
	assert.False(t, present)
}
