package tasks_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zinolabs/zino/internal/snmp"
	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/tasks"
)

func TestVendorTask_ExtractsEnterpriseID(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	client := snmp.NewFakeClient()
	client.Scalars["SNMPv2-MIB::sysObjectID.0"] = ".1.3.6.1.4.1.2636.1.1.1.2.35"
	tc := newTestContext(dev, client)

	task := &tasks.VendorTask{}
	err := task.Run(context.Background(), tc)
	assert.NoError(t, err)
	assert.Equal(t, 2636, dev.EnterpriseID)
}

func TestVendorTask_MissingSysObjectIDIsNotFatal(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	client := snmp.NewFakeClient()
	tc := newTestContext(dev, client)

	task := &tasks.VendorTask{}
	err := task.Run(context.Background(), tc)
	assert.NoError(t, err)
	assert.Zero(t, dev.EnterpriseID)
}
