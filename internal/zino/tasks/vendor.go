package tasks

import (
	"context"
	"strconv"
	"strings"

	"github.com/zinolabs/zino/internal/snmp"
)

const enterprisesPrefix = ".1.3.6.1.4.1"

// VendorTask resolves sysObjectID once per cycle (cheap enough to repeat;
// devices rarely change vendor) and records the enterprise number on the
// device, so the Juniper alarm-counter task can branch on it without a
// second round trip. The BGP task does not consult it.
type VendorTask struct{}

func (t *VendorTask) Name() string { return "vendor" }

func (t *VendorTask) Run(ctx context.Context, tc *Context) error {
	vb, err := tc.SNMP.Get(ctx, snmp.Symbol{MIB: "SNMPv2-MIB", Object: "sysObjectID", RowIndex: "0"})
	if err != nil {
		// Non-fatal: vendor-specific behavior just falls back to generic
		// handling for the rest of this cycle.
		return nil
	}
	oidStr, ok := vb.Value.(string)
	if !ok {
		return nil
	}
	oid, err := snmp.ParseOID(oidStr)
	if err != nil {
		return nil
	}
	root, err := snmp.ParseOID(enterprisesPrefix)
	if err != nil {
		return nil
	}
	suffix, ok := oid.StripPrefix(root)
	if !ok {
		return nil
	}
	first := strings.TrimPrefix(suffix.String(), ".")
	first, _, _ = strings.Cut(first, ".")
	id, err := strconv.Atoi(first)
	if err != nil {
		return nil
	}
	tc.Device.EnterpriseID = id
	return nil
}
