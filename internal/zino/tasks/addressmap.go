package tasks

import (
	"context"
	"strings"

	"github.com/zinolabs/zino/internal/snmp"
)

// ipAdEntIfIndexOID is RFC1213-MIB's ipAddrTable.ipAddrEntry.ipAdEntIfIndex,
// a stable standard-MIB root that needs no symbolic MIB resolution; the
// table is indexed by the IP address itself, so the row suffix after
// stripping this root is the address in dotted form.
var ipAdEntIfIndexOID = mustOID(".1.3.6.1.2.1.4.20.1.2")

func mustOID(s string) snmp.OID {
	oid, err := snmp.ParseOID(s)
	if err != nil {
		panic(err)
	}
	return oid
}

// AddressMapTask walks the device's IP address table and records, for
// every address found, that it belongs to this device — both locally
// (Device.Addresses, consulted by GETATTRS/NTIE) and in the process-wide
// AddressIndex the trap dispatcher uses to map a trap's source address
// back to a device name.
type AddressMapTask struct{}

func (t *AddressMapTask) Name() string { return "addressmap" }

func (t *AddressMapTask) Run(ctx context.Context, tc *Context) error {
	rows, err := tc.SNMP.SparseWalk(ctx, map[string]snmp.OID{"ifIndex": ipAdEntIfIndexOID}, tc.Device.MaxRepetitions)
	if err != nil {
		return err
	}

	found := make(map[string]struct{}, len(rows))
	for rowIdx := range rows {
		addr := strings.TrimPrefix(rowIdx, ".")
		if addr == "" {
			continue
		}
		found[addr] = struct{}{}
		if _, already := tc.Device.Addresses[addr]; !already {
			tc.Addresses.Set(addr, tc.Device.Name)
		}
	}

	for addr := range tc.Device.Addresses {
		if _, stillPresent := found[addr]; !stillPresent {
			tc.Addresses.Delete(addr)
		}
	}

	tc.Device.Addresses = found
	return nil
}
