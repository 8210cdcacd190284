package trapd

import (
	"testing"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zinolabs/zino/internal/snmp"
)

func TestConvertPacketV2c(t *testing.T) {
	t.Parallel()
	packet := &gosnmp.SnmpPacket{
		Version:   gosnmp.Version2c,
		Community: "public",
		Variables: []gosnmp.SnmpPDU{
			{Name: ".1.3.6.1.2.1.1.3.0", Type: gosnmp.TimeTicks, Value: uint32(12345)},
			{Name: ".1.3.6.1.6.3.1.1.4.1.0", Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1.6.3.1.1.5.4"},
			{Name: ".1.3.6.1.2.1.2.2.1.1.7", Type: gosnmp.Integer, Value: 7},
			{Name: ".1.3.6.1.2.1.2.2.1.2.7", Type: gosnmp.OctetString, Value: []byte("Gi1/7")},
		},
	}

	raw := convertPacket(packet, "10.0.0.1")
	assert.Equal(t, "10.0.0.1", raw.SourceAddr)
	assert.Equal(t, "public", raw.Community)
	require.Len(t, raw.Variables, 4)

	trapOID, ok := raw.Variables[1].Value.(snmp.OID)
	require.True(t, ok, "ObjectIdentifier payloads decode to snmp.OID")
	assert.Equal(t, ".1.3.6.1.6.3.1.1.5.4", trapOID.String())
	assert.Equal(t, "Gi1/7", raw.Variables[3].Value)
}

func TestConvertPacketV1TranslatesHeader(t *testing.T) {
	t.Parallel()
	packet := &gosnmp.SnmpPacket{
		Version:   gosnmp.Version1,
		Community: "public",
		SnmpTrap: gosnmp.SnmpTrap{
			Enterprise:  ".1.3.6.1.4.1.9",
			GenericTrap: 2, // linkDown
			Timestamp:   500,
		},
		Variables: []gosnmp.SnmpPDU{
			{Name: ".1.3.6.1.2.1.2.2.1.1.3", Type: gosnmp.Integer, Value: 3},
		},
	}

	raw := convertPacket(packet, "10.0.0.2")
	require.Len(t, raw.Variables, 3, "synthetic sysUpTime and snmpTrapOID are prepended")

	assert.True(t, raw.Variables[0].OID.Equal(sysUpTimeOID))
	assert.Equal(t, uint64(500), raw.Variables[0].Value)

	trapOID, ok := raw.Variables[1].Value.(snmp.OID)
	require.True(t, ok)
	assert.Equal(t, ".1.3.6.1.6.3.1.1.5.3", trapOID.String(), "generic 2 maps to linkDown")
}

func TestV1TrapOIDEnterpriseSpecific(t *testing.T) {
	t.Parallel()
	oid := v1TrapOID(gosnmp.SnmpTrap{
		Enterprise:   ".1.3.6.1.4.1.9",
		GenericTrap:  6,
		SpecificTrap: 1,
	})
	assert.Equal(t, ".1.3.6.1.4.1.9.0.1", oid.String())
}
