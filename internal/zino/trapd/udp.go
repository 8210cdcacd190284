package trapd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/zinolabs/zino/internal/snmp"
)

// readPollInterval bounds how long a blocked UDP read can outlive a
// cancelled context: the read deadline is renewed at this cadence and
// the context rechecked in between.
const readPollInterval = time.Second

var errSourceClosed = errors.New("trap source closed")

// UDPSource reads SNMP trap datagrams off a net.PacketConn and decodes
// them into RawTrap values via gosnmp's PDU parser, implementing
// PacketSource for the dispatcher's Run loop. SNMPv1 traps are
// translated to the v2c varbind convention (RFC 3584 section 3) so the
// rest of the pipeline only ever sees one shape; SNMPv3 is not
// supported and such datagrams are dropped with a debug log.
type UDPSource struct {
	conn   net.PacketConn
	parser *gosnmp.GoSNMP
	logger *slog.Logger
}

// NewUDPSource wraps an already-bound packet connection. The caller
// owns the bind (so a port-162 permission error surfaces at startup,
// not on first trap); the source owns the connection from here on and
// Close releases it.
func NewUDPSource(conn net.PacketConn, logger *slog.Logger) *UDPSource {
	return &UDPSource{
		conn:   conn,
		parser: &gosnmp.GoSNMP{Transport: "udp"},
		logger: logger,
	}
}

// Close releases the underlying connection; a blocked ReadFrom returns
// with an error.
func (s *UDPSource) Close() error {
	return s.conn.Close()
}

// ReadFrom blocks until one decodable trap arrives or ctx is cancelled.
// Undecodable datagrams are logged and skipped rather than returned as
// errors, so one malformed sender cannot spin the dispatch loop.
func (s *UDPSource) ReadFrom(ctx context.Context) (RawTrap, error) {
	buf := make([]byte, 65535)
	for {
		if err := ctx.Err(); err != nil {
			return RawTrap{}, err
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			return RawTrap{}, fmt.Errorf("set trap read deadline: %w", err)
		}
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return RawTrap{}, ctx.Err()
			}
			return RawTrap{}, errSourceClosed
		}

		packet, err := s.parser.UnmarshalTrap(buf[:n], false)
		if err != nil || packet == nil {
			s.logger.Debug("undecodable trap datagram, skipping",
				slog.String("source", addr.String()))
			continue
		}
		if packet.Version == gosnmp.Version3 {
			s.logger.Debug("snmpv3 trap not supported, skipping",
				slog.String("source", addr.String()))
			continue
		}
		return convertPacket(packet, sourceHost(addr)), nil
	}
}

// sourceHost strips the port from a UDP peer address; the address
// index is keyed by bare IP.
func sourceHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// convertPacket maps a decoded gosnmp packet to the dispatcher's
// RawTrap shape. v1 traps gain synthetic sysUpTime and snmpTrapOID
// varbinds per RFC 3584 so observers never need to distinguish trap
// versions.
func convertPacket(packet *gosnmp.SnmpPacket, source string) RawTrap {
	raw := RawTrap{
		SourceAddr: source,
		Community:  packet.Community,
	}
	if packet.Version == gosnmp.Version1 {
		raw.Variables = append(raw.Variables,
			snmp.VarBind{OID: sysUpTimeOID, Value: uint64(packet.SnmpTrap.Timestamp)},
			snmp.VarBind{OID: snmpTrapOIDOID, Value: v1TrapOID(packet.SnmpTrap)},
		)
	}
	for _, pdu := range packet.Variables {
		oid, err := snmp.ParseOID(pdu.Name)
		if err != nil {
			continue
		}
		raw.Variables = append(raw.Variables, snmp.VarBind{OID: oid, Value: pduValue(pdu)})
	}
	return raw
}

var (
	sysUpTimeOID   = mustOID(".1.3.6.1.2.1.1.3.0")
	snmpTrapOIDOID = mustOID(".1.3.6.1.6.3.1.1.4.1.0")
	snmpTrapsOID   = mustOID(".1.3.6.1.6.3.1.1.5")
)

func mustOID(s string) snmp.OID {
	oid, err := snmp.ParseOID(s)
	if err != nil {
		panic(err)
	}
	return oid
}

// v1TrapOID derives the v2c notification OID from a v1 trap header per
// RFC 3584 section 3.1: generic traps 0-5 map into the snmpTraps
// subtree, enterprise-specific traps become <enterprise>.0.<specific>.
func v1TrapOID(trap gosnmp.SnmpTrap) snmp.OID {
	const enterpriseSpecific = 6
	if trap.GenericTrap != enterpriseSpecific {
		oid := append(snmp.OID(nil), snmpTrapsOID...)
		return append(oid, uint32(trap.GenericTrap)+1)
	}
	ent, err := snmp.ParseOID(trap.Enterprise)
	if err != nil {
		return nil
	}
	return append(append(ent, 0), uint32(trap.SpecificTrap))
}

// pduValue normalizes gosnmp's decoded values into the small set the
// resolver and observers expect: OID payloads become snmp.OID, octet
// strings become Go strings, everything else passes through.
func pduValue(pdu gosnmp.SnmpPDU) any {
	switch pdu.Type {
	case gosnmp.ObjectIdentifier:
		if s, ok := pdu.Value.(string); ok {
			if oid, err := snmp.ParseOID(s); err == nil {
				return oid
			}
		}
		return pdu.Value
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			return string(b)
		}
		return pdu.Value
	case gosnmp.IPAddress:
		if s, ok := pdu.Value.(string); ok {
			return s
		}
		return pdu.Value
	case gosnmp.TimeTicks, gosnmp.Counter32, gosnmp.Gauge32:
		switch v := pdu.Value.(type) {
		case uint:
			return uint64(v)
		case uint32:
			return v
		case uint64:
			return v
		}
		return pdu.Value
	default:
		return pdu.Value
	}
}

// String implements fmt.Stringer for logging a trap identity compactly.
func (t *Trap) String() string {
	return t.MIB + "::" + t.Name + " from " + t.Device + " (" + strconv.FormatInt(int64(t.SysUpTime/time.Second), 10) + "s uptime)"
}
