package snmp

import (
	"fmt"
	"strings"
	"sync"
)

// mibEntry binds one symbolic (MIB, object) name to its OID.
type mibEntry struct {
	mib    string
	object string
	oid    OID
}

// MIBRegistry resolves symbolic names to OIDs and back against a fixed,
// preloaded object set. Resolution is deterministic and cached; reverse
// lookup picks the longest registered prefix of the queried OID and
// returns the remainder as the row index. MIB text parsing is out of
// scope, so the registry is populated from a compiled-in table
// (Builtin) rather than from MIB files.
type MIBRegistry struct {
	entries []mibEntry
	forward map[string]OID // "MIB::object" -> OID

	mu      sync.Mutex
	reverse map[string]Symbol // oid string -> resolved symbol, memoized
}

// NewMIBRegistry creates an empty registry; see Builtin for the
// preloaded standard set.
func NewMIBRegistry() *MIBRegistry {
	return &MIBRegistry{
		forward: make(map[string]OID),
		reverse: make(map[string]Symbol),
	}
}

// Register adds one (mib, object) -> oid binding.
func (r *MIBRegistry) Register(mib, object string, oid OID) {
	r.entries = append(r.entries, mibEntry{mib: mib, object: object, oid: oid})
	r.forward[mib+"::"+object] = oid
}

// Lookup returns the OID for sym, appending its row index if set.
func (r *MIBRegistry) Lookup(sym Symbol) (OID, error) {
	base, ok := r.forward[sym.MIB+"::"+sym.Object]
	if !ok {
		return nil, &Failure{Op: "lookup " + sym.MIB + "::" + sym.Object, What: FailureMIBNotFound}
	}
	if sym.RowIndex == "" {
		return base, nil
	}
	suffix, err := ParseOID("." + sym.RowIndex)
	if err != nil {
		return nil, fmt.Errorf("lookup %s::%s row %q: %w", sym.MIB, sym.Object, sym.RowIndex, err)
	}
	oid := make(OID, 0, len(base)+len(suffix))
	oid = append(oid, base...)
	return append(oid, suffix...), nil
}

// Resolve returns the symbolic name of oid: the longest registered
// prefix wins, and any remaining sub-identifiers become the RowIndex.
func (r *MIBRegistry) Resolve(oid OID) (Symbol, error) {
	key := oid.String()
	r.mu.Lock()
	if sym, ok := r.reverse[key]; ok {
		r.mu.Unlock()
		return sym, nil
	}
	r.mu.Unlock()

	var best *mibEntry
	for i := range r.entries {
		e := &r.entries[i]
		if !e.oid.IsPrefixOf(oid) {
			continue
		}
		if best == nil || len(e.oid) > len(best.oid) {
			best = e
		}
	}
	if best == nil {
		return Symbol{}, &Failure{Kind: oid, Op: "resolve", What: FailureMIBNotFound}
	}

	sym := Symbol{MIB: best.mib, Object: best.object}
	if suffix, ok := oid.StripPrefix(best.oid); ok && len(suffix) > 0 {
		sym.RowIndex = strings.TrimPrefix(suffix.String(), ".")
	}

	r.mu.Lock()
	r.reverse[key] = sym
	r.mu.Unlock()
	return sym, nil
}

// ResolveValue returns the (mib, name) pair of an OID carried as a trap
// payload value, e.g. the snmpTrapOID varbind. It resolves through
// Resolve and discards the row index, so any instance or row suffix after
// the object's OID is dropped, not only a trailing ".0".
func (r *MIBRegistry) ResolveValue(oid OID) (mib, name string, err error) {
	sym, err := r.Resolve(oid)
	if err != nil {
		return "", "", err
	}
	return sym.MIB, sym.Object, nil
}

func mustParseOID(s string) OID {
	oid, err := ParseOID(s)
	if err != nil {
		panic(err)
	}
	return oid
}

// Builtin returns a registry preloaded with the objects the poller and
// the trap dispatcher actually touch: SNMPv2-MIB system/trap scalars,
// the IF-MIB interface table and link traps, the RFC1213 address
// table, BGP4-MIB (plus Juniper's BGP4-V2 trap variants), BFD-STD-MIB,
// the Juniper chassis alarm counters, and the handful of vendor traps
// the ignore/log-only observer sets subscribe to.
func Builtin() *MIBRegistry {
	r := NewMIBRegistry()

	r.Register("SNMPv2-MIB", "sysDescr", mustParseOID(".1.3.6.1.2.1.1.1"))
	r.Register("SNMPv2-MIB", "sysObjectID", mustParseOID(".1.3.6.1.2.1.1.2"))
	r.Register("SNMPv2-MIB", "sysUpTime", mustParseOID(".1.3.6.1.2.1.1.3"))
	r.Register("SNMPv2-MIB", "snmpTrapOID", mustParseOID(".1.3.6.1.6.3.1.1.4.1"))
	r.Register("SNMPv2-MIB", "coldStart", mustParseOID(".1.3.6.1.6.3.1.1.5.1"))
	r.Register("SNMPv2-MIB", "warmStart", mustParseOID(".1.3.6.1.6.3.1.1.5.2"))
	r.Register("SNMPv2-MIB", "authenticationFailure", mustParseOID(".1.3.6.1.6.3.1.1.5.5"))

	r.Register("IF-MIB", "linkDown", mustParseOID(".1.3.6.1.6.3.1.1.5.3"))
	r.Register("IF-MIB", "linkUp", mustParseOID(".1.3.6.1.6.3.1.1.5.4"))
	r.Register("IF-MIB", "ifIndex", mustParseOID(".1.3.6.1.2.1.2.2.1.1"))
	r.Register("IF-MIB", "ifDescr", mustParseOID(".1.3.6.1.2.1.2.2.1.2"))
	r.Register("IF-MIB", "ifAdminStatus", mustParseOID(".1.3.6.1.2.1.2.2.1.7"))
	r.Register("IF-MIB", "ifOperStatus", mustParseOID(".1.3.6.1.2.1.2.2.1.8"))
	r.Register("IF-MIB", "ifLastChange", mustParseOID(".1.3.6.1.2.1.2.2.1.9"))
	r.Register("IF-MIB", "ifAlias", mustParseOID(".1.3.6.1.2.1.31.1.1.1.18"))

	r.Register("RFC1213-MIB", "ipAdEntIfIndex", mustParseOID(".1.3.6.1.2.1.4.20.1.2"))

	r.Register("BGP4-MIB", "bgpPeerState", mustParseOID(".1.3.6.1.2.1.15.3.1.2"))
	r.Register("BGP4-MIB", "bgpPeerAdminStatus", mustParseOID(".1.3.6.1.2.1.15.3.1.3"))
	r.Register("BGP4-MIB", "bgpPeerRemoteAddr", mustParseOID(".1.3.6.1.2.1.15.3.1.7"))
	r.Register("BGP4-MIB", "bgpPeerRemoteAs", mustParseOID(".1.3.6.1.2.1.15.3.1.9"))
	r.Register("BGP4-MIB", "bgpPeerLastError", mustParseOID(".1.3.6.1.2.1.15.3.1.14"))
	r.Register("BGP4-MIB", "bgpPeerFsmEstablishedTime", mustParseOID(".1.3.6.1.2.1.15.3.1.16"))
	r.Register("BGP4-MIB", "bgpEstablished", mustParseOID(".1.3.6.1.2.1.15.7.1"))
	r.Register("BGP4-MIB", "bgpBackwardTransition", mustParseOID(".1.3.6.1.2.1.15.7.2"))

	r.Register("BGP4-V2-MIB-JUNIPER", "jnxBgpM2Established", mustParseOID(".1.3.6.1.4.1.2636.5.1.1.0.1"))
	r.Register("BGP4-V2-MIB-JUNIPER", "jnxBgpM2BackwardTransition", mustParseOID(".1.3.6.1.4.1.2636.5.1.1.0.2"))
	r.Register("BGP4-V2-MIB-JUNIPER", "jnxBgpM2PeerRemoteAddr", mustParseOID(".1.3.6.1.4.1.2636.5.1.1.2.1.1.1.11"))
	r.Register("BGP4-V2-MIB-JUNIPER", "jnxBgpM2PeerState", mustParseOID(".1.3.6.1.4.1.2636.5.1.1.2.1.1.1.2"))

	r.Register("BFD-STD-MIB", "bfdSessUp", mustParseOID(".1.3.6.1.2.1.222.0.1"))
	r.Register("BFD-STD-MIB", "bfdSessDown", mustParseOID(".1.3.6.1.2.1.222.0.2"))
	r.Register("BFD-STD-MIB", "bfdSessState", mustParseOID(".1.3.6.1.2.1.222.1.2.1.8"))
	r.Register("BFD-STD-MIB", "bfdSessDiag", mustParseOID(".1.3.6.1.2.1.222.1.2.1.7"))
	r.Register("BFD-STD-MIB", "bfdSessDiscriminator", mustParseOID(".1.3.6.1.2.1.222.1.2.1.2"))

	r.Register("JUNIPER-ALARM-MIB", "jnxYellowAlarmCount", mustParseOID(".1.3.6.1.4.1.2636.3.4.2.2.2"))
	r.Register("JUNIPER-ALARM-MIB", "jnxRedAlarmCount", mustParseOID(".1.3.6.1.4.1.2636.3.4.2.3.2"))

	r.Register("CISCOTRAP-MIB", "reload", mustParseOID(".1.3.6.1.4.1.9.0.0"))
	r.Register("CISCO-CONFIG-MAN-MIB", "ciscoConfigManEvent", mustParseOID(".1.3.6.1.4.1.9.9.43.2.0.1"))

	return r
}
