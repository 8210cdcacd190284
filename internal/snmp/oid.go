// Package snmp defines the scoped client abstraction used by the task
// pipeline and trap dispatcher: get/get-next/walk/bulk-walk/sparse-walk
// over a symbolically-resolved OID space, plus a session cache. This
// package ships the interface, the session cache, a fully fake
// implementation used by every other package's tests, and a thin
// production backend over github.com/gosnmp/gosnmp.
package snmp

import (
	"strconv"
	"strings"
)

// OID is a parsed object identifier: a plain slice of arcs with prefix
// helpers used by the vendor task (stripping the enterprise-id prefix)
// and by SparseWalk's per-column bookkeeping.
type OID []uint32

// ParseOID parses a dotted string such as ".1.3.6.1.4.1.9" into an OID.
// A leading dot is accepted and ignored.
func ParseOID(s string) (OID, error) {
	s = strings.TrimPrefix(s, ".")
	parts := strings.Split(s, ".")
	out := make(OID, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, uint32(n))
	}
	return out, nil
}

// String renders the OID in dotted form, with a leading dot.
func (o OID) String() string {
	var b strings.Builder
	for _, arc := range o {
		b.WriteByte('.')
		b.WriteString(strconv.FormatUint(uint64(arc), 10))
	}
	return b.String()
}

// IsPrefixOf reports whether o is a prefix of other.
func (o OID) IsPrefixOf(other OID) bool {
	if len(o) > len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}

// StripPrefix removes prefix from o and returns the remaining arcs. ok
// is false if prefix is not actually a prefix of o.
func (o OID) StripPrefix(prefix OID) (suffix OID, ok bool) {
	if !prefix.IsPrefixOf(o) {
		return nil, false
	}
	return o[len(prefix):], true
}

// Equal reports whether o and other have identical arcs.
func (o OID) Equal(other OID) bool {
	if len(o) != len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}
