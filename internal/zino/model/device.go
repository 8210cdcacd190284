package model

import (
	"regexp"
	"time"
)

// Port is one interface on a Device. Ownership: a Device owns its ports
// exclusively; everything else refers to a port by (device name, ifindex).
type Port struct {
	IfIndex   uint32
	IfDescr   string
	IfAlias   string
	OperState PortOperState
	BFDState  string // empty if the interface has no BFD session
}

// BGPPeerSession is one BGP peering relationship tracked on a Device,
// keyed externally by the peer's remote address.
type BGPPeerSession struct {
	RemoteAddr string
	RemoteAS   int
	State      string
	Uptime     time.Duration
	LastUptime uint32 // raw 32-bit counter value, for wraparound detection
}

// Device is a polled router or switch. A Device owns its Ports and
// BGPPeerSession map exclusively (invariant: every IfIndex key in Ports
// equals the IfIndex field of the port it maps to); nothing outside the
// device registry holds a pointer into either map.
type Device struct {
	Name         string
	Address      string
	Community    string
	Port         int
	EnterpriseID int
	BootTime     time.Time

	Interval       time.Duration
	Priority       int
	Timeout        time.Duration
	Retries        int
	Statistics     bool
	HCounters      bool
	DoBGP          bool
	MaxRepetitions int

	WatchPat  *regexp.Regexp
	IgnorePat *regexp.Regexp

	// Addresses is the set of addresses discovered on this device by the
	// most recent address-map run, or seen as the source of a matching
	// trap; the global address index maps ip -> device name iff one of
	// those two conditions holds.
	Addresses map[string]struct{}

	Ports map[uint32]*Port
	Peers map[string]*BGPPeerSession
}

// NewDevice constructs a Device with its maps initialized, applying the
// device-file defaults documented for the legacy config format.
func NewDevice(name, address string) *Device {
	return &Device{
		Name:           name,
		Address:        address,
		Community:      "public",
		Port:           161,
		Interval:       5 * time.Minute,
		Priority:       100,
		Timeout:        5 * time.Second,
		Retries:        3,
		Statistics:     true,
		HCounters:      false,
		DoBGP:          true,
		MaxRepetitions: 10,
		Addresses:      make(map[string]struct{}),
		Ports:          make(map[uint32]*Port),
		Peers:          make(map[string]*BGPPeerSession),
	}
}

// Watched reports whether ifdescr passes this device's watch/ignore
// regex policy: if WatchPat is set, ifdescr must match it; if IgnorePat
// is set, ifdescr must not match it. Both may apply simultaneously.
func (d *Device) Watched(ifdescr string) bool {
	if d.WatchPat != nil && !d.WatchPat.MatchString(ifdescr) {
		return false
	}
	if d.IgnorePat != nil && d.IgnorePat.MatchString(ifdescr) {
		return false
	}
	return true
}
