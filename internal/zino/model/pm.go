package model

import (
	"fmt"
	"time"
)

// PMKind distinguishes the two families of planned-maintenance match
// rules: one matches whole devices, the other matches ports.
type PMKind int

const (
	PMKindDevice PMKind = iota
	PMKindPortState
)

func (k PMKind) String() string {
	if k == PMKindDevice {
		return "device"
	}
	return "portstate"
}

// PMMatchType selects how MatchExpression is applied.
type PMMatchType int

const (
	MatchExact PMMatchType = iota
	MatchRegexp
	MatchStr
	MatchIntfRegexp
)

func (t PMMatchType) String() string {
	switch t {
	case MatchExact:
		return "exact"
	case MatchRegexp:
		return "regexp"
	case MatchStr:
		return "str"
	case MatchIntfRegexp:
		return "intf-regexp"
	default:
		return "unknown"
	}
}

// ParsePMKind parses the wire spelling used by the PM ADD command.
func ParsePMKind(s string) (PMKind, error) {
	switch s {
	case "device":
		return PMKindDevice, nil
	case "portstate":
		return PMKindPortState, nil
	default:
		return 0, fmt.Errorf("parse pm kind %q: must be device or portstate", s)
	}
}

// ParsePMMatchType parses the wire spelling used by the PM ADD command.
func ParsePMMatchType(s string) (PMMatchType, error) {
	switch s {
	case "exact":
		return MatchExact, nil
	case "regexp":
		return MatchRegexp, nil
	case "str":
		return MatchStr, nil
	case "intf-regexp":
		return MatchIntfRegexp, nil
	default:
		return 0, fmt.Errorf("parse pm match type %q: must be exact, regexp, str or intf-regexp", s)
	}
}

// PMExpiry is the retention window after End before a
// PlannedMaintenance is discarded.
const PMExpiry = 3 * 24 * time.Hour

// PlannedMaintenance is a time-windowed suppression rule. While active it
// forces every matching event into StateIgnored and tracks the ids it
// suppressed so it can restore them on expiry.
type PlannedMaintenance struct {
	ID              int
	Start           time.Time
	End             time.Time
	MatchType       PMMatchType
	MatchExpression string
	MatchDevice     string // only used by MatchIntfRegexp
	Kind            PMKind
	EventIDs        []int
	LastRun         time.Time
}

// HasStarted reports whether now has passed Start but PM.LastRun had not
// yet observed it (used by the start step of the per-minute PM tick).
func (pm *PlannedMaintenance) HasStarted(now time.Time) bool {
	return pm.LastRun.Before(pm.Start) && !now.Before(pm.Start) && now.Before(pm.End)
}

// HasEnded reports whether now has passed End but PM.LastRun had not yet
// observed it (used by the end step of the per-minute PM tick).
func (pm *PlannedMaintenance) HasEnded(now time.Time) bool {
	return pm.LastRun.Before(pm.End) && !now.Before(pm.End)
}

// IsActive reports whether now falls within [Start, End).
func (pm *PlannedMaintenance) IsActive(now time.Time) bool {
	return !now.Before(pm.Start) && now.Before(pm.End)
}

// Expired reports whether this PM is old enough to discard entirely.
func (pm *PlannedMaintenance) Expired(now time.Time) bool {
	return now.Sub(pm.End) > PMExpiry
}
