package store

import (
	"reflect"

	"github.com/zinolabs/zino/internal/zino/model"
)

// diffFieldNames is the ordered list of Event fields participating in
// the changed-fields diff. Identity fields (ID, Router, SubIndex,
// Kind) and Opened are excluded: they never change on a committed event.
var diffFieldNames = []string{
	"State", "Priority", "Log", "History",
	"PortState", "BGP", "BFD", "Reachability", "Alarm",
}

// ChangedFields computes the set of Event fields that differ between
// prior and next. prior may be nil, representing the synthetic
// embryonic baseline for a brand-new event — every non-zero field on
// next is reported as changed in that case.
//
// Observers receive exactly the symmetric difference of fields between
// the prior committed snapshot and the committed new event.
func ChangedFields(prior, next *model.Event) []string {
	var baseline model.Event
	pv := reflect.ValueOf(&baseline).Elem()
	if prior != nil {
		pv = reflect.ValueOf(prior).Elem()
	}
	nv := reflect.ValueOf(next).Elem()

	var changed []string
	for _, name := range diffFieldNames {
		pf := pv.FieldByName(name)
		nf := nv.FieldByName(name)
		if !reflect.DeepEqual(pf.Interface(), nf.Interface()) {
			changed = append(changed, name)
		}
	}
	return changed
}
