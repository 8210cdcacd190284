package scheduler

import (
	"sync"

	"github.com/zinolabs/zino/internal/zino/tasks"
)

// AddressIndex is the process-wide address -> device-name map,
// implementing tasks.AddressIndex. Kept as its
// own small type (rather than a bare map on Scheduler) so the trap
// dispatcher can hold just this, not the whole scheduler.
type AddressIndex struct {
	mu   sync.RWMutex
	byIP map[string]string
}

// NewAddressIndex creates an empty index.
func NewAddressIndex() *AddressIndex {
	return &AddressIndex{byIP: make(map[string]string)}
}

var _ tasks.AddressIndex = (*AddressIndex)(nil)

func (a *AddressIndex) Set(addr, deviceName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byIP[addr] = deviceName
}

func (a *AddressIndex) Delete(addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byIP, addr)
}

// Lookup returns the device name that owns addr, if any, for the trap
// dispatcher's source-address-to-device mapping.
func (a *AddressIndex) Lookup(addr string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	name, ok := a.byIP[addr]
	return name, ok
}

// Dump returns a copy of the full address -> device-name map, for
// snapshot persistence.
func (a *AddressIndex) Dump() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.byIP))
	for ip, name := range a.byIP {
		out[ip] = name
	}
	return out
}

// Restore replaces the index contents with those from a snapshot.
func (a *AddressIndex) Restore(entries map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byIP = make(map[string]string, len(entries))
	for ip, name := range entries {
		a.byIP[ip] = name
	}
}
