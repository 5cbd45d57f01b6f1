package app

import (
	"sort"
	"sync"

	"github.com/mbocsi/skybridge/adapters"
	"github.com/mbocsi/skybridge/client"
)

// named is implemented by every adapter the application owns.
type named interface {
	client.Subscriber
	Name() string
}

// AdapterRegistry holds the application's adapters by name.
type AdapterRegistry struct {
	mu       sync.RWMutex
	odometry map[string]*adapters.Odometry
	status   map[string]*adapters.Latest
	leds     map[string]*adapters.LED
	order    []named
}

func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{
		odometry: make(map[string]*adapters.Odometry),
		status:   make(map[string]*adapters.Latest),
		leds:     make(map[string]*adapters.LED),
	}
}

func (r *AdapterRegistry) StoreOdometry(a *adapters.Odometry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.odometry[a.Name()] = a
	r.order = append(r.order, a)
}

func (r *AdapterRegistry) StoreStatus(a *adapters.Latest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[a.Name()] = a
	r.order = append(r.order, a)
}

func (r *AdapterRegistry) StoreLED(a *adapters.LED) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leds[a.Name()] = a
	r.order = append(r.order, a)
}

func (r *AdapterRegistry) Odometry(name string) (*adapters.Odometry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.odometry[name]
	return a, ok
}

// OdometryList returns the odometry adapters sorted by name.
func (r *AdapterRegistry) OdometryList() []*adapters.Odometry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*adapters.Odometry, 0, len(r.odometry))
	for _, a := range r.odometry {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// All returns every adapter in the order it was stored.
func (r *AdapterRegistry) All() []named {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]named(nil), r.order...)
}

// Telemetry collects the latest status payloads and LED colors by adapter name. Adapters without
// data since the last (re)connect are reported as null.
func (r *AdapterRegistry) Telemetry() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	values := make(map[string]any, len(r.status)+len(r.leds))
	for name, a := range r.status {
		if payload, _, ok := a.Value(); ok {
			values[name] = payload
		} else {
			values[name] = nil
		}
	}
	for name, a := range r.leds {
		if color, ok := a.Color(); ok {
			values[name] = color
		} else {
			values[name] = nil
		}
	}
	return values
}
