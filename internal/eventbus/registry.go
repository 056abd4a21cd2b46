package eventbus

import (
	"sync"

	"github.com/nerrad567/hivelink/internal/infrastructure/metrics"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the node-local, lock-protected subscription table.
//
// Mutations are linearised by a single lock; lookups take the read lock
// and return copies, so readers never see a partial mutation.
type Registry struct {
	mu      sync.RWMutex
	table   *Table
	metrics *metrics.Metrics
	logger  Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		table:  NewTable(),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetMetrics attaches collectors. Nil disables them.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Apply performs a sync message against the local table.
func (r *Registry) Apply(m SyncMessage) error {
	r.mu.Lock()
	changed, err := applyTo(r.table, m)
	size := r.table.Len()
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.metrics.SetSubscriptions(size)
	r.logger.Debug("registry sync applied",
		"action", m.Action,
		"origin", m.Origin,
		"changed", changed,
		"size", size,
	)
	return nil
}

// Register adds s under f locally.
func (r *Registry) Register(f Filter, s Subscriber) error {
	return r.Apply(SyncMessage{Action: SyncRegister, Filter: &f, Subscriber: &s})
}

// Unregister removes s from every cell locally.
func (r *Registry) Unregister(s Subscriber) error {
	return r.Apply(SyncMessage{Action: SyncUnregister, Subscriber: &s})
}

// UnregisterDevice drops all rows scoped to the device locally.
func (r *Registry) UnregisterDevice(deviceID string) error {
	return r.Apply(SyncMessage{Action: SyncUnregisterDevice, Devices: []string{deviceID}})
}

// UnregisterNetwork drops the network's rows and its devices' rows locally.
func (r *Registry) UnregisterNetwork(networkID int64, devices []string) error {
	return r.Apply(SyncMessage{Action: SyncUnregisterNetwork, NetworkID: networkID, Devices: devices})
}

// UnregisterDeviceType drops the type's rows and its devices' rows locally.
func (r *Registry) UnregisterDeviceType(deviceTypeID int64, devices []string) error {
	return r.Apply(SyncMessage{Action: SyncUnregisterDeviceType, DeviceTypeID: deviceTypeID, Devices: devices})
}

// GetSubscribers returns the three-tier match for a concrete filter.
func (r *Registry) GetSubscribers(f Filter) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table.Lookup(f)
}

// Match returns the union of GetSubscribers over every applicable filter
// of an event.
func (r *Registry) Match(event Filter) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[Subscriber]struct{})
	var out []Subscriber
	for _, f := range ApplicableFilters(event) {
		for _, s := range r.table.Lookup(f) {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sortSubscribers(out)
	return out
}

// Registrations lists registrations accepted by keep (nil for all).
func (r *Registry) Registrations(keep func(Subscriber) bool) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table.Registrations(keep)
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table.Len()
}
