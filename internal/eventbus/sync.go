package eventbus

import (
	"encoding/json"
	"fmt"
)

// SyncAction names a registry mutation.
type SyncAction string

// Registry mutations carried by sync messages.
const (
	SyncRegister             SyncAction = "REGISTER"
	SyncUnregister           SyncAction = "UNREGISTER"
	SyncUnregisterDevice     SyncAction = "UNREGISTER_DEVICE"
	SyncUnregisterNetwork    SyncAction = "UNREGISTER_NETWORK"
	SyncUnregisterDeviceType SyncAction = "UNREGISTER_DEVICE_TYPE"
)

// SyncMessage replicates one registry mutation across nodes.
//
// For UNREGISTER a Filter narrows removal to one cell; without it the
// subscriber is removed from every cell.
type SyncMessage struct {
	ID     string     `json:"id,omitempty"`
	Origin string     `json:"origin,omitempty"`
	Action SyncAction `json:"action"`

	Filter       *Filter     `json:"filter,omitempty"`
	Subscriber   *Subscriber `json:"subscriber,omitempty"`
	Devices      []string    `json:"devices,omitempty"`
	NetworkID    int64       `json:"networkId,omitempty"`
	DeviceTypeID int64       `json:"deviceTypeId,omitempty"`
}

// Validate checks the fields each action requires.
func (m SyncMessage) Validate() error {
	switch m.Action {
	case SyncRegister:
		if m.Filter == nil || m.Subscriber == nil {
			return fmt.Errorf("%w: %s needs filter and subscriber", ErrInvalidSync, m.Action)
		}
		if err := m.Filter.Validate(); err != nil {
			return err
		}
		return m.Subscriber.Validate()
	case SyncUnregister:
		if m.Subscriber == nil {
			return fmt.Errorf("%w: %s needs a subscriber", ErrInvalidSync, m.Action)
		}
		return m.Subscriber.Validate()
	case SyncUnregisterDevice:
		if len(m.Devices) == 0 {
			return fmt.Errorf("%w: %s needs at least one device", ErrInvalidSync, m.Action)
		}
	case SyncUnregisterNetwork:
		if m.NetworkID <= 0 {
			return fmt.Errorf("%w: %s needs a network id", ErrInvalidSync, m.Action)
		}
	case SyncUnregisterDeviceType:
		if m.DeviceTypeID <= 0 {
			return fmt.Errorf("%w: %s needs a device type id", ErrInvalidSync, m.Action)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidSync, m.Action)
	}
	return nil
}

// EncodeSync serialises m for the sync topic.
func EncodeSync(m SyncMessage) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeSync parses and validates a sync topic payload.
func DecodeSync(data []byte) (SyncMessage, error) {
	var m SyncMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return SyncMessage{}, fmt.Errorf("%w: %w", ErrInvalidSync, err)
	}
	if err := m.Validate(); err != nil {
		return SyncMessage{}, err
	}
	return m, nil
}

// Apply returns the table that results from applying m to t. t itself is
// not modified. Applying the same message twice yields the same table.
func Apply(t *Table, m SyncMessage) (*Table, error) {
	next := t.Clone()
	if _, err := applyTo(next, m); err != nil {
		return t, err
	}
	return next, nil
}

// applyTo mutates t in place and reports how many registrations changed.
func applyTo(t *Table, m SyncMessage) (int, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	switch m.Action {
	case SyncRegister:
		if t.Register(*m.Filter, *m.Subscriber) {
			return 1, nil
		}
		return 0, nil
	case SyncUnregister:
		if m.Filter != nil {
			if t.UnregisterFilter(*m.Filter, *m.Subscriber) {
				return 1, nil
			}
			return 0, nil
		}
		return t.Unregister(*m.Subscriber), nil
	case SyncUnregisterDevice:
		n := 0
		for _, d := range m.Devices {
			n += t.RemoveDevice(d)
		}
		return n, nil
	case SyncUnregisterNetwork:
		return t.RemoveNetwork(m.NetworkID, m.Devices), nil
	case SyncUnregisterDeviceType:
		return t.RemoveDeviceType(m.DeviceTypeID, m.Devices), nil
	}
	return 0, nil
}
