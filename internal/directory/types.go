package directory

import (
	"fmt"
	"strings"
	"time"
)

// maxNameLength bounds entity names.
const maxNameLength = 128

// Network groups devices, typically one installation or site.
type Network struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DeviceType classifies devices across networks.
type DeviceType struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Device is a single addressable device.
type Device struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	NetworkID    int64     `json:"networkId"`
	DeviceTypeID int64     `json:"deviceTypeId,omitempty"`
	Blocked      bool      `json:"blocked,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Validate checks a network before it is saved.
func (n *Network) Validate() error {
	if n.ID <= 0 {
		return fmt.Errorf("%w: network id must be positive", ErrInvalid)
	}
	return validateName(n.Name)
}

// Validate checks a device type before it is saved.
func (t *DeviceType) Validate() error {
	if t.ID <= 0 {
		return fmt.Errorf("%w: device type id must be positive", ErrInvalid)
	}
	return validateName(t.Name)
}

// Validate checks a device before it is saved.
func (d *Device) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalid)
	}
	if strings.ContainsAny(d.ID, ",*") {
		return fmt.Errorf("%w: device id cannot contain ',' or '*'", ErrInvalid)
	}
	if d.NetworkID <= 0 {
		return fmt.Errorf("%w: device network id is required", ErrInvalid)
	}
	if d.DeviceTypeID < 0 {
		return fmt.Errorf("%w: device type id cannot be negative", ErrInvalid)
	}
	return validateName(d.Name)
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalid, maxNameLength)
	}
	return nil
}
