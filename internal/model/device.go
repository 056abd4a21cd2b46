package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/hivelink/internal/eventbus"
)

// Event names used in subscription filters.
const (
	EventNotification  = "notification"
	EventCommand       = "command"
	EventCommandUpdate = "command_update"
)

// maxEventNameLength bounds notification and command names.
const maxEventNameLength = 128

// Command statuses set by the backend.
const (
	StatusPending = "pending"
)

// DeviceNotification is a message sent by a device.
type DeviceNotification struct {
	ID           int64           `json:"id"`
	DeviceID     string          `json:"deviceId"`
	NetworkID    int64           `json:"networkId,omitempty"`
	DeviceTypeID int64           `json:"deviceTypeId,omitempty"`
	Notification string          `json:"notification"`
	Timestamp    time.Time       `json:"timestamp"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
}

// Validate checks the fields a client must supply.
func (n *DeviceNotification) Validate() error {
	if strings.TrimSpace(n.DeviceID) == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalid)
	}
	return validateEventName("notification", n.Notification)
}

// Filter describes the notification for subscription matching.
func (n *DeviceNotification) Filter() eventbus.Filter {
	return eventbus.Filter{
		NetworkID:    n.NetworkID,
		DeviceTypeID: n.DeviceTypeID,
		DeviceID:     n.DeviceID,
		EventName:    EventNotification,
		Name:         n.Notification,
	}
}

// DeviceCommand is a message sent to a device. The device reports back
// through Status and Result.
type DeviceCommand struct {
	ID           int64           `json:"id"`
	DeviceID     string          `json:"deviceId"`
	NetworkID    int64           `json:"networkId,omitempty"`
	DeviceTypeID int64           `json:"deviceTypeId,omitempty"`
	Command      string          `json:"command"`
	Timestamp    time.Time       `json:"timestamp"`
	LastUpdated  time.Time       `json:"lastUpdated,omitzero"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Lifetime     int             `json:"lifetime,omitempty"`
	Status       string          `json:"status,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	IsUpdated    bool            `json:"isUpdated,omitempty"`
}

// Validate checks the fields a client must supply.
func (c *DeviceCommand) Validate() error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalid)
	}
	if c.Lifetime < 0 {
		return fmt.Errorf("%w: lifetime cannot be negative", ErrInvalid)
	}
	return validateEventName("command", c.Command)
}

// Filter describes the command for subscription matching.
func (c *DeviceCommand) Filter() eventbus.Filter {
	return eventbus.Filter{
		NetworkID:    c.NetworkID,
		DeviceTypeID: c.DeviceTypeID,
		DeviceID:     c.DeviceID,
		EventName:    EventCommand,
		Name:         c.Command,
	}
}

// UpdateFilter describes an update of the command. Update subscriptions
// are keyed by command id rather than name.
func (c *DeviceCommand) UpdateFilter() eventbus.Filter {
	return eventbus.Filter{
		NetworkID:    c.NetworkID,
		DeviceTypeID: c.DeviceTypeID,
		DeviceID:     c.DeviceID,
		EventName:    EventCommandUpdate,
		Name:         CommandKey(c.ID),
	}
}

// CommandKey is the filter name that selects updates of one command.
func CommandKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func validateEventName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s name is required", ErrInvalid, kind)
	}
	if len(name) > maxEventNameLength {
		return fmt.Errorf("%w: %s name exceeds %d characters", ErrInvalid, kind, maxEventNameLength)
	}
	if strings.ContainsAny(name, ",*") {
		return fmt.Errorf("%w: %s name cannot contain ',' or '*'", ErrInvalid, kind)
	}
	return nil
}
