package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/hivelink/internal/directory"
	"github.com/nerrad567/hivelink/internal/eventbus"
)

// NotificationInsertRequest stores and publishes a notification.
type NotificationInsertRequest struct {
	Notification DeviceNotification `json:"notification"`
}

// Action implements rpc.Body.
func (*NotificationInsertRequest) Action() string { return ActionNotificationInsert }

// NotificationInsertResponse returns the notification as stored, with its
// id, timestamp and device scope filled in.
type NotificationInsertResponse struct {
	Notification DeviceNotification `json:"notification"`
}

// Action implements rpc.Body.
func (*NotificationInsertResponse) Action() string { return ActionNotificationInsertResponse }

// CommandInsertRequest stores and publishes a command.
type CommandInsertRequest struct {
	Command DeviceCommand `json:"command"`
}

// Action implements rpc.Body.
func (*CommandInsertRequest) Action() string { return ActionCommandInsert }

// CommandInsertResponse returns the command as stored.
type CommandInsertResponse struct {
	Command DeviceCommand `json:"command"`
}

// Action implements rpc.Body.
func (*CommandInsertResponse) Action() string { return ActionCommandInsertResponse }

// CommandUpdateRequest reports a command's status and result. Command.ID
// and Command.DeviceID select the command.
type CommandUpdateRequest struct {
	Command DeviceCommand `json:"command"`
}

// Action implements rpc.Body.
func (*CommandUpdateRequest) Action() string { return ActionCommandUpdate }

// Validate requires the command's identity.
func (r *CommandUpdateRequest) Validate() error {
	if r.Command.ID == 0 {
		return fmt.Errorf("%w: command id is required", ErrInvalid)
	}
	if strings.TrimSpace(r.Command.DeviceID) == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalid)
	}
	return nil
}

// SubscribeParams are shared by the notification and command subscribe
// requests. Each name yields one filter; no names subscribes to every name.
// Since, when set, limits the initial snapshot to events at or after it.
type SubscribeParams struct {
	SubscriptionID string          `json:"subscriptionId"`
	Filter         eventbus.Filter `json:"filter"`
	Names          []string        `json:"names,omitempty"`
	Since          time.Time       `json:"since,omitzero"`
}

// Validate checks the subscription id and the filter.
func (p *SubscribeParams) Validate() error {
	if strings.TrimSpace(p.SubscriptionID) == "" {
		return fmt.Errorf("%w: subscription id is required", ErrInvalid)
	}
	for _, f := range p.Filters("") {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

// Filters returns the registry filters for eventName, one per distinct name.
func (p *SubscribeParams) Filters(eventName string) []eventbus.Filter {
	base := p.Filter
	base.EventName = eventName
	if len(p.Names) == 0 {
		return []eventbus.Filter{base}
	}

	seen := make(map[string]struct{}, len(p.Names))
	out := make([]eventbus.Filter, 0, len(p.Names))
	for _, name := range p.Names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		f := base
		f.Name = name
		out = append(out, f)
	}
	return out
}

// NotificationSubscribeRequest subscribes to notifications.
type NotificationSubscribeRequest struct {
	SubscribeParams
}

// Action implements rpc.Body.
func (*NotificationSubscribeRequest) Action() string { return ActionNotificationSubscribe }

// CommandSubscribeRequest subscribes to inserted commands.
type CommandSubscribeRequest struct {
	SubscribeParams
}

// Action implements rpc.Body.
func (*CommandSubscribeRequest) Action() string { return ActionCommandSubscribe }

// CommandUpdateSubscribeRequest subscribes to updates of one command.
type CommandUpdateSubscribeRequest struct {
	SubscriptionID string `json:"subscriptionId"`
	DeviceID       string `json:"deviceId"`
	CommandID      int64  `json:"commandId"`
}

// Action implements rpc.Body.
func (*CommandUpdateSubscribeRequest) Action() string { return ActionCommandUpdateSubscribe }

// Validate requires all fields.
func (r *CommandUpdateSubscribeRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.SubscriptionID) == "":
		return fmt.Errorf("%w: subscription id is required", ErrInvalid)
	case strings.TrimSpace(r.DeviceID) == "":
		return fmt.Errorf("%w: device id is required", ErrInvalid)
	case r.CommandID == 0:
		return fmt.Errorf("%w: command id is required", ErrInvalid)
	}
	return nil
}

// SubscribeResponse carries a subscription's snapshot of recent events
// (non-terminal response) or its acknowledgement (terminal response).
type SubscribeResponse struct {
	SubscriptionID string               `json:"subscriptionId"`
	Notifications  []DeviceNotification `json:"notifications,omitempty"`
	Commands       []DeviceCommand      `json:"commands,omitempty"`
}

// Action implements rpc.Body.
func (*SubscribeResponse) Action() string { return ActionSubscribeResponse }

// UnsubscribeParams name the subscriptions to remove.
type UnsubscribeParams struct {
	SubscriptionIDs []string `json:"subscriptionIds"`
}

// Validate requires at least one non-empty id.
func (p *UnsubscribeParams) Validate() error {
	if len(p.SubscriptionIDs) == 0 {
		return fmt.Errorf("%w: subscription ids are required", ErrInvalid)
	}
	for _, id := range p.SubscriptionIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: empty subscription id", ErrInvalid)
		}
	}
	return nil
}

// NotificationUnsubscribeRequest removes notification subscriptions.
type NotificationUnsubscribeRequest struct {
	UnsubscribeParams
}

// Action implements rpc.Body.
func (*NotificationUnsubscribeRequest) Action() string { return ActionNotificationUnsubscribe }

// CommandUnsubscribeRequest removes command subscriptions.
type CommandUnsubscribeRequest struct {
	UnsubscribeParams
}

// Action implements rpc.Body.
func (*CommandUnsubscribeRequest) Action() string { return ActionCommandUnsubscribe }

// NetworkSaveRequest creates or updates a network.
type NetworkSaveRequest struct {
	Network directory.Network `json:"network"`
}

// Action implements rpc.Body.
func (*NetworkSaveRequest) Action() string { return ActionNetworkSave }

// DeviceTypeSaveRequest creates or updates a device type.
type DeviceTypeSaveRequest struct {
	DeviceType directory.DeviceType `json:"deviceType"`
}

// Action implements rpc.Body.
func (*DeviceTypeSaveRequest) Action() string { return ActionDeviceTypeSave }

// DeviceSaveRequest creates or updates a device.
type DeviceSaveRequest struct {
	Device directory.Device `json:"device"`
}

// Action implements rpc.Body.
func (*DeviceSaveRequest) Action() string { return ActionDeviceSave }

// NetworkDeleteRequest deletes a network with its devices and subscriptions.
type NetworkDeleteRequest struct {
	NetworkID int64 `json:"networkId"`
}

// Action implements rpc.Body.
func (*NetworkDeleteRequest) Action() string { return ActionNetworkDelete }

// DeviceTypeDeleteRequest deletes a device type with its devices and subscriptions.
type DeviceTypeDeleteRequest struct {
	DeviceTypeID int64 `json:"deviceTypeId"`
}

// Action implements rpc.Body.
func (*DeviceTypeDeleteRequest) Action() string { return ActionDeviceTypeDelete }

// DeviceDeleteRequest deletes a device and its subscriptions.
type DeviceDeleteRequest struct {
	DeviceID string `json:"deviceId"`
}

// Action implements rpc.Body.
func (*DeviceDeleteRequest) Action() string { return ActionDeviceDelete }

// DeleteResponse lists the devices a delete removed.
type DeleteResponse struct {
	Devices []string `json:"devices,omitempty"`
}

// Action implements rpc.Body.
func (*DeleteResponse) Action() string { return ActionDeleteResponse }

// SubscriptionListRequest lists the caller's subscriptions. A non-empty
// SubscriptionID narrows the list to that subscription.
type SubscriptionListRequest struct {
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

// Action implements rpc.Body.
func (*SubscriptionListRequest) Action() string { return ActionSubscriptionList }

// SubscriptionListResponse holds registrations ordered by subscription id.
type SubscriptionListResponse struct {
	Subscriptions []eventbus.Registration `json:"subscriptions"`
}

// Action implements rpc.Body.
func (*SubscriptionListResponse) Action() string { return ActionSubscriptionListResponse }

// Ack is an empty success body.
type Ack struct{}

// Action implements rpc.Body.
func (*Ack) Action() string { return ActionAck }
