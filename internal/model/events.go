package model

import "github.com/nerrad567/hivelink/internal/eventbus"

// NotificationEvent is pushed to notification subscribers.
type NotificationEvent struct {
	Notification DeviceNotification `json:"notification"`
}

// Action implements rpc.Body.
func (*NotificationEvent) Action() string { return ActionNotificationEvent }

// EventFilter implements eventbus.Event.
func (e *NotificationEvent) EventFilter() eventbus.Filter { return e.Notification.Filter() }

// CommandEvent is pushed to command subscribers when a command is inserted.
type CommandEvent struct {
	Command DeviceCommand `json:"command"`
}

// Action implements rpc.Body.
func (*CommandEvent) Action() string { return ActionCommandEvent }

// EventFilter implements eventbus.Event.
func (e *CommandEvent) EventFilter() eventbus.Filter { return e.Command.Filter() }

// CommandUpdateEvent is pushed to subscribers of one command's updates.
type CommandUpdateEvent struct {
	Command DeviceCommand `json:"command"`
}

// Action implements rpc.Body.
func (*CommandUpdateEvent) Action() string { return ActionCommandUpdateEvent }

// EventFilter implements eventbus.Event.
func (e *CommandUpdateEvent) EventFilter() eventbus.Filter { return e.Command.UpdateFilter() }

var (
	_ eventbus.Event = (*NotificationEvent)(nil)
	_ eventbus.Event = (*CommandEvent)(nil)
	_ eventbus.Event = (*CommandUpdateEvent)(nil)
)
