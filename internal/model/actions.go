package model

import "github.com/nerrad567/hivelink/internal/rpc"

// Request actions.
const (
	ActionNotificationInsert      = "notification_insert"
	ActionNotificationSubscribe   = "notification_subscribe"
	ActionNotificationUnsubscribe = "notification_unsubscribe"
	ActionCommandInsert           = "command_insert"
	ActionCommandUpdate           = "command_update"
	ActionCommandSubscribe        = "command_subscribe"
	ActionCommandUpdateSubscribe  = "command_update_subscribe"
	ActionCommandUnsubscribe      = "command_unsubscribe"
	ActionNetworkSave             = "network_save"
	ActionNetworkDelete           = "network_delete"
	ActionDeviceTypeSave          = "device_type_save"
	ActionDeviceTypeDelete        = "device_type_delete"
	ActionDeviceSave              = "device_save"
	ActionDeviceDelete            = "device_delete"
	ActionSubscriptionList        = "subscription_list"
)

// Response and event actions.
const (
	ActionAck                        = "ack"
	ActionNotificationInsertResponse = "notification_insert_response"
	ActionCommandInsertResponse      = "command_insert_response"
	ActionSubscribeResponse          = "subscribe_response"
	ActionDeleteResponse             = "delete_response"
	ActionSubscriptionListResponse   = "subscription_list_response"
	ActionNotificationEvent          = "notification_event"
	ActionCommandEvent               = "command_event"
	ActionCommandUpdateEvent         = "command_update_event"
)

func init() {
	factories := map[string]rpc.BodyFactory{
		ActionNotificationInsert:      func() rpc.Body { return &NotificationInsertRequest{} },
		ActionNotificationSubscribe:   func() rpc.Body { return &NotificationSubscribeRequest{} },
		ActionNotificationUnsubscribe: func() rpc.Body { return &NotificationUnsubscribeRequest{} },
		ActionCommandInsert:           func() rpc.Body { return &CommandInsertRequest{} },
		ActionCommandUpdate:           func() rpc.Body { return &CommandUpdateRequest{} },
		ActionCommandSubscribe:        func() rpc.Body { return &CommandSubscribeRequest{} },
		ActionCommandUpdateSubscribe:  func() rpc.Body { return &CommandUpdateSubscribeRequest{} },
		ActionCommandUnsubscribe:      func() rpc.Body { return &CommandUnsubscribeRequest{} },
		ActionNetworkSave:             func() rpc.Body { return &NetworkSaveRequest{} },
		ActionNetworkDelete:           func() rpc.Body { return &NetworkDeleteRequest{} },
		ActionDeviceTypeSave:          func() rpc.Body { return &DeviceTypeSaveRequest{} },
		ActionDeviceTypeDelete:        func() rpc.Body { return &DeviceTypeDeleteRequest{} },
		ActionDeviceSave:              func() rpc.Body { return &DeviceSaveRequest{} },
		ActionDeviceDelete:            func() rpc.Body { return &DeviceDeleteRequest{} },
		ActionSubscriptionList:        func() rpc.Body { return &SubscriptionListRequest{} },

		ActionAck:                        func() rpc.Body { return &Ack{} },
		ActionNotificationInsertResponse: func() rpc.Body { return &NotificationInsertResponse{} },
		ActionCommandInsertResponse:      func() rpc.Body { return &CommandInsertResponse{} },
		ActionSubscribeResponse:          func() rpc.Body { return &SubscribeResponse{} },
		ActionDeleteResponse:             func() rpc.Body { return &DeleteResponse{} },
		ActionSubscriptionListResponse:   func() rpc.Body { return &SubscriptionListResponse{} },
		ActionNotificationEvent:          func() rpc.Body { return &NotificationEvent{} },
		ActionCommandEvent:               func() rpc.Body { return &CommandEvent{} },
		ActionCommandUpdateEvent:         func() rpc.Body { return &CommandUpdateEvent{} },
	}
	for action, f := range factories {
		rpc.RegisterBody(action, f)
	}
}
