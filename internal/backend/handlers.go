package backend

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/hivelink/internal/directory"
	"github.com/nerrad567/hivelink/internal/dispatch"
	"github.com/nerrad567/hivelink/internal/eventbus"
	"github.com/nerrad567/hivelink/internal/infrastructure/influxdb"
	"github.com/nerrad567/hivelink/internal/model"
	"github.com/nerrad567/hivelink/internal/rpc"
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

// Archive stores device events for later querying.
// *influxdb.Client satisfies it.
type Archive interface {
	WriteDeviceEvent(ev influxdb.DeviceEvent)
}

// Handlers serves the backend actions.
//
// Thread Safety: all handlers are safe for concurrent use by dispatch workers.
type Handlers struct {
	replicator *eventbus.Replicator
	bus        *eventbus.EventBus
	directory  directory.Repository
	history    *history
	archive    Archive
	logger     Logger
	ids        atomic.Int64
}

// NewHandlers creates the handler set. historySize bounds how many
// notifications and commands are kept per device for snapshots.
func NewHandlers(replicator *eventbus.Replicator, bus *eventbus.EventBus, dir directory.Repository, historySize int) *Handlers {
	h := &Handlers{
		replicator: replicator,
		bus:        bus,
		directory:  dir,
		history:    newHistory(historySize),
		logger:     noopLogger{},
	}
	// Ids stay unique across restarts without a shared sequence.
	h.ids.Store(time.Now().UnixMicro())
	return h
}

// SetLogger sets the logger for the handlers.
func (h *Handlers) SetLogger(logger Logger) {
	h.logger = logger
}

// SetArchive attaches an event archive. Nil disables archiving.
func (h *Handlers) SetArchive(a Archive) {
	h.archive = a
}

// Register adds every backend action to router.
func (h *Handlers) Register(router *dispatch.Router) error {
	routes := map[string]dispatch.HandlerFunc{
		model.ActionNotificationInsert:      h.insertNotification,
		model.ActionNotificationSubscribe:   h.subscribeNotifications,
		model.ActionNotificationUnsubscribe: h.unsubscribe,
		model.ActionCommandInsert:           h.insertCommand,
		model.ActionCommandUpdate:           h.updateCommand,
		model.ActionCommandSubscribe:        h.subscribeCommands,
		model.ActionCommandUpdateSubscribe:  h.subscribeCommandUpdates,
		model.ActionCommandUnsubscribe:      h.unsubscribe,
		model.ActionNetworkSave:             h.saveNetwork,
		model.ActionNetworkDelete:           h.deleteNetwork,
		model.ActionDeviceTypeSave:          h.saveDeviceType,
		model.ActionDeviceTypeDelete:        h.deleteDeviceType,
		model.ActionDeviceSave:              h.saveDevice,
		model.ActionDeviceDelete:            h.deleteDevice,
		model.ActionSubscriptionList:        h.listSubscriptions,
	}
	var errs []error
	for action, fn := range routes {
		if err := router.HandleFunc(action, fn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handlers) insertNotification(ctx context.Context, req rpc.Request, _ dispatch.Stream) (rpc.Response, error) {
	body, err := bodyAs[*model.NotificationInsertRequest](req)
	if err != nil {
		return rpc.Response{}, err
	}
	n := body.Notification
	if err := n.Validate(); err != nil {
		return rpc.Response{}, statusError(err)
	}
	device, err := h.activeDevice(ctx, n.DeviceID)
	if err != nil {
		return rpc.Response{}, statusError(err)
	}

	n.ID = h.ids.Add(1)
	n.NetworkID = device.NetworkID
	n.DeviceTypeID = device.DeviceTypeID
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	h.history.addNotification(n)
	h.archiveEvent(influxdb.DeviceEvent{
		Kind:         influxdb.KindNotification,
		ID:           n.ID,
		DeviceID:     n.DeviceID,
		NetworkID:    n.NetworkID,
		DeviceTypeID: n.DeviceTypeID,
		Name:         n.Notification,
		Parameters:   string(n.Parameters),
		Timestamp:    n.Timestamp,
	})
	h.publish(ctx, &model.NotificationEvent{Notification: n})

	return rpc.Reply(req, &model.NotificationInsertResponse{Notification: n}), nil
}

func (h *Handlers) insertCommand(ctx context.Context, req rpc.Request, _ dispatch.Stream) (rpc.Response, error) {
	body, err := bodyAs[*model.CommandInsertRequest](req)
	if err != nil {
		return rpc.Response{}, err
	}
	c := body.Command
	if err := c.Validate(); err != nil {
		return rpc.Response{}, statusError(err)
	}
	device, err := h.activeDevice(ctx, c.DeviceID)
	if err != nil {
		return rpc.Response{}, statusError(err)
	}

	c.ID = h.ids.Add(1)
	c.NetworkID = device.NetworkID
	c.DeviceTypeID = device.DeviceTypeID
	c.IsUpdated = false
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	c.LastUpdated = c.Timestamp
	if c.Status == "" {
		c.Status = model.StatusPending
	}

	h.history.addCommand(c)
	h.archiveEvent(commandEvent(c))
	h.publish(ctx, &model.CommandEvent{Command: c})

	return rpc.Reply(req, &model.CommandInsertResponse{Command: c}), nil
}

func (h *Handlers) updateCommand(ctx context.Context, req rpc.Request, _ dispatch.Stream) (rpc.Response, error) {
	body, err := bodyAs[*model.CommandUpdateRequest](req)
	if err != nil {
		return rpc.Response{}, err
	}
	if err := body.Validate(); err != nil {
		return rpc.Response{}, statusError(err)
	}
	update := body.Command

	c, ok := h.history.updateCommand(update.DeviceID, update.ID, func(c *model.DeviceCommand) {
		if update.Status != "" {
			c.Status = update.Status
		}
		if len(update.Result) > 0 {
			c.Result = update.Result
		}
		c.LastUpdated = time.Now().UTC()
		c.IsUpdated = true
	})
	if !ok {
		return rpc.Response{}, statusError(fmt.Errorf("%w: %d on device %s", ErrCommandNotFound, update.ID, update.DeviceID))
	}

	h.archiveEvent(commandEvent(c))
	h.publish(ctx, &model.CommandUpdateEvent{Command: c})

	return rpc.Reply(req, &model.Ack{}), nil
}

func (h *Handlers) subscribeNotifications(ctx context.Context, req rpc.Request, stream dispatch.Stream) (rpc.Response, error) {
	body, err := bodyAs[*model.NotificationSubscribeRequest](req)
	if err != nil {
		return rpc.Response{}, err
	}
	filters, err := h.subscribe(ctx, req, &body.SubscribeParams, model.EventNotification)
	if err != nil {
		return rpc.Response{}, err
	}

	snapshot := &model.SubscribeResponse{
		SubscriptionID: body.SubscriptionID,
		Notifications:  h.history.matchingNotifications(filters, body.Since),
	}
	if err := stream.Send(ctx, rpc.Response{Body: snapshot}); err != nil {
		h.logger.Warn("sending notification snapshot failed", "subscription_id", body.SubscriptionID, "error", err)
	}
	return rpc.Reply(req, &model.SubscribeResponse{SubscriptionID: body.SubscriptionID}), nil
}

func (h *Handlers) subscribeCommands(ctx context.Context, req rpc.Request, stream dispatch.Stream) (rpc.Response, error) {
	body, err := bodyAs[*model.CommandSubscribeRequest](req)
	if err != nil {
		return rpc.Response{}, err
	}
	filters, err := h.subscribe(ctx, req, &body.SubscribeParams, model.EventCommand)
	if err != nil {
		return rpc.Response{}, err
	}

	snapshot := &model.SubscribeResponse{
		SubscriptionID: body.SubscriptionID,
		Commands:       h.history.matchingCommands(filters, body.Since),
	}
	if err := stream.Send(ctx, rpc.Response{Body: snapshot}); err != nil {
		h.logger.Warn("sending command snapshot failed", "subscription_id", body.SubscriptionID, "error", err)
	}
	return rpc.Reply(req, &model.SubscribeResponse{SubscriptionID: body.SubscriptionID}), nil
}

func (h *Handlers) subscribeCommandUpdates(ctx context.Context, req rpc.Request, stream dispatch.Stream) (rpc.Response, error) {
	body, err := bodyAs[*model.CommandUpdateSubscribeRequest](req)
	if err != nil {
		return rpc.Response{}, err
	}
	if err := body.Validate(); err != nil {
		return rpc.Response{}, statusError(err)
	}
	if req.ReplyTo == "" {
		return rpc.Response{}, statusError(ErrNoReplyTopic)
	}
	if _, err := h.activeDevice(ctx, body.DeviceID); err != nil {
		return rpc.Response{}, statusError(err)
	}
	c, ok := h.history.command(body.DeviceID, body.CommandID)
	if !ok {
		return rpc.Response{}, statusError(fmt.Errorf("%w: %d on device %s", ErrCommandNotFound, body.CommandID, body.DeviceID))
	}

	sub := eventbus.Subscriber{ReplyTo: req.ReplyTo, ID: body.SubscriptionID}
	if err := h.replicator.Register(ctx, c.UpdateFilter(), sub); err != nil {
		return rpc.Response{}, statusError(err)
	}

	snapshot := &model.SubscribeResponse{SubscriptionID: body.SubscriptionID}
	if c.IsUpdated {
		snapshot.Commands = []model.DeviceCommand{c}
	}
	if err := stream.Send(ctx, rpc.Response{Body: snapshot}); err != nil {
		h.logger.Warn("sending command update snapshot failed", "subscription_id", body.SubscriptionID, "error", err)
	}
	return rpc.Reply(req, &model.SubscribeResponse{SubscriptionID: body.SubscriptionID}), nil
}

// subscribe validates params, checks its scope and registers one filter
// per name. It returns the registered filters.
func (h *Handlers) subscribe(ctx context.Context, req rpc.Request, params *model.SubscribeParams, eventName string) ([]eventbus.Filter, error) {
	if err := params.Validate(); err != nil {
		return nil, statusError(err)
	}
	if req.ReplyTo == "" {
		return nil, statusError(ErrNoReplyTopic)
	}
	if err := h.checkScope(ctx, params.Filter); err != nil {
		return nil, statusError(err)
	}

	sub := eventbus.Subscriber{ReplyTo: req.ReplyTo, ID: params.SubscriptionID}
	filters := params.Filters(eventName)
	for _, f := range filters {
		if err := h.replicator.Register(ctx, f, sub); err != nil {
			// Roll back the names already registered so a failed call
			// leaves no half-subscription behind.
			if uerr := h.replicator.Unregister(ctx, sub); uerr != nil {
				h.logger.Warn("rolling back partial subscription failed", "subscription_id", sub.ID, "error", uerr)
			}
			return nil, statusError(err)
		}
	}

	h.logger.Debug("subscription registered",
		"subscription_id", sub.ID,
		"reply_to", sub.ReplyTo,
		"event", eventName,
		"filters", len(filters),
	)
	return filters, nil
}

// checkScope verifies that the entities a filter names exist and agree
// with each other.
func (h *Handlers) checkScope(ctx context.Context, f eventbus.Filter) error {
	if f.DeviceID != "" {
		device, err := h.activeDevice(ctx, f.DeviceID)
		if err != nil {
			return err
		}
		if f.NetworkID != 0 && f.NetworkID != device.NetworkID {
			return fmt.Errorf("%w: device %s is not in network %d", ErrScopeMismatch, device.ID, f.NetworkID)
		}
		if f.DeviceTypeID != 0 && f.DeviceTypeID != device.DeviceTypeID {
			return fmt.Errorf("%w: device %s is not of type %d", ErrScopeMismatch, device.ID, f.DeviceTypeID)
		}
		return nil
	}
	if f.NetworkID != 0 {
		if _, err := h.directory.GetNetwork(ctx, f.NetworkID); err != nil {
			return err
		}
	}
	if f.DeviceTypeID != 0 {
		if _, err := h.directory.GetDeviceType(ctx, f.DeviceTypeID); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) unsubscribe(ctx context.Context, req rpc.Request, _ dispatch.Stream) (rpc.Response, error) {
	var params *model.UnsubscribeParams
	switch body := req.Body.(type) {
	case *model.NotificationUnsubscribeRequest:
		params = &body.UnsubscribeParams
	case *model.CommandUnsubscribeRequest:
		params = &body.UnsubscribeParams
	default:
		return rpc.Response{}, unexpectedBody(req)
	}
	if err := params.Validate(); err != nil {
		return rpc.Response{}, statusError(err)
	}
	if req.ReplyTo == "" {
		return rpc.Response{}, statusError(ErrNoReplyTopic)
	}

	for _, id := range params.SubscriptionIDs {
		if err := h.replicator.Unregister(ctx, eventbus.Subscriber{ReplyTo: req.ReplyTo, ID: id}); err != nil {
			return rpc.Response{}, statusError(err)
		}
	}
	return rpc.Reply(req, &model.Ack{}), nil
}

func (h *Handlers) saveNetwork(ctx context.Context, req rpc.Request, _ dispatch.Stream) (rpc.Response, error) {
	body, err := bodyAs[*model.NetworkSaveRequest](req)
	if err != nil {
		return rpc.Response{}, err
	}
	if err := h.directory.SaveNetwork(ctx, &body.Network); err != nil {
		return rpc.Response{}, statusError(err)
	}
	return rpc.Reply(req, &model.Ack{}), nil
}

func (h *Handlers) saveDeviceType(ctx context.Context, req rpc.Request, _ dispatch.Stream) (rpc.Response, error) {
	body, err := bodyAs[*model.DeviceTypeSaveRequest](req)
	if err != nil {
		return rpc.Response{}, err
	}
	if err := h.directory.SaveDeviceType(ctx, &body.DeviceType); err != nil {
		return rpc.Response{}, statusError(err)
	}
	return rpc.Reply(req, &model.Ack{}), nil
}

func (h *Handlers) saveDevice(ctx context.Context, req rpc.Request, _ dispatch.Stream) (rpc.Response, error) {
	body, err := bodyAs[*model.DeviceSaveRequest](req)
	if err != nil {
		return rpc.Response{}, err
	}
	if err := h.directory.SaveDevice(ctx, &body.Device); err != nil {
		return rpc.Response{}, statusError(err)
	}
	return rpc.Reply(req, &model.Ack{}), nil
}

func (h *Handlers) deleteDevice(ctx context.Context, req rpc.Request, _ dispatch.Stream) (rpc.Response, error) {
	body, err := bodyAs[*model.DeviceDeleteRequest](req)
	if err != nil {
		return rpc.Response{}, err
	}
	if err := h.directory.DeleteDevice(ctx, body.DeviceID); err != nil {
		return rpc.Response{}, statusError(err)
	}
	if err := h.replicator.UnregisterDevices(ctx, body.DeviceID); err != nil {
		return rpc.Response{}, statusError(err)
	}
	h.history.forget(body.DeviceID)

	h.logger.Info("device deleted", "device_id", body.DeviceID)
	return rpc.Reply(req, &model.DeleteResponse{Devices: []string{body.DeviceID}}), nil
}

func (h *Handlers) deleteNetwork(ctx context.Context, req rpc.Request, _ dispatch.Stream) (rpc.Response, error) {
	body, err := bodyAs[*model.NetworkDeleteRequest](req)
	if err != nil {
		return rpc.Response{}, err
	}
	devices, err := h.directory.DeleteNetwork(ctx, body.NetworkID)
	if err != nil {
		return rpc.Response{}, statusError(err)
	}
	if err := h.replicator.UnregisterNetwork(ctx, body.NetworkID, devices); err != nil {
		return rpc.Response{}, statusError(err)
	}
	h.history.forget(devices...)

	h.logger.Info("network deleted", "network_id", body.NetworkID, "devices", len(devices))
	return rpc.Reply(req, &model.DeleteResponse{Devices: devices}), nil
}

func (h *Handlers) deleteDeviceType(ctx context.Context, req rpc.Request, _ dispatch.Stream) (rpc.Response, error) {
	body, err := bodyAs[*model.DeviceTypeDeleteRequest](req)
	if err != nil {
		return rpc.Response{}, err
	}
	devices, err := h.directory.DeleteDeviceType(ctx, body.DeviceTypeID)
	if err != nil {
		return rpc.Response{}, statusError(err)
	}
	if err := h.replicator.UnregisterDeviceType(ctx, body.DeviceTypeID, devices); err != nil {
		return rpc.Response{}, statusError(err)
	}
	h.history.forget(devices...)

	h.logger.Info("device type deleted", "device_type_id", body.DeviceTypeID, "devices", len(devices))
	return rpc.Reply(req, &model.DeleteResponse{Devices: devices}), nil
}

func (h *Handlers) listSubscriptions(_ context.Context, req rpc.Request, _ dispatch.Stream) (rpc.Response, error) {
	body, err := bodyAs[*model.SubscriptionListRequest](req)
	if err != nil {
		return rpc.Response{}, err
	}
	if req.ReplyTo == "" {
		return rpc.Response{}, statusError(ErrNoReplyTopic)
	}

	regs := h.replicator.Registry().Registrations(func(s eventbus.Subscriber) bool {
		return s.ReplyTo == req.ReplyTo && (body.SubscriptionID == "" || s.ID == body.SubscriptionID)
	})
	return rpc.Reply(req, &model.SubscriptionListResponse{Subscriptions: regs}), nil
}

// activeDevice looks up a device and refuses blocked ones.
func (h *Handlers) activeDevice(ctx context.Context, id string) (*directory.Device, error) {
	device, err := h.directory.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if device.Blocked {
		return nil, fmt.Errorf("%w: %s", ErrDeviceBlocked, id)
	}
	return device, nil
}

// publish pushes ev to its subscribers. Delivery failures are logged;
// the insert itself has already succeeded.
func (h *Handlers) publish(ctx context.Context, ev eventbus.Event) {
	if _, err := h.bus.Publish(ctx, ev); err != nil {
		h.logger.Warn("event delivery incomplete", "action", ev.Action(), "error", err)
	}
}

func (h *Handlers) archiveEvent(ev influxdb.DeviceEvent) {
	if h.archive != nil {
		h.archive.WriteDeviceEvent(ev)
	}
}

func commandEvent(c model.DeviceCommand) influxdb.DeviceEvent {
	return influxdb.DeviceEvent{
		Kind:         influxdb.KindCommand,
		ID:           c.ID,
		DeviceID:     c.DeviceID,
		NetworkID:    c.NetworkID,
		DeviceTypeID: c.DeviceTypeID,
		Name:         c.Command,
		Status:       c.Status,
		Updated:      c.IsUpdated,
		Parameters:   string(c.Parameters),
		Result:       string(c.Result),
		Timestamp:    c.LastUpdated,
	}
}

// bodyAs asserts the request body type. The router only sends an action
// to its own handler, so a mismatch means a malformed request.
func bodyAs[T rpc.Body](req rpc.Request) (T, error) {
	body, ok := req.Body.(T)
	if !ok {
		var zero T
		return zero, unexpectedBody(req)
	}
	return body, nil
}

func unexpectedBody(req rpc.Request) error {
	return rpc.NewError(rpc.CodeBadRequest, "unexpected body %T for action %s", req.Body, req.Action())
}
