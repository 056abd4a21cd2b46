package frontend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/hivelink/internal/directory"
	"github.com/nerrad567/hivelink/internal/eventbus"
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

// subscription kinds, which select the unsubscribe action.
const (
	kindNotification = "notification"
	kindCommand      = "command"
)

// Service issues backend requests over an RPC client.
//
// Thread Safety: all methods are safe for concurrent use.
type Service struct {
	client *rpc.Client
	logger Logger

	mu   sync.Mutex
	subs map[string]string // subscription id -> kind
}

// NewService creates a service on a started client.
func NewService(client *rpc.Client) *Service {
	return &Service{
		client: client,
		logger: noopLogger{},
		subs:   make(map[string]string),
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// InsertNotification stores a notification and returns it as the backend
// recorded it.
func (s *Service) InsertNotification(ctx context.Context, n model.DeviceNotification) (model.DeviceNotification, error) {
	if err := n.Validate(); err != nil {
		return model.DeviceNotification{}, err
	}
	resp, err := callAs[*model.NotificationInsertResponse](ctx, s, n.DeviceID, &model.NotificationInsertRequest{Notification: n})
	if err != nil {
		return model.DeviceNotification{}, err
	}
	return resp.Notification, nil
}

// InsertCommand stores a command and returns it as the backend recorded it.
func (s *Service) InsertCommand(ctx context.Context, c model.DeviceCommand) (model.DeviceCommand, error) {
	if err := c.Validate(); err != nil {
		return model.DeviceCommand{}, err
	}
	resp, err := callAs[*model.CommandInsertResponse](ctx, s, c.DeviceID, &model.CommandInsertRequest{Command: c})
	if err != nil {
		return model.DeviceCommand{}, err
	}
	return resp.Command, nil
}

// UpdateCommand reports a command's status and result.
func (s *Service) UpdateCommand(ctx context.Context, c model.DeviceCommand) error {
	req := &model.CommandUpdateRequest{Command: c}
	if err := req.Validate(); err != nil {
		return err
	}
	_, err := callAs[*model.Ack](ctx, s, c.DeviceID, req)
	return err
}

// SubscribeNotifications subscribes to notifications. onEvent receives
// each pushed notification. It returns the subscription id and the
// backend's snapshot of recent matching notifications.
func (s *Service) SubscribeNotifications(ctx context.Context, params model.SubscribeParams, onEvent func(model.DeviceNotification)) (string, []model.DeviceNotification, error) {
	if params.SubscriptionID == "" {
		params.SubscriptionID = uuid.NewString()
	}
	listener := func(resp rpc.Response, err error) {
		if err != nil {
			return
		}
		if ev, ok := resp.Body.(*model.NotificationEvent); ok {
			onEvent(ev.Notification)
		}
	}

	snapshot, err := s.subscribe(ctx, kindNotification, params.SubscriptionID, params.Filter.DeviceID,
		&model.NotificationSubscribeRequest{SubscribeParams: params}, listener)
	if err != nil {
		return "", nil, err
	}
	return params.SubscriptionID, snapshot.Notifications, nil
}

// SubscribeCommands subscribes to inserted commands.
func (s *Service) SubscribeCommands(ctx context.Context, params model.SubscribeParams, onEvent func(model.DeviceCommand)) (string, []model.DeviceCommand, error) {
	if params.SubscriptionID == "" {
		params.SubscriptionID = uuid.NewString()
	}
	listener := func(resp rpc.Response, err error) {
		if err != nil {
			return
		}
		if ev, ok := resp.Body.(*model.CommandEvent); ok {
			onEvent(ev.Command)
		}
	}

	snapshot, err := s.subscribe(ctx, kindCommand, params.SubscriptionID, params.Filter.DeviceID,
		&model.CommandSubscribeRequest{SubscribeParams: params}, listener)
	if err != nil {
		return "", nil, err
	}
	return params.SubscriptionID, snapshot.Commands, nil
}

// SubscribeCommandUpdates subscribes to status updates of one command.
// The snapshot holds the command if it has already been updated.
func (s *Service) SubscribeCommandUpdates(ctx context.Context, deviceID string, commandID int64, onUpdate func(model.DeviceCommand)) (string, []model.DeviceCommand, error) {
	req := &model.CommandUpdateSubscribeRequest{
		SubscriptionID: uuid.NewString(),
		DeviceID:       deviceID,
		CommandID:      commandID,
	}
	if err := req.Validate(); err != nil {
		return "", nil, err
	}
	listener := func(resp rpc.Response, err error) {
		if err != nil {
			return
		}
		if ev, ok := resp.Body.(*model.CommandUpdateEvent); ok {
			onUpdate(ev.Command)
		}
	}

	snapshot, err := s.subscribe(ctx, kindCommand, req.SubscriptionID, deviceID, req, listener)
	if err != nil {
		return "", nil, err
	}
	return req.SubscriptionID, snapshot.Commands, nil
}

// subscribe registers the listener before sending so that no pushed event
// can arrive unrouted, and removes it again if the backend refuses.
func (s *Service) subscribe(ctx context.Context, kind, id, partitionKey string, body rpc.Body, listener rpc.Callback) (*model.SubscribeResponse, error) {
	s.client.Listen(id, listener)

	snapshot := &model.SubscribeResponse{SubscriptionID: id}
	resp, err := s.client.CallStream(ctx, rpc.Request{PartitionKey: partitionKey, Body: body}, func(partial rpc.Response) {
		if sr, ok := partial.Body.(*model.SubscribeResponse); ok {
			snapshot = sr
		}
	})
	if err != nil {
		s.client.StopListening(id)
		return nil, err
	}
	if _, ok := resp.Body.(*model.SubscribeResponse); !ok {
		s.client.StopListening(id)
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedResponse, resp.Body)
	}

	s.mu.Lock()
	s.subs[id] = kind
	s.mu.Unlock()

	s.logger.Debug("subscribed", "subscription_id", id, "kind", kind)
	return snapshot, nil
}

// Unsubscribe removes a subscription created by this service.
func (s *Service) Unsubscribe(ctx context.Context, subscriptionID string) error {
	s.mu.Lock()
	kind, ok := s.subs[subscriptionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, subscriptionID)
	}

	params := model.UnsubscribeParams{SubscriptionIDs: []string{subscriptionID}}
	var body rpc.Body = &model.NotificationUnsubscribeRequest{UnsubscribeParams: params}
	if kind == kindCommand {
		body = &model.CommandUnsubscribeRequest{UnsubscribeParams: params}
	}
	if _, err := callAs[*model.Ack](ctx, s, "", body); err != nil {
		return err
	}

	s.client.StopListening(subscriptionID)
	s.mu.Lock()
	delete(s.subs, subscriptionID)
	s.mu.Unlock()
	return nil
}

// Subscriptions returns the ids of this service's live subscriptions.
func (s *Service) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	return ids
}

// ListSubscriptions asks the backend for this node's registrations.
func (s *Service) ListSubscriptions(ctx context.Context) ([]eventbus.Registration, error) {
	resp, err := callAs[*model.SubscriptionListResponse](ctx, s, "", &model.SubscriptionListRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Subscriptions, nil
}

// SaveNetwork creates or updates a network.
func (s *Service) SaveNetwork(ctx context.Context, n directory.Network) error {
	if err := n.Validate(); err != nil {
		return err
	}
	_, err := callAs[*model.Ack](ctx, s, "", &model.NetworkSaveRequest{Network: n})
	return err
}

// SaveDeviceType creates or updates a device type.
func (s *Service) SaveDeviceType(ctx context.Context, t directory.DeviceType) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := callAs[*model.Ack](ctx, s, "", &model.DeviceTypeSaveRequest{DeviceType: t})
	return err
}

// SaveDevice creates or updates a device.
func (s *Service) SaveDevice(ctx context.Context, d directory.Device) error {
	if err := d.Validate(); err != nil {
		return err
	}
	_, err := callAs[*model.Ack](ctx, s, d.ID, &model.DeviceSaveRequest{Device: d})
	return err
}

// DeleteDevice deletes a device and its subscriptions.
func (s *Service) DeleteDevice(ctx context.Context, deviceID string) error {
	_, err := callAs[*model.DeleteResponse](ctx, s, deviceID, &model.DeviceDeleteRequest{DeviceID: deviceID})
	return err
}

// DeleteNetwork deletes a network and returns the ids of its removed devices.
func (s *Service) DeleteNetwork(ctx context.Context, networkID int64) ([]string, error) {
	resp, err := callAs[*model.DeleteResponse](ctx, s, "", &model.NetworkDeleteRequest{NetworkID: networkID})
	if err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// DeleteDeviceType deletes a device type and returns the ids of its removed devices.
func (s *Service) DeleteDeviceType(ctx context.Context, deviceTypeID int64) ([]string, error) {
	resp, err := callAs[*model.DeleteResponse](ctx, s, "", &model.DeviceTypeDeleteRequest{DeviceTypeID: deviceTypeID})
	if err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// Close removes every subscription this service still holds.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for _, id := range s.Subscriptions() {
		if err := s.Unsubscribe(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// callAs sends body and asserts the terminal response body type.
func callAs[T rpc.Body](ctx context.Context, s *Service, partitionKey string, body rpc.Body) (T, error) {
	var zero T
	resp, err := s.client.CallSync(ctx, rpc.Request{PartitionKey: partitionKey, Body: body})
	if err != nil {
		return zero, err
	}
	out, ok := resp.Body.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T for %s", ErrUnexpectedResponse, resp.Body, body.Action())
	}
	return out, nil
}
