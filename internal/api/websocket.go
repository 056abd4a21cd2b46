package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/hivelink/internal/eventbus"
	"github.com/nerrad567/hivelink/internal/model"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// wsRequestTimeout bounds each backend call made for a client message.
const wsRequestTimeout = 10 * time.Second

// WSMessage is the envelope of every server-to-client frame.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsInbound is a client frame; Payload is decoded per Type.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload opens a stream.
//
// Event "notification" and "command" take Filter, Names and Since.
// "command_update" takes DeviceID and CommandID.
type WSSubscribePayload struct {
	Event          string          `json:"event"`
	SubscriptionID string          `json:"subscriptionId,omitempty"`
	Filter         eventbus.Filter `json:"filter"`
	Names          []string        `json:"names,omitempty"`
	Since          time.Time       `json:"since,omitzero"`
	DeviceID       string          `json:"deviceId,omitempty"`
	CommandID      int64           `json:"commandId,omitempty"`
}

// WSUnsubscribePayload closes a stream the session opened.
type WSUnsubscribePayload struct {
	SubscriptionID string `json:"subscriptionId"`
}

// dispatch routes one client frame.
func (ss *wsSession) dispatch(data []byte) {
	var in wsInbound
	if err := json.Unmarshal(data, &in); err != nil {
		ss.fail("", "", "invalid JSON message")
		return
	}

	switch in.Type {
	case WSTypePing:
		ss.reply(in.ID, WSTypePong, nil)
	case WSTypeSubscribe:
		var p WSSubscribePayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			ss.fail(in.ID, "", "invalid subscribe payload")
			return
		}
		ss.subscribe(in.ID, p)
	case WSTypeUnsubscribe:
		var p WSUnsubscribePayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			ss.fail(in.ID, "", "invalid unsubscribe payload")
			return
		}
		ss.unsubscribe(in.ID, p.SubscriptionID)
	default:
		ss.fail(in.ID, "", "unknown message type: "+in.Type)
	}
}

// subscribe opens a backend subscription whose events are relayed to the
// peer. The reply carries the subscription id and the history snapshot.
// Live events may reach the peer before the reply.
func (ss *wsSession) subscribe(reqID string, p WSSubscribePayload) {
	params := model.SubscribeParams{
		SubscriptionID: p.SubscriptionID,
		Filter:         p.Filter,
		Names:          p.Names,
		Since:          p.Since,
	}
	if params.SubscriptionID == "" {
		params.SubscriptionID = uuid.NewString()
	}
	subID := params.SubscriptionID

	ctx, cancel := context.WithTimeout(ss.ctx, wsRequestTimeout)
	defer cancel()

	var (
		id       string
		snapshot any
		err      error
	)
	switch p.Event {
	case model.EventNotification:
		var hist []model.DeviceNotification
		id, hist, err = ss.service.SubscribeNotifications(ctx, params, func(n model.DeviceNotification) {
			ss.event(subID, model.EventNotification, n)
		})
		snapshot = nonNilSlice(hist)
	case model.EventCommand:
		var hist []model.DeviceCommand
		id, hist, err = ss.service.SubscribeCommands(ctx, params, func(c model.DeviceCommand) {
			ss.event(subID, model.EventCommand, c)
		})
		snapshot = nonNilSlice(hist)
	case model.EventCommandUpdate:
		var hist []model.DeviceCommand
		id, hist, err = ss.service.SubscribeCommandUpdates(ctx, p.DeviceID, p.CommandID, func(c model.DeviceCommand) {
			ss.event(model.CommandKey(c.ID), model.EventCommandUpdate, c)
		})
		snapshot = nonNilSlice(hist)
	default:
		ss.fail(reqID, "", "unknown event: "+p.Event)
		return
	}
	if err != nil {
		_, code := errorStatus(err)
		ss.fail(reqID, code, err.Error())
		return
	}

	ss.mu.Lock()
	ss.subs[id] = struct{}{}
	ss.mu.Unlock()

	ss.hub.logger.Info("websocket subscription opened", "event", p.Event, "subscription_id", id)
	ss.reply(reqID, WSTypeResponse, map[string]any{
		"subscriptionId": id,
		"snapshot":       snapshot,
	})
}

// unsubscribe releases a subscription this session owns.
func (ss *wsSession) unsubscribe(reqID, subID string) {
	ss.mu.Lock()
	_, owned := ss.subs[subID]
	delete(ss.subs, subID)
	ss.mu.Unlock()
	if !owned {
		ss.fail(reqID, "", "unknown subscription: "+subID)
		return
	}

	ctx, cancel := context.WithTimeout(ss.ctx, wsRequestTimeout)
	defer cancel()
	if err := ss.service.Unsubscribe(ctx, subID); err != nil {
		_, code := errorStatus(err)
		ss.fail(reqID, code, err.Error())
		return
	}
	ss.reply(reqID, WSTypeResponse, map[string]any{"unsubscribed": subID})
}

// releaseSubscriptions drops whatever the session still holds. It runs
// after the peer left, possibly during shutdown, so it detaches from the
// server context's cancellation.
func (ss *wsSession) releaseSubscriptions() {
	ss.mu.Lock()
	subs := ss.subs
	ss.subs = make(map[string]struct{})
	ss.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ss.ctx), wsRequestTimeout)
	defer cancel()
	for id := range subs {
		if err := ss.service.Unsubscribe(ctx, id); err != nil {
			ss.hub.logger.Warn("releasing websocket subscription failed", "subscription_id", id, "error", err)
		}
	}
}

func (ss *wsSession) event(id, eventType string, payload any) {
	ss.write(WSMessage{Type: WSTypeEvent, ID: id, EventType: eventType, Payload: payload})
}

func (ss *wsSession) reply(id, msgType string, payload any) {
	ss.write(WSMessage{Type: msgType, ID: id, Payload: payload})
}

// fail sends an error frame. code is omitted when empty.
func (ss *wsSession) fail(id, code, message string) {
	body := map[string]string{"message": message}
	if code != "" {
		body["code"] = code
	}
	ss.reply(id, WSTypeError, body)
}

func (ss *wsSession) write(msg WSMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		ss.hub.logger.Error("encoding websocket frame failed", "type", msg.Type, "error", err)
		return
	}
	ss.enqueue(data)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
