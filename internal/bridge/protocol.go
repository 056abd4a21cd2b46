package bridge

import (
	"encoding/json"
	"fmt"
)

// Op is a bridge frame operation.
type Op string

// Frame operations.
const (
	OpCreateTopic Op = "create_topic"
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
	OpPublish     Op = "publish"
	OpDeliver     Op = "deliver"
	OpPing        Op = "ping"
	OpAck         Op = "ack"
)

// Frame is one websocket text message in either direction.
//
// For deliver frames ID is the subscription id, which is the id of the
// subscribe frame that created it. Unsubscribe frames name it in Sub.
type Frame struct {
	ID      string `json:"id"`
	Op      Op     `json:"op"`
	Topic   string `json:"topic,omitempty"`
	Group   string `json:"group,omitempty"`
	Key     string `json:"key,omitempty"`
	Sub     string `json:"sub,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ack builds the acknowledgement for f. A nil err means success.
func ack(f Frame, err error) Frame {
	a := Frame{ID: f.ID, Op: OpAck}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

func encodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decoding bridge frame: %w", err)
	}
	if f.Op == "" {
		return Frame{}, fmt.Errorf("decoding bridge frame: missing op")
	}
	return f, nil
}
