package rpc

import (
	"encoding/json"
	"fmt"
)

type requestWire struct {
	CorrelationID       string          `json:"correlationId"`
	ReplyTo             string          `json:"replyTo,omitempty"`
	PartitionKey        string          `json:"partitionKey,omitempty"`
	SingleReplyExpected bool            `json:"singleReplyExpected,omitempty"`
	Type                RequestType     `json:"type"`
	ContentType         string          `json:"contentType,omitempty"`
	Body                json.RawMessage `json:"body,omitempty"`
}

type responseWire struct {
	CorrelationID string          `json:"correlationId"`
	Last          bool            `json:"last"`
	ErrorCode     int             `json:"errorCode,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
}

// EncodeRequest serialises a request envelope.
func EncodeRequest(r Request) ([]byte, error) {
	body, err := encodeBody(r.Body)
	if err != nil {
		return nil, err
	}
	typ := r.Type
	if typ == "" {
		typ = TypeClientRequest
	}
	return json.Marshal(requestWire{
		CorrelationID:       r.CorrelationID,
		ReplyTo:             r.ReplyTo,
		PartitionKey:        r.PartitionKey,
		SingleReplyExpected: r.SingleReplyExpected,
		Type:                typ,
		ContentType:         r.ContentType,
		Body:                body,
	})
}

// DecodeRequest parses a request envelope. When the envelope is valid but
// the body is not, the returned Request still carries the envelope fields
// (with a nil Body) alongside the error, so a server can reply with a
// failure instead of leaving the caller to time out.
func DecodeRequest(data []byte) (Request, error) {
	var w requestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Request{}, fmt.Errorf("%w: request: %w", ErrMalformed, err)
	}
	switch w.Type {
	case TypeClientRequest, TypePing:
	case "":
		w.Type = TypeClientRequest
	default:
		return Request{}, fmt.Errorf("%w: unknown request type %q", ErrMalformed, w.Type)
	}
	req := Request{
		CorrelationID:       w.CorrelationID,
		ReplyTo:             w.ReplyTo,
		PartitionKey:        w.PartitionKey,
		SingleReplyExpected: w.SingleReplyExpected,
		Type:                w.Type,
		ContentType:         w.ContentType,
	}
	body, err := decodeBody(w.Body)
	if err != nil {
		return req, err
	}
	req.Body = body
	return req, nil
}

// EncodeResponse serialises a response envelope.
func EncodeResponse(r Response) ([]byte, error) {
	body, err := encodeBody(r.Body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(responseWire{
		CorrelationID: r.CorrelationID,
		Last:          r.Last,
		ErrorCode:     r.ErrorCode,
		ErrorMessage:  r.ErrorMessage,
		Body:          body,
	})
}

// DecodeResponse parses a response envelope.
func DecodeResponse(data []byte) (Response, error) {
	var w responseWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Response{}, fmt.Errorf("%w: response: %w", ErrMalformed, err)
	}
	body, err := decodeBody(w.Body)
	if err != nil {
		return Response{}, err
	}
	return Response{
		CorrelationID: w.CorrelationID,
		Last:          w.Last,
		ErrorCode:     w.ErrorCode,
		ErrorMessage:  w.ErrorMessage,
		Body:          body,
	}, nil
}
