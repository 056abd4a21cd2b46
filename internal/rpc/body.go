package rpc

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// BodyFactory returns a new zero value of a registered body type.
type BodyFactory func() Body

var (
	bodiesMu sync.RWMutex
	bodies   = make(map[string]BodyFactory)
)

// RegisterBody makes a body type decodable by its action name.
// It panics if the action is empty or registered twice, or if the body
// type serializes its own "action" field, which would collide with the
// discriminator encodeBody writes.
func RegisterBody(action string, factory BodyFactory) {
	if action == "" || factory == nil {
		panic("rpc: RegisterBody with empty action or nil factory")
	}
	if hasActionField(reflect.TypeOf(factory())) {
		panic("rpc: RegisterBody body for " + action + " declares a JSON \"action\" field")
	}
	bodiesMu.Lock()
	defer bodiesMu.Unlock()
	if _, dup := bodies[action]; dup {
		panic("rpc: RegisterBody called twice for " + action)
	}
	bodies[action] = factory
}

// hasActionField reports whether t encodes a top-level JSON key matching
// "action". Field names match case-insensitively, as in encoding/json.
func hasActionField(t reflect.Type) bool {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" {
			if hasActionField(f.Type) {
				return true
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if strings.EqualFold(name, "action") {
			return true
		}
	}
	return false
}

func lookupBody(action string) (BodyFactory, bool) {
	bodiesMu.RLock()
	defer bodiesMu.RUnlock()
	f, ok := bodies[action]
	return f, ok
}

// RawBody holds a body whose action is not registered in this process.
// Servers answer it with CodeNotFound rather than failing to decode.
type RawBody struct {
	Name string
	Data json.RawMessage
}

// Action returns the unregistered action name.
func (b *RawBody) Action() string { return b.Name }

// MarshalJSON emits the original body bytes.
func (b *RawBody) MarshalJSON() ([]byte, error) {
	if len(b.Data) == 0 {
		return []byte("{}"), nil
	}
	return b.Data, nil
}

// encodeBody marshals b and injects its action as the "action" field.
func encodeBody(b Body) (json.RawMessage, error) {
	if b == nil {
		return nil, nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s body: %w", b.Action(), err)
	}
	if len(data) < 2 || data[0] != '{' {
		return nil, fmt.Errorf("%w: %s body is not a JSON object", ErrMalformed, b.Action())
	}
	action, err := json.Marshal(b.Action())
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(data)+len(action)+11)
	out = append(out, `{"action":`...)
	out = append(out, action...)
	if rest := data[1:]; len(rest) > 1 {
		out = append(out, ',')
		out = append(out, rest...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// decodeBody resolves the "action" field and unmarshals into the
// registered type. Unknown actions decode to *RawBody.
func decodeBody(raw json.RawMessage) (Body, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var head struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: body: %w", ErrMalformed, err)
	}
	if head.Action == "" {
		return nil, fmt.Errorf("%w: body has no action", ErrMalformed)
	}

	factory, ok := lookupBody(head.Action)
	if !ok {
		return &RawBody{Name: head.Action, Data: append(json.RawMessage(nil), raw...)}, nil
	}
	body := factory()
	if err := json.Unmarshal(raw, body); err != nil {
		return nil, fmt.Errorf("%w: %s body: %w", ErrMalformed, head.Action, err)
	}
	return body, nil
}
