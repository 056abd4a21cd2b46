package rpc

// RequestType distinguishes normal requests from transport pings.
type RequestType string

// Request types on the wire.
const (
	TypeClientRequest RequestType = "clientRequest"
	TypePing          RequestType = "ping"
)

// ActionPing is the routing action of ping requests.
const ActionPing = "ping"

// Body is a request or response payload. Action names its variant.
type Body interface {
	Action() string
}

// Request is a message sent to the request topic.
type Request struct {
	CorrelationID       string
	ReplyTo             string
	PartitionKey        string
	SingleReplyExpected bool
	Type                RequestType
	ContentType         string
	Body                Body
}

// Action returns the routing action: "ping" for pings, else the body's action.
func (r Request) Action() string {
	if r.Type == TypePing {
		return ActionPing
	}
	if r.Body == nil {
		return ""
	}
	return r.Body.Action()
}

// Response is a message sent to a caller's reply topic.
//
// For a call, CorrelationID echoes the request. For a subscription event
// it carries the subscription id. Last=false means more responses follow.
type Response struct {
	CorrelationID string
	Last          bool
	ErrorCode     int
	ErrorMessage  string
	Body          Body
}

// Failed reports whether the response carries an error code.
func (r Response) Failed() bool {
	return r.ErrorCode != 0
}

// Err returns the response failure as an *Error, or nil on success.
func (r Response) Err() error {
	if !r.Failed() {
		return nil
	}
	return &Error{Code: r.ErrorCode, Message: r.ErrorMessage}
}

// Reply builds a terminal success response for req.
func Reply(req Request, body Body) Response {
	return Response{CorrelationID: req.CorrelationID, Last: true, Body: body}
}

// Failure builds a terminal failed response for req.
func Failure(req Request, code int, message string) Response {
	return Response{CorrelationID: req.CorrelationID, Last: true, ErrorCode: code, ErrorMessage: message}
}

// Event builds a streaming push for a subscription.
func Event(subscriptionID string, body Body) Response {
	return Response{CorrelationID: subscriptionID, Last: false, Body: body}
}
