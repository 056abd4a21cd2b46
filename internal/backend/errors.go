package backend

import (
	"errors"

	"github.com/nerrad567/hivelink/internal/directory"
	"github.com/nerrad567/hivelink/internal/eventbus"
	"github.com/nerrad567/hivelink/internal/model"
	"github.com/nerrad567/hivelink/internal/rpc"
)

// Scope errors.
var (
	// ErrDeviceBlocked is returned when a blocked device sends or is subscribed to.
	ErrDeviceBlocked = errors.New("backend: device is blocked")

	// ErrScopeMismatch is returned when a filter names a device outside its network or type.
	ErrScopeMismatch = errors.New("backend: device outside requested scope")

	// ErrCommandNotFound is returned when a command is not in the device history.
	ErrCommandNotFound = errors.New("backend: command not found")

	// ErrNoReplyTopic is returned when a subscription request was pushed without a reply topic.
	ErrNoReplyTopic = errors.New("backend: request has no reply topic")
)

// statusError maps domain errors onto response codes. Errors it does not
// recognise are returned unchanged and become internal failures.
func statusError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrInvalid),
		errors.Is(err, directory.ErrInvalid),
		errors.Is(err, eventbus.ErrInvalidFilter),
		errors.Is(err, eventbus.ErrInvalidSubscriber),
		errors.Is(err, eventbus.ErrInvalidSync),
		errors.Is(err, ErrNoReplyTopic):
		return rpc.NewError(rpc.CodeBadRequest, "%s", err)
	case errors.Is(err, ErrDeviceBlocked), errors.Is(err, ErrScopeMismatch):
		return rpc.NewError(rpc.CodeForbidden, "%s", err)
	case errors.Is(err, directory.ErrDeviceNotFound),
		errors.Is(err, directory.ErrNetworkNotFound),
		errors.Is(err, directory.ErrDeviceTypeNotFound),
		errors.Is(err, ErrCommandNotFound):
		return rpc.NewError(rpc.CodeNotFound, "%s", err)
	default:
		return err
	}
}
