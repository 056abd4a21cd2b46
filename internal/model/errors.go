package model

import "errors"

// ErrInvalid is returned when a body fails validation.
var ErrInvalid = errors.New("model: invalid body")
