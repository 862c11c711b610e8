package admin

import "errors"

var (
	ErrSelfAction      = errors.New("cannot ban yourself")
	ErrTargetIsAdmin   = errors.New("cannot ban other administrators")
	ErrInvalidDuration = errors.New("duration must be at least 1 hour")
	ErrNotFound        = errors.New("target not found")
)
