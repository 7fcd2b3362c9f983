package service

import "errors"

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEvent = errors.New("duplicate event")
	ErrUpstream       = errors.New("upstream provider error")
	ErrUnsupported    = errors.New("not supported by recognizer backend")
)
