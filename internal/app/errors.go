package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted   = errors.New("service not started")
	ErrDuplicate    = errors.New("submission already received")
	ErrQueueFull    = errors.New("submission queue full")
	ErrEmptyPayload = errors.New("submission file is empty")
)
