package model

import "errors"

var (
	ErrUnknownValue      = errors.New("unknown enum value")
	ErrInvalidTransition = errors.New("invalid outbox status transition")
	ErrPayloadRequired   = errors.New("outbox payload is required")
)
