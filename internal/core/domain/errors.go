package domain

import "errors"

var (
	ErrSessionActive       = errors.New("session already active")
	ErrNotConnected        = errors.New("not connected")
	ErrNoActiveNegotiation = errors.New("no active negotiation")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrTrackNotFound       = errors.New("track not found")
	ErrTrackExists         = errors.New("track already registered")
	ErrNoDecoder           = errors.New("no decoder registered for codec")
	ErrPipelineClosed      = errors.New("pipeline closed")
	ErrUnknownEvent        = errors.New("unknown server event")
	ErrUnknownMessage      = errors.New("unknown signaling message")
)
