package server

import "errors"

var (
	ErrServerClosed         = errors.New("server: closed")
	ErrServerAlreadyRunning = errors.New("server: already running")
	ErrServerNotRunning     = errors.New("server: not running")
	ErrUnknownContainer     = errors.New("server: unknown container")
)
