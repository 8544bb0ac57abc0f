package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrNotAuthorized      = errors.New("not authorized")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrTurnNotRunnable    = errors.New("turn is not in a runnable state")
	ErrUnknownTool        = errors.New("unknown tool")
	ErrStreamIdleTimeout  = errors.New("stream idle timeout")
	ErrInvalidExecContext = errors.New("invalid executor context")
)
