package chrome

import "errors"

// Render errors - returned during page rendering
var (
	ErrRenderTimeout  = errors.New("page load deadline exceeded")
	ErrNavigateFailed = errors.New("navigation failed")
	ErrExtractHTML    = errors.New("HTML extraction failed")
)

// Pool errors - returned during lease management
var (
	ErrPoolShutdown  = errors.New("pool is shutting down")
	ErrInstanceDead  = errors.New("chrome instance is dead")
	ErrRestartFailed = errors.New("chrome restart failed")
)
