package colloquy

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("colloquy: no store configured")
	ErrStoreClosed = errors.New("colloquy: store closed")

	// Not found errors.
	ErrSessionNotFound = errors.New("colloquy: session not found")
	ErrMessageNotFound = errors.New("colloquy: message not found")
	ErrTaskNotFound    = errors.New("colloquy: task not found")
	ErrClientNotFound  = errors.New("colloquy: client not found")
	ErrHandlerNotFound = errors.New("colloquy: handler not found")

	// Conflict errors.
	ErrSessionAlreadyExists = errors.New("colloquy: session already exists")
	ErrDuplicateHandler     = errors.New("colloquy: duplicate handler name for hook point")

	// Rejection errors.
	ErrOverCapacity = errors.New("colloquy: owner session cap reached")
	ErrInvalidState = errors.New("colloquy: session not in a valid state for this operation")
	ErrRateLimited  = errors.New("colloquy: owner send rate exceeded")

	// Hook errors.
	ErrUnknownPoint = errors.New("colloquy: unknown hook point")
)
