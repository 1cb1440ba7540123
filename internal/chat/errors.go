package chat

import "errors"

// Expected, user-facing outcomes vs infrastructure faults. Handlers map each
// sentinel to a stable HTTP status and app code; wrap with fmt.Errorf("%w: ...")
// to attach detail.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("resource not found")
	ErrPermission         = errors.New("permission denied")
	ErrModerationRejected = errors.New("message rejected by moderation")
	ErrBudgetExceeded     = errors.New("chat token budget exceeded")
	ErrUpstream           = errors.New("ai service unavailable")
	ErrConflict           = errors.New("concurrent session update")
)
