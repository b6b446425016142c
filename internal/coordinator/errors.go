package coordinator

import "errors"

// Sentinel error kinds (spec.md §7), mapped to HTTP status codes by
// internal/httpapi. The teacher never needed named sentinels since it
// has no HTTP surface to branch on; this repo collects them so the
// engine and the HTTP layer agree on vocabulary without the HTTP layer
// string-matching error messages.
var (
	ErrNotFound            = errors.New("coordinator: not found")
	ErrPreconditionFailed  = errors.New("coordinator: precondition failed")
	ErrBadRequest          = errors.New("coordinator: bad request")
	ErrGone                = errors.New("coordinator: gone")
	ErrServiceUnavailable  = errors.New("coordinator: service unavailable")
	ErrInternal            = errors.New("coordinator: internal error")
)
