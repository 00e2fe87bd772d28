package repo

import "errors"

// Common errors.
var (
	ErrUnavailable       = errors.New("document unavailable")
	ErrStorage           = errors.New("storage failure")
	ErrNotReady          = errors.New("document not ready")
	ErrDeleted           = errors.New("document deleted")
	ErrClosed            = errors.New("repo closed")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnknownPeer       = errors.New("unknown peer")
)

var errDuplicateHello = errors.New("duplicate hello")
