// Package errs defines the sentinel errors shared across pressroom packages.
// Callers classify failures with errors.Is and wrap context with %w.
package errs

import "errors"

var (
	// configuration errors: not retryable without operator action
	ErrNotConfigured = errors.New("not configured")

	// media errors: the post survives, the media transformation did not
	ErrUnreadableMedia  = errors.New("unreadable media")
	ErrTranscodeFailed  = errors.New("transcode failed")
	ErrUnsupportedMedia = errors.New("unsupported media kind")

	// auth errors: recoverable by re-running the relevant handshake step
	ErrCodeInvalid      = errors.New("login code invalid")
	ErrCodeExpired      = errors.New("login code expired")
	ErrPasswordRequired = errors.New("two-factor password required")
	ErrNoPendingCode    = errors.New("no pending login code")
	ErrSessionInvalid   = errors.New("session invalid")

	// network errors: surfaced to the caller, never auto-retried here
	ErrSendFailed = errors.New("send failed")

	// storage errors: fatal to the operation, never to ledger consistency
	ErrStorage = errors.New("storage failure")

	ErrNotFound = errors.New("not found")
)
