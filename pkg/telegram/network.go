// Package telegram drives the external messaging network: the login
// handshake state machine, the persisted session, and message dispatch.
package telegram

import (
	"context"

	"pressroom/pkg/media"
)

// Network is the four-capability boundary the core needs from any concrete
// messaging SDK. The gotd adapter in this package implements it against
// Telegram MTProto; tests substitute a fake.
type Network interface {
	// RequestCode asks the network to send a login code to phone and
	// returns the server-issued code hash the code is bound to.
	RequestCode(ctx context.Context, phone string) (codeHash string, err error)

	// VerifyCode completes the handshake with the code the operator
	// received. password is the optional second factor; it is only
	// consulted when the account requires one. On success the session
	// token has been persisted to durable storage before return.
	VerifyCode(ctx context.Context, phone, code, codeHash, password string) error

	// Send relays text plus an optional media file to destination.
	// mediaPath empty means text-only.
	Send(ctx context.Context, destination, text, mediaPath string, kind media.Kind) error

	// SessionValid reports whether the persisted session token is still
	// accepted by the network.
	SessionValid(ctx context.Context) (bool, error)
}
