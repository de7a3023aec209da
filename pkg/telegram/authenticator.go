package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"pressroom/pkg/errs"
	"pressroom/pkg/settings"
)

// State is the authenticator's position in the login handshake.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateCodeRequested   State = "code_requested"
	StateAuthenticated   State = "authenticated"
	StateCodeExpired     State = "code_expired"
	StateCodeInvalid     State = "code_invalid"
)

// Authenticator drives the multi-step login handshake and owns the persisted
// session. Durable handshake state (pending code hash, the phone it is bound
// to, the authorized flag) lives in the settings store so it survives a
// restart; the outcome of the last failed submit is kept in memory only, as
// it merely tells the operator which step to redo.
type Authenticator struct {
	net         Network
	store       *settings.Store
	sessionPath string
	logger      *zap.Logger

	mu          sync.Mutex
	lastFailure error
}

// NewAuthenticator wires the state machine to a network client and the
// settings store. sessionPath is the durable session token artifact, removed
// on invalidation.
func NewAuthenticator(net Network, store *settings.Store, sessionPath string, logger *zap.Logger) *Authenticator {
	return &Authenticator{net: net, store: store, sessionPath: sessionPath, logger: logger}
}

// State derives the current handshake state.
func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state()
}

func (a *Authenticator) state() State {
	s, err := a.store.Load()
	if err != nil {
		a.logger.Error("failed to load settings for auth state", zap.Error(err))
		return StateUnauthenticated
	}
	if s.SessionAuthorized {
		return StateAuthenticated
	}
	switch {
	case errors.Is(a.lastFailure, errs.ErrCodeExpired):
		return StateCodeExpired
	case errors.Is(a.lastFailure, errs.ErrCodeInvalid):
		return StateCodeInvalid
	}
	if s.PhoneCodeHash != "" {
		return StateCodeRequested
	}
	return StateUnauthenticated
}

// RequestCode starts (or restarts) the handshake for phone. It fails with
// ErrNotConfigured when the account identity is missing. On success the
// returned code hash is persisted, bound to the phone it was issued for.
func (a *Authenticator) RequestCode(ctx context.Context, phone string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.store.Load()
	if err != nil {
		return err
	}
	if !s.HasAPICredentials() {
		return fmt.Errorf("%w: telegram api id/hash missing", errs.ErrNotConfigured)
	}
	if phone == "" {
		phone = s.TelegramPhone
	}
	if phone == "" {
		return fmt.Errorf("%w: no phone number", errs.ErrNotConfigured)
	}

	codeHash, err := a.net.RequestCode(ctx, phone)
	if err != nil {
		return err
	}

	a.lastFailure = nil
	err = a.store.Update(func(s *settings.Settings) {
		s.PhoneCodeHash = codeHash
		s.PhoneForLogin = phone
		s.LastCodeSentAt = time.Now().UTC()
	})
	if err != nil {
		return err
	}
	a.logger.Info("login code requested", zap.String("phone", phone))
	return nil
}

// SubmitCode completes the handshake with the code the operator received.
// phone must match the phone the pending code was issued for; a mismatch is
// rejected locally without a network round trip. password is the optional
// second factor.
//
// Outcomes map to the handshake states: nil means Authenticated and the
// session token was persisted; ErrCodeExpired and ErrCodeInvalid are
// terminal for this attempt (re-request a code); ErrPasswordRequired keeps
// the pending code so the operator only re-prompts for the password.
func (a *Authenticator) SubmitCode(ctx context.Context, phone, code, password string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.store.Load()
	if err != nil {
		return err
	}
	if s.PhoneCodeHash == "" {
		return errs.ErrNoPendingCode
	}
	if phone != "" && phone != s.PhoneForLogin {
		return fmt.Errorf("%w: code was requested for %s, not %s",
			errs.ErrNotConfigured, s.PhoneForLogin, phone)
	}
	if password == "" {
		password = s.TelegramPassword
	}

	err = a.net.VerifyCode(ctx, s.PhoneForLogin, code, s.PhoneCodeHash, password)
	switch {
	case err == nil:
		// The network adapter persisted the session token before
		// returning; mark the handshake complete and drop the pending
		// code state.
		a.lastFailure = nil
		if serr := a.store.Update(func(s *settings.Settings) {
			s.SessionAuthorized = true
			s.PhoneCodeHash = ""
			s.PhoneForLogin = ""
		}); serr != nil {
			return serr
		}
		a.logger.Info("telegram login complete")
		return nil

	case errors.Is(err, errs.ErrPasswordRequired):
		// Pending code stays valid: only the password step is redone.
		a.lastFailure = nil
		return err

	case errors.Is(err, errs.ErrCodeExpired), errors.Is(err, errs.ErrCodeInvalid):
		a.lastFailure = err
		if serr := a.store.Update(func(s *settings.Settings) {
			s.PhoneCodeHash = ""
			s.PhoneForLogin = ""
		}); serr != nil {
			a.logger.Error("failed to clear pending code state", zap.Error(serr))
		}
		return err

	default:
		return err
	}
}

// EnsureSession verifies an authenticated session exists before a dispatch.
// When the remote side no longer accepts the token, the local state resets
// to Unauthenticated and ErrSessionInvalid is returned.
func (a *Authenticator) EnsureSession(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state() != StateAuthenticated {
		return fmt.Errorf("%w: no authenticated telegram session", errs.ErrNotConfigured)
	}

	valid, err := a.net.SessionValid(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSendFailed, err)
	}
	if !valid {
		a.invalidate()
		return errs.ErrSessionInvalid
	}
	return nil
}

// Invalidate drops the persisted session and resets to Unauthenticated.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invalidate()
}

func (a *Authenticator) invalidate() {
	a.lastFailure = nil
	if err := a.store.Update(func(s *settings.Settings) {
		s.SessionAuthorized = false
		s.PhoneCodeHash = ""
		s.PhoneForLogin = ""
	}); err != nil {
		a.logger.Error("failed to reset session state", zap.Error(err))
	}
	if err := os.Remove(a.sessionPath); err != nil && !os.IsNotExist(err) {
		a.logger.Warn("failed to remove session file",
			zap.String("path", a.sessionPath), zap.Error(err))
	}
	a.logger.Info("telegram session invalidated")
}
