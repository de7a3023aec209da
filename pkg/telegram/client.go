package telegram

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"pressroom/pkg/errs"
	"pressroom/pkg/media"
	"pressroom/pkg/settings"
)

// Client implements Network against Telegram MTProto via gotd. Every call
// builds a fresh client, runs one operation inside its connect lifecycle,
// and returns; the session token lives in a session file between calls.
//
// A single mutex serializes all operations: the protocol state in the
// session file must never be driven by two connections at once.
type Client struct {
	store       *settings.Store
	sessionPath string
	logger      *zap.Logger
	mu          sync.Mutex
}

// NewClient creates the gotd-backed network adapter. The session token is
// persisted at sessionPath.
func NewClient(store *settings.Store, sessionPath string, logger *zap.Logger) *Client {
	return &Client{store: store, sessionPath: sessionPath, logger: logger}
}

// run connects with the configured credentials, invokes fn once, and
// disconnects. It fails with ErrNotConfigured when the account identity is
// missing.
func (c *Client) run(ctx context.Context, fn func(ctx context.Context, client *telegram.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.store.Load()
	if err != nil {
		return err
	}
	if !s.HasAPICredentials() {
		return fmt.Errorf("%w: telegram api id/hash missing", errs.ErrNotConfigured)
	}

	client := telegram.NewClient(s.TelegramAPIID, s.TelegramAPIHash, telegram.Options{
		Logger:         c.logger.Named("gotd"),
		SessionStorage: &session.FileStorage{Path: c.sessionPath},
	})
	return client.Run(ctx, func(ctx context.Context) error {
		return fn(ctx, client)
	})
}

// RequestCode implements Network.
func (c *Client) RequestCode(ctx context.Context, phone string) (string, error) {
	var codeHash string
	err := c.run(ctx, func(ctx context.Context, client *telegram.Client) error {
		sent, err := client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
		if err != nil {
			return fmt.Errorf("send code: %w", err)
		}
		code, ok := sent.(*tg.AuthSentCode)
		if !ok {
			return fmt.Errorf("send code: unexpected response %T", sent)
		}
		codeHash = code.PhoneCodeHash
		return nil
	})
	return codeHash, err
}

// VerifyCode implements Network. gotd reads the pending code hash from the
// SendCode response server-side, so codeHash is validated by the caller and
// the network rejects stale ones with PHONE_CODE_EXPIRED.
func (c *Client) VerifyCode(ctx context.Context, phone, code, codeHash, password string) error {
	return c.run(ctx, func(ctx context.Context, client *telegram.Client) error {
		_, err := client.Auth().SignIn(ctx, phone, code, codeHash)
		if errors.Is(err, auth.ErrPasswordAuthNeeded) {
			if password == "" {
				return errs.ErrPasswordRequired
			}
			if _, err := client.Auth().Password(ctx, password); err != nil {
				if tgerr.Is(err, "PASSWORD_HASH_INVALID") {
					return fmt.Errorf("%w: wrong password", errs.ErrPasswordRequired)
				}
				return fmt.Errorf("check password: %w", err)
			}
			return nil
		}
		if err != nil {
			return translateAuthError(err)
		}
		return nil
	})
}

// Send implements Network.
func (c *Client) Send(ctx context.Context, destination, text, mediaPath string, kind media.Kind) error {
	err := c.run(ctx, func(ctx context.Context, client *telegram.Client) error {
		api := client.API()
		sender := message.NewSender(api)
		target := sender.Resolve(destination)

		if mediaPath == "" {
			_, err := target.Text(ctx, text)
			return err
		}

		up := uploader.NewUploader(api)
		f, err := up.FromPath(ctx, mediaPath)
		if err != nil {
			return fmt.Errorf("upload %s: %w", mediaPath, err)
		}

		caption := styling.Plain(text)
		switch kind {
		case media.KindVideo:
			doc := message.UploadedDocument(f, caption)
			doc.Filename(filepath.Base(mediaPath)).Video()
			_, err = target.Media(ctx, doc)
		default:
			_, err = target.Media(ctx, message.UploadedPhoto(f, caption))
		}
		return err
	})
	if err != nil {
		if isSessionInvalid(err) {
			return fmt.Errorf("%w: %v", errs.ErrSessionInvalid, err)
		}
		return err
	}
	return nil
}

// SessionValid implements Network.
func (c *Client) SessionValid(ctx context.Context) (bool, error) {
	var valid bool
	err := c.run(ctx, func(ctx context.Context, client *telegram.Client) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return err
		}
		valid = status.Authorized
		return nil
	})
	if err != nil {
		return false, err
	}
	return valid, nil
}

// translateAuthError maps the network's handshake failures onto the local
// taxonomy so callers can branch with errors.Is.
func translateAuthError(err error) error {
	switch {
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return fmt.Errorf("%w: %v", errs.ErrCodeExpired, err)
	case tgerr.Is(err, "PHONE_CODE_INVALID"), tgerr.Is(err, "PHONE_CODE_EMPTY"):
		return fmt.Errorf("%w: %v", errs.ErrCodeInvalid, err)
	default:
		return fmt.Errorf("sign in: %w", err)
	}
}

func isSessionInvalid(err error) bool {
	return tgerr.Is(err, "AUTH_KEY_UNREGISTERED") ||
		tgerr.Is(err, "SESSION_REVOKED") ||
		tgerr.Is(err, "SESSION_EXPIRED")
}
