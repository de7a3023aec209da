package telegram

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"pressroom/pkg/errs"
	"pressroom/pkg/ledger"
	"pressroom/pkg/settings"
)

// Dispatcher relays a message record to the configured destination over an
// authenticated session. Exactly one attempt is made per call; retrying is
// the caller's decision.
type Dispatcher struct {
	net      Network
	auth     *Authenticator
	store    *settings.Store
	mediaDir string
	logger   *zap.Logger
}

// NewDispatcher wires a Dispatcher. mediaDir is where the record's media
// basenames resolve.
func NewDispatcher(net Network, auth *Authenticator, store *settings.Store, mediaDir string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{net: net, auth: auth, store: store, mediaDir: mediaDir, logger: logger}
}

// Send relays rec. It fails fast with ErrNotConfigured, before any network
// traffic, when no destination is configured or no authenticated session
// exists. The processed media artifact is preferred over the original; it is
// sent with the text as caption. Empty text is replaced by a single space,
// since the destination protocol rejects empty messages.
func (d *Dispatcher) Send(ctx context.Context, rec ledger.Record) error {
	s, err := d.store.Load()
	if err != nil {
		return err
	}
	if s.TelegramTarget == "" {
		return fmt.Errorf("%w: no telegram destination", errs.ErrNotConfigured)
	}
	if err := d.auth.EnsureSession(ctx); err != nil {
		return err
	}

	text := rec.Text
	if strings.TrimSpace(text) == "" {
		text = " "
	}

	var mediaPath string
	switch {
	case rec.ProcessedFilename != "":
		mediaPath = filepath.Join(d.mediaDir, rec.ProcessedFilename)
	case rec.MediaFilename != "":
		mediaPath = filepath.Join(d.mediaDir, rec.MediaFilename)
	}

	if err := d.net.Send(ctx, s.TelegramTarget, text, mediaPath, rec.MediaType); err != nil {
		if errors.Is(err, errs.ErrSessionInvalid) {
			d.auth.Invalidate()
			return err
		}
		return fmt.Errorf("%w: %v", errs.ErrSendFailed, err)
	}

	d.logger.Info("message dispatched",
		zap.Int64("id", rec.ID),
		zap.String("target", s.TelegramTarget),
		zap.Bool("with_media", mediaPath != ""))
	return nil
}
