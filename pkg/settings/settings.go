// Package settings persists the mutable operator settings as a single JSON
// document. The document is rewritten whole on every save with a temp file
// and an atomic rename, so a crash mid-write never leaves a torn file.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"pressroom/pkg/atomicfile"
	"pressroom/pkg/errs"
)

// Settings holds everything the operator can change at runtime: the Telegram
// account identity, the destination channel, and the transient state of a
// pending login code. The struct is a value; mutate a copy and Save it back.
type Settings struct {
	TelegramAPIID    int    `json:"telegram_api_id,omitempty"`
	TelegramAPIHash  string `json:"telegram_api_hash,omitempty"`
	TelegramPhone    string `json:"telegram_phone,omitempty"`
	TelegramPassword string `json:"telegram_password,omitempty"`
	TelegramTarget   string `json:"telegram_target,omitempty"`

	// Pending login code state, bound to the phone it was requested for.
	PhoneCodeHash  string    `json:"telegram_phone_code_hash,omitempty"`
	PhoneForLogin  string    `json:"telegram_phone_for_login,omitempty"`
	LastCodeSentAt time.Time `json:"telegram_last_code_sent_at,omitempty"`

	// SessionAuthorized records that a handshake completed and the session
	// file holds a usable token.
	SessionAuthorized bool `json:"telegram_session_authorized,omitempty"`

	FacebookPageToken string `json:"facebook_page_token,omitempty"`
	FacebookPageID    string `json:"facebook_page_id,omitempty"`
}

// HasAPICredentials reports whether the account identity needed to talk to
// Telegram at all is present.
func (s Settings) HasAPICredentials() bool {
	return s.TelegramAPIID != 0 && s.TelegramAPIHash != ""
}

// Store reads and writes the settings document.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by the JSON document at path. The file is
// created on first Save; a missing file loads as zero-value settings.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the current settings. A missing document is not an error.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Settings, error) {
	var out Settings
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("%w: read settings: %v", errs.ErrStorage, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: parse settings: %v", errs.ErrStorage, err)
	}
	return out, nil
}

// Save replaces the settings document.
func (s *Store) Save(v Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(v)
}

func (s *Store) save(v Settings) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode settings: %v", errs.ErrStorage, err)
	}
	if err := atomicfile.WriteFile(s.path, data); err != nil {
		return fmt.Errorf("%w: write settings: %v", errs.ErrStorage, err)
	}
	return nil
}

// Update applies fn to the current settings and saves the result under the
// store lock, so concurrent updates cannot lose fields.
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.load()
	if err != nil {
		return err
	}
	fn(&cur)
	return s.save(cur)
}
