// Package ledger is the bounded rolling store of message records. The whole
// ledger lives in one JSON document that is rewritten on every mutation with
// a temp file and an atomic rename, so a crash can never tear it. Eviction
// removes a record together with every media file it owns.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"pressroom/pkg/atomicfile"
	"pressroom/pkg/errs"
	"pressroom/pkg/media"
)

// Record is one captured post. Media fields are basenames under the media
// directory; the record owns those files and they are deleted exactly when
// the record is evicted.
type Record struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`

	MediaFilename     string     `json:"media_filename,omitempty"`
	MediaType         media.Kind `json:"media_type,omitempty"`
	ProcessedFilename string     `json:"processed_filename,omitempty"`
	ThumbFilename     string     `json:"thumb_filename,omitempty"`

	SendTelegram bool `json:"send_telegram"`
	SendFacebook bool `json:"send_facebook"`
}

// ownedFiles lists every media basename the record owns.
func (r Record) ownedFiles() []string {
	var out []string
	for _, name := range []string{r.MediaFilename, r.ProcessedFilename, r.ThumbFilename} {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Ledger is the durable record store. All mutation runs under one mutex;
// a read-modify-write of the full document per operation is cheap at the
// configured cap and keeps id assignment and eviction counts consistent.
type Ledger struct {
	path     string
	mediaDir string
	cap      int
	logger   *zap.Logger
	mu       sync.Mutex
}

// New creates a ledger persisted at path, owning media files under mediaDir
// and keeping at most cap records.
func New(path, mediaDir string, cap int, logger *zap.Logger) *Ledger {
	return &Ledger{path: path, mediaDir: mediaDir, cap: cap, logger: logger}
}

// Append assigns the next id to rec, persists it, and evicts any overflow
// beyond the cap. It returns the assigned id.
func (l *Ledger) Append(rec Record) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return 0, err
	}

	var maxID int64
	for _, r := range records {
		if r.ID > maxID {
			maxID = r.ID
		}
	}
	rec.ID = maxID + 1
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	records = append(records, rec)

	records = l.evictExcess(records)

	if err := l.save(records); err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// List returns all records, newest first.
func (l *Ledger) List() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Get returns the record with the given id.
func (l *Ledger) Get(id int64) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return Record{}, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return Record{}, fmt.Errorf("%w: record %d", errs.ErrNotFound, id)
}

// AttachProcessed records the derived media artifacts on an existing record.
// This is the only mutation a record sees after creation.
func (l *Ledger) AttachProcessed(id int64, processed, thumb string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID == id {
			records[i].ProcessedFilename = processed
			records[i].ThumbFilename = thumb
			return l.save(records)
		}
	}
	return fmt.Errorf("%w: record %d", errs.ErrNotFound, id)
}

// evictExcess drops the oldest records beyond the cap and deletes their
// media files. File deletion is best effort: a failure is logged and never
// blocks the record's removal, since ledger consistency outranks filesystem
// cleanliness.
func (l *Ledger) evictExcess(records []Record) []Record {
	overflow := len(records) - l.cap
	if overflow <= 0 {
		return records
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	for _, rec := range records[:overflow] {
		for _, name := range rec.ownedFiles() {
			fp := filepath.Join(l.mediaDir, name)
			if err := os.Remove(fp); err != nil && !os.IsNotExist(err) {
				l.logger.Warn("failed to delete evicted media file",
					zap.String("path", fp), zap.Error(err))
			}
		}
		l.logger.Info("evicted message record",
			zap.Int64("id", rec.ID), zap.Time("created_at", rec.CreatedAt))
	}

	return records[overflow:]
}

func (l *Ledger) load() ([]Record, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read ledger: %v", errs.ErrStorage, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: parse ledger: %v", errs.ErrStorage, err)
	}
	return records, nil
}

func (l *Ledger) save(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode ledger: %v", errs.ErrStorage, err)
	}
	if err := atomicfile.WriteFile(l.path, data); err != nil {
		return fmt.Errorf("%w: write ledger: %v", errs.ErrStorage, err)
	}
	return nil
}
