// Package ledger persists the installed content version outside the question
// store, so it survives the store file being deleted or rebuilt.
package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	versionKey   = "questions_db_version"
	digestKey    = "dataset_sha256"
	updatedAtKey = "updated_at_unix"
)

// Entry is the full content of the ledger file.
type Entry struct {
	Version   float64
	Digest    string
	UpdatedAt time.Time
}

// Ledger is a file-backed record of the last applied content version.
type Ledger struct {
	path string
	now  func() time.Time
}

// New returns a ledger stored at path. The file is created on first Set.
func New(path string) *Ledger {
	return &Ledger{path: path, now: time.Now}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Get returns the recorded version, or 0 if none was ever recorded.
func (l *Ledger) Get() (float64, error) {
	e, err := l.Snapshot()
	if err != nil {
		return 0, err
	}
	return e.Version, nil
}

// Snapshot reads the whole ledger entry.
func (l *Ledger) Snapshot() (Entry, error) {
	k, err := l.load()
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		Version: k.Float64(versionKey),
		Digest:  k.String(digestKey),
	}
	if ts := k.Int64(updatedAtKey); ts > 0 {
		e.UpdatedAt = time.Unix(ts, 0).UTC()
	}
	return e, nil
}

// Set records version as the installed content version. The previous digest
// is dropped since it described other content.
func (l *Ledger) Set(version float64) error {
	return l.write(version, "")
}

// SetApplied records version together with the digest of the dataset that
// was installed.
func (l *Ledger) SetApplied(version float64, digest string) error {
	return l.write(version, digest)
}

func (l *Ledger) load() (*koanf.Koanf, error) {
	k := koanf.New(".")
	if _, err := os.Stat(l.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return k, nil
		}
		return nil, fmt.Errorf("failed to stat ledger %s: %w", l.path, err)
	}
	if err := k.Load(file.Provider(l.path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", l.path, err)
	}
	return k, nil
}

func (l *Ledger) write(version float64, digest string) error {
	k := koanf.New(".")
	if err := k.Set(versionKey, version); err != nil {
		return fmt.Errorf("failed to set ledger version: %w", err)
	}
	if digest != "" {
		if err := k.Set(digestKey, digest); err != nil {
			return fmt.Errorf("failed to set ledger digest: %w", err)
		}
	}
	if err := k.Set(updatedAtKey, l.now().Unix()); err != nil {
		return fmt.Errorf("failed to set ledger timestamp: %w", err)
	}

	b, err := k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create ledger temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("failed to replace ledger %s: %w", l.path, err)
	}
	return nil
}
