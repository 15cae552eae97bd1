// Package store persists the current day record across power loss.
//
// The record is written as a yaml envelope carrying a format version and a
// CRC32 of the canonical record bytes. Save is atomic with respect to reset
// (temp file + fsync + rename), so a reset mid-write can never yield a
// record pairing one day's date with another day's confirmation flag: the
// read either sees the old envelope, the new envelope, or garbage that
// fails the integrity check and is treated as "no record".
package store

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"kataday/internal/model"
)

// ErrCorrupt marks a persisted record that failed the integrity check.
// Callers must treat it as "no record" and start a fresh day, never as a
// confirmed/unconfirmed guess.
var ErrCorrupt = errors.New("store: record corrupt")

const formatVersion = 1

// envelope is the on-disk shape.
type envelope struct {
	Version  int               `yaml:"version"`
	Checksum uint32            `yaml:"checksum"`
	Record   model.DailyRecord `yaml:"record"`
}

// Store reads and writes the single current-day record at a fixed path.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

// Load returns the persisted record, or (nil, nil) when none exists yet;
// first boot is not an error. A corrupt or partial record returns
// (nil, ErrCorrupt).
func (s *Store) Load() (*model.DailyRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var env envelope
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Version != formatVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrCorrupt, env.Version)
	}
	sum, err := checksum(&env.Record)
	if err != nil {
		return nil, err
	}
	if sum != env.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if env.Record.Date == "" {
		return nil, fmt.Errorf("%w: empty date", ErrCorrupt)
	}

	rec := env.Record
	return &rec, nil
}

// Save writes rec atomically. Saving the same record twice loads back
// identically.
func (s *Store) Save(rec *model.DailyRecord) error {
	if rec == nil {
		return errors.New("store: record is nil")
	}

	sum, err := checksum(rec)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(envelope{
		Version:  formatVersion,
		Checksum: sum,
		Record:   *rec,
	})
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".kataday-day-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// checksum hashes the canonical yaml encoding of the record.
func checksum(rec *model.DailyRecord) (uint32, error) {
	canon, err := yaml.Marshal(rec)
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(canon), nil
}
