// Package snapshot persists baseline parses of a source tree in a
// bbolt database: one serialized definition bundle per tracked file
// plus metadata about when and where the baseline was taken. The diff
// workflow reparses the tree and classifies drift against the stored
// baseline.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"regrow.dev/regrow/internal/defs"
)

var (
	bucketBundles = []byte("bundles")
	bucketMeta    = []byte("meta")
	keyMeta       = []byte("session")
)

// DefSnapshot is one stored definition: its content key, the canonical
// rendering it hashes, and the overload signature key when present.
type DefSnapshot struct {
	Key       string `json:"key"`
	Canonical string `json:"canonical"`
	Signature string `json:"signature,omitempty"`
}

// ScopeSnapshot is one scope's definitions in insertion order.
type ScopeSnapshot struct {
	Scope string        `json:"scope"`
	Defs  []DefSnapshot `json:"defs"`
}

// FileSnapshot is the stored parse of one file.
type FileSnapshot struct {
	Path   string          `json:"path"`
	Unit   string          `json:"unit"`
	Scopes []ScopeSnapshot `json:"scopes"`
}

// Meta describes the baseline as a whole.
type Meta struct {
	Root      string    `json:"root"`
	Extension string    `json:"extension"`
	TakenAt   time.Time `json:"taken_at"`
	Files     int       `json:"files"`
}

// Capture flattens a classified bundle into its storable form. name
// resolves scope handles to dotted names.
func Capture(path, unit string, b *defs.Bundle, name func(defs.Handle) string) FileSnapshot {
	fs := FileSnapshot{Path: path, Unit: unit}
	for _, h := range b.Scopes() {
		ss := ScopeSnapshot{Scope: name(h)}
		b.Map(h).Each(func(key string, e defs.Entry) bool {
			ds := DefSnapshot{Key: key, Canonical: e.Node.Canonical()}
			if e.Sig != nil {
				ds.Signature = e.Sig.Key()
			}
			ss.Defs = append(ss.Defs, ds)
			return true
		})
		fs.Scopes = append(fs.Scopes, ss)
	}
	return fs
}

// Store is the bbolt-backed baseline database.
type Store struct {
	db *bbolt.DB
}

func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketBundles, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *bbolt.DB {
	return s.db
}

// Put stores the snapshot of one file, replacing any prior entry for
// the same path.
func (s *Store) Put(fs FileSnapshot) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(fs)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketBundles).Put([]byte(fs.Path), data)
	})
}

// Get returns the stored snapshot for path.
func (s *Store) Get(path string) (FileSnapshot, error) {
	var fs FileSnapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketBundles).Get([]byte(path))
		if data == nil {
			return fmt.Errorf("no snapshot for %s", path)
		}
		return json.Unmarshal(data, &fs)
	})
	return fs, err
}

// Paths lists every stored file path in key order.
func (s *Store) Paths() ([]string, error) {
	var paths []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBundles).ForEach(func(k, _ []byte) error {
			paths = append(paths, string(k))
			return nil
		})
	})
	return paths, err
}

// Delete removes the stored snapshot for path.
func (s *Store) Delete(path string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBundles).Delete([]byte(path))
	})
}

// PutMeta stores the baseline metadata.
func (s *Store) PutMeta(m Meta) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyMeta, data)
	})
}

// Meta returns the baseline metadata; ok is false when none was stored.
func (s *Store) Meta() (Meta, bool, error) {
	var m Meta
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyMeta)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &m)
	})
	return m, found, err
}
