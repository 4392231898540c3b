// Package boltstore persists note templates in a single BoltDB (bbolt)
// file for single-node deployments. It implements templates.Store.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/onnwee/live-moderation/templates"
)

// BucketTemplates stores note templates keyed by id.
var BucketTemplates = []byte("note_templates")

// Store wraps a BoltDB database.
type Store struct {
	db *bolt.DB
}

var _ templates.Store = (*Store)(nil)

// Options configures the BoltDB store.
type Options struct {
	// Path to the database file. Parent directories will be created if needed.
	Path string

	// Timeout for obtaining a file lock on the database.
	// If zero, a default of 5 seconds is used.
	Timeout time.Duration

	// FileMode for creating the database file.
	// If zero, 0600 is used.
	FileMode os.FileMode
}

// Open creates or opens a BoltDB database at opts.Path and ensures the
// template bucket exists.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		opts.Path = "moderation.db"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0600
	}

	if dir := filepath.Dir(opts.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := bolt.Open(opts.Path, opts.FileMode, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(BucketTemplates)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", BucketTemplates, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database file.
func (s *Store) Close() error { return s.db.Close() }

// LoadTemplates returns every stored template in key order.
func (s *Store) LoadTemplates(ctx context.Context) ([]templates.NoteTemplate, error) {
	var out []templates.NoteTemplate
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketTemplates)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var t templates.NoteTemplate
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("failed to unmarshal template %s: %w", k, err)
			}
			out = append(out, t)
			return nil
		})
	})
	return out, err
}

// SaveTemplates writes ts in one transaction.
func (s *Store) SaveTemplates(ctx context.Context, ts ...templates.NoteTemplate) error {
	if len(ts) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketTemplates)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketTemplates)
		}
		for _, t := range ts {
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("failed to marshal template %s: %w", t.ID, err)
			}
			if err := bucket.Put([]byte(t.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteTemplate removes id if present.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketTemplates)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(id))
	})
}
