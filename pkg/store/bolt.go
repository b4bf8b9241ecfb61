package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// BoltFileName is the database file used by BoltStore.
const BoltFileName = "vault.bolt"

var blobsBucket = []byte("blobs")

// BoltStore keeps blobs in one bbolt bucket.
type BoltStore struct {
	db   *bbolt.DB
	dir  string
	opts options
}

// NewBoltStore opens or creates dir/vault.bolt. The file lock is held until
// Close, so a second process fails after the timeout.
func NewBoltStore(dir string, opts ...Option) (*BoltStore, error) {
	o := buildOptions(opts)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, fmt.Errorf("store: failed to create directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, BoltFileName), FileMode, &bbolt.Options{
		Timeout: 2 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blobsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, dir: dir, opts: o}, nil
}

// ReadAll implements Store. The returned slice is a copy; bbolt memory is
// only valid inside the transaction.
func (s *BoltStore) ReadAll(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(blobsBucket).Get([]byte(name))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("store: failed to read %s: %w", name, err)
	}
	return out, nil
}

// AtomicWriteAll implements Store. bbolt commits are atomic.
func (s *BoltStore) AtomicWriteAll(name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := checkDiskSpaceForWrite(s.dir, len(data), s.opts); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blobsBucket).Put([]byte(name), data)
	})
	if err != nil {
		return fmt.Errorf("store: failed to write %s: %w", name, err)
	}
	return nil
}

// Exists implements Store.
func (s *BoltStore) Exists(name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(blobsBucket).Get([]byte(name)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("store: failed to stat %s: %w", name, err)
	}
	return found, nil
}

// Remove implements Store.
func (s *BoltStore) Remove(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blobsBucket).Delete([]byte(name))
	})
	if err != nil {
		return fmt.Errorf("store: failed to remove %s: %w", name, err)
	}
	return nil
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
