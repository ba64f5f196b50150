package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/safing/extender/plugin/host"
)

// ShimStore stores settings in the host through the callback shim.
type ShimStore struct {
	shim *host.Shim
}

// NewShimStore returns a store backed by the host extension settings.
func NewShimStore(shim *host.Shim) *ShimStore {
	return &ShimStore{shim: shim}
}

// Load implements Store.
func (ss *ShimStore) Load(name string) (string, error) {
	return ss.shim.LoadExtensionSetting(name)
}

// Save implements Store.
func (ss *ShimStore) Save(name, value string) error {
	return ss.shim.SaveExtensionSetting(name, value)
}

var bucketName = []byte("settings")

// ErrClosed is returned when using a closed BoltStore.
var ErrClosed = errors.New("settings store is closed")

// BoltStore stores settings in a bbolt database file.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens or creates the database file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o0700); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	dbOptions := &bbolt.Options{
		Timeout: 1 * time.Second,
	}
	db, err := bbolt.Open(path, 0o0600, dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize settings store: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Load implements Store.
func (bs *BoltStore) Load(name string) (string, error) {
	var value string
	err := bs.db.View(func(tx *bbolt.Tx) error {
		// Value is only valid within the transaction, string() copies it.
		value = string(tx.Bucket(bucketName).Get([]byte(name)))
		return nil
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return "", ErrClosed
	}
	return value, err
}

// Save implements Store.
func (bs *BoltStore) Save(name, value string) error {
	err := bs.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(name), []byte(value))
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

// Names returns all stored setting names, sorted.
func (bs *BoltStore) Names() ([]string, error) {
	var names []string
	err := bs.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return nil, ErrClosed
	}
	sort.Strings(names)
	return names, err
}

// Close closes the database.
func (bs *BoltStore) Close() error {
	return bs.db.Close()
}
