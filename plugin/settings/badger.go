package settings

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/dgraph-io/badger"
	"github.com/tevino/abool"
)

// BadgerStore stores settings in a badger database directory.
type BadgerStore struct {
	db     *badger.DB
	closed *abool.AtomicBool
}

// OpenBadgerStore opens or creates the database directory at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0o0700); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if errors.Is(err, badger.ErrTruncateNeeded) {
		// Clean up after a crash.
		opts.Truncate = true
		db, err = badger.Open(opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store %s: %w", path, err)
	}

	return &BadgerStore{
		db:     db,
		closed: abool.New(),
	}, nil
}

// Load implements Store.
func (bs *BadgerStore) Load(name string) (string, error) {
	if bs.closed.IsSet() {
		return "", ErrClosed
	}

	var value []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(name))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	return string(value), err
}

// Save implements Store.
func (bs *BadgerStore) Save(name, value string) error {
	if bs.closed.IsSet() {
		return ErrClosed
	}

	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(name), []byte(value))
	})
}

// Names returns all stored setting names, sorted.
func (bs *BadgerStore) Names() ([]string, error) {
	if bs.closed.IsSet() {
		return nil, ErrClosed
	}

	var names []string
	err := bs.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

// Close closes the database.
func (bs *BadgerStore) Close() error {
	if !bs.closed.SetToIf(false, true) {
		return nil
	}
	return bs.db.Close()
}
