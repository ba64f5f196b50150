package settings

import (
	"fmt"
	"io"
)

// Database backends of local settings stores.
const (
	BackendBolt   = "bolt"
	BackendBadger = "badger"
)

// DBStore is a settings store in a local database.
type DBStore interface {
	Store
	io.Closer

	Names() ([]string, error)
}

var (
	_ DBStore = &BoltStore{}
	_ DBStore = &BadgerStore{}
)

// Open opens the settings database at path with the named backend.
func Open(backend, path string) (DBStore, error) {
	var (
		store DBStore
		err   error
	)
	switch backend {
	case BackendBolt, "":
		store, err = OpenBoltStore(path)
	case BackendBadger:
		store, err = OpenBadgerStore(path)
	default:
		return nil, fmt.Errorf("unknown settings backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
