// Package settings provides the extension settings namespace.
//
// Settings are stored in the flat key space of the host. Names starting with
// the reserved prefix "jython." are not stored as separate host settings, but
// merged into one JSON object stored under the host key "settings":
//
//	{"jython.log.level": "debug", "jython.config.filename": "extender.ini"}
//
// Saving a reserved name reads, modifies and writes back that object. Saves
// through one Namespace are serialized, but there is no protection against
// other writers of the same host key (another Namespace or process). Such
// concurrent saves can overwrite each other.
package settings

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// ReservedPrefix marks names stored in the settings blob.
	ReservedPrefix = "jython."

	// BlobKey is the host setting holding the settings blob.
	BlobKey = "settings"
)

// ErrInvalidBlob is returned when the stored settings blob is not a JSON
// object.
var ErrInvalidBlob = errors.New("invalid settings blob")

// Store is the flat key/value settings store of the host.
// Unset names load as an empty string.
type Store interface {
	Load(name string) (string, error)
	Save(name, value string) error
}

// Namespace provides typed access to settings with defaults.
type Namespace struct {
	store Store

	blobLock sync.Mutex
}

// New returns a namespace over store.
func New(store Store) *Namespace {
	return &Namespace{store: store}
}

// IsReserved returns whether name is stored in the settings blob.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}

// Load returns the setting, or fallback if it is not set.
// Plain names also fall back if the store returns an empty value.
func (ns *Namespace) Load(name, fallback string) (string, error) {
	if IsReserved(name) {
		blob, err := ns.loadBlob()
		if err != nil {
			return fallback, err
		}

		result := gjson.Get(blob, escapePath(name))
		if !result.Exists() {
			return fallback, nil
		}
		return result.String(), nil
	}

	value, err := ns.store.Load(name)
	if err != nil {
		return fallback, fmt.Errorf("failed to load setting %s: %w", name, err)
	}
	if value == "" {
		return fallback, nil
	}
	return value, nil
}

// Save stores the setting.
func (ns *Namespace) Save(name, value string) error {
	if !IsReserved(name) {
		if err := ns.store.Save(name, value); err != nil {
			return fmt.Errorf("failed to save setting %s: %w", name, err)
		}
		return nil
	}

	ns.blobLock.Lock()
	defer ns.blobLock.Unlock()

	blob, err := ns.loadBlob()
	if err != nil {
		return err
	}

	newBlob, err := sjson.Set(blob, escapePath(name), value)
	if err != nil {
		return fmt.Errorf("failed to set %s in settings blob: %w", name, err)
	}

	if err := ns.store.Save(BlobKey, newBlob); err != nil {
		return fmt.Errorf("failed to save settings blob: %w", err)
	}
	return nil
}

// Reserved returns all settings stored in the blob.
func (ns *Namespace) Reserved() (map[string]string, error) {
	blob, err := ns.loadBlob()
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	gjson.Parse(blob).ForEach(func(key, value gjson.Result) bool {
		values[key.String()] = value.String()
		return true
	})
	return values, nil
}

// loadBlob returns the blob, or an empty JSON object if it is not set.
func (ns *Namespace) loadBlob() (string, error) {
	blob, err := ns.store.Load(BlobKey)
	if err != nil {
		return "", fmt.Errorf("failed to load settings blob: %w", err)
	}

	blob = strings.TrimSpace(blob)
	if blob == "" {
		return "{}", nil
	}
	if !gjson.Valid(blob) || !gjson.Parse(blob).IsObject() {
		return "", ErrInvalidBlob
	}
	return blob, nil
}

// escapePath escapes the path syntax characters of gjson and sjson, so that
// the name is used as a single object key.
func escapePath(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	for _, r := range name {
		switch r {
		case '\\', '.', '*', '?', '|', '#', '@', '!', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
