package settings

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/safing/extender/plugin/host"
)

// Compile time interface checks.
var (
	_ Store                = &ShimStore{}
	_ Store                = &BoltStore{}
	_ host.SettingsBackend = &BoltStore{}
)

type mapStore struct {
	lock    sync.Mutex
	values  map[string]string
	failing error
}

func newMapStore() *mapStore {
	return &mapStore{values: make(map[string]string)}
}

func (ms *mapStore) Load(name string) (string, error) {
	ms.lock.Lock()
	defer ms.lock.Unlock()

	if ms.failing != nil {
		return "", ms.failing
	}
	return ms.values[name], nil
}

func (ms *mapStore) Save(name, value string) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()

	if ms.failing != nil {
		return ms.failing
	}
	ms.values[name] = value
	return nil
}

func TestNamespaceReserved(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	ns := New(store)

	value, err := ns.Load("jython.X", "D")
	require.NoError(t, err)
	assert.Equal(t, "D", value)

	require.NoError(t, ns.Save("jython.X", "v"))
	value, err = ns.Load("jython.X", "D")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	require.NoError(t, ns.Save("jython.log.level", "debug"))
	assert.JSONEq(t, `{"jython.X": "v", "jython.log.level": "debug"}`, store.values[BlobKey])
	assert.NotContains(t, store.values, "jython.X")

	reserved, err := ns.Reserved()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"jython.X": "v", "jython.log.level": "debug"}, reserved)

	// An empty string is a set value.
	require.NoError(t, ns.Save("jython.empty", ""))
	value, err = ns.Load("jython.empty", "D")
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestNamespacePlain(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	ns := New(store)

	value, err := ns.Load("plain", "D")
	require.NoError(t, err)
	assert.Equal(t, "D", value)

	require.NoError(t, ns.Save("plain", "v"))
	assert.Equal(t, "v", store.values["plain"])
	value, err = ns.Load("plain", "D")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	// An empty host value counts as unset.
	require.NoError(t, ns.Save("plain", ""))
	value, err = ns.Load("plain", "D")
	require.NoError(t, err)
	assert.Equal(t, "D", value)
}

func TestNamespaceErrors(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	ns := New(store)

	store.values[BlobKey] = "[1, 2]"
	value, err := ns.Load("jython.X", "D")
	assert.ErrorIs(t, err, ErrInvalidBlob)
	assert.Equal(t, "D", value)
	assert.ErrorIs(t, ns.Save("jython.X", "v"), ErrInvalidBlob)
	assert.Equal(t, "[1, 2]", store.values[BlobKey], "invalid blob must not be overwritten")

	storeErr := errors.New("store down")
	store.failing = storeErr
	value, err = ns.Load("plain", "D")
	assert.ErrorIs(t, err, storeErr)
	assert.Equal(t, "D", value)
	assert.ErrorIs(t, ns.Save("plain", "v"), storeErr)
	assert.ErrorIs(t, ns.Save("jython.X", "v"), storeErr)
}

func TestNamespaceConcurrentSaves(t *testing.T) {
	t.Parallel()

	ns := New(newMapStore())

	var wg sync.WaitGroup
	for _, name := range []string{"jython.a", "jython.b", "jython.c", "jython.d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ns.Save(name, name))
		}()
	}
	wg.Wait()

	reserved, err := ns.Reserved()
	require.NoError(t, err)
	assert.Len(t, reserved, 4)
}

func TestShimStore(t *testing.T) {
	t.Parallel()

	shim := host.NewShim(host.NewLocal("Local Host", "2", "1"))
	ns := New(NewShimStore(shim))

	value, err := ns.LoadKey(LogLevel)
	require.NoError(t, err)
	assert.Equal(t, LogLevel.Default, value)

	require.NoError(t, ns.Save(LogLevel.Name, "warning"))
	value, err = ns.LoadKey(LogLevel)
	require.NoError(t, err)
	assert.Equal(t, "warning", value)

	raw, err := shim.LoadExtensionSetting(BlobKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jython.log.level": "warning"}`, raw)

	key, ok := LookupKey("jython.config.filename")
	assert.True(t, ok)
	assert.Equal(t, ConfigFilename, key)
	_, ok = LookupKey("jython.unknown")
	assert.False(t, ok)
}

func TestBoltStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings", "settings.db")
	store, err := OpenBoltStore(path)
	require.NoError(t, err)

	ns := New(store)
	require.NoError(t, ns.Save("jython.extension.name", "Bolted"))
	require.NoError(t, ns.Save("plain", "value"))

	names, err := store.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"plain", BlobKey}, names)
	require.NoError(t, store.Close())

	// Reopen and read back.
	store, err = OpenBoltStore(path)
	require.NoError(t, err)
	ns = New(store)

	value, err := ns.LoadKey(ExtensionName)
	require.NoError(t, err)
	assert.Equal(t, "Bolted", value)
	value, err = ns.Load("plain", "")
	require.NoError(t, err)
	assert.Equal(t, "value", value)

	require.NoError(t, store.Close())
	_, err = store.Load("plain")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNamespaceModel(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		store := newMapStore()
		ns := New(store)
		model := make(map[string]string)

		// Reserved suffixes include the path syntax characters of the blob.
		reservedName := rapid.Custom(func(t *rapid.T) string {
			return ReservedPrefix + rapid.StringMatching(`[a-z0-9.*?|#@!:\\ ]{0,10}`).Draw(t, "suffix")
		})
		plainName := rapid.StringMatching(`[a-z]{1,6}`).Filter(func(s string) bool {
			return s != BlobKey
		})

		for range rapid.IntRange(1, 30).Draw(t, "ops") {
			var name string
			if rapid.Bool().Draw(t, "reserved") {
				name = reservedName.Draw(t, "name")
			} else {
				name = plainName.Draw(t, "name")
			}

			if rapid.Bool().Draw(t, "save") {
				value := rapid.String().Draw(t, "value")
				if err := ns.Save(name, value); err != nil {
					t.Fatalf("save %q: %s", name, err)
				}
				model[name] = value
				continue
			}

			fallback := rapid.StringMatching(`[A-Z]{1,4}`).Draw(t, "fallback")
			got, err := ns.Load(name, fallback)
			if err != nil {
				t.Fatalf("load %q: %s", name, err)
			}

			want, ok := model[name]
			if !ok || (!IsReserved(name) && want == "") {
				want = fallback
			}
			if got != want {
				t.Fatalf("load %q: got %q, want %q", name, got, want)
			}
		}
	})
}

func TestBadgerStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings")
	store, err := Open(BackendBadger, path)
	require.NoError(t, err)

	ns := New(store)
	require.NoError(t, ns.Save("jython.extension.name", "Badgered"))
	require.NoError(t, ns.Save("plain", "value"))

	names, err := store.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"plain", BlobKey}, names)
	require.NoError(t, store.Close())

	// Reopen and read back.
	store, err = OpenBadgerStore(path)
	require.NoError(t, err)
	ns = New(store)

	value, err := ns.LoadKey(ExtensionName)
	require.NoError(t, err)
	assert.Equal(t, "Badgered", value)
	value, err = ns.Load("missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", value)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	_, err = store.Load("plain")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = Open("leveldb", path)
	assert.Error(t, err)
}
