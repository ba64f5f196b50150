package monitor

import (
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/safing/extender/service/mgr"
)

type testComponent struct {
	id int
}

func component(id int, location string) Subject {
	return Subject{
		Kind:     KindComponent,
		Module:   "scanners.passive",
		Location: location,
		Value:    &testComponent{id: id},
	}
}

func TestTrackAndResolve(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	// Bootstrap and location-less subjects are never tracked.
	_, ok := r.Track(Subject{Kind: KindComponent, Module: BootstrapModule, Location: "/x.go", Value: 1})
	assert.False(t, ok)
	_, ok = r.Track(Subject{Kind: KindComponent, Module: "mod", Value: 1})
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())

	h1, ok := r.Track(component(1, "/src/a.go"))
	require.True(t, ok)
	h2, ok := r.Track(component(2, "/src/b.go"))
	require.True(t, ok)
	h3, ok := r.Track(component(3, "/src/a.go"))
	require.True(t, ok)

	rec, ok := r.Resolve(h1)
	require.True(t, ok)
	assert.Equal(t, "testComponent", rec.TypeName)
	assert.Equal(t, KindComponent, rec.Kind)
	assert.Equal(t, h1, rec.Handle)

	assert.Equal(t, []string{"/src/a.go", "/src/b.go"}, r.Locations())
	assert.Equal(t, []Handle{h1, h3}, handles(r.Entry("/src/a.go")))
	assert.Equal(t, []Handle{h1, h2, h3}, handles(r.Snapshot()))
	assert.Equal(t, 3, r.Len())

	assert.True(t, r.Release(h2))
	assert.False(t, r.Release(h2))
	_, ok = r.Resolve(h2)
	assert.False(t, ok)
	assert.Equal(t, []string{"/src/a.go"}, r.Locations())
	assert.Equal(t, []Handle{h1, h3}, handles(r.Snapshot()))

	// The slot of h2 is reused, the old handle stays dead.
	h4, ok := r.Track(component(4, "/src/c.go"))
	require.True(t, ok)
	assert.NotEqual(t, h2, h4)
	_, ok = r.Resolve(h2)
	assert.False(t, ok)
	assert.Equal(t, []Handle{h1, h3, h4}, handles(r.Snapshot()))

	pruned := r.Prune("/src/a.go")
	assert.Equal(t, []Handle{h1, h3}, handles(pruned))
	assert.Equal(t, []Handle{h4}, handles(r.Snapshot()))
	assert.Empty(t, r.Entry("/src/a.go"))
	assert.Empty(t, r.Prune("/src/a.go"))

	_, ok = r.Resolve(Handle{})
	assert.False(t, ok)
	_, ok = r.Resolve(Handle{index: 100, gen: 1})
	assert.False(t, ok)
}

func TestTypeName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "testComponent", TypeName(&testComponent{}))
	assert.Equal(t, "testComponent", TypeName(reflect.TypeFor[**testComponent]()))
	assert.Equal(t, "", TypeName(nil))
	assert.Equal(t, "config", KindConfig.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}

func TestRegistryModel(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()

		var (
			live []Handle
			dead []Handle
		)
		locations := []string{"/a.go", "/b.go", "/c.go"}

		for i := range rapid.IntRange(1, 60).Draw(t, "ops") {
			switch {
			case len(live) == 0 || rapid.IntRange(0, 2).Draw(t, "op") > 0:
				location := rapid.SampledFrom(locations).Draw(t, "location")
				h, ok := r.Track(component(i, location))
				if !ok {
					t.Fatalf("track failed")
				}
				live = append(live, h)

			default:
				idx := rapid.IntRange(0, len(live)-1).Draw(t, "release")
				h := live[idx]
				if !r.Release(h) {
					t.Fatalf("release of live handle %s failed", h)
				}
				live = append(live[:idx], live[idx+1:]...)
				dead = append(dead, h)
			}

			// Released handles never resolve, even if their slot was reused.
			for _, h := range dead {
				if _, ok := r.Resolve(h); ok {
					t.Fatalf("released handle %s resolved", h)
				}
			}
			// Snapshot is exactly the live handles in insertion order.
			if got := handles(r.Snapshot()); !reflect.DeepEqual(got, nonNil(live)) {
				t.Fatalf("snapshot %v, want %v\nrecords:\n%s", got, live, spew.Sdump(r.Snapshot()))
			}
			if r.Len() != len(live) {
				t.Fatalf("len %d, want %d", r.Len(), len(live))
			}
		}
	})
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				h, _ := r.Track(component(i*100+j, "/src/x.go"))
				for _, rec := range r.Snapshot() {
					// Records are never partially filled.
					assert.NotNil(t, rec.Value)
				}
				r.Release(h)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

func TestWatcher(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	config := filepath.Join(dir, "extender.ini")
	other := filepath.Join(dir, "other.txt")
	require.NoError(t, os.WriteFile(config, []byte("[components]\n"), 0o600))

	r := NewRegistry()
	_, ok := r.Track(Subject{Kind: KindConfig, Module: "config", Location: config, Value: struct{}{}})
	require.True(t, ok)

	var (
		lock     sync.Mutex
		reloaded []string
	)
	w, err := NewWatcher(r, func(_ *mgr.WorkerCtx, location string) error {
		lock.Lock()
		defer lock.Unlock()

		reloaded = append(reloaded, location)
		return nil
	}, 100*time.Millisecond)
	require.NoError(t, err)

	m := mgr.New("watcher-test")
	m.Go("watcher", w.Run)
	defer func() {
		m.Cancel()
		assert.NoError(t, w.Close())
		assert.True(t, m.WaitForWorkers(time.Second))
	}()

	assert.Eventually(t, func() bool {
		return w.Watched(config)
	}, 2*time.Second, 10*time.Millisecond)

	// Untracked files are ignored.
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o600))

	// Multiple quick writes result in one reload.
	for range 3 {
		require.NoError(t, os.WriteFile(config, []byte("[components]\na.b.C = true\n"), 0o600))
	}

	assert.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()

		return len(reloaded) > 0
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	lock.Lock()
	defer lock.Unlock()
	assert.Equal(t, []string{config}, reloaded)
}

func handles(records []Record) []Handle {
	hs := make([]Handle, 0, len(records))
	for _, rec := range records {
		hs = append(hs, rec.Handle)
	}
	return hs
}

func nonNil(hs []Handle) []Handle {
	if hs == nil {
		return []Handle{}
	}
	return hs
}
