// Package monitor tracks live plugin instances by the source location they
// were loaded from, so that changes to a location can be reloaded.
//
// Instances live in an arena of slots. Callers hold a Handle, which is a slot
// index plus the generation of the slot at the time of tracking. Releasing a
// handle bumps the generation of its slot, so that old handles resolve to
// nothing even after the slot was reused.
package monitor

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"sync"
)

// BootstrapModule is the module name of values created by the bootstrap
// environment. They have no durable source location and are never tracked.
const BootstrapModule = "main"

// Kind is the kind of a tracked subject.
type Kind uint8

// Subject kinds.
const (
	KindConfig Kind = iota + 1
	KindComponent
	KindMenu
	KindType
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindComponent:
		return "component"
	case KindMenu:
		return "menu"
	case KindType:
		return "type"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Subject is something to be tracked.
type Subject struct {
	Kind     Kind
	TypeName string
	Module   string
	// Location is the configuration file for KindConfig, and the source file
	// of the type otherwise.
	Location string
	Value    any
}

// Trackable returns whether the subject has a durable source location.
func (s Subject) Trackable() bool {
	return s.Location != "" && s.Module != BootstrapModule
}

// Handle refers to a tracked subject. The zero Handle is never valid.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero returns whether the handle is the zero handle.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d/%d", h.index, h.gen)
}

// Record is a live tracked subject.
type Record struct {
	Subject
	Handle Handle
}

type slot struct {
	gen     uint32
	live    bool
	subject Subject
}

// Registry tracks subjects by location. It is safe for concurrent use.
type Registry struct {
	lock sync.RWMutex

	slots []slot
	free  []uint32

	// order holds handles in global insertion order, including released ones
	// until the next compaction.
	order []Handle
	stale int

	entries map[string][]Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string][]Handle),
	}
}

// Track adds the subject. Subjects that are not trackable are skipped and
// ok is false.
func (r *Registry) Track(s Subject) (h Handle, ok bool) {
	if !s.Trackable() {
		return Handle{}, false
	}
	if s.TypeName == "" {
		s.TypeName = TypeName(s.Value)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		index = uint32(len(r.slots)) //nolint:gosec
		r.slots = append(r.slots, slot{})
	}

	sl := &r.slots[index]
	sl.gen++
	sl.live = true
	sl.subject = s

	h = Handle{index: index, gen: sl.gen}
	r.order = append(r.order, h)
	r.entries[s.Location] = append(r.entries[s.Location], h)
	return h, true
}

// Release removes the subject of the handle. It returns false if the handle
// was already released.
func (r *Registry) Release(h Handle) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.release(h)
}

func (r *Registry) release(h Handle) bool {
	sl, ok := r.slot(h)
	if !ok {
		return false
	}

	location := sl.subject.Location
	sl.live = false
	sl.gen++
	sl.subject = Subject{}
	r.free = append(r.free, h.index)

	r.entries[location] = slices.DeleteFunc(r.entries[location], func(eh Handle) bool {
		return eh == h
	})
	if len(r.entries[location]) == 0 {
		delete(r.entries, location)
	}

	r.stale++
	if r.stale > len(r.order)/2 {
		r.order = slices.DeleteFunc(r.order, func(oh Handle) bool {
			_, live := r.slot(oh)
			return !live
		})
		r.stale = 0
	}
	return true
}

// slot returns the live slot of the handle. Must be called with the lock held.
func (r *Registry) slot(h Handle) (*slot, bool) {
	if h.IsZero() || int(h.index) >= len(r.slots) {
		return nil, false
	}
	sl := &r.slots[h.index]
	if !sl.live || sl.gen != h.gen {
		return nil, false
	}
	return sl, true
}

// Resolve returns the record of the handle, if it is still live.
func (r *Registry) Resolve(h Handle) (Record, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	sl, ok := r.slot(h)
	if !ok {
		return Record{}, false
	}
	return Record{Subject: sl.subject, Handle: h}, true
}

// Entry returns the live records of the location in insertion order.
func (r *Registry) Entry(location string) []Record {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.records(r.entries[location])
}

// Locations returns all locations with live records, sorted.
func (r *Registry) Locations() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	locations := make([]string, 0, len(r.entries))
	for location := range r.entries {
		locations = append(locations, location)
	}
	sort.Strings(locations)
	return locations
}

// Snapshot returns all live records in global insertion order.
func (r *Registry) Snapshot() []Record {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.records(r.order)
}

// Prune releases all records of the location and returns them.
func (r *Registry) Prune(location string) []Record {
	r.lock.Lock()
	defer r.lock.Unlock()

	pruned := r.records(r.entries[location])
	for _, rec := range pruned {
		r.release(rec.Handle)
	}
	return pruned
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var n int
	for _, handles := range r.entries {
		n += len(handles)
	}
	return n
}

// records resolves handles, skipping released ones.
// Must be called with the lock held.
func (r *Registry) records(handles []Handle) []Record {
	records := make([]Record, 0, len(handles))
	for _, h := range handles {
		if sl, ok := r.slot(h); ok {
			records = append(records, Record{Subject: sl.subject, Handle: h})
		}
	}
	return records
}

// TypeName returns the name of the (pointed to) type of v.
func TypeName(v any) string {
	if v == nil {
		return ""
	}

	t, ok := v.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(v)
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
