package contentdir

import (
	"encoding/binary"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/mikey-austin/plex_dlna/internal/ports"
	"github.com/mikey-austin/plex_dlna/pkg/events"
)

const (
	maxTrackedContainers = 4096
	maxTrackedWindows    = 32
)

type containerState struct {
	updateID   uint32
	total      int64
	totalKnown bool
	windows    map[string]uint64
}

// updateTracker assigns container update IDs from observed listings.
//
// Containers dropped to stay under maxContainers are remembered by hash in
// evicted. One seen again is reported changed since its old state is gone.
// Once evicted overflows as well, every first sighting is reported changed.
type updateTracker struct {
	mu            sync.Mutex
	system        uint32
	containers    map[string]*containerState
	evicted       map[uint64]struct{}
	forgetful     bool
	maxContainers int
	pending       map[string]uint32
	events        ports.Events
}

func newUpdateTracker(ev ports.Events) *updateTracker {
	if ev == nil {
		ev = ports.NopEvents{}
	}
	return &updateTracker{
		containers:    map[string]*containerState{},
		evicted:       map[uint64]struct{}{},
		maxContainers: maxTrackedContainers,
		pending:       map[string]uint32{},
		events:        ev,
	}
}

// Observe records a window of a container listing and returns the
// container's update ID after the observation.
func (t *updateTracker) Observe(objectID string, window string, total int64, totalKnown bool, fingerprint uint64) uint32 {
	t.mu.Lock()
	st, ok := t.containers[objectID]
	if !ok {
		forgotten := t.forget(objectID)
		st = &containerState{
			updateID:   t.system,
			total:      total,
			totalKnown: totalKnown,
			windows:    map[string]uint64{window: fingerprint},
		}
		t.containers[objectID] = st
		if !forgotten {
			t.mu.Unlock()
			return st.updateID
		}
		return t.bump(objectID, st)
	}

	prev, seen := st.windows[window]
	changed := false
	switch {
	case st.totalKnown && totalKnown && st.total != total:
		changed = true
	case st.totalKnown != totalKnown:
		changed = true
	case seen && prev != fingerprint:
		changed = true
	case !seen && !totalKnown:
		changed = true
	}

	st.total = total
	st.totalKnown = totalKnown
	if changed || len(st.windows) >= maxTrackedWindows {
		st.windows = map[string]uint64{}
	}
	st.windows[window] = fingerprint

	if !changed {
		id := st.updateID
		t.mu.Unlock()
		return id
	}
	return t.bump(objectID, st)
}

// forget makes room for a new container and reports whether objectID may
// have been tracked before. Called with mu held.
func (t *updateTracker) forget(objectID string) bool {
	key := xxhash.Sum64String(objectID)
	_, wasEvicted := t.evicted[key]
	delete(t.evicted, key)
	if len(t.containers) >= t.maxContainers {
		for id := range t.containers {
			delete(t.containers, id)
			if len(t.evicted) >= t.maxContainers {
				t.evicted = map[uint64]struct{}{}
				t.forgetful = true
			}
			t.evicted[xxhash.Sum64String(id)] = struct{}{}
			break
		}
	}
	return wasEvicted || t.forgetful
}

// bump assigns st a new update ID and releases mu.
func (t *updateTracker) bump(objectID string, st *containerState) uint32 {
	t.system++
	st.updateID = t.system
	t.pending[objectID] = st.updateID
	update := events.ContainerUpdate{
		ContainerID:    objectID,
		UpdateID:       st.updateID,
		SystemUpdateID: t.system,
	}
	t.mu.Unlock()

	t.events.ContainerUpdated(update)
	return update.UpdateID
}

// Current returns the container's update ID, or the system update ID for a
// container never listed.
func (t *updateTracker) Current(objectID string) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.containers[objectID]; ok {
		return st.updateID
	}
	return t.system
}

func (t *updateTracker) System() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.system
}

// Drain returns "id,value" pairs bumped since the previous call.
func (t *updateTracker) Drain() string {
	t.mu.Lock()
	pending := t.pending
	t.pending = map[string]uint32{}
	t.mu.Unlock()

	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		parts = append(parts, id, strconv.FormatUint(uint64(pending[id]), 10))
	}
	return strings.Join(parts, ",")
}

func fingerprint(total int64, entries []ports.Entry) uint64 {
	d := xxhash.New()
	var num [8]byte
	binary.LittleEndian.PutUint64(num[:], uint64(total))
	_, _ = d.Write(num[:])
	for _, e := range entries {
		_, _ = d.WriteString(e.NativeID)
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(e.Title)
		_, _ = d.WriteString("\x00")
		binary.LittleEndian.PutUint64(num[:], uint64(e.ChildCount))
		_, _ = d.Write(num[:])
		binary.LittleEndian.PutUint64(num[:], uint64(e.Size))
		_, _ = d.Write(num[:])
		if e.Unavailable {
			_, _ = d.WriteString("u")
		}
	}
	return d.Sum64()
}
