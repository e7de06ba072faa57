package registry

import (
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/mikey-austin/plex_dlna/internal/ports"
)

// RootID is the reserved ObjectID of the root container.
const RootID = "0"

const stripeCount = 64

var (
	// ErrNotFound reports an ObjectID that was never allocated.
	ErrNotFound = errors.New("registry: object not found")
	// ErrInvalid reports an unusable native identifier.
	ErrInvalid = errors.New("registry: invalid native id")
)

// Record is what an ObjectID stands for.
type Record struct {
	ObjectID       string
	NativeID       string
	Kind           ports.EntryKind
	ParentNativeID string
}

type stripe struct {
	mu      sync.Mutex
	records map[string]*Record
}

// Registry maps catalog native identifiers to stable ObjectIDs.
//
// Forward entries are striped by a hash of the native id, so the first
// allocation of a given id is serialized while unrelated ids proceed in
// parallel. The reverse index is read without locks.
type Registry struct {
	rootNative string
	root       *Record
	stripes    [stripeCount]stripe
	byObject   sync.Map
	count      atomic.Int64
}

// New creates a registry whose root container stands for rootNativeID.
func New(rootNativeID string) *Registry {
	r := &Registry{rootNative: rootNativeID}
	for i := range r.stripes {
		r.stripes[i].records = make(map[string]*Record)
	}
	r.root = &Record{ObjectID: RootID, NativeID: rootNativeID, Kind: ports.KindContainer}
	r.byObject.Store(RootID, r.root)
	return r
}

// RootNativeID returns the native id mapped to RootID.
func (r *Registry) RootNativeID() string {
	return r.rootNative
}

// ResolveOrAllocate returns the ObjectID for nativeID, allocating it on first
// sight. Kind and parent are fixed by the first allocation.
func (r *Registry) ResolveOrAllocate(nativeID string, kind ports.EntryKind, parentNativeID string) (string, error) {
	if nativeID == r.rootNative {
		return RootID, nil
	}
	if nativeID == "" {
		return "", ErrInvalid
	}
	s := r.stripeFor(nativeID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[nativeID]; ok {
		return rec.ObjectID, nil
	}
	rec := &Record{
		ObjectID:       makeObjectID(kind, nativeID),
		NativeID:       nativeID,
		Kind:           kind,
		ParentNativeID: parentNativeID,
	}
	r.byObject.Store(rec.ObjectID, rec)
	s.records[nativeID] = rec
	r.count.Add(1)
	return rec.ObjectID, nil
}

// Lookup returns the record behind objectID.
func (r *Registry) Lookup(objectID string) (Record, error) {
	value, ok := r.byObject.Load(objectID)
	if !ok {
		return Record{}, ErrNotFound
	}
	return *value.(*Record), nil
}

// ParentOf returns the parent ObjectID. The root has no parent.
func (r *Registry) ParentOf(objectID string) (string, error) {
	rec, err := r.Lookup(objectID)
	if err != nil {
		return "", err
	}
	if rec.ObjectID == RootID {
		return "", ErrNotFound
	}
	if rec.ParentNativeID == r.rootNative {
		return RootID, nil
	}
	parent, ok := r.lookupNative(rec.ParentNativeID)
	if !ok {
		return "", ErrNotFound
	}
	return parent.ObjectID, nil
}

// Find returns the record allocated for nativeID, if any.
func (r *Registry) Find(nativeID string) (Record, bool) {
	rec, ok := r.lookupNative(nativeID)
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of allocated ObjectIDs, root excluded.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

func (r *Registry) lookupNative(nativeID string) (*Record, bool) {
	if nativeID == r.rootNative {
		return r.root, true
	}
	s := r.stripeFor(nativeID)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[nativeID]
	return rec, ok
}

func (r *Registry) stripeFor(nativeID string) *stripe {
	return &r.stripes[xxhash.Sum64String(nativeID)%stripeCount]
}

func makeObjectID(kind ports.EntryKind, nativeID string) string {
	return kind.String() + ":" + base64.RawURLEncoding.EncodeToString([]byte(nativeID))
}
