package contentdir

import (
	"context"

	"github.com/mikey-austin/plex_dlna/internal/ports"
	"github.com/mikey-austin/plex_dlna/internal/registry"
)

// maxAncestorDepth bounds the walk from a search hit up to a known
// container.
const maxAncestorDepth = 16

// placer positions search hits in the ObjectID tree for one Search call.
type placer struct {
	engine  *Engine
	scope   registry.Record
	fetched map[string]fetchedEntry
}

type fetchedEntry struct {
	entry ports.Entry
	ok    bool
}

// place returns the hit's ObjectID and its parent's ObjectID. A hit already
// allocated keeps its position. Otherwise its ancestors are fetched until a
// registered one is met and allocated top down, so the hit lands under its
// real parent. ok is false when that position is not below scope.
func (p *placer) place(ctx context.Context, entry ports.Entry) (string, string, bool) {
	reg := p.engine.reg
	if rec, found := reg.Find(entry.NativeID); found {
		if rec.ObjectID == registry.RootID {
			return "", "", false
		}
		parentID, err := reg.ParentOf(rec.ObjectID)
		if err != nil || !p.within(parentID) {
			return "", "", false
		}
		return rec.ObjectID, parentID, true
	}

	parent, ok := p.container(ctx, entry.ParentNativeID)
	if !ok {
		return "", "", false
	}
	objectID, err := reg.ResolveOrAllocate(entry.NativeID, entry.Kind, parent.NativeID)
	if err != nil {
		return "", "", false
	}
	// A concurrent browse may have allocated the hit first.
	parentID, err := reg.ParentOf(objectID)
	if err != nil || !p.within(parentID) {
		return "", "", false
	}
	return objectID, parentID, true
}

// container resolves the record of the container nativeID, allocating it
// and any unregistered ancestors. An empty nativeID means the scope itself.
func (p *placer) container(ctx context.Context, nativeID string) (registry.Record, bool) {
	if nativeID == "" || nativeID == p.scope.NativeID {
		return p.scope, true
	}
	reg := p.engine.reg

	var pending []ports.Entry
	anchor, found := reg.Find(nativeID)
	for walk := nativeID; !found; walk = pending[len(pending)-1].ParentNativeID {
		if len(pending) >= maxAncestorDepth {
			return registry.Record{}, false
		}
		entry, ok := p.metadata(ctx, walk)
		if !ok || entry.Kind != ports.KindContainer || entry.ParentNativeID == "" {
			return registry.Record{}, false
		}
		entry.NativeID = walk
		pending = append(pending, entry)
		anchor, found = reg.Find(entry.ParentNativeID)
	}
	if anchor.Kind != ports.KindContainer || !p.within(anchor.ObjectID) {
		return registry.Record{}, false
	}

	parent := anchor
	for i := len(pending) - 1; i >= 0; i-- {
		objectID, err := reg.ResolveOrAllocate(pending[i].NativeID, ports.KindContainer, parent.NativeID)
		if err != nil {
			return registry.Record{}, false
		}
		rec, err := reg.Lookup(objectID)
		if err != nil {
			return registry.Record{}, false
		}
		parent = rec
	}
	return parent, true
}

func (p *placer) metadata(ctx context.Context, nativeID string) (ports.Entry, bool) {
	if f, ok := p.fetched[nativeID]; ok {
		return f.entry, f.ok
	}
	entry, err := p.engine.catalog.GetMetadata(ctx, nativeID)
	p.fetched[nativeID] = fetchedEntry{entry: entry, ok: err == nil}
	return entry, err == nil
}

// within reports whether objectID is the scope or one of its descendants.
func (p *placer) within(objectID string) bool {
	if p.scope.ObjectID == registry.RootID {
		return true
	}
	for depth := 0; depth < 64; depth++ {
		if objectID == p.scope.ObjectID {
			return true
		}
		parent, err := p.engine.reg.ParentOf(objectID)
		if err != nil {
			return false
		}
		objectID = parent
	}
	return false
}
