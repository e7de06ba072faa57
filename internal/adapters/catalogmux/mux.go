// Package catalogmux mounts several catalogs under one root.
package catalogmux

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mikey-austin/plex_dlna/internal/ports"
)

const rootID = "mounts"

// Mount places a catalog under root as a container named Title.
type Mount struct {
	Name    string
	Title   string
	Catalog ports.Catalog
}

// Mux is a ports.Catalog over mounts. Native ids are "{mount}:{native}".
// A single mount is flattened so its root becomes the mux root.
type Mux struct {
	mounts []Mount
	byName map[string]Mount
}

// New validates mounts.
func New(mounts ...Mount) (*Mux, error) {
	if len(mounts) == 0 {
		return nil, errors.New("at least one catalog mount required")
	}
	byName := make(map[string]Mount, len(mounts))
	for _, m := range mounts {
		name := strings.TrimSpace(m.Name)
		if name == "" || strings.Contains(name, ":") {
			return nil, fmt.Errorf("invalid mount name %q", m.Name)
		}
		if m.Catalog == nil {
			return nil, fmt.Errorf("mount %s has no catalog", name)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("duplicate mount %s", name)
		}
		if strings.TrimSpace(m.Title) == "" {
			m.Title = name
		}
		m.Name = name
		byName[name] = m
	}
	ordered := make([]Mount, 0, len(mounts))
	for _, m := range mounts {
		ordered = append(ordered, byName[strings.TrimSpace(m.Name)])
	}
	return &Mux{mounts: ordered, byName: byName}, nil
}

func (x *Mux) flat() bool {
	return len(x.mounts) == 1
}

func (x *Mux) Root() string {
	if x.flat() {
		m := x.mounts[0]
		return join(m.Name, m.Catalog.Root())
	}
	return rootID
}

func (x *Mux) ListChildren(ctx context.Context, nativeID string, page ports.Page) (ports.Listing, error) {
	if nativeID == rootID && !x.flat() {
		entries := make([]ports.Entry, 0, len(x.mounts))
		for _, m := range x.mounts {
			entries = append(entries, mountEntry(m))
		}
		return ports.Listing{Entries: slicePage(entries, page), Total: int64(len(entries))}, nil
	}
	m, native, err := x.route(nativeID)
	if err != nil {
		return ports.Listing{}, err
	}
	listing, err := m.Catalog.ListChildren(ctx, native, page)
	if err != nil {
		return ports.Listing{}, err
	}
	prefix(m.Name, listing.Entries)
	return listing, nil
}

func (x *Mux) GetMetadata(ctx context.Context, nativeID string) (ports.Entry, error) {
	if nativeID == rootID && !x.flat() {
		return ports.Entry{
			NativeID:   rootID,
			Kind:       ports.KindContainer,
			Title:      "root",
			Class:      "object.container.storageFolder",
			ChildCount: int64(len(x.mounts)),
		}, nil
	}
	m, native, err := x.route(nativeID)
	if err != nil {
		return ports.Entry{}, err
	}
	entry, err := m.Catalog.GetMetadata(ctx, native)
	if err != nil {
		return ports.Entry{}, err
	}
	entry = prefixed(m.Name, entry)
	if native == m.Catalog.Root() {
		entry.ParentNativeID = ""
		if !x.flat() {
			entry.Title = m.Title
			entry.ParentNativeID = rootID
		}
	}
	return entry, nil
}

func (x *Mux) GetStreamInfo(ctx context.Context, nativeID string) (ports.StreamInfo, error) {
	m, native, err := x.route(nativeID)
	if err != nil {
		return ports.StreamInfo{}, err
	}
	return m.Catalog.GetStreamInfo(ctx, native)
}

func (x *Mux) GetArtInfo(ctx context.Context, nativeID string) (ports.StreamInfo, error) {
	m, native, err := x.route(nativeID)
	if err != nil {
		return ports.StreamInfo{}, err
	}
	art, ok := m.Catalog.(ports.ArtSource)
	if !ok {
		return ports.StreamInfo{}, fmt.Errorf("%w: mount %s has no art", ports.ErrNotFound, m.Name)
	}
	return art.GetArtInfo(ctx, native)
}

// Search delegates to native search where a mount has one and otherwise
// matches child titles. Searching the mux root searches every mount.
func (x *Mux) Search(ctx context.Context, nativeID string, text string, page ports.Page) (ports.Listing, error) {
	if nativeID == rootID && !x.flat() {
		var entries []ports.Entry
		for _, m := range x.mounts {
			listing, err := searchMount(ctx, m, m.Catalog.Root(), text, ports.Page{})
			if err != nil {
				return ports.Listing{}, err
			}
			entries = append(entries, listing.Entries...)
		}
		return ports.Listing{Entries: slicePage(entries, page), Total: int64(len(entries))}, nil
	}
	m, native, err := x.route(nativeID)
	if err != nil {
		return ports.Listing{}, err
	}
	return searchMount(ctx, m, native, text, page)
}

func searchMount(ctx context.Context, m Mount, native, text string, page ports.Page) (ports.Listing, error) {
	var (
		listing ports.Listing
		err     error
	)
	if searcher, ok := m.Catalog.(ports.Searcher); ok {
		listing, err = searcher.Search(ctx, native, text, page)
	} else {
		listing, err = titleSearch(ctx, m.Catalog, native, text, page)
	}
	if err != nil {
		return ports.Listing{}, err
	}
	prefix(m.Name, listing.Entries)
	return listing, nil
}

func titleSearch(ctx context.Context, catalog ports.Catalog, native, text string, page ports.Page) (ports.Listing, error) {
	listing, err := catalog.ListChildren(ctx, native, ports.Page{})
	if err != nil {
		return ports.Listing{}, err
	}
	needle := strings.ToLower(text)
	matched := make([]ports.Entry, 0, len(listing.Entries))
	for _, e := range listing.Entries {
		if strings.Contains(strings.ToLower(e.Title), needle) {
			e.ParentNativeID = native
			matched = append(matched, e)
		}
	}
	return ports.Listing{Entries: slicePage(matched, page), Total: int64(len(matched))}, nil
}

func (x *Mux) route(nativeID string) (Mount, string, error) {
	name, native, ok := strings.Cut(nativeID, ":")
	if !ok {
		return Mount{}, "", fmt.Errorf("%w: %q", ports.ErrNotFound, nativeID)
	}
	m, found := x.byName[name]
	if !found {
		return Mount{}, "", fmt.Errorf("%w: mount %q", ports.ErrNotFound, name)
	}
	return m, native, nil
}

func mountEntry(m Mount) ports.Entry {
	return ports.Entry{
		NativeID:       join(m.Name, m.Catalog.Root()),
		ParentNativeID: rootID,
		Kind:           ports.KindContainer,
		Title:          m.Title,
		Class:          "object.container.storageFolder",
		ChildCount:     -1,
	}
}

func prefix(name string, entries []ports.Entry) {
	for i := range entries {
		entries[i] = prefixed(name, entries[i])
	}
}

func prefixed(name string, e ports.Entry) ports.Entry {
	e.NativeID = join(name, e.NativeID)
	if e.ParentNativeID != "" {
		e.ParentNativeID = join(name, e.ParentNativeID)
	}
	return e
}

func join(name, native string) string {
	return name + ":" + native
}

func slicePage(entries []ports.Entry, page ports.Page) []ports.Entry {
	if page.Start >= int64(len(entries)) {
		return nil
	}
	end := int64(len(entries))
	if page.Count > 0 && page.Start+page.Count < end {
		end = page.Start + page.Count
	}
	return entries[page.Start:end]
}
