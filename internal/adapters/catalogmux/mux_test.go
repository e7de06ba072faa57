package catalogmux

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mikey-austin/plex_dlna/internal/ports"
)

type stubCatalog struct {
	root     string
	children map[string][]ports.Entry
	streams  map[string]ports.StreamInfo
}

func (s stubCatalog) Root() string { return s.root }

func (s stubCatalog) ListChildren(_ context.Context, nativeID string, page ports.Page) (ports.Listing, error) {
	entries, ok := s.children[nativeID]
	if !ok {
		return ports.Listing{}, ports.ErrNotFound
	}
	return ports.Listing{Entries: slicePage(append([]ports.Entry(nil), entries...), page), Total: int64(len(entries))}, nil
}

func (s stubCatalog) GetMetadata(_ context.Context, nativeID string) (ports.Entry, error) {
	if nativeID == s.root {
		return ports.Entry{NativeID: s.root, Kind: ports.KindContainer, Title: "native root"}, nil
	}
	for _, entries := range s.children {
		for _, e := range entries {
			if e.NativeID == nativeID {
				return e, nil
			}
		}
	}
	return ports.Entry{}, ports.ErrNotFound
}

func (s stubCatalog) GetStreamInfo(_ context.Context, nativeID string) (ports.StreamInfo, error) {
	info, ok := s.streams[nativeID]
	if !ok {
		return ports.StreamInfo{}, ports.ErrNotFound
	}
	return info, nil
}

type searchingStub struct {
	stubCatalog
	queries []string
}

func (s *searchingStub) Search(_ context.Context, nativeID string, text string, _ ports.Page) (ports.Listing, error) {
	s.queries = append(s.queries, nativeID+"|"+text)
	return ports.Listing{Entries: []ports.Entry{{NativeID: "hit", ParentNativeID: "deep", Kind: ports.KindItem, Title: text}}, Total: 1}, nil
}

func newStub(root string) stubCatalog {
	return stubCatalog{
		root: root,
		children: map[string][]ports.Entry{
			root: {
				{NativeID: "a", Kind: ports.KindItem, Title: "Alpha"},
				{NativeID: "b", Kind: ports.KindItem, Title: "Beta"},
			},
		},
		streams: map[string]ports.StreamInfo{"a": {URL: "http://backend/a", Length: 10}},
	}
}

func TestRootListsMounts(t *testing.T) {
	mux, err := New(
		Mount{Name: "plex", Title: "Plex", Catalog: newStub("root")},
		Mount{Name: "podcasts", Title: "Podcasts", Catalog: newStub("podcasts")},
	)
	if err != nil {
		t.Fatalf("new mux: %v", err)
	}
	if mux.Root() != "mounts" {
		t.Fatalf("unexpected root %q", mux.Root())
	}
	listing, err := mux.ListChildren(context.Background(), mux.Root(), ports.Page{})
	if err != nil {
		t.Fatalf("list root: %v", err)
	}
	if listing.Total != 2 || listing.Entries[0].NativeID != "plex:root" || listing.Entries[1].Title != "Podcasts" {
		t.Fatalf("unexpected mounts %+v", listing.Entries)
	}

	children, err := mux.ListChildren(context.Background(), "podcasts:podcasts", ports.Page{Start: 1})
	if err != nil {
		t.Fatalf("list mount: %v", err)
	}
	if len(children.Entries) != 1 || children.Entries[0].NativeID != "podcasts:b" {
		t.Fatalf("unexpected children %+v", children.Entries)
	}

	meta, err := mux.GetMetadata(context.Background(), "plex:root")
	if err != nil || meta.Title != "Plex" || meta.NativeID != "plex:root" || meta.ParentNativeID != "mounts" {
		t.Fatalf("unexpected mount metadata %+v (%v)", meta, err)
	}
	if listing.Entries[0].ParentNativeID != "mounts" {
		t.Fatalf("mount entry parent %q", listing.Entries[0].ParentNativeID)
	}

	info, err := mux.GetStreamInfo(context.Background(), "plex:a")
	if err != nil || info.URL != "http://backend/a" {
		t.Fatalf("unexpected stream info %+v (%v)", info, err)
	}
}

func TestSingleMountFlattened(t *testing.T) {
	mux, err := New(Mount{Name: "plex", Catalog: newStub("root")})
	if err != nil {
		t.Fatalf("new mux: %v", err)
	}
	if mux.Root() != "plex:root" {
		t.Fatalf("expected flattened root, got %q", mux.Root())
	}
	listing, err := mux.ListChildren(context.Background(), mux.Root(), ports.Page{})
	if err != nil {
		t.Fatalf("list root: %v", err)
	}
	if listing.Total != 2 || listing.Entries[0].NativeID != "plex:a" {
		t.Fatalf("unexpected children %+v", listing.Entries)
	}
	meta, err := mux.GetMetadata(context.Background(), mux.Root())
	if err != nil || meta.Title != "native root" {
		t.Fatalf("expected native root title, got %+v (%v)", meta, err)
	}
}

func TestSearchDelegation(t *testing.T) {
	searching := &searchingStub{stubCatalog: newStub("root")}
	mux, err := New(
		Mount{Name: "plex", Catalog: searching},
		Mount{Name: "podcasts", Catalog: newStub("podcasts")},
	)
	if err != nil {
		t.Fatalf("new mux: %v", err)
	}

	listing, err := mux.Search(context.Background(), mux.Root(), "bet", ports.Page{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if listing.Total != 2 {
		t.Fatalf("expected native hit and title match, got %+v", listing.Entries)
	}
	if listing.Entries[0].NativeID != "plex:hit" || listing.Entries[1].NativeID != "podcasts:b" {
		t.Fatalf("unexpected results %+v", listing.Entries)
	}
	if listing.Entries[0].ParentNativeID != "plex:deep" || listing.Entries[1].ParentNativeID != "podcasts:podcasts" {
		t.Fatalf("unexpected parents %+v", listing.Entries)
	}
	if strings.Join(searching.queries, ",") != "root|bet" {
		t.Fatalf("unexpected native queries %v", searching.queries)
	}
}

func TestRouteErrors(t *testing.T) {
	mux, err := New(Mount{Name: "plex", Catalog: newStub("root")}, Mount{Name: "pod", Catalog: newStub("x")})
	if err != nil {
		t.Fatalf("new mux: %v", err)
	}
	if _, err := mux.GetMetadata(context.Background(), "nomount"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := mux.GetStreamInfo(context.Background(), "other:a"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := mux.GetArtInfo(context.Background(), "plex:a"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected no art, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatalf("expected error for no mounts")
	}
	if _, err := New(Mount{Name: "a:b", Catalog: newStub("r")}); err == nil {
		t.Fatalf("expected error for colon in name")
	}
	if _, err := New(Mount{Name: "a", Catalog: newStub("r")}, Mount{Name: "a", Catalog: newStub("r")}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if _, err := New(Mount{Name: "a"}); err == nil {
		t.Fatalf("expected missing catalog error")
	}
}
