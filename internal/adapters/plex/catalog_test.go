package plex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/plex_dlna/internal/ports"
)

func TestListSections(t *testing.T) {
	catalog, _ := newTestCatalog(t, Config{})

	listing, err := catalog.ListChildren(context.Background(), catalog.Root(), ports.Page{})
	if err != nil {
		t.Fatalf("list root: %v", err)
	}
	if listing.Total != 2 || len(listing.Entries) != 2 {
		t.Fatalf("expected 2 sections, got %d/%d", len(listing.Entries), listing.Total)
	}
	if listing.Entries[0].NativeID != "section/1" || listing.Entries[0].Kind != ports.KindContainer {
		t.Fatalf("unexpected section %+v", listing.Entries[0])
	}

	paged, err := catalog.ListChildren(context.Background(), catalog.Root(), ports.Page{Start: 1, Count: 5})
	if err != nil {
		t.Fatalf("list root page: %v", err)
	}
	if len(paged.Entries) != 1 || paged.Entries[0].Title != "Music" {
		t.Fatalf("unexpected page %+v", paged.Entries)
	}
}

func TestListSectionPaging(t *testing.T) {
	catalog, fake := newTestCatalog(t, Config{})

	listing, err := catalog.ListChildren(context.Background(), "section/1", ports.Page{Start: 0, Count: 1})
	if err != nil {
		t.Fatalf("list section: %v", err)
	}
	if listing.Total != 2 {
		t.Fatalf("expected total 2, got %d", listing.Total)
	}
	if len(listing.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(listing.Entries))
	}
	movie := listing.Entries[0]
	if movie.NativeID != "meta/100" || movie.Kind != ports.KindItem {
		t.Fatalf("unexpected movie %+v", movie)
	}
	if movie.MimeType != "video/x-matroska" || movie.Size != 123456 {
		t.Fatalf("unexpected media fields %+v", movie)
	}
	if movie.Duration != 90*time.Minute {
		t.Fatalf("unexpected duration %v", movie.Duration)
	}
	if movie.Date.Year() != 2001 || !movie.HasArt || movie.Genre != "Drama" {
		t.Fatalf("unexpected metadata %+v", movie)
	}
	if got := fake.lastQuery.Load(); got == nil || !strings.Contains(got.(string), "X-Plex-Container-Size=1") {
		t.Fatalf("expected container size param, got %v", got)
	}
}

func TestListChildrenUnknownTotal(t *testing.T) {
	catalog, _ := newTestCatalog(t, Config{})

	listing, err := catalog.ListChildren(context.Background(), "meta/200", ports.Page{Count: 1})
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if listing.Total != -1 {
		t.Fatalf("expected unknown total, got %d", listing.Total)
	}
	track := listing.Entries[0]
	if track.Artist != "Band" || track.Album != "Record" || track.TrackNumber != 1 {
		t.Fatalf("unexpected track %+v", track)
	}
	if track.Class != "object.item.audioItem.musicTrack" {
		t.Fatalf("unexpected class %q", track.Class)
	}
}

func TestMissingPartUnavailable(t *testing.T) {
	catalog, _ := newTestCatalog(t, Config{})

	listing, err := catalog.ListChildren(context.Background(), "section/1", ports.Page{})
	if err != nil {
		t.Fatalf("list section: %v", err)
	}
	if len(listing.Entries) != 2 || !listing.Entries[1].Unavailable {
		t.Fatalf("expected second movie unavailable: %+v", listing.Entries)
	}
}

func TestGetMetadata(t *testing.T) {
	catalog, _ := newTestCatalog(t, Config{})

	root, err := catalog.GetMetadata(context.Background(), "root")
	if err != nil || root.Title != "Plex" {
		t.Fatalf("unexpected root %+v (%v)", root, err)
	}
	section, err := catalog.GetMetadata(context.Background(), "section/2")
	if err != nil || section.Title != "Music" {
		t.Fatalf("unexpected section %+v (%v)", section, err)
	}
	if _, err := catalog.GetMetadata(context.Background(), "section/9"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := catalog.GetMetadata(context.Background(), "meta/404"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := catalog.GetMetadata(context.Background(), "bogus"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetStreamInfo(t *testing.T) {
	catalog, _ := newTestCatalog(t, Config{Token: "secret"})

	info, err := catalog.GetStreamInfo(context.Background(), "meta/100")
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.URL != "http://plex.test/library/parts/7/file.mkv" {
		t.Fatalf("unexpected url %q", info.URL)
	}
	if info.Length != 123456 || info.MimeType != "video/x-matroska" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Header.Get("X-Plex-Token") != "secret" {
		t.Fatalf("expected token header")
	}
	if strings.Contains(info.URL, "secret") {
		t.Fatalf("token leaked into url")
	}
	if _, err := catalog.GetStreamInfo(context.Background(), "meta/101"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found for missing part, got %v", err)
	}
	if _, err := catalog.GetStreamInfo(context.Background(), "section/1"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found for section, got %v", err)
	}
}

func TestGetArtInfo(t *testing.T) {
	catalog, _ := newTestCatalog(t, Config{ArtSize: 200})

	info, err := catalog.GetArtInfo(context.Background(), "meta/100")
	if err != nil {
		t.Fatalf("art info: %v", err)
	}
	if !strings.HasPrefix(info.URL, "http://plex.test/photo/:/transcode?") || !strings.Contains(info.URL, "width=200") {
		t.Fatalf("unexpected art url %q", info.URL)
	}
	if info.Length != -1 {
		t.Fatalf("expected unknown length")
	}
	if _, err := catalog.GetArtInfo(context.Background(), "meta/101"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	catalog, fake := newTestCatalog(t, Config{})

	listing, err := catalog.Search(context.Background(), "section/1", "heat", ports.Page{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(listing.Entries) != 1 || listing.Entries[0].Title != "Heat" {
		t.Fatalf("unexpected results %+v", listing.Entries)
	}
	if got := fake.lastQuery.Load(); got == nil || !strings.Contains(got.(string), "title=heat") {
		t.Fatalf("expected title param, got %v", got)
	}

	filtered, err := catalog.Search(context.Background(), "meta/200", "TWO", ports.Page{})
	if err != nil {
		t.Fatalf("search children: %v", err)
	}
	if filtered.Total != 1 || filtered.Entries[0].Title != "Track Two" {
		t.Fatalf("unexpected filtered results %+v", filtered)
	}
}

func TestSearchHitsCarryParents(t *testing.T) {
	catalog, _ := newTestCatalog(t, Config{})

	listing, err := catalog.Search(context.Background(), "root", "heat", ports.Page{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(listing.Entries) != 2 {
		t.Fatalf("unexpected results %+v", listing.Entries)
	}
	if got := listing.Entries[0].ParentNativeID; got != "meta/300" {
		t.Fatalf("episode parent: %q", got)
	}
	if got := listing.Entries[1].ParentNativeID; got != "section/1" {
		t.Fatalf("movie parent: %q", got)
	}

	section, err := catalog.Search(context.Background(), "section/1", "heat", ports.Page{})
	if err != nil {
		t.Fatalf("section search: %v", err)
	}
	if got := section.Entries[0].ParentNativeID; got != "section/1" {
		t.Fatalf("section hit parent: %q", got)
	}

	sections, err := catalog.ListChildren(context.Background(), "root", ports.Page{})
	if err != nil {
		t.Fatalf("list root: %v", err)
	}
	if got := sections.Entries[0].ParentNativeID; got != "root" {
		t.Fatalf("section parent: %q", got)
	}
}

func TestClientHeadersAndCache(t *testing.T) {
	catalog, fake := newTestCatalog(t, Config{Token: "secret", ClientID: "abc", CacheCompress: true})

	for i := 0; i < 3; i++ {
		if _, err := catalog.ListChildren(context.Background(), "root", ports.Page{}); err != nil {
			t.Fatalf("list root: %v", err)
		}
	}
	if got := fake.calls.Load(); got != 1 {
		t.Fatalf("expected cached responses, got %d backend calls", got)
	}
	header := fake.lastHeader.Load().(http.Header)
	if header.Get("X-Plex-Token") != "secret" || header.Get("X-Plex-Client-Identifier") != "abc" {
		t.Fatalf("missing plex headers: %v", header)
	}
	if header.Get("Accept") != "application/json" {
		t.Fatalf("expected json accept header")
	}
}

func TestBackendFailure(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	client, err := NewClient(zap.NewNop(), newTestClient(handler), Config{BaseURL: "http://plex.test", CacheSize: -1})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	catalog := NewCatalog(client, "")
	if _, err := catalog.ListChildren(context.Background(), "root", ports.Page{}); !errors.Is(err, ports.ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable, got %v", err)
	}
}

func TestBackendTimeout(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	client, err := NewClient(zap.NewNop(), newTestClient(handler), Config{
		BaseURL:   "http://plex.test",
		Timeout:   10 * time.Millisecond,
		CacheSize: -1,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	catalog := NewCatalog(client, "")
	if _, err := catalog.GetMetadata(context.Background(), "meta/100"); !errors.Is(err, ports.ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable, got %v", err)
	}
}

func TestSharedRequestSurvivesCallerCancel(t *testing.T) {
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	var calls atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		entered <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		writeJSON(t, w, container(map[string]any{"Metadata": []any{
			map[string]any{"ratingKey": "100", "type": "movie", "title": "Heat"},
		}}))
	})
	client, err := NewClient(zap.NewNop(), newTestClient(handler), Config{
		BaseURL:   "http://plex.test",
		Timeout:   5 * time.Second,
		CacheSize: -1,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	catalog := NewCatalog(client, "")

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := catalog.GetMetadata(first, "meta/100")
		firstErr <- err
	}()
	<-entered

	secondErr := make(chan error, 1)
	var second ports.Entry
	go func() {
		var err error
		second, err = catalog.GetMetadata(context.Background(), "meta/100")
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) || !errors.Is(err, ports.ErrBackendUnavailable) {
		t.Fatalf("expected cancelled caller to fail, got %v", err)
	}
	close(release)
	if err := <-secondErr; err != nil {
		t.Fatalf("second caller failed with first caller's cancellation: %v", err)
	}
	if second.Title != "Heat" {
		t.Fatalf("unexpected entry %+v", second)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one shared backend call, got %d", got)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(nil, nil, Config{}); err == nil {
		t.Fatalf("expected base url error")
	}
	client, err := NewClient(nil, nil, Config{BaseURL: "http://plex.test/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.URL("/x", nil) != "http://plex.test/x" {
		t.Fatalf("expected trailing slash trimmed")
	}
}

type fakePlex struct {
	calls      atomic.Int64
	lastQuery  atomic.Value
	lastHeader atomic.Value
}

func newTestCatalog(t *testing.T, cfg Config) (*Catalog, *fakePlex) {
	t.Helper()
	fake := &fakePlex{}
	cfg.BaseURL = "http://plex.test"
	client, err := NewClient(zap.NewNop(), newTestClient(fake.handler(t)), cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return NewCatalog(client, ""), fake
}

func (f *fakePlex) handler(t *testing.T) http.Handler {
	heatPart := map[string]any{
		"key":       "/library/parts/7/file.mkv",
		"size":      123456,
		"container": "mkv",
	}
	heatMedia := []any{map[string]any{"container": "mkv", "Part": []any{heatPart}}}
	heat := map[string]any{
		"ratingKey":             "100",
		"type":                  "movie",
		"title":                 "Heat",
		"year":                  1995,
		"originallyAvailableAt": "2001-05-04",
		"duration":              5400000,
		"thumb":                 "/library/metadata/100/thumb/1",
		"Genre":                 []any{map[string]any{"tag": "Drama"}},
		"Media":                 heatMedia,
	}
	ghost := map[string]any{"ratingKey": "101", "type": "movie", "title": "Ghost"}
	tracks := []any{
		map[string]any{
			"ratingKey": "201", "type": "track", "title": "Track One", "index": 1,
			"parentTitle": "Record", "grandparentTitle": "Band",
			"Media": []any{map[string]any{"container": "flac", "Part": []any{map[string]any{"key": "/library/parts/8/a.flac", "size": 10}}}},
		},
		map[string]any{
			"ratingKey": "202", "type": "track", "title": "Track Two", "index": 2,
			"parentTitle": "Record", "grandparentTitle": "Band",
			"Media": []any{map[string]any{"container": "flac", "Part": []any{map[string]any{"key": "/library/parts/9/b.flac", "size": 10}}}},
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.lastQuery.Store(r.URL.RawQuery)
		f.lastHeader.Store(r.Header.Clone())
		query := r.URL.Query()
		size := query.Get("X-Plex-Container-Size")

		switch r.URL.Path {
		case "/library/sections":
			writeJSON(t, w, container(map[string]any{"Directory": []any{
				map[string]any{"key": "1", "title": "Movies", "type": "movie", "thumb": "/s/1"},
				map[string]any{"key": "2", "title": "Music", "type": "artist"},
			}}))
		case "/library/sections/1/all":
			items := []any{heat, ghost}
			if query.Get("title") != "" {
				items = []any{heat}
			} else if size == "1" {
				items = items[:1]
			}
			writeJSON(t, w, container(map[string]any{"totalSize": len(items) + boolInt(size == "1"), "Metadata": items}))
		case "/library/metadata/200/children":
			items := tracks
			if size == "1" {
				items = items[:1]
			}
			writeJSON(t, w, container(map[string]any{"Metadata": items}))
		case "/search":
			episode := map[string]any{
				"ratingKey": "301", "type": "episode", "title": "Heat Wave",
				"parentRatingKey": "300", "librarySectionID": 3,
			}
			movie := map[string]any{"ratingKey": "100", "type": "movie", "title": "Heat", "librarySectionID": 1}
			writeJSON(t, w, container(map[string]any{"Metadata": []any{episode, movie}}))
		case "/library/metadata/100":
			writeJSON(t, w, container(map[string]any{"Metadata": []any{heat}}))
		case "/library/metadata/101":
			writeJSON(t, w, container(map[string]any{"Metadata": []any{ghost}}))
		default:
			http.NotFound(w, r)
		}
	})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func container(body map[string]any) map[string]any {
	return map[string]any{"MediaContainer": body}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode json: %v", err)
	}
}

func newTestClient(handler http.Handler) *http.Client {
	return &http.Client{Transport: roundTripper{handler: handler}}
}

type roundTripper struct {
	handler http.Handler
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	respCh := make(chan *http.Response, 1)

	go func() {
		recorder := httptest.NewRecorder()
		if req.Body != nil {
			bodyBytes, _ := io.ReadAll(req.Body)
			_ = req.Body.Close()
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
		rt.handler.ServeHTTP(recorder, req)
		respCh <- recorder.Result()
	}()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
}
