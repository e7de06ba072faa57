package stream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikey-austin/plex_dlna/internal/core"
	"github.com/mikey-austin/plex_dlna/internal/dlna"
	"github.com/mikey-austin/plex_dlna/internal/ports"
	"github.com/mikey-austin/plex_dlna/internal/registry"
	"github.com/mikey-austin/plex_dlna/pkg/events"
	"go.uber.org/zap"
)

type fakeCatalog struct {
	infos map[string]ports.StreamInfo
	art   map[string]ports.StreamInfo
}

func (f *fakeCatalog) Root() string { return "root" }

func (f *fakeCatalog) ListChildren(context.Context, string, ports.Page) (ports.Listing, error) {
	return ports.Listing{}, nil
}

func (f *fakeCatalog) GetMetadata(context.Context, string) (ports.Entry, error) {
	return ports.Entry{}, ports.ErrNotFound
}

func (f *fakeCatalog) GetStreamInfo(_ context.Context, nativeID string) (ports.StreamInfo, error) {
	info, ok := f.infos[nativeID]
	if !ok {
		return ports.StreamInfo{}, ports.ErrNotFound
	}
	return info, nil
}

func (f *fakeCatalog) GetArtInfo(_ context.Context, nativeID string) (ports.StreamInfo, error) {
	info, ok := f.art[nativeID]
	if !ok {
		return ports.StreamInfo{}, ports.ErrNotFound
	}
	return info, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	stream []events.StreamEvent
}

func (r *recordingEvents) ContainerUpdated(events.ContainerUpdate) {}

func (r *recordingEvents) StreamEvent(e events.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stream = append(r.stream, e)
}

func (r *recordingEvents) last() (events.StreamEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stream) == 0 {
		return events.StreamEvent{}, false
	}
	return r.stream[len(r.stream)-1], true
}

func (r *recordingEvents) phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.stream))
	for _, e := range r.stream {
		out = append(out, e.Phase)
	}
	return out
}

type fixture struct {
	proxy    *Proxy
	itemID   string
	payload  []byte
	hits     *atomic.Int64
	lastHdr  *atomic.Value
	events   *recordingEvents
	upstream *httptest.Server
}

func newFixture(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, payload []byte), length int64) fixture {
	t.Helper()
	payload := bytes.Repeat([]byte("0123456789"), 50000)
	hits := &atomic.Int64{}
	lastHdr := &atomic.Value{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		lastHdr.Store(r.Header.Clone())
		if handler == nil {
			http.ServeContent(w, r, "trailer.mp4", time.Time{}, bytes.NewReader(payload))
			return
		}
		handler(w, r, payload)
	}))
	t.Cleanup(upstream.Close)

	if length == 0 {
		length = int64(len(payload))
	}
	catalog := &fakeCatalog{
		infos: map[string]ports.StreamInfo{
			"trailer": {URL: upstream.URL + "/file", Length: length, MimeType: "video/mp4", Header: http.Header{"X-Plex-Token": {"secret"}}},
		},
		art: map[string]ports.StreamInfo{
			"trailer": {URL: upstream.URL + "/thumb", MimeType: "image/jpeg"},
		},
	}
	reg := registry.New("root")
	itemID, err := reg.ResolveOrAllocate("trailer", ports.KindItem, "root")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	ev := &recordingEvents{}
	proxy := NewProxy(zap.NewNop(), catalog, reg, Config{Events: ev, IdleTimeout: 5 * time.Second})
	return fixture{proxy: proxy, itemID: itemID, payload: payload, hits: hits, lastHdr: lastHdr, events: ev, upstream: upstream}
}

func (f fixture) request(method string, rangeHeader string) *http.Request {
	req := httptest.NewRequest(method, "/stream?id="+url.QueryEscape(f.itemID), nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return req
}

func TestServeFullBody(t *testing.T) {
	f := newFixture(t, nil, 0)
	req := f.request(http.MethodGet, "")
	req.Header.Set(dlna.HeaderGetContentFeatures, "1")
	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if rec.Header().Get("Content-Length") != strconv.Itoa(len(f.payload)) {
		t.Fatalf("unexpected length %s", rec.Header().Get("Content-Length"))
	}
	if !bytes.Equal(rec.Body.Bytes(), f.payload) {
		t.Fatalf("body mismatch")
	}
	if rec.Header().Get(dlna.HeaderTransferMode) != dlna.TransferModeStreaming {
		t.Fatalf("missing transfer mode")
	}
	if rec.Header().Get(dlna.HeaderContentFeatures) == "" {
		t.Fatalf("missing content features")
	}
	hdr := f.lastHdr.Load().(http.Header)
	if hdr.Get("X-Plex-Token") != "secret" {
		t.Fatalf("backend headers not forwarded")
	}
	phases := f.events.phases()
	if len(phases) != 2 || phases[0] != events.StreamStarted || phases[1] != events.StreamFinished {
		t.Fatalf("unexpected events %v", phases)
	}
}

func TestServeRange(t *testing.T) {
	f := newFixture(t, nil, 0)
	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, f.request(http.MethodGet, "bytes=0-999"))

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-999/500000" {
		t.Fatalf("unexpected content range %s", got)
	}
	if rec.Body.Len() != 1000 || !bytes.Equal(rec.Body.Bytes(), f.payload[:1000]) {
		t.Fatalf("unexpected body length %d", rec.Body.Len())
	}
	if got := f.lastHdr.Load().(http.Header).Get("Range"); got != "bytes=0-999" {
		t.Fatalf("unexpected upstream range %s", got)
	}
}

func TestServeUnsatisfiableRange(t *testing.T) {
	f := newFixture(t, nil, 0)
	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, f.request(http.MethodGet, "bytes=500000-500000"))

	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */500000" {
		t.Fatalf("unexpected content range %s", got)
	}
	if rec.Body.Len() != 0 || f.hits.Load() != 0 {
		t.Fatalf("expected no body and no upstream call")
	}
}

func TestServeSkipsWhenUpstreamIgnoresRange(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request, payload []byte) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}, 0)
	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, f.request(http.MethodGet, "bytes=10-19"))

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), f.payload[10:20]) {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestServeHeadSkipsUpstream(t *testing.T) {
	f := newFixture(t, nil, 0)
	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, f.request(http.MethodHead, ""))

	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("unexpected head response %d %d", rec.Code, rec.Body.Len())
	}
	if rec.Header().Get("Content-Length") != "500000" {
		t.Fatalf("unexpected length %s", rec.Header().Get("Content-Length"))
	}
	if f.hits.Load() != 0 {
		t.Fatalf("head should not reach upstream")
	}
}

func TestServeUpstreamError(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, 0)
	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, f.request(http.MethodGet, ""))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	phases := f.events.phases()
	if len(phases) != 1 || phases[0] != events.StreamFailed {
		t.Fatalf("unexpected events %v", phases)
	}
}

func TestServeUnknownObject(t *testing.T) {
	f := newFixture(t, nil, 0)
	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream?id=item:bm9wZQ", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestServeContainerIsInvalidObject(t *testing.T) {
	f := newFixture(t, nil, 0)
	containerID, err := f.proxy.reg.ResolveOrAllocate("movies", ports.KindContainer, "root")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := f.proxy.Open(context.Background(), containerID, "", false); core.KindOf(err) != core.KindInvalidObjectID {
		t.Fatalf("expected invalid object id, got %v", err)
	}
	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream?id="+url.QueryEscape(containerID), nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if f.hits.Load() != 0 {
		t.Fatalf("container should not reach upstream")
	}
}

func TestServeLengthMismatchAborts(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request, payload []byte) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write(payload[:100])
	}, 200)

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Fatalf("expected abort, got %v", r)
		}
		phases := f.events.phases()
		if len(phases) != 2 || phases[1] != events.StreamFailed {
			t.Fatalf("unexpected events %v", phases)
		}
	}()
	f.proxy.ServeHTTP(httptest.NewRecorder(), f.request(http.MethodGet, ""))
}

func TestServeUnknownLengthMirrorsUpstream(t *testing.T) {
	f := newFixture(t, nil, -1)
	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, f.request(http.MethodGet, "bytes=5-9"))

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := f.lastHdr.Load().(http.Header).Get("Range"); got != "bytes=5-9" {
		t.Fatalf("range not forwarded verbatim: %s", got)
	}
	if rec.Header().Get("Content-Range") != "bytes 5-9/500000" {
		t.Fatalf("unexpected content range %s", rec.Header().Get("Content-Range"))
	}
	if !bytes.Equal(rec.Body.Bytes(), f.payload[5:10]) {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestServeUnknownLengthMirrorsUnsatisfiable(t *testing.T) {
	f := newFixture(t, nil, -1)
	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, f.request(http.MethodGet, "bytes=600000-"))

	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */500000" {
		t.Fatalf("unexpected content range %s", got)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %d bytes", rec.Body.Len())
	}
	if phases := f.events.phases(); len(phases) != 0 {
		t.Fatalf("unexpected events %v", phases)
	}
}

func TestServeRendererDisconnectStopsUpstream(t *testing.T) {
	const total = 1 << 30
	written := make(chan int64, 1)
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request, payload []byte) {
		w.Header().Set("Content-Length", strconv.Itoa(total))
		var n int64
		for n < total {
			m, err := w.Write(payload)
			n += int64(m)
			if err != nil {
				break
			}
		}
		written <- n
	}, total)
	front := httptest.NewServer(f.proxy)
	t.Cleanup(front.Close)

	resp, err := http.Get(front.URL + "/stream?id=" + url.QueryEscape(f.itemID))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := io.CopyN(io.Discard, resp.Body, 100*1024); err != nil {
		t.Fatalf("read: %v", err)
	}
	resp.Body.Close()

	select {
	case n := <-written:
		if n >= total/4 {
			t.Fatalf("upstream kept sending after disconnect: %d bytes", n)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("upstream transfer not cancelled")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if ev, ok := f.events.last(); ok && ev.Phase == events.StreamFinished {
			if ev.Error != "renderer disconnected" {
				t.Fatalf("unexpected final event %+v", ev)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no finished event, got %v", f.events.phases())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServeIdleUpstreamAborts(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request, payload []byte) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write(payload[:10])
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}, 100)
	f.proxy.config.IdleTimeout = 50 * time.Millisecond

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Fatalf("expected abort, got %v", r)
		}
		ev, ok := f.events.last()
		if !ok || ev.Phase != events.StreamFailed || ev.Bytes != 10 {
			t.Fatalf("unexpected final event %+v", ev)
		}
	}()
	f.proxy.ServeHTTP(httptest.NewRecorder(), f.request(http.MethodGet, ""))
}

func TestServeHeaderTimeout(t *testing.T) {
	f := newFixture(t, func(_ http.ResponseWriter, r *http.Request, _ []byte) {
		<-r.Context().Done()
	}, 0)
	ev := &recordingEvents{}
	proxy := NewProxy(zap.NewNop(), f.proxy.catalog, f.proxy.reg, Config{HeaderTimeout: 50 * time.Millisecond, Events: ev})

	if _, err := proxy.Open(context.Background(), f.itemID, "", false); core.KindOf(err) != core.KindUpstreamFailure {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, f.request(http.MethodGet, ""))
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if phases := ev.phases(); len(phases) != 1 || phases[0] != events.StreamFailed {
		t.Fatalf("unexpected events %v", phases)
	}
}

func TestServeArt(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		if r.URL.Path != "/thumb" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	}, 0)
	rec := httptest.NewRecorder()
	f.proxy.ServeArt(rec, f.request(http.MethodGet, ""))
	if rec.Code != http.StatusOK || rec.Body.String() != "jpeg" {
		t.Fatalf("unexpected art response %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(dlna.HeaderTransferMode) != dlna.TransferModeInteractive {
		t.Fatalf("unexpected transfer mode")
	}
}
