package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mikey-austin/plex_dlna/internal/core"
	"github.com/mikey-austin/plex_dlna/internal/dlna"
	"github.com/mikey-austin/plex_dlna/internal/ports"
	"github.com/mikey-austin/plex_dlna/internal/registry"
	"github.com/mikey-austin/plex_dlna/pkg/events"
	"go.uber.org/zap"
)

// Config configures the stream proxy.
type Config struct {
	HeaderTimeout time.Duration
	IdleTimeout   time.Duration
	BufferSize    int
	// IDFunc extracts the object id from a request.
	IDFunc func(*http.Request) string
	Events ports.Events
	Client *http.Client
}

// Proxy relays item bytes from the catalog backend to renderers.
type Proxy struct {
	log     *zap.Logger
	catalog ports.Catalog
	reg     *registry.Registry
	client  *http.Client
	bufs    sync.Pool
	config  Config
}

// NewProxy creates a stream proxy.
func NewProxy(log *zap.Logger, catalog ports.Catalog, reg *registry.Registry, cfg Config) *Proxy {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64 * 1024
	}
	if cfg.IDFunc == nil {
		cfg.IDFunc = func(r *http.Request) string { return r.URL.Query().Get("id") }
	}
	if cfg.Events == nil {
		cfg.Events = ports.NopEvents{}
	}
	client := cfg.Client
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = cfg.HeaderTimeout
		client = &http.Client{Transport: transport}
	}
	size := cfg.BufferSize
	return &Proxy{
		log:     log,
		catalog: catalog,
		reg:     reg,
		client:  client,
		bufs:    sync.Pool{New: func() any { b := make([]byte, size); return &b }},
		config:  cfg,
	}
}

// Session is an opened stream ready to be written to a renderer.
type Session struct {
	Status int
	Header http.Header
	// Body is nil when there is nothing to send.
	Body io.ReadCloser
	// Expected is the number of bytes the renderer was promised, -1 if
	// unknown.
	Expected int64

	skip   int64
	strict bool
	cancel context.CancelFunc
	idle   *time.Timer
}

// Close releases the upstream response.
func (s *Session) Close() error {
	if s.idle != nil {
		s.idle.Stop()
	}
	var err error
	if s.Body != nil {
		err = s.Body.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	return err
}

// Open resolves objectID and prepares the upstream transfer for the given
// Range header. head skips the backend request when the length is known.
func (p *Proxy) Open(ctx context.Context, objectID string, rangeHeader string, head bool) (*Session, error) {
	rec, err := p.reg.Lookup(objectID)
	if err != nil {
		return nil, core.Wrap(core.KindInvalidObjectID, "object "+objectID, err)
	}
	if rec.Kind != ports.KindItem {
		return nil, core.Errorf(core.KindInvalidObjectID, "%s is not an item", objectID)
	}
	info, err := p.catalog.GetStreamInfo(ctx, rec.NativeID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, core.Wrap(core.KindNotFound, "stream info", err)
		}
		return nil, core.Wrap(core.KindUpstreamFailure, "stream info", err)
	}
	return p.open(ctx, info, rangeHeader, head)
}

func (p *Proxy) open(ctx context.Context, info ports.StreamInfo, rangeHeader string, head bool) (*Session, error) {
	mime := info.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	header := http.Header{}
	header.Set("Content-Type", mime)
	header.Set("Accept-Ranges", "bytes")
	header.Set(dlna.HeaderTransferMode, dlna.TransferMode(mime))

	sess := &Session{Header: header, Expected: -1}
	known := info.Length >= 0
	var rng ByteRange
	ranged := false
	if known {
		var err error
		rng, ranged, err = ParseRange(rangeHeader, info.Length)
		if errors.Is(err, ErrUnsatisfiable) {
			header.Set("Content-Range", fmt.Sprintf("bytes */%d", info.Length))
			header.Set("Content-Length", "0")
			sess.Status = http.StatusRequestedRangeNotSatisfiable
			return sess, nil
		}
		sess.Status = http.StatusOK
		sess.Expected = info.Length
		sess.strict = true
		if ranged {
			sess.Status = http.StatusPartialContent
			sess.Expected = rng.Length()
			sess.strict = false
			header.Set("Content-Range", rng.ContentRange(info.Length))
		}
		header.Set("Content-Length", strconv.FormatInt(sess.Expected, 10))
		if head {
			sess.Expected = 0
			return sess, nil
		}
	}

	upCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(upCtx, http.MethodGet, info.URL, nil)
	if err != nil {
		cancel()
		return nil, core.Wrap(core.KindUpstreamFailure, "build upstream request", err)
	}
	for key, values := range info.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	switch {
	case ranged:
		req.Header.Set("Range", rng.Header())
	case !known && rangeHeader != "":
		req.Header.Set("Range", rangeHeader)
	}
	if head && !known {
		req.Method = http.MethodHead
	}

	resp, err := p.client.Do(req)
	if err != nil {
		cancel()
		return nil, core.Wrap(core.KindUpstreamFailure, "upstream request", err)
	}
	if !known && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		resp.Body.Close()
		cancel()
		sess.Status = resp.StatusCode
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			header.Set("Content-Range", cr)
		}
		header.Set("Content-Length", "0")
		return sess, nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		cancel()
		return nil, core.Errorf(core.KindUpstreamFailure, "upstream status %d", resp.StatusCode)
	}

	sess.cancel = cancel
	sess.idle = time.AfterFunc(p.config.IdleTimeout, cancel)
	sess.Body = &idleReader{r: resp.Body, c: resp.Body, timer: sess.idle, idle: p.config.IdleTimeout}

	if known {
		if ranged && resp.StatusCode != http.StatusPartialContent {
			sess.skip = rng.Start
		}
		return sess, nil
	}

	sess.Status = resp.StatusCode
	sess.Expected = resp.ContentLength
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		header.Set("Content-Range", cr)
	}
	if resp.ContentLength >= 0 {
		header.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	if head {
		resp.Body.Close()
		sess.Body = nil
		sess.Expected = 0
	}
	return sess, nil
}

// idleReader cancels the upstream request when no bytes arrive for idle.
type idleReader struct {
	r     io.Reader
	c     io.Closer
	timer *time.Timer
	idle  time.Duration
}

func (i *idleReader) Read(p []byte) (int, error) {
	n, err := i.r.Read(p)
	if n > 0 {
		i.timer.Reset(i.idle)
	}
	return n, err
}

func (i *idleReader) Close() error {
	return i.c.Close()
}

// errRendererGone marks a copy that failed writing to the renderer.
var errRendererGone = errors.New("renderer write failed")

type rendererWriter struct {
	w      io.Writer
	failed bool
}

func (rw *rendererWriter) Write(b []byte) (int, error) {
	n, err := rw.w.Write(b)
	if err != nil {
		rw.failed = true
	}
	return n, err
}

// copyTo writes the session body to w and returns the bytes written.
func (p *Proxy) copyTo(w io.Writer, sess *Session) (int64, error) {
	rw := &rendererWriter{w: w}
	n, err := p.copyBody(rw, sess)
	if err != nil && rw.failed {
		err = fmt.Errorf("%w: %w", errRendererGone, err)
	}
	return n, err
}

func (p *Proxy) copyBody(w io.Writer, sess *Session) (int64, error) {
	bufp := p.bufs.Get().(*[]byte)
	defer p.bufs.Put(bufp)
	buf := *bufp

	if sess.skip > 0 {
		skipped, err := io.CopyBuffer(io.Discard, io.LimitReader(sess.Body, sess.skip), buf)
		if err != nil {
			return 0, err
		}
		if skipped != sess.skip {
			return 0, fmt.Errorf("upstream ended after %d of %d skipped bytes", skipped, sess.skip)
		}
	}

	if sess.Expected < 0 {
		return io.CopyBuffer(w, sess.Body, buf)
	}
	n, err := io.CopyBuffer(w, io.LimitReader(sess.Body, sess.Expected), buf)
	if err != nil {
		return n, err
	}
	if n != sess.Expected {
		return n, fmt.Errorf("upstream sent %d of %d bytes", n, sess.Expected)
	}
	if sess.strict {
		var one [1]byte
		if extra, _ := sess.Body.Read(one[:]); extra > 0 {
			return n, fmt.Errorf("upstream sent more than %d bytes", sess.Expected)
		}
	}
	return n, nil
}

// ServeHTTP streams the item named by the request.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	objectID := p.config.IDFunc(r)
	rangeHeader := r.Header.Get("Range")
	head := r.Method == http.MethodHead
	started := time.Now()
	event := events.StreamEvent{
		ObjectID: objectID,
		Remote:   r.RemoteAddr,
		Range:    rangeHeader,
	}

	sess, err := p.Open(r.Context(), objectID, rangeHeader, head)
	if err != nil {
		status := core.HTTPStatus(err)
		p.log.Warn("stream open failed",
			zap.String("object_id", objectID),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", status),
			zap.Error(err),
		)
		event.Phase = events.StreamFailed
		event.Status = status
		event.Error = err.Error()
		p.config.Events.StreamEvent(event)
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer sess.Close()

	for key, values := range sess.Header {
		w.Header()[key] = values
	}
	if r.Header.Get(dlna.HeaderGetContentFeatures) == "1" {
		w.Header().Set(dlna.HeaderContentFeatures, dlna.ContentFeatures(sess.Header.Get("Content-Type")))
	}
	w.WriteHeader(sess.Status)
	if sess.Body == nil {
		return
	}

	event.Phase = events.StreamStarted
	event.Status = sess.Status
	p.config.Events.StreamEvent(event)

	n, err := p.copyTo(w, sess)
	event.Bytes = n
	event.DurationMS = time.Since(started).Milliseconds()
	if err == nil {
		event.Phase = events.StreamFinished
		p.config.Events.StreamEvent(event)
		p.log.Debug("stream finished",
			zap.String("object_id", objectID),
			zap.Int64("bytes", n),
			zap.Duration("took", time.Since(started)),
		)
		return
	}
	if r.Context().Err() != nil || errors.Is(err, errRendererGone) {
		event.Phase = events.StreamFinished
		event.Error = "renderer disconnected"
		p.config.Events.StreamEvent(event)
		p.log.Debug("renderer disconnected",
			zap.String("object_id", objectID),
			zap.Int64("bytes", n),
		)
		return
	}

	failure := core.Wrap(core.KindUpstreamFailure, "stream transfer", err)
	event.Phase = events.StreamFailed
	event.Error = failure.Error()
	p.config.Events.StreamEvent(event)
	p.log.Error("stream aborted",
		zap.String("object_id", objectID),
		zap.Int64("bytes", n),
		zap.Int64("expected", sess.Expected),
		zap.Error(failure),
	)
	panic(http.ErrAbortHandler)
}

// ServeArt relays the artwork of the object named by the request.
func (p *Proxy) ServeArt(w http.ResponseWriter, r *http.Request) {
	objectID := p.config.IDFunc(r)
	source, ok := p.catalog.(ports.ArtSource)
	if !ok {
		http.NotFound(w, r)
		return
	}
	rec, err := p.reg.Lookup(objectID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	info, err := source.GetArtInfo(r.Context(), rec.NativeID)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ports.ErrNotFound) {
			status = http.StatusNotFound
		}
		p.log.Debug("art lookup failed", zap.String("object_id", objectID), zap.Error(err))
		http.Error(w, http.StatusText(status), status)
		return
	}
	if info.MimeType == "" {
		info.MimeType = "image/jpeg"
	}
	info.Length = -1
	sess, err := p.open(r.Context(), info, "", r.Method == http.MethodHead)
	if err != nil {
		status := core.HTTPStatus(err)
		p.log.Debug("art fetch failed", zap.String("object_id", objectID), zap.Error(err))
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer sess.Close()
	for key, values := range sess.Header {
		w.Header()[key] = values
	}
	w.Header().Set(dlna.HeaderTransferMode, dlna.TransferModeInteractive)
	w.Header().Del("Accept-Ranges")
	w.WriteHeader(sess.Status)
	if sess.Body == nil {
		return
	}
	if _, err := p.copyTo(w, sess); err != nil && r.Context().Err() == nil {
		p.log.Debug("art transfer failed", zap.String("object_id", objectID), zap.Error(err))
	}
}
