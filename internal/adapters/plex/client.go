package plex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	freecache "github.com/coocood/freecache"
	gocache "github.com/eko/gocache/lib/v4/cache"
	libstore "github.com/eko/gocache/lib/v4/store"
	gocachefreecache "github.com/eko/gocache/store/freecache/v4"
	"github.com/golang/snappy"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/mikey-austin/plex_dlna/internal/ports"
)

const maxResponseBytes = 32 << 20

// Config configures the Plex Media Server client.
type Config struct {
	BaseURL  string
	Token    string
	ClientID string
	// Product and Version identify this server to Plex.
	Product    string
	Version    string
	DeviceName string
	Timeout    time.Duration
	// MaxConcurrent bounds in-flight backend requests.
	MaxConcurrent int
	// CacheSize is in bytes, or in 64 KiB units when below 1 MiB. Negative
	// disables the cache.
	CacheSize     int
	CacheTTL      time.Duration
	CacheCompress bool
	// ArtSize is the edge length requested from the photo transcoder.
	ArtSize int
}

// Client talks JSON to a Plex Media Server.
type Client struct {
	log    *zap.Logger
	http   *http.Client
	config Config
	cache  gocache.CacheInterface[[]byte]
	sem    *semaphore.Weighted
	group  singleflight.Group
}

// NewClient validates cfg and returns a client. A nil httpClient uses a
// default one.
func NewClient(log *zap.Logger, httpClient *http.Client, cfg Config) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("plex base url required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("plex base url: %w", err)
	}
	if strings.TrimSpace(cfg.Product) == "" {
		cfg.Product = "plexdlna"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "dev"
	}
	if strings.TrimSpace(cfg.DeviceName) == "" {
		cfg.DeviceName = "Plex DLNA"
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		cfg.ClientID = cfg.Product
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.ArtSize <= 0 {
		cfg.ArtSize = 160
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		log:    log,
		http:   httpClient,
		config: cfg,
		cache:  newCache(cfg.CacheSize),
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}, nil
}

// Header returns the identification and auth headers sent with every
// backend request, including stream and art fetches.
func (c *Client) Header() http.Header {
	h := http.Header{}
	if c.config.Token != "" {
		h.Set("X-Plex-Token", c.config.Token)
	}
	h.Set("X-Plex-Client-Identifier", c.config.ClientID)
	h.Set("X-Plex-Product", c.config.Product)
	h.Set("X-Plex-Version", c.config.Version)
	h.Set("X-Plex-Device", c.config.Product)
	h.Set("X-Plex-Device-Name", c.config.DeviceName)
	h.Set("X-Plex-Platform", runtime.GOOS)
	h.Set("X-Plex-Platform-Version", runtime.Version())
	return h
}

// URL resolves a server-relative path.
func (c *Client) URL(endpoint string, params url.Values) string {
	u := c.config.BaseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// getJSON fetches endpoint and decodes it into out. Identical concurrent
// requests share one backend call and bodies are cached for CacheTTL. The
// shared call is detached from any one caller, so a caller that goes away
// does not fail the others; each caller still stops waiting when its own ctx
// ends.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	key := c.URL(endpoint, params)
	if body, ok := c.cacheGet(ctx, key); ok {
		return decodeJSON(endpoint, body, out)
	}
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		body, err := c.doJSON(shared, endpoint, params)
		if err != nil {
			return nil, err
		}
		c.cachePut(shared, key, body)
		return body, nil
	})
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: plex %s: %w", ports.ErrBackendUnavailable, endpoint, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		if res.Shared {
			c.log.Debug("plex request shared", zap.String("endpoint", endpoint))
		}
		return decodeJSON(endpoint, res.Val.([]byte), out)
	}
}

func (c *Client) doJSON(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrBackendUnavailable, err)
	}
	defer c.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(endpoint, params), nil)
	if err != nil {
		return nil, err
	}
	req.Header = c.Header()
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: plex %s: %w", ports.ErrBackendUnavailable, endpoint, err)
	}
	defer resp.Body.Close()
	c.log.Debug("plex request",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: plex %s", ports.ErrNotFound, endpoint)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: plex %s: status %d", ports.ErrBackendUnavailable, endpoint, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: plex %s: %w", ports.ErrBackendUnavailable, endpoint, err)
	}
	return body, nil
}

func decodeJSON(endpoint string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: plex %s: decode: %w", ports.ErrBackendUnavailable, endpoint, err)
	}
	return nil
}

func (c *Client) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	value, err := c.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	if !c.config.CacheCompress {
		return value, true
	}
	decoded, err := snappy.Decode(nil, value)
	if err != nil {
		c.log.Debug("plex cache decode failed", zap.Error(err))
		return nil, false
	}
	return decoded, true
}

func (c *Client) cachePut(ctx context.Context, key string, body []byte) {
	if c.cache == nil || body == nil {
		return
	}
	value := body
	if c.config.CacheCompress {
		value = snappy.Encode(nil, body)
	}
	_ = c.cache.Set(ctx, key, value, libstore.WithExpiration(c.config.CacheTTL))
}

func cacheSizeBytes(size int) int {
	if size == 0 {
		return 16 * 1024 * 1024
	}
	if size > 0 && size < 1024*1024 {
		return size * 64 * 1024
	}
	return size
}

func newCache(size int) gocache.CacheInterface[[]byte] {
	size = cacheSizeBytes(size)
	if size <= 0 {
		return nil
	}
	store := gocachefreecache.NewFreecache(freecache.NewCache(size))
	return gocache.New[[]byte](store)
}
