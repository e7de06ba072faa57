package mediaserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mikey-austin/plex_dlna/internal/contentdir"
	"github.com/mikey-austin/plex_dlna/internal/description"
	"github.com/mikey-austin/plex_dlna/internal/registry"
	"github.com/mikey-austin/plex_dlna/internal/stream"
)

func init() {
	chi.RegisterMethod("SUBSCRIBE")
	chi.RegisterMethod("UNSUBSCRIBE")
}

// Config configures the media server HTTP module.
type Config struct {
	Listen string
	// BaseURL is advertised in DIDL resources. Empty means derive it from
	// each request's Host header.
	BaseURL         string
	Device          description.Device
	ShutdownTimeout time.Duration
	EnableMetrics   bool
}

// Module serves the device description, SOAP control and streams.
type Module struct {
	log     *zap.Logger
	engine  *contentdir.Engine
	proxy   *stream.Proxy
	reg     *registry.Registry
	metrics *Metrics
	config  Config

	deviceXML []byte

	mu     sync.Mutex
	server *http.Server
	ln     net.Listener
}

// NewModule creates the media server module.
func NewModule(log *zap.Logger, engine *contentdir.Engine, proxy *stream.Proxy, reg *registry.Registry, metrics *Metrics, cfg Config) (*Module, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if engine == nil {
		return nil, errors.New("engine required")
	}
	if proxy == nil {
		return nil, errors.New("stream proxy required")
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = ":32488"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if metrics == nil {
		metrics = NewMetrics()
	}
	deviceXML, err := description.DeviceDescription(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("device description: %w", err)
	}
	return &Module{
		log:       log,
		engine:    engine,
		proxy:     proxy,
		reg:       reg,
		metrics:   metrics,
		config:    cfg,
		deviceXML: deviceXML,
	}, nil
}

// Handler returns the HTTP router.
func (m *Module) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(m.log))
	r.Use(RequestMiddleware(m.metrics))

	r.Get("/description.xml", m.handleDescription)
	r.Get("/healthz", m.handleHealth)
	r.Get("/icons/{name}", m.handleIcon)
	r.Get("/scpd/{service}.xml", m.handleSCPD)
	r.Post("/{service}/control", m.handleControl)
	r.MethodFunc("SUBSCRIBE", "/{service}/event", m.handleSubscribe)
	r.MethodFunc("UNSUBSCRIBE", "/{service}/event", m.handleUnsubscribe)
	r.Group(func(r chi.Router) {
		r.Use(StreamMiddleware(m.metrics))
		r.Get("/stream/{id}", m.proxy.ServeHTTP)
		r.Head("/stream/{id}", m.proxy.ServeHTTP)
	})
	r.Get("/art/{id}", m.proxy.ServeArt)
	if m.config.EnableMetrics {
		r.Handle("/metrics", m.metrics.Handler(m.updateGauges))
	}
	return r
}

// RouteID extracts the object id of /stream/{id} and /art/{id}.
func RouteID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

func (m *Module) updateGauges() {
	if m.reg != nil {
		m.metrics.registryObjects.Set(float64(m.reg.Len()))
	}
	m.metrics.systemUpdateID.Set(float64(m.engine.SystemUpdateID()))
}

// Run serves HTTP until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	if err := m.startHTTPServer(); err != nil {
		return err
	}
	<-ctx.Done()
	m.shutdownHTTPServer()
	return nil
}

// Addr returns the bound listener address once running.
func (m *Module) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln == nil {
		return ""
	}
	return m.ln.Addr().String()
}

func (m *Module) startHTTPServer() error {
	ln, err := net.Listen("tcp", m.config.Listen)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(m.log.Named("http")),
	}

	m.mu.Lock()
	m.server = server
	m.ln = ln
	m.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Warn("http server stopped", zap.Error(err))
		}
	}()
	m.log.Info("http server started",
		zap.String("addr", ln.Addr().String()),
		zap.String("friendly_name", m.config.Device.FriendlyName),
	)
	return nil
}

func (m *Module) shutdownHTTPServer() {
	m.mu.Lock()
	server := m.server
	m.server = nil
	m.ln = nil
	m.mu.Unlock()
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.ShutdownTimeout)
		if err := server.Shutdown(ctx); err != nil {
			m.log.Debug("http shutdown", zap.Error(err))
			_ = server.Close()
		}
		cancel()
	}
}

func (m *Module) baseURL(r *http.Request) string {
	if m.config.BaseURL != "" {
		return m.config.BaseURL
	}
	return "http://" + r.Host
}
