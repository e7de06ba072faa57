package embeddedmqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"go.uber.org/zap"

	"github.com/mikey-austin/plex_dlna/internal/adapters/mqttserver"
	"github.com/mikey-austin/plex_dlna/pkg/events"
)

// Config configures the embedded event broker.
type Config struct {
	Listen string
	// AllowAnonymous lets unauthenticated clients subscribe to event topics.
	// Only Username may publish.
	AllowAnonymous bool
	Username       string
	Password       string
	TopicBase      string
	TLSCA          string
	TLSCert        string
	TLSKey         string
}

// Module runs an embedded MQTT broker for server events.
type Module struct {
	log    *zap.Logger
	server *mqtt.Server
	config Config

	ready    chan struct{}
	mu       sync.Mutex
	boundTo  string
	startErr error
}

// NewModule creates the broker module.
func NewModule(log *zap.Logger, cfg Config) (*Module, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = "127.0.0.1:1883"
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = events.BaseTopic
	}

	server, err := newServer(log, cfg)
	if err != nil {
		return nil, err
	}
	return &Module{log: log, server: server, config: cfg, ready: make(chan struct{})}, nil
}

// Ready is closed once the listener is bound, or binding failed.
func (m *Module) Ready() <-chan struct{} {
	return m.ready
}

// Err reports why the listener could not be bound.
func (m *Module) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startErr
}

// Addr returns the bound address once ready.
func (m *Module) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.boundTo
}

// Run serves until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	err := m.start()
	m.mu.Lock()
	m.startErr = err
	m.mu.Unlock()
	close(m.ready)
	if err != nil {
		return err
	}

	<-ctx.Done()
	if err := m.server.Close(); err != nil {
		m.log.Debug("embedded mqtt close", zap.Error(err))
	}
	return nil
}

func (m *Module) start() error {
	tlsConfig, err := mqttserver.TLSConfig(m.config.TLSCA, m.config.TLSCert, m.config.TLSKey)
	if err != nil {
		return err
	}
	listener := listeners.NewTCP(listeners.Config{ID: "tcp-events", Address: m.config.Listen, TLSConfig: tlsConfig})
	if err := m.server.AddListener(listener); err != nil {
		return fmt.Errorf("embedded mqtt listen: %w", err)
	}

	m.mu.Lock()
	m.boundTo = listener.Address()
	m.mu.Unlock()

	go func() {
		if err := m.server.Serve(); err != nil {
			m.log.Warn("embedded mqtt stopped", zap.Error(err))
		}
	}()
	m.log.Info("embedded mqtt started", zap.String("addr", listener.Address()))
	return nil
}

// Publish delivers a message through the broker's inline client, so the
// daemon can publish events without a network connection to itself.
func (m *Module) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return m.server.Publish(topic, payload, retained, qos)
}

// BrokerURL is the URL clients use to reach this broker.
func (m *Module) BrokerURL() string {
	addr := m.Addr()
	if addr == "" {
		addr = m.config.Listen
	}
	return BrokerURL(addr, m.config.TLSCert != "")
}

func newServer(log *zap.Logger, cfg Config) (*mqtt.Server, error) {
	server := mqtt.New(&mqtt.Options{InlineClient: true, Logger: newSlogLogger(log)})

	if !cfg.AllowAnonymous && cfg.Username == "" {
		return nil, errors.New("embedded mqtt requires allow_anonymous or username")
	}
	ledger := &auth.Ledger{}
	if cfg.Username != "" {
		user := auth.RString(cfg.Username)
		ledger.Auth = append(ledger.Auth,
			auth.AuthRule{Username: user, Password: auth.RString(cfg.Password), Allow: true},
			auth.AuthRule{Username: user, Allow: false},
		)
		ledger.ACL = append(ledger.ACL, auth.ACLRule{Username: user, Filters: auth.Filters{"#": auth.ReadWrite}})
	}
	if cfg.AllowAnonymous {
		ledger.Auth = append(ledger.Auth, auth.AuthRule{Allow: true})
		ledger.ACL = append(ledger.ACL, auth.ACLRule{Filters: auth.Filters{
			auth.RString(cfg.TopicBase + "/#"): auth.ReadOnly,
			"#":                                auth.Deny,
		}})
	}
	if err := server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}); err != nil {
		return nil, err
	}
	return server, nil
}

// BrokerURL returns the broker URL for a listen address.
func BrokerURL(listen string, tlsEnabled bool) string {
	scheme := "tcp"
	if tlsEnabled {
		scheme = "ssl"
	}
	if host, port, err := net.SplitHostPort(listen); err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
		listen = net.JoinHostPort("127.0.0.1", port)
	}
	return fmt.Sprintf("%s://%s", scheme, listen)
}
