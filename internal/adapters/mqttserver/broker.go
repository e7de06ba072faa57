package mqttserver

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Options configures the daemon's connection to an external broker.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLSCA     string
	TLSCert   string
	TLSKey    string
	Timeout   time.Duration
	Logger    *zap.Logger
	// The broker publishes WillPayload retained on WillTopic when the
	// connection drops without a clean disconnect.
	WillTopic   string
	WillPayload []byte
}

// Client is a publish-only paho connection that reconnects on its own.
type Client struct {
	client  paho.Client
	log     *zap.Logger
	timeout time.Duration

	mu          sync.Mutex
	connected   bool
	onReconnect []func()
}

// NewClient connects to the broker.
func NewClient(opts Options) (*Client, error) {
	if opts.BrokerURL == "" {
		return nil, errors.New("broker url required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Client{log: opts.Logger, timeout: opts.Timeout}

	tlsConfig, err := TLSConfig(opts.TLSCA, opts.TLSCert, opts.TLSKey)
	if err != nil {
		return nil, err
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetConnectTimeout(opts.Timeout).
		SetWriteTimeout(opts.Timeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn("broker connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(paho.Client) { c.connectedAgain() })
	if opts.WillTopic != "" {
		clientOpts.SetBinaryWill(opts.WillTopic, opts.WillPayload, 1, true)
	}
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(clientOpts)
	if token := c.client.Connect(); !token.WaitTimeout(opts.Timeout) {
		c.client.Disconnect(0)
		return nil, errors.New("broker connect timed out")
	} else if token.Error() != nil {
		return nil, token.Error()
	}
	c.log.Info("broker connected", zap.String("broker", opts.BrokerURL), zap.String("client_id", opts.ClientID))
	return c, nil
}

// OnReconnect registers fn to run after every reconnect that follows the
// initial connection.
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	c.onReconnect = append(c.onReconnect, fn)
	c.mu.Unlock()
}

func (c *Client) connectedAgain() {
	c.mu.Lock()
	first := !c.connected
	c.connected = true
	hooks := append([]func(){}, c.onReconnect...)
	c.mu.Unlock()
	if first {
		return
	}
	c.log.Info("broker reconnected")
	for _, fn := range hooks {
		fn()
	}
}

// Publish sends one message and waits up to the client timeout for the
// broker to accept it.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	c.log.Debug("publish", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return errors.New("publish timed out")
	}
	return token.Error()
}

// Close disconnects cleanly, so the will is not published.
func (c *Client) Close() {
	c.client.Disconnect(250)
}

// TLSConfig builds a client or listener TLS config from PEM files. It
// returns nil when no file is set.
func TLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	if caPath == "" && certPath == "" && keyPath == "" {
		return nil, nil
	}
	config := &tls.Config{MinVersion: tls.VersionTLS12}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates in CA bundle " + caPath)
		}
		config.RootCAs = pool
	}
	if certPath == "" && keyPath == "" {
		return config, nil
	}
	if certPath == "" || keyPath == "" {
		return nil, errors.New("tls cert and key must be set together")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	config.Certificates = []tls.Certificate{cert}
	return config, nil
}
