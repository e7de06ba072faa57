package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mikey-austin/plex_dlna/internal/adapters/mqttserver"
	"github.com/mikey-austin/plex_dlna/pkg/events"
)

// Options configures the CLI's broker connection.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLSCA     string
	TLSCert   string
	TLSKey    string
	TopicBase string
	Timeout   time.Duration
}

// Client reads server presence and events from the broker.
type Client struct {
	client    paho.Client
	topicBase string
	timeout   time.Duration
}

// NewClient creates and connects a client.
func NewClient(opts Options) (*Client, error) {
	if opts.TopicBase == "" {
		opts.TopicBase = events.BaseTopic
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("dlnactl-%d", time.Now().UnixNano())
	}

	clientOpts := paho.NewClientOptions().AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetConnectTimeout(opts.Timeout)
	clientOpts.SetCleanSession(true)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	tlsConfig, err := mqttserver.TLSConfig(opts.TLSCA, opts.TLSCert, opts.TLSKey)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	client := paho.NewClient(clientOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Client{client: client, topicBase: opts.TopicBase, timeout: opts.Timeout}, nil
}

// Close disconnects.
func (c *Client) Close() {
	c.client.Disconnect(100)
}

// ListPresence collects retained presence messages for every server.
func (c *Client) ListPresence(ctx context.Context) ([]events.Presence, error) {
	collect := make(map[string]events.Presence)
	var mu sync.Mutex

	handler := func(_ paho.Client, msg paho.Message) {
		var presence events.Presence
		if err := json.Unmarshal(msg.Payload(), &presence); err != nil || presence.DeviceID == "" {
			return
		}
		mu.Lock()
		collect[presence.DeviceID] = presence
		mu.Unlock()
	}

	topic := events.TopicPresence(c.topicBase, "+")
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	defer func() {
		token := c.client.Unsubscribe(topic)
		token.Wait()
	}()

	wait := time.NewTimer(250 * time.Millisecond)
	select {
	case <-ctx.Done():
		wait.Stop()
	case <-wait.C:
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]events.Presence, 0, len(collect))
	for _, presence := range collect {
		out = append(out, presence)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FriendlyName < out[j].FriendlyName })
	return out, nil
}

// Watch streams event envelopes until ctx is done. An empty deviceID
// watches every server.
func (c *Client) Watch(ctx context.Context, deviceID string) (<-chan events.Envelope, error) {
	out := make(chan events.Envelope, 32)
	topic := events.TopicAllEvents(c.topicBase)
	if strings.TrimSpace(deviceID) != "" {
		topic = events.TopicEvents(c.topicBase, deviceID, "#")
	}

	var (
		mu     sync.Mutex
		closed bool
	)
	handler := func(_ paho.Client, msg paho.Message) {
		var env events.Envelope
		if err := json.Unmarshal(msg.Payload(), &env); err != nil || env.Validate() != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- env:
		default:
		}
	}
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	go func() {
		<-ctx.Done()
		token := c.client.Unsubscribe(topic)
		token.WaitTimeout(c.timeout)
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}
