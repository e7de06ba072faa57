package mqttserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/plex_dlna/pkg/events"
)

// Sink is the publishing half of a broker connection.
type Sink interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// PublisherConfig identifies the device whose events are published.
type PublisherConfig struct {
	TopicBase    string
	DeviceID     string
	FriendlyName string
	Location     string
	// QueueSize bounds events waiting to be published. Events beyond it are
	// dropped.
	QueueSize int
}

type outbound struct {
	topic    string
	retained bool
	payload  []byte
}

// Publisher turns server events into MQTT messages. It implements
// ports.Events without blocking the caller.
type Publisher struct {
	log     *zap.Logger
	sink    Sink
	config  PublisherConfig
	now     func() time.Time
	queue   chan outbound
	dropped atomic.Int64
}

// NewPublisher validates cfg.
func NewPublisher(log *zap.Logger, sink Sink, cfg PublisherConfig) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		return nil, errors.New("mqtt sink required")
	}
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return nil, errors.New("device id required")
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = events.BaseTopic
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	p := &Publisher{
		log:    log,
		sink:   sink,
		config: cfg,
		now:    time.Now,
		queue:  make(chan outbound, cfg.QueueSize),
	}
	if r, ok := sink.(reconnector); ok {
		r.OnReconnect(p.reannounce)
	}
	return p, nil
}

type reconnector interface {
	OnReconnect(fn func())
}

// reannounce queues online presence again, overwriting the will the broker
// published when the connection dropped.
func (p *Publisher) reannounce() {
	payload, err := p.presence(true)
	if err != nil {
		return
	}
	msg := outbound{topic: events.TopicPresence(p.config.TopicBase, p.config.DeviceID), retained: true, payload: payload}
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
	}
}

// OfflinePresence is the retained payload to register as the connection
// will.
func OfflinePresence(cfg PublisherConfig) (string, []byte) {
	base := cfg.TopicBase
	if strings.TrimSpace(base) == "" {
		base = events.BaseTopic
	}
	payload, _ := json.Marshal(events.Presence{
		DeviceID:     cfg.DeviceID,
		FriendlyName: cfg.FriendlyName,
		Location:     cfg.Location,
		Online:       false,
	})
	return events.TopicPresence(base, cfg.DeviceID), payload
}

// Run announces presence, drains the event queue and marks the device
// offline when ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	if err := p.publishPresence(true); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			p.drain()
			if err := p.publishPresence(false); err != nil {
				p.log.Warn("publish offline presence", zap.Error(err))
			}
			return nil
		case msg := <-p.queue:
			p.send(msg)
		}
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case msg := <-p.queue:
			p.send(msg)
		default:
			return
		}
	}
}

func (p *Publisher) send(msg outbound) {
	if err := p.sink.Publish(msg.topic, 1, msg.retained, msg.payload); err != nil {
		p.log.Warn("mqtt publish failed", zap.String("topic", msg.topic), zap.Error(err))
	}
}

func (p *Publisher) presence(online bool) ([]byte, error) {
	return json.Marshal(events.Presence{
		DeviceID:     p.config.DeviceID,
		FriendlyName: p.config.FriendlyName,
		Location:     p.config.Location,
		Online:       online,
		TS:           p.now().Unix(),
	})
}

func (p *Publisher) publishPresence(online bool) error {
	payload, err := p.presence(online)
	if err != nil {
		return err
	}
	return p.sink.Publish(events.TopicPresence(p.config.TopicBase, p.config.DeviceID), 1, true, payload)
}

// Dropped reports events discarded because the queue was full.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Publisher) ContainerUpdated(update events.ContainerUpdate) {
	p.enqueue(events.TypeContainerUpdate, update)
}

func (p *Publisher) StreamEvent(event events.StreamEvent) {
	p.enqueue(events.TypeStream, event)
}

func (p *Publisher) enqueue(eventType string, body any) {
	env, err := events.NewEnvelope(eventType, p.config.DeviceID, p.now().Unix(), body)
	if err != nil {
		p.log.Debug("encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		p.log.Debug("encode envelope", zap.String("type", eventType), zap.Error(err))
		return
	}
	msg := outbound{topic: events.TopicEvents(p.config.TopicBase, p.config.DeviceID, eventType), payload: payload}
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
		p.log.Debug("event queue full, dropping", zap.String("type", eventType))
	}
}
