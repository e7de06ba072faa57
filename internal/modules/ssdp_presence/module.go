package ssdppresence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/koron/go-ssdp"
	"go.uber.org/zap"

	"github.com/mikey-austin/plex_dlna/internal/description"
)

// Advertiser announces one notification type.
type Advertiser interface {
	Alive() error
	Bye() error
	Close() error
}

// AdvertiseFunc opens an advertiser for a notification type.
type AdvertiseFunc func(nt, usn, location, server string, maxAge int) (Advertiser, error)

// Ticker delivers periodic alive ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Config configures SSDP presence.
type Config struct {
	UUID          string
	Location      string
	Server        string
	MaxAge        int
	AliveInterval time.Duration
	Advertise     AdvertiseFunc
	NewTicker     func(time.Duration) Ticker
}

// State is the announcement state.
type State int32

const (
	StateStopped State = iota
	StateAnnouncing
)

func (s State) String() string {
	if s == StateAnnouncing {
		return "announcing"
	}
	return "stopped"
}

// Target is one notification type with its unique service name.
type Target struct {
	NT  string
	USN string
}

// Module keeps the media server visible on the local network.
type Module struct {
	log    *zap.Logger
	config Config
	state  atomic.Int32
}

// NewModule creates an SSDP presence module.
func NewModule(log *zap.Logger, cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.UUID) == "" {
		return nil, errors.New("uuid required")
	}
	if strings.TrimSpace(cfg.Location) == "" {
		return nil, errors.New("location required")
	}
	if strings.TrimSpace(cfg.Server) == "" {
		cfg.Server = "Linux/1.0 UPnP/1.0 plex_dlna/1.0"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 1800
	}
	maxAge := time.Duration(cfg.MaxAge) * time.Second
	if cfg.AliveInterval <= 0 {
		cfg.AliveInterval = maxAge / 2
	}
	if cfg.AliveInterval >= maxAge {
		cfg.AliveInterval = maxAge / 2
	}
	if cfg.Advertise == nil {
		cfg.Advertise = advertise
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = newTimeTicker
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Module{log: log, config: cfg}, nil
}

// State returns the current announcement state.
func (m *Module) State() State {
	return State(m.state.Load())
}

// Targets lists every notification type announced for uuid.
func Targets(uuid string) []Target {
	udn := "uuid:" + uuid
	targets := []Target{
		{NT: "upnp:rootdevice", USN: udn + "::upnp:rootdevice"},
		{NT: udn, USN: udn},
		{NT: description.DeviceType, USN: udn + "::" + description.DeviceType},
	}
	for _, svc := range description.Services() {
		targets = append(targets, Target{NT: svc.Type, USN: udn + "::" + svc.Type})
	}
	return targets
}

// Run announces until ctx is done, then says goodbye.
func (m *Module) Run(ctx context.Context) error {
	targets := Targets(m.config.UUID)
	ads := make([]Advertiser, 0, len(targets))
	for _, target := range targets {
		ad, err := m.config.Advertise(target.NT, target.USN, m.config.Location, m.config.Server, m.config.MaxAge)
		if err != nil {
			for _, opened := range ads {
				_ = opened.Close()
			}
			return fmt.Errorf("ssdp advertise %s: %w", target.NT, err)
		}
		ads = append(ads, ad)
	}

	m.state.Store(int32(StateAnnouncing))
	m.log.Info("ssdp announcing",
		zap.String("location", m.config.Location),
		zap.Int("max_age", m.config.MaxAge),
		zap.Duration("interval", m.config.AliveInterval),
	)
	m.alive(targets, ads)

	ticker := m.config.NewTicker(m.config.AliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.bye(targets, ads)
			m.state.Store(int32(StateStopped))
			m.log.Info("ssdp stopped")
			return nil
		case <-ticker.C():
			m.alive(targets, ads)
		}
	}
}

func (m *Module) alive(targets []Target, ads []Advertiser) {
	for i, ad := range ads {
		if err := ad.Alive(); err != nil {
			m.log.Warn("ssdp alive failed", zap.String("nt", targets[i].NT), zap.Error(err))
		}
	}
}

func (m *Module) bye(targets []Target, ads []Advertiser) {
	for i, ad := range ads {
		if err := ad.Bye(); err != nil {
			m.log.Warn("ssdp byebye failed", zap.String("nt", targets[i].NT), zap.Error(err))
		}
		if err := ad.Close(); err != nil {
			m.log.Debug("ssdp close failed", zap.String("nt", targets[i].NT), zap.Error(err))
		}
	}
}

func advertise(nt, usn, location, server string, maxAge int) (Advertiser, error) {
	ad, err := ssdp.Advertise(nt, usn, location, server, maxAge)
	if err != nil {
		return nil, err
	}
	return ad, nil
}

type timeTicker struct {
	t *time.Ticker
}

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }

func (t timeTicker) Stop() { t.t.Stop() }
