package ssdppresence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/plex_dlna/internal/description"
)

type fakeAdvertiser struct {
	mu     sync.Mutex
	nt     string
	alive  int
	bye    int
	closed int
	fail   bool
}

func (f *fakeAdvertiser) Alive() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive++
	if f.fail {
		return errors.New("send failed")
	}
	return nil
}

func (f *fakeAdvertiser) Bye() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bye++
	return nil
}

func (f *fakeAdvertiser) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeAdvertiser) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive, f.bye, f.closed
}

type fakeTicker struct {
	ch       chan time.Time
	interval time.Duration
	stopped  bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() { f.stopped = true }

type harness struct {
	mu      sync.Mutex
	ads     []*fakeAdvertiser
	usns    []string
	ticker  *fakeTicker
	tickerC chan *fakeTicker
	failNT  string
}

func newHarness() *harness {
	return &harness{tickerC: make(chan *fakeTicker, 1)}
}

func (h *harness) advertise(nt, usn, _, _ string, maxAge int) (Advertiser, error) {
	if nt == h.failNT {
		return nil, errors.New("bind failed")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ad := &fakeAdvertiser{nt: nt}
	h.ads = append(h.ads, ad)
	h.usns = append(h.usns, usn)
	return ad, nil
}

func (h *harness) newTicker(d time.Duration) Ticker {
	t := &fakeTicker{ch: make(chan time.Time), interval: d}
	h.tickerC <- t
	return t
}

func TestRunAnnouncesAndSaysGoodbye(t *testing.T) {
	h := newHarness()
	module, err := NewModule(zap.NewNop(), Config{
		UUID:      "abcd",
		Location:  "http://10.0.0.2:32488/description.xml",
		MaxAge:    1800,
		Advertise: h.advertise,
		NewTicker: h.newTicker,
	})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- module.Run(ctx) }()

	var ticker *fakeTicker
	select {
	case ticker = <-h.tickerC:
	case <-time.After(2 * time.Second):
		t.Fatalf("ticker not created")
	}
	if ticker.interval != 900*time.Second {
		t.Fatalf("expected 900s alive interval, got %s", ticker.interval)
	}
	if module.State() != StateAnnouncing {
		t.Fatalf("unexpected state %s", module.State())
	}

	targets := Targets("abcd")
	if len(h.ads) != len(targets) {
		t.Fatalf("expected %d advertisers, got %d", len(targets), len(h.ads))
	}
	for _, ad := range h.ads {
		if alive, _, _ := ad.counts(); alive != 1 {
			t.Fatalf("%s: expected initial alive, got %d", ad.nt, alive)
		}
	}

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}

	for _, ad := range h.ads {
		alive, bye, closed := ad.counts()
		if alive < 2 {
			t.Fatalf("%s: expected periodic alive, got %d", ad.nt, alive)
		}
		if bye != 1 || closed != 1 {
			t.Fatalf("%s: expected byebye and close, got %d/%d", ad.nt, bye, closed)
		}
	}
	if !ticker.stopped {
		t.Fatalf("ticker not stopped")
	}
	if module.State() != StateStopped {
		t.Fatalf("unexpected state %s", module.State())
	}
}

func TestAliveErrorsDoNotStopLoop(t *testing.T) {
	h := newHarness()
	failing := func(nt, usn, loc, server string, maxAge int) (Advertiser, error) {
		ad, err := h.advertise(nt, usn, loc, server, maxAge)
		if err == nil {
			ad.(*fakeAdvertiser).fail = true
		}
		return ad, err
	}
	module, err := NewModule(zap.NewNop(), Config{UUID: "u", Location: "http://h/d.xml", Advertise: failing, NewTicker: h.newTicker})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- module.Run(ctx) }()
	ticker := <-h.tickerC
	ticker.ch <- time.Now()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if alive, _, _ := h.ads[0].counts(); alive != 2 {
		t.Fatalf("expected loop to keep going, got %d alive", alive)
	}
}

func TestAdvertiseFailureClosesOpened(t *testing.T) {
	h := newHarness()
	h.failNT = description.DeviceType
	module, err := NewModule(zap.NewNop(), Config{UUID: "u", Location: "http://h/d.xml", Advertise: h.advertise, NewTicker: h.newTicker})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	if err := module.Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	for _, ad := range h.ads {
		if _, _, closed := ad.counts(); closed != 1 {
			t.Fatalf("%s not closed", ad.nt)
		}
	}
}

func TestTargets(t *testing.T) {
	targets := Targets("1234")
	want := map[string]string{
		"upnp:rootdevice":         "uuid:1234::upnp:rootdevice",
		"uuid:1234":               "uuid:1234",
		description.DeviceType:    "uuid:1234::" + description.DeviceType,
		description.RegistrarType: "uuid:1234::" + description.RegistrarType,
	}
	seen := map[string]string{}
	for _, target := range targets {
		seen[target.NT] = target.USN
	}
	for nt, usn := range want {
		if seen[nt] != usn {
			t.Fatalf("nt %s: expected %s, got %s", nt, usn, seen[nt])
		}
	}
}

func TestNewModuleValidation(t *testing.T) {
	if _, err := NewModule(zap.NewNop(), Config{Location: "x"}); err == nil {
		t.Fatalf("expected uuid error")
	}
	if _, err := NewModule(zap.NewNop(), Config{UUID: "x"}); err == nil {
		t.Fatalf("expected location error")
	}
	m, err := NewModule(zap.NewNop(), Config{UUID: "x", Location: "y", MaxAge: 100, AliveInterval: time.Hour})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	if m.config.AliveInterval != 50*time.Second {
		t.Fatalf("expected clamped interval, got %s", m.config.AliveInterval)
	}
}
