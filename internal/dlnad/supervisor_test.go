package dlnad

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func blockUntilDone(stopped chan<- string, name string) ModuleRunner {
	return ModuleRunner{Name: name, Run: func(ctx context.Context) error {
		<-ctx.Done()
		stopped <- name
		return nil
	}}
}

func TestSupervisorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan string, 2)
	ready := make(chan struct{})
	modules := []ModuleRunner{
		blockUntilDone(stopped, "media_server"),
		{Name: "ssdp_presence", Run: func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			stopped <- "ssdp_presence"
			return nil
		}},
	}
	go func() {
		<-ready
		cancel()
	}()

	if err := (Supervisor{Logger: zap.NewNop()}).Run(ctx, modules); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(stopped) != 2 {
		t.Fatalf("expected both modules stopped, got %d", len(stopped))
	}
}

func TestSupervisorFirstErrorStopsOthers(t *testing.T) {
	stopped := make(chan string, 1)
	modules := []ModuleRunner{
		{Name: "events", Run: func(context.Context) error { return errors.New("broker gone") }},
		blockUntilDone(stopped, "media_server"),
	}

	err := (Supervisor{}).Run(context.Background(), modules)
	if err == nil || err.Error() != "events: broker gone" {
		t.Fatalf("expected module error, got %v", err)
	}
	if name := <-stopped; name != "media_server" {
		t.Fatalf("unexpected stopped module %q", name)
	}
}

func TestSupervisorCleanExitKeepsOthersRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan string, 1)
	modules := []ModuleRunner{
		{Name: "oneshot", Run: func(context.Context) error {
			cancel()
			return nil
		}},
		blockUntilDone(stopped, "media_server"),
	}
	if err := (Supervisor{}).Run(ctx, modules); err != nil {
		t.Fatalf("run: %v", err)
	}
	if <-stopped != "media_server" {
		t.Fatalf("expected media_server to stop on cancel")
	}
}

func TestSupervisorNoModules(t *testing.T) {
	if err := (Supervisor{}).Run(context.Background(), nil); err == nil {
		t.Fatalf("expected error")
	}
}
