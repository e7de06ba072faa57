package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/plex_dlna/internal/contentdir"
	"github.com/mikey-austin/plex_dlna/internal/core"
	"github.com/mikey-austin/plex_dlna/internal/description"
	mediaserver "github.com/mikey-austin/plex_dlna/internal/modules/media_server"
	"github.com/mikey-austin/plex_dlna/internal/ports"
	"github.com/mikey-austin/plex_dlna/internal/registry"
	"github.com/mikey-austin/plex_dlna/internal/stream"
)

type fakeCatalog struct{}

func (fakeCatalog) Root() string { return "root" }

func (fakeCatalog) ListChildren(_ context.Context, nativeID string, page ports.Page) (ports.Listing, error) {
	if nativeID != "root" {
		return ports.Listing{}, ports.ErrNotFound
	}
	entries := []ports.Entry{
		{NativeID: "shows", Kind: ports.KindContainer, Title: "TV Shows", ChildCount: 12},
		{NativeID: "pilot", Kind: ports.KindItem, Title: "Pilot", MimeType: "video/mp4", Size: 2048, Duration: 42 * time.Minute},
	}
	if page.Start >= int64(len(entries)) {
		return ports.Listing{Total: 2}, nil
	}
	return ports.Listing{Entries: entries[page.Start:], Total: 2}, nil
}

func (fakeCatalog) GetMetadata(_ context.Context, nativeID string) (ports.Entry, error) {
	if nativeID == "root" {
		return ports.Entry{NativeID: "root", Kind: ports.KindContainer, Title: "Plex"}, nil
	}
	return ports.Entry{}, ports.ErrNotFound
}

func (fakeCatalog) GetStreamInfo(context.Context, string) (ports.StreamInfo, error) {
	return ports.StreamInfo{}, ports.ErrNotFound
}

func startServer(t *testing.T) string {
	t.Helper()
	catalog := fakeCatalog{}
	reg := registry.New(catalog.Root())
	engine, err := contentdir.New(zap.NewNop(), catalog, reg, contentdir.Config{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	proxy := stream.NewProxy(zap.NewNop(), catalog, reg, stream.Config{IDFunc: mediaserver.RouteID})
	module, err := mediaserver.NewModule(zap.NewNop(), engine, proxy, reg, nil, mediaserver.Config{
		Device: description.Device{UUID: "ctl-test", FriendlyName: "Basement"},
	})
	if err != nil {
		t.Fatalf("module: %v", err)
	}
	srv := httptest.NewServer(module.Handler())
	t.Cleanup(srv.Close)
	return srv.URL + "/description.xml"
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg := filepath.Join(t.TempDir(), "dlnactl.toml")
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfg, "--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestDescribeCommand(t *testing.T) {
	location := startServer(t)
	out, err := execute(t, "--json", "describe", location)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	var dev struct {
		UUID         string `json:"uuid"`
		FriendlyName string `json:"friendlyName"`
	}
	if err := json.Unmarshal([]byte(out), &dev); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if dev.FriendlyName != "Basement" {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestBrowseAndSearchCommands(t *testing.T) {
	location := startServer(t)
	out, err := execute(t, "browse", "--server", location)
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if !strings.Contains(out, "TV Shows") || !strings.Contains(out, "Pilot") {
		t.Fatalf("unexpected browse output:\n%s", out)
	}

	out, err = execute(t, "search", "--server", location, "pilot")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(out, "Pilot") || strings.Contains(out, "TV Shows") {
		t.Fatalf("unexpected search output:\n%s", out)
	}
}

func TestBrowseUnknownObject(t *testing.T) {
	location := startServer(t)
	_, err := execute(t, "browse", "--server", location, "9999")
	if err == nil {
		t.Fatalf("expected error")
	}
	if code := core.ExitCode(err); code != core.ExitNotFound {
		t.Fatalf("expected not found exit code, got %d (%v)", code, err)
	}
}

func TestUsageErrors(t *testing.T) {
	if _, err := execute(t, "describe"); core.ExitCode(err) != core.ExitUsage {
		t.Fatalf("expected usage error without server, got %v", err)
	}
	if _, err := execute(t, "watch"); core.ExitCode(err) != core.ExitUsage {
		t.Fatalf("expected usage error without broker, got %v", err)
	}
}
