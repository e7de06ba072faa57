package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pterm/pterm"

	"github.com/mikey-austin/plex_dlna/internal/adapters/cdclient"
	"github.com/mikey-austin/plex_dlna/pkg/events"
)

func init() {
	pterm.DisableColor()
}

func TestHumanListing(t *testing.T) {
	var buf bytes.Buffer
	result := ListingResult{
		ObjectID: "0",
		Result: cdclient.Result{
			Objects: []cdclient.Object{
				{ID: "1", Container: true, Title: "Movies", Class: "object.container.storageFolder", ChildCount: 12},
				{ID: "2", Title: "Heat", Class: "object.item.videoItem.movie", Resources: []cdclient.Resource{
					{ProtocolInfo: "http-get:*:video/x-matroska:*", Duration: "2:50:00.000", Size: 3 << 30},
				}},
			},
			NumberReturned: 2,
			TotalMatches:   40,
			UpdateID:       7,
		},
	}
	if err := (HumanPrinter{Out: &buf}).Print(result); err != nil {
		t.Fatalf("print: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Movies", "12 children", "video/x-matroska 2:50:00.000 3.0GiB", "2 of 40 (update 7)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHumanServersAndPresence(t *testing.T) {
	var buf bytes.Buffer
	p := HumanPrinter{Out: &buf}
	if err := p.Print(DiscoverResult{}); err != nil {
		t.Fatalf("print: %v", err)
	}
	if !strings.Contains(buf.String(), "no media servers found") {
		t.Fatalf("unexpected output %q", buf.String())
	}
	buf.Reset()
	err := p.Print(PresenceResult{Servers: []events.Presence{{DeviceID: "abc", FriendlyName: "Den", Online: true}}})
	if err != nil {
		t.Fatalf("print: %v", err)
	}
	if !strings.Contains(buf.String(), "Den") || !strings.Contains(buf.String(), "online") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestHumanEventLine(t *testing.T) {
	var buf bytes.Buffer
	line := EventLine{Envelope: events.Envelope{Type: events.TypeStream, DeviceID: "abc", Body: json.RawMessage(`{"phase":"started"}`)}}
	if err := (HumanPrinter{Out: &buf}).Print(line); err != nil {
		t.Fatalf("print: %v", err)
	}
	if got := buf.String(); got != "- abc stream {\"phase\":\"started\"}\n" {
		t.Fatalf("unexpected line %q", got)
	}
}

func TestJSONPrinter(t *testing.T) {
	var buf bytes.Buffer
	if err := (JSONPrinter{Out: &buf}).Print(DiscoverResult{Servers: []Server{{UUID: "u", Location: "http://h/d.xml"}}}); err != nil {
		t.Fatalf("print: %v", err)
	}
	var decoded DiscoverResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Servers) != 1 || decoded.Servers[0].UUID != "u" {
		t.Fatalf("unexpected %+v", decoded)
	}

	buf.Reset()
	line := EventLine{Envelope: events.Envelope{Type: "container.update", DeviceID: "u", TS: 1, Body: json.RawMessage(`{}`)}}
	if err := (JSONPrinter{Out: &buf}).Print(line); err != nil {
		t.Fatalf("print: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Fatalf("expected a single line, got %q", buf.String())
	}
}

func TestFormatSize(t *testing.T) {
	if got := formatSize(512); got != "512B" {
		t.Fatalf("got %q", got)
	}
	if got := formatSize(1536); got != "1.5KiB" {
		t.Fatalf("got %q", got)
	}
}
