package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/mikey-austin/plex_dlna/internal/adapters/cdclient"
	"github.com/mikey-austin/plex_dlna/pkg/events"
)

// HumanPrinter prints tables and summaries.
type HumanPrinter struct {
	Out io.Writer
}

// EventLine is one event printed by watch.
type EventLine struct {
	Topic    string
	Envelope events.Envelope
}

// Print renders human output.
func (p HumanPrinter) Print(v any) error {
	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	switch data := v.(type) {
	case DiscoverResult:
		return printServers(out, data)
	case cdclient.Device:
		return printDevice(out, data)
	case ListingResult:
		return printListing(out, data)
	case PresenceResult:
		return printPresence(out, data)
	case EventLine:
		return printEvent(out, data)
	default:
		_, err := fmt.Fprintln(out, "ok")
		return err
	}
}

func renderTable(out io.Writer, data pterm.TableData) error {
	return pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(data).Render()
}

func printServers(out io.Writer, result DiscoverResult) error {
	if len(result.Servers) == 0 {
		_, err := fmt.Fprintln(out, "no media servers found")
		return err
	}
	data := pterm.TableData{{"NAME", "UUID", "LOCATION"}}
	for _, srv := range result.Servers {
		name := srv.FriendlyName
		if srv.Error != "" {
			name = "? (" + srv.Error + ")"
		}
		data = append(data, []string{name, srv.UUID, srv.Location})
	}
	return renderTable(out, data)
}

func printDevice(out io.Writer, dev cdclient.Device) error {
	lines := []string{
		"Name:         " + dev.FriendlyName,
		"UUID:         " + dev.UUID,
		"Type:         " + dev.DeviceType,
		"Manufacturer: " + dev.Manufacturer,
		"Model:        " + strings.TrimSpace(dev.ModelName+" "+dev.ModelNumber),
		"Base URL:     " + dev.BaseURL,
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(out); err != nil {
		return err
	}
	data := pterm.TableData{{"SERVICE", "CONTROL", "EVENTS", "SCPD"}}
	for _, svc := range dev.Services {
		data = append(data, []string{svc.Type, svc.ControlURL, svc.EventSubURL, svc.SCPDURL})
	}
	return renderTable(out, data)
}

func printListing(out io.Writer, result ListingResult) error {
	data := pterm.TableData{{"ID", "KIND", "TITLE", "CLASS", "DETAIL"}}
	for _, obj := range result.Objects {
		kind := "item"
		detail := ""
		if obj.Container {
			kind = "container"
			if obj.ChildCount > 0 {
				detail = strconv.FormatInt(obj.ChildCount, 10) + " children"
			}
		} else if len(obj.Resources) > 0 {
			detail = resourceDetail(obj.Resources[0])
		}
		data = append(data, []string{obj.ID, kind, obj.Title, obj.Class, detail})
	}
	if len(result.Objects) > 0 {
		if err := renderTable(out, data); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(out, "%d of %d (update %d)\n", result.NumberReturned, result.TotalMatches, result.UpdateID)
	return err
}

func resourceDetail(res cdclient.Resource) string {
	parts := []string{}
	if mime := mimeOf(res.ProtocolInfo); mime != "" {
		parts = append(parts, mime)
	}
	if res.Duration != "" {
		parts = append(parts, res.Duration)
	}
	if res.Size > 0 {
		parts = append(parts, formatSize(res.Size))
	}
	return strings.Join(parts, " ")
}

func mimeOf(protocolInfo string) string {
	fields := strings.Split(protocolInfo, ":")
	if len(fields) < 3 {
		return ""
	}
	return fields[2]
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func printPresence(out io.Writer, result PresenceResult) error {
	if len(result.Servers) == 0 {
		_, err := fmt.Fprintln(out, "no servers announced")
		return err
	}
	data := pterm.TableData{{"NAME", "STATUS", "UUID", "LOCATION", "SINCE"}}
	for _, p := range result.Servers {
		status := "offline"
		if p.Online {
			status = "online"
		}
		data = append(data, []string{p.FriendlyName, status, p.DeviceID, p.Location, formatTS(p.TS)})
	}
	return renderTable(out, data)
}

func printEvent(out io.Writer, line EventLine) error {
	env := line.Envelope
	_, err := fmt.Fprintf(out, "%s %s %s %s\n", formatTS(env.TS), env.DeviceID, env.Type, strings.TrimSpace(string(env.Body)))
	return err
}

func formatTS(ts int64) string {
	if ts <= 0 {
		return "-"
	}
	return time.Unix(ts, 0).Format(time.RFC3339)
}
