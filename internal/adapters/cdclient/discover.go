package cdclient

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/koron/go-ssdp"

	"github.com/mikey-austin/plex_dlna/internal/core"
	"github.com/mikey-austin/plex_dlna/internal/description"
)

// Found is one media server answering an M-SEARCH.
type Found struct {
	UUID     string `json:"uuid"`
	Location string `json:"location"`
	Server   string `json:"server"`
}

// SearchFunc performs an SSDP search.
type SearchFunc func(searchType string, waitSec int, localAddr string) ([]ssdp.Service, error)

// Discover searches for media servers for wait. Replies are deduplicated
// by device UUID.
func Discover(ctx context.Context, wait time.Duration) ([]Found, error) {
	return discoverWith(ctx, ssdp.Search, wait)
}

func discoverWith(ctx context.Context, search SearchFunc, wait time.Duration) ([]Found, error) {
	waitSec := int(wait / time.Second)
	if waitSec < 1 {
		waitSec = 1
	}
	type reply struct {
		services []ssdp.Service
		err      error
	}
	done := make(chan reply, 1)
	go func() {
		services, err := search(description.DeviceType, waitSec, "")
		done <- reply{services: services, err: err}
	}()

	var got reply
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case got = <-done:
	}
	if got.err != nil {
		return nil, core.WrapError(core.ExitRuntime, "ssdp search", got.err)
	}

	byUUID := map[string]Found{}
	for _, svc := range got.services {
		id := uuidFromUSN(svc.USN)
		if id == "" || svc.Location == "" {
			continue
		}
		if _, seen := byUUID[id]; seen {
			continue
		}
		byUUID[id] = Found{UUID: id, Location: svc.Location, Server: svc.Server}
	}
	out := make([]Found, 0, len(byUUID))
	for _, f := range byUUID {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out, nil
}

func uuidFromUSN(usn string) string {
	usn = strings.TrimSpace(usn)
	if !strings.HasPrefix(usn, "uuid:") {
		return ""
	}
	id := strings.TrimPrefix(usn, "uuid:")
	if i := strings.Index(id, "::"); i >= 0 {
		id = id[:i]
	}
	return id
}
