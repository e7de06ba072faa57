package output

import (
	"github.com/mikey-austin/plex_dlna/internal/adapters/cdclient"
	"github.com/mikey-austin/plex_dlna/pkg/events"
)

// Printer renders command results.
type Printer interface {
	Print(v any) error
}

// Server is one discovered media server.
type Server struct {
	UUID         string `json:"uuid"`
	FriendlyName string `json:"friendlyName"`
	Location     string `json:"location"`
	Server       string `json:"server,omitempty"`
	Error        string `json:"error,omitempty"`
}

// DiscoverResult lists media servers found on the network.
type DiscoverResult struct {
	Servers []Server `json:"servers"`
}

// ListingResult is a Browse or Search response.
type ListingResult struct {
	Server   string `json:"server"`
	ObjectID string `json:"objectID"`
	cdclient.Result
}

// PresenceResult lists servers announced on the event broker.
type PresenceResult struct {
	Servers []events.Presence `json:"servers"`
}
