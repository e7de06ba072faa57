package ports

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mikey-austin/plex_dlna/pkg/events"
)

var (
	// ErrNotFound reports an identifier the catalog does not know.
	ErrNotFound = errors.New("catalog: not found")
	// ErrBackendUnavailable reports a catalog backend that could not answer.
	ErrBackendUnavailable = errors.New("catalog: backend unavailable")
)

// EntryKind distinguishes browsable containers from playable items.
type EntryKind int

const (
	KindContainer EntryKind = iota
	KindItem
)

func (k EntryKind) String() string {
	if k == KindItem {
		return "item"
	}
	return "container"
}

// Entry is one node of the catalog tree as reported by an adapter.
//
// ParentNativeID names the container the entry lives in when the adapter
// knows it. Search hits may come from anywhere below the searched container
// and are placed in the tree by it.
type Entry struct {
	NativeID       string
	ParentNativeID string
	Kind           EntryKind
	Title          string
	Class          string
	ChildCount     int64
	MimeType       string
	Size           int64
	Duration       time.Duration
	Date           time.Time
	Artist         string
	Album          string
	Genre          string
	TrackNumber    int
	Description    string
	HasArt         bool
	Unavailable    bool
}

// Page selects a window of children. Count 0 means no upper bound.
type Page struct {
	Start int64
	Count int64
}

// Listing is a window of children. Total is -1 when the adapter cannot tell.
type Listing struct {
	Entries []Entry
	Total   int64
}

// StreamInfo locates the bytes of an item or artwork.
type StreamInfo struct {
	URL      string
	Length   int64
	MimeType string
	Header   http.Header
}

// Catalog is the backend media library.
type Catalog interface {
	Root() string
	ListChildren(ctx context.Context, nativeID string, page Page) (Listing, error)
	GetMetadata(ctx context.Context, nativeID string) (Entry, error)
	GetStreamInfo(ctx context.Context, nativeID string) (StreamInfo, error)
}

// Searcher is implemented by catalogs with a native text search. Hits may
// be any descendant of nativeID and should carry ParentNativeID.
type Searcher interface {
	Search(ctx context.Context, nativeID string, text string, page Page) (Listing, error)
}

// ArtSource is implemented by catalogs that expose artwork.
type ArtSource interface {
	GetArtInfo(ctx context.Context, nativeID string) (StreamInfo, error)
}

// Events receives state changes worth telling the outside world about.
type Events interface {
	ContainerUpdated(update events.ContainerUpdate)
	StreamEvent(event events.StreamEvent)
}

// NopEvents discards events.
type NopEvents struct{}

func (NopEvents) ContainerUpdated(events.ContainerUpdate) {}

func (NopEvents) StreamEvent(events.StreamEvent) {}
