package plex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mikey-austin/plex_dlna/internal/ports"
)

const (
	rootID        = "root"
	sectionPrefix = "section/"
	metaPrefix    = "meta/"
)

func sectionID(key string) string  { return sectionPrefix + key }
func metadataID(key string) string { return metaPrefix + key }

// Catalog exposes a Plex server as a ports.Catalog. Native ids are "root",
// "section/{key}" and "meta/{ratingKey}".
type Catalog struct {
	client *Client
	title  string
}

// NewCatalog wraps client. title names the root container.
func NewCatalog(client *Client, title string) *Catalog {
	if strings.TrimSpace(title) == "" {
		title = "Plex"
	}
	return &Catalog{client: client, title: title}
}

func (c *Catalog) Root() string {
	return rootID
}

func (c *Catalog) ListChildren(ctx context.Context, nativeID string, page ports.Page) (ports.Listing, error) {
	switch {
	case nativeID == rootID:
		sections, err := c.sections(ctx)
		if err != nil {
			return ports.Listing{}, err
		}
		entries := make([]ports.Entry, 0, len(sections))
		for _, d := range sections {
			entries = append(entries, d.entry())
		}
		return ports.Listing{Entries: slicePage(entries, page), Total: int64(len(entries))}, nil
	case strings.HasPrefix(nativeID, sectionPrefix):
		key := strings.TrimPrefix(nativeID, sectionPrefix)
		return c.list(ctx, "/library/sections/"+url.PathEscape(key)+"/all", nil, page, nativeID)
	case strings.HasPrefix(nativeID, metaPrefix):
		key := strings.TrimPrefix(nativeID, metaPrefix)
		return c.list(ctx, "/library/metadata/"+url.PathEscape(key)+"/children", nil, page, nativeID)
	default:
		return ports.Listing{}, fmt.Errorf("%w: %q", ports.ErrNotFound, nativeID)
	}
}

func (c *Catalog) GetMetadata(ctx context.Context, nativeID string) (ports.Entry, error) {
	switch {
	case nativeID == rootID:
		return ports.Entry{
			NativeID:   rootID,
			Kind:       ports.KindContainer,
			Title:      c.title,
			Class:      "object.container.storageFolder",
			ChildCount: -1,
		}, nil
	case strings.HasPrefix(nativeID, sectionPrefix):
		d, err := c.section(ctx, strings.TrimPrefix(nativeID, sectionPrefix))
		if err != nil {
			return ports.Entry{}, err
		}
		return d.entry(), nil
	case strings.HasPrefix(nativeID, metaPrefix):
		m, err := c.metadata(ctx, strings.TrimPrefix(nativeID, metaPrefix))
		if err != nil {
			return ports.Entry{}, err
		}
		return m.entry(), nil
	default:
		return ports.Entry{}, fmt.Errorf("%w: %q", ports.ErrNotFound, nativeID)
	}
}

func (c *Catalog) GetStreamInfo(ctx context.Context, nativeID string) (ports.StreamInfo, error) {
	if !strings.HasPrefix(nativeID, metaPrefix) {
		return ports.StreamInfo{}, fmt.Errorf("%w: %q is not an item", ports.ErrNotFound, nativeID)
	}
	m, err := c.metadata(ctx, strings.TrimPrefix(nativeID, metaPrefix))
	if err != nil {
		return ports.StreamInfo{}, err
	}
	_, p, ok := m.part()
	if !ok {
		return ports.StreamInfo{}, fmt.Errorf("%w: %q has no media part", ports.ErrNotFound, nativeID)
	}
	length := p.Size
	if length <= 0 {
		length = -1
	}
	return ports.StreamInfo{
		URL:      c.client.URL(p.Key, nil),
		Length:   length,
		MimeType: m.mimeType(),
		Header:   c.client.Header(),
	}, nil
}

// GetArtInfo points at the Plex photo transcoder scaled to ArtSize.
func (c *Catalog) GetArtInfo(ctx context.Context, nativeID string) (ports.StreamInfo, error) {
	var thumb string
	switch {
	case strings.HasPrefix(nativeID, sectionPrefix):
		d, err := c.section(ctx, strings.TrimPrefix(nativeID, sectionPrefix))
		if err != nil {
			return ports.StreamInfo{}, err
		}
		thumb = d.Thumb
	case strings.HasPrefix(nativeID, metaPrefix):
		m, err := c.metadata(ctx, strings.TrimPrefix(nativeID, metaPrefix))
		if err != nil {
			return ports.StreamInfo{}, err
		}
		thumb = m.Thumb
	}
	if thumb == "" {
		return ports.StreamInfo{}, fmt.Errorf("%w: no art for %q", ports.ErrNotFound, nativeID)
	}
	size := strconv.Itoa(c.client.config.ArtSize)
	params := url.Values{}
	params.Set("width", size)
	params.Set("height", size)
	params.Set("minSize", "1")
	params.Set("upscale", "1")
	params.Set("url", thumb)
	return ports.StreamInfo{
		URL:      c.client.URL("/photo/:/transcode", params),
		Length:   -1,
		MimeType: "image/jpeg",
		Header:   c.client.Header(),
	}, nil
}

// Search matches titles. Libraries and the root use Plex's search; other
// containers filter their children.
func (c *Catalog) Search(ctx context.Context, nativeID string, text string, page ports.Page) (ports.Listing, error) {
	switch {
	case nativeID == rootID:
		params := url.Values{}
		params.Set("query", text)
		return c.list(ctx, "/search", params, page, "")
	case strings.HasPrefix(nativeID, sectionPrefix):
		params := url.Values{}
		params.Set("title", text)
		key := strings.TrimPrefix(nativeID, sectionPrefix)
		return c.list(ctx, "/library/sections/"+url.PathEscape(key)+"/all", params, page, nativeID)
	}
	listing, err := c.ListChildren(ctx, nativeID, ports.Page{})
	if err != nil {
		return ports.Listing{}, err
	}
	needle := strings.ToLower(text)
	matched := make([]ports.Entry, 0, len(listing.Entries))
	for _, e := range listing.Entries {
		if strings.Contains(strings.ToLower(e.Title), needle) {
			e.ParentNativeID = nativeID
			matched = append(matched, e)
		}
	}
	return ports.Listing{Entries: slicePage(matched, page), Total: int64(len(matched))}, nil
}

// list fetches one page of metadata. Entries Plex files under no parent get
// the container's library section, then fallbackParent.
func (c *Catalog) list(ctx context.Context, endpoint string, params url.Values, page ports.Page, fallbackParent string) (ports.Listing, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("X-Plex-Container-Start", strconv.FormatInt(page.Start, 10))
	if page.Count > 0 {
		params.Set("X-Plex-Container-Size", strconv.FormatInt(page.Count, 10))
	}
	var body mediaContainer
	if err := c.client.getJSON(ctx, endpoint, params, &body); err != nil {
		return ports.Listing{}, err
	}
	mc := body.MediaContainer
	if mc.LibrarySectionID != "" {
		fallbackParent = sectionID(string(mc.LibrarySectionID))
	}
	entries := make([]ports.Entry, 0, len(mc.Metadata)+len(mc.Directory))
	for _, m := range mc.Metadata {
		if m.RatingKey == "" {
			continue
		}
		e := m.entry()
		if e.ParentNativeID == "" {
			e.ParentNativeID = fallbackParent
		}
		entries = append(entries, e)
	}
	total := int64(-1)
	switch {
	case mc.TotalSize != nil:
		total = *mc.TotalSize
	case page.Count == 0 || int64(len(mc.Metadata)) < page.Count:
		total = page.Start + int64(len(mc.Metadata))
	}
	return ports.Listing{Entries: entries, Total: total}, nil
}

func (c *Catalog) sections(ctx context.Context) ([]directory, error) {
	var body mediaContainer
	if err := c.client.getJSON(ctx, "/library/sections", nil, &body); err != nil {
		return nil, err
	}
	return body.MediaContainer.Directory, nil
}

func (c *Catalog) section(ctx context.Context, key string) (directory, error) {
	sections, err := c.sections(ctx)
	if err != nil {
		return directory{}, err
	}
	for _, d := range sections {
		if d.Key == key {
			return d, nil
		}
	}
	return directory{}, fmt.Errorf("%w: section %q", ports.ErrNotFound, key)
}

func (c *Catalog) metadata(ctx context.Context, ratingKey string) (metadata, error) {
	var body mediaContainer
	if err := c.client.getJSON(ctx, "/library/metadata/"+url.PathEscape(ratingKey), nil, &body); err != nil {
		return metadata{}, err
	}
	if len(body.MediaContainer.Metadata) == 0 {
		return metadata{}, fmt.Errorf("%w: metadata %q", ports.ErrNotFound, ratingKey)
	}
	return body.MediaContainer.Metadata[0], nil
}

func slicePage(entries []ports.Entry, page ports.Page) []ports.Entry {
	if page.Start >= int64(len(entries)) {
		return nil
	}
	end := int64(len(entries))
	if page.Count > 0 && page.Start+page.Count < end {
		end = page.Start + page.Count
	}
	return entries[page.Start:end]
}
