package podcast

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mikey-austin/plex_dlna/internal/ports"
)

const (
	rootID        = "podcasts"
	feedPrefix    = "feed/"
	episodePrefix = "episode/"
)

// Config configures the podcast catalog.
type Config struct {
	Title             string
	Feeds             []string
	RefreshInterval   time.Duration
	CacheDir          string
	Timeout           time.Duration
	UserAgent         string
	ReverseSortByDate bool
}

// Catalog serves RSS podcast feeds as a ports.Catalog. Native ids are
// "podcasts", "feed/{feed}" and "episode/{feed}/{episode}".
type Catalog struct {
	log    *zap.Logger
	http   *http.Client
	config Config
	now    func() time.Time

	group   singleflight.Group
	cacheMu sync.Mutex
	feeds   map[string]*feedCache
}

// NewCatalog validates cfg and prepares the feed cache directory. A nil
// httpClient uses a default one.
func NewCatalog(log *zap.Logger, httpClient *http.Client, cfg Config) (*Catalog, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(cfg.Feeds) == 0 {
		return nil, errors.New("feeds required")
	}
	if strings.TrimSpace(cfg.Title) == "" {
		cfg.Title = "Podcasts"
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "plexdlna/1.0"
	}
	if strings.TrimSpace(cfg.CacheDir) == "" {
		cfg.CacheDir = defaultCacheDir()
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o750); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Catalog{
		log:    log,
		http:   httpClient,
		config: cfg,
		now:    time.Now,
		feeds:  make(map[string]*feedCache),
	}, nil
}

func (c *Catalog) Root() string {
	return rootID
}

func (c *Catalog) ListChildren(ctx context.Context, nativeID string, page ports.Page) (ports.Listing, error) {
	if nativeID == rootID {
		entries := c.feedEntries(ctx)
		return ports.Listing{Entries: slicePage(entries, page), Total: int64(len(entries))}, nil
	}
	if !strings.HasPrefix(nativeID, feedPrefix) {
		return ports.Listing{}, fmt.Errorf("%w: %q is not a container", ports.ErrNotFound, nativeID)
	}
	feed, err := c.loadFeedByID(ctx, strings.TrimPrefix(nativeID, feedPrefix))
	if err != nil {
		return ports.Listing{}, err
	}
	episodes := c.sortedEpisodes(feed)
	entries := make([]ports.Entry, 0, len(episodes))
	for _, episode := range episodes {
		entries = append(entries, episodeEntry(&feed.Feed, episode))
	}
	return ports.Listing{Entries: slicePage(entries, page), Total: int64(len(entries))}, nil
}

func (c *Catalog) GetMetadata(ctx context.Context, nativeID string) (ports.Entry, error) {
	switch {
	case nativeID == rootID:
		return ports.Entry{
			NativeID:   rootID,
			Kind:       ports.KindContainer,
			Title:      c.config.Title,
			Class:      "object.container.storageFolder",
			ChildCount: int64(len(c.config.Feeds)),
		}, nil
	case strings.HasPrefix(nativeID, feedPrefix):
		feed, err := c.loadFeedByID(ctx, strings.TrimPrefix(nativeID, feedPrefix))
		if err != nil {
			return ports.Entry{}, err
		}
		return feedEntry(feed), nil
	case strings.HasPrefix(nativeID, episodePrefix):
		feed, episode, err := c.episode(ctx, nativeID)
		if err != nil {
			return ports.Entry{}, err
		}
		return episodeEntry(&feed.Feed, episode), nil
	default:
		return ports.Entry{}, fmt.Errorf("%w: %q", ports.ErrNotFound, nativeID)
	}
}

func (c *Catalog) GetStreamInfo(ctx context.Context, nativeID string) (ports.StreamInfo, error) {
	_, episode, err := c.episode(ctx, nativeID)
	if err != nil {
		return ports.StreamInfo{}, err
	}
	if episode.AudioURL == "" {
		return ports.StreamInfo{}, fmt.Errorf("%w: %q has no enclosure", ports.ErrNotFound, nativeID)
	}
	return ports.StreamInfo{
		URL:      episode.AudioURL,
		Length:   episode.Length,
		MimeType: episodeMime(episode),
		Header:   http.Header{"User-Agent": []string{c.config.UserAgent}},
	}, nil
}

func (c *Catalog) GetArtInfo(ctx context.Context, nativeID string) (ports.StreamInfo, error) {
	var image string
	switch {
	case strings.HasPrefix(nativeID, feedPrefix):
		feed, err := c.loadFeedByID(ctx, strings.TrimPrefix(nativeID, feedPrefix))
		if err != nil {
			return ports.StreamInfo{}, err
		}
		image = feed.Feed.ImageURL
	case strings.HasPrefix(nativeID, episodePrefix):
		_, episode, err := c.episode(ctx, nativeID)
		if err != nil {
			return ports.StreamInfo{}, err
		}
		image = episode.ImageURL
	}
	if image == "" {
		return ports.StreamInfo{}, fmt.Errorf("%w: no art for %q", ports.ErrNotFound, nativeID)
	}
	return ports.StreamInfo{
		URL:    image,
		Length: -1,
		Header: http.Header{"User-Agent": []string{c.config.UserAgent}},
	}, nil
}

// Search matches feed and episode titles and descriptions below nativeID.
func (c *Catalog) Search(ctx context.Context, nativeID string, text string, page ports.Page) (ports.Listing, error) {
	query := strings.ToLower(strings.TrimSpace(text))
	var feeds []*feedCache
	switch {
	case nativeID == rootID:
		for _, feedURL := range c.config.Feeds {
			feed, err := c.loadFeed(ctx, feedURL)
			if err != nil {
				c.log.Warn("load feed", zap.String("feed", feedURL), zap.Error(err))
				continue
			}
			feeds = append(feeds, feed)
		}
	case strings.HasPrefix(nativeID, feedPrefix):
		feed, err := c.loadFeedByID(ctx, strings.TrimPrefix(nativeID, feedPrefix))
		if err != nil {
			return ports.Listing{}, err
		}
		feeds = append(feeds, feed)
	default:
		return ports.Listing{}, fmt.Errorf("%w: %q is not a container", ports.ErrNotFound, nativeID)
	}

	var entries []ports.Entry
	for _, feed := range feeds {
		if nativeID == rootID && matchesQuery(query, feed.Feed.Title, feed.Feed.Description) {
			entries = append(entries, feedEntry(feed))
		}
		for _, episode := range c.sortedEpisodes(feed) {
			if matchesQuery(query, episode.Title, episode.Description) {
				entries = append(entries, episodeEntry(&feed.Feed, episode))
			}
		}
	}
	return ports.Listing{Entries: slicePage(entries, page), Total: int64(len(entries))}, nil
}

func (c *Catalog) feedEntries(ctx context.Context) []ports.Entry {
	entries := make([]ports.Entry, 0, len(c.config.Feeds))
	for _, feedURL := range c.config.Feeds {
		feed, err := c.loadFeed(ctx, feedURL)
		if err != nil {
			c.log.Warn("load feed", zap.String("feed", feedURL), zap.Error(err))
			continue
		}
		entries = append(entries, feedEntry(feed))
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Title < entries[j].Title })
	return entries
}

func (c *Catalog) sortedEpisodes(feed *feedCache) []cachedEpisode {
	episodes := make([]cachedEpisode, 0, len(feed.Feed.Episodes))
	for _, episode := range feed.Feed.Episodes {
		if episode.AudioURL == "" {
			continue
		}
		episodes = append(episodes, episode)
	}
	if c.config.ReverseSortByDate {
		sort.SliceStable(episodes, func(i, j int) bool {
			return episodes[i].Published > episodes[j].Published
		})
	} else {
		sort.SliceStable(episodes, func(i, j int) bool {
			return episodes[i].Title < episodes[j].Title
		})
	}
	return episodes
}

func (c *Catalog) episode(ctx context.Context, nativeID string) (*feedCache, cachedEpisode, error) {
	rest, ok := strings.CutPrefix(nativeID, episodePrefix)
	feedID, episodeID, split := strings.Cut(rest, "/")
	if !ok || !split {
		return nil, cachedEpisode{}, fmt.Errorf("%w: %q is not an episode", ports.ErrNotFound, nativeID)
	}
	feed, err := c.loadFeedByID(ctx, feedID)
	if err != nil {
		return nil, cachedEpisode{}, err
	}
	episode, found := feed.ByID[episodeID]
	if !found {
		return nil, cachedEpisode{}, fmt.Errorf("%w: episode %q", ports.ErrNotFound, nativeID)
	}
	return feed, episode, nil
}

func feedEntry(feed *feedCache) ports.Entry {
	count := int64(0)
	for _, episode := range feed.Feed.Episodes {
		if episode.AudioURL != "" {
			count++
		}
	}
	return ports.Entry{
		NativeID:       feedPrefix + feed.Feed.FeedID,
		ParentNativeID: rootID,
		Kind:           ports.KindContainer,
		Title:          feed.Feed.Title,
		Class:          "object.container.album.musicAlbum",
		ChildCount:     count,
		Artist:         feed.Feed.Author,
		Description:    feed.Feed.Description,
		HasArt:         feed.Feed.ImageURL != "",
	}
}

func episodeEntry(feed *cachedFeed, episode cachedEpisode) ports.Entry {
	e := ports.Entry{
		NativeID:       episodePrefix + feed.FeedID + "/" + episode.ID,
		ParentNativeID: feedPrefix + feed.FeedID,
		Kind:           ports.KindItem,
		Title:          episode.Title,
		Class:          "object.item.audioItem.musicTrack",
		ChildCount:     -1,
		MimeType:       episodeMime(episode),
		Size:           episode.Length,
		Duration:       time.Duration(episode.DurationMS) * time.Millisecond,
		Artist:         episode.Author,
		Album:          feed.Title,
		Genre:          "Podcast",
		Description:    episode.Description,
		HasArt:         episode.ImageURL != "",
	}
	if e.Size < 0 {
		e.Size = 0
	}
	if episode.Published > 0 {
		e.Date = time.Unix(episode.Published, 0).UTC()
	}
	return e
}

func episodeMime(episode cachedEpisode) string {
	if mime := strings.TrimSpace(episode.AudioType); mime != "" {
		return mime
	}
	return "audio/mpeg"
}

func matchesQuery(query string, fields ...string) bool {
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
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
