package podcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/mikey-austin/plex_dlna/internal/ports"
)

type feedCache struct {
	Feed cachedFeed
	ByID map[string]cachedEpisode
}

type cachedFeed struct {
	FeedURL     string          `json:"feedUrl"`
	FeedID      string          `json:"feedId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Author      string          `json:"author"`
	ImageURL    string          `json:"imageUrl"`
	FetchedAt   int64           `json:"fetchedAt"`
	Episodes    []cachedEpisode `json:"episodes"`
}

type cachedEpisode struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Published   int64  `json:"published"`
	DurationMS  int64  `json:"durationMs"`
	AudioURL    string `json:"audioUrl"`
	AudioType   string `json:"audioType"`
	Length      int64  `json:"length"`
	ImageURL    string `json:"imageUrl"`
	Author      string `json:"author"`
}

func (c *Catalog) loadFeedByID(ctx context.Context, feedID string) (*feedCache, error) {
	for _, feedURL := range c.config.Feeds {
		if hashID(feedURL) != feedID {
			continue
		}
		return c.loadFeed(ctx, feedURL)
	}
	return nil, fmt.Errorf("%w: feed %q", ports.ErrNotFound, feedID)
}

// loadFeed serves a feed from memory, then the disk cache, then the network.
// A stale disk copy is used when the fetch fails.
func (c *Catalog) loadFeed(ctx context.Context, feedURL string) (*feedCache, error) {
	feedID := hashID(feedURL)

	c.cacheMu.Lock()
	if feed, ok := c.feeds[feedID]; ok && !c.isStale(feed.Feed.FetchedAt) {
		c.cacheMu.Unlock()
		return feed, nil
	}
	c.cacheMu.Unlock()

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(feedID, func() (any, error) {
		cachePath := filepath.Join(c.config.CacheDir, fmt.Sprintf("podcast_%s.json", feedID))
		cached, err := readCache(cachePath)
		if err != nil {
			c.log.Debug("read feed cache", zap.String("path", cachePath), zap.Error(err))
		}
		if cached != nil && !c.isStale(cached.FetchedAt) {
			return c.store(feedID, cached), nil
		}

		fetched, fetchErr := c.fetchFeed(shared, feedURL)
		if fetchErr != nil {
			if cached != nil {
				c.log.Warn("feed fetch failed, serving stale copy", zap.String("feed", feedURL), zap.Error(fetchErr))
				return c.store(feedID, cached), nil
			}
			return nil, fmt.Errorf("%w: %w", ports.ErrBackendUnavailable, fetchErr)
		}
		if err := writeCache(cachePath, fetched); err != nil {
			c.log.Warn("write feed cache", zap.Error(err))
		}
		return c.store(feedID, fetched), nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ports.ErrBackendUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*feedCache), nil
	}
}

func (c *Catalog) store(feedID string, feed *cachedFeed) *feedCache {
	entry := &feedCache{Feed: *feed, ByID: indexEpisodes(feed.Episodes)}
	c.cacheMu.Lock()
	c.feeds[feedID] = entry
	c.cacheMu.Unlock()
	return entry
}

func (c *Catalog) isStale(fetchedAt int64) bool {
	if fetchedAt == 0 {
		return true
	}
	return c.now().Sub(time.Unix(fetchedAt, 0)) > c.config.RefreshInterval
}

func (c *Catalog) fetchFeed(ctx context.Context, feedURL string) (*cachedFeed, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("feed fetch failed: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, err
	}

	feedID := hashID(feedURL)
	var itunesAuthor, itunesImage string
	if feed.ITunesExt != nil {
		itunesAuthor, itunesImage = feed.ITunesExt.Author, feed.ITunesExt.Image
	}
	show := showInfo{
		author: firstNonEmpty(personName(feed.Author), itunesAuthor),
		image:  firstNonEmpty(imageURL(feed.Image), itunesImage),
	}

	episodes := make([]cachedEpisode, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		if episode, ok := show.episode(feedID, item); ok {
			episodes = append(episodes, episode)
		}
	}

	return &cachedFeed{
		FeedURL:     feedURL,
		FeedID:      feedID,
		Title:       firstNonEmpty(feed.Title, feedURL),
		Description: strings.TrimSpace(feed.Description),
		Author:      show.author,
		ImageURL:    show.image,
		FetchedAt:   c.now().Unix(),
		Episodes:    episodes,
	}, nil
}

// showInfo carries channel-level values episodes inherit when they omit
// their own.
type showInfo struct {
	author string
	image  string
}

func (s showInfo) episode(feedID string, item *gofeed.Item) (cachedEpisode, bool) {
	var enclosure *gofeed.Enclosure
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			enclosure = enc
			break
		}
	}
	length := int64(-1)
	var audioURL, audioType string
	if enclosure != nil {
		audioURL, audioType = enclosure.URL, enclosure.Type
		if n, err := strconv.ParseInt(strings.TrimSpace(enclosure.Length), 10, 64); err == nil && n > 0 {
			length = n
		}
	}

	key := firstNonEmpty(item.GUID, audioURL, item.Link, item.Title)
	if key == "" {
		return cachedEpisode{}, false
	}

	var itunesAuthor, itunesImage, itunesDuration string
	if item.ITunesExt != nil {
		itunesAuthor = item.ITunesExt.Author
		itunesImage = item.ITunesExt.Image
		itunesDuration = item.ITunesExt.Duration
	}

	return cachedEpisode{
		ID:          hashID(feedID + ":" + key),
		Title:       firstNonEmpty(item.Title, key),
		Description: strings.TrimSpace(item.Description),
		Published:   toUnix(item.PublishedParsed),
		DurationMS:  clockMS(itunesDuration),
		AudioURL:    audioURL,
		AudioType:   audioType,
		Length:      length,
		ImageURL:    firstNonEmpty(imageURL(item.Image), itunesImage, s.image),
		Author:      firstNonEmpty(personName(item.Author), itunesAuthor, s.author),
	}, true
}

func personName(p *gofeed.Person) string {
	if p == nil {
		return ""
	}
	return p.Name
}

func imageURL(img *gofeed.Image) string {
	if img == nil {
		return ""
	}
	return img.URL
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// clockMS reads a duration written as seconds or [hh:]mm:ss.
func clockMS(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	var total int64
	for _, part := range strings.Split(raw, ":") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return total * 1000
}

func toUnix(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

func indexEpisodes(episodes []cachedEpisode) map[string]cachedEpisode {
	out := make(map[string]cachedEpisode, len(episodes))
	for _, episode := range episodes {
		if episode.ID != "" {
			out[episode.ID] = episode
		}
	}
	return out
}

func hashID(input string) string {
	return strconv.FormatUint(xxhash.Sum64String(input), 16)
}

func readCache(path string) (*cachedFeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cached cachedFeed
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func writeCache(path string, cached *cachedFeed) error {
	data, err := json.MarshalIndent(cached, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil || strings.TrimSpace(dir) == "" {
		return filepath.Join(os.TempDir(), "plexdlna-podcasts")
	}
	return filepath.Join(dir, "plexdlna", "podcasts")
}
