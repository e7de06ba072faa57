package contentdir

import (
	"sort"
	"strings"

	"github.com/mikey-austin/plex_dlna/internal/ports"
)

var sortProperties = []string{
	"dc:title",
	"dc:date",
	"upnp:class",
	"upnp:artist",
	"upnp:album",
	"upnp:originalTrackNumber",
	"res@size",
	"res@duration",
}

type sortKey struct {
	property   string
	descending bool
}

// parseSortCriteria keeps the recognized keys of a comma separated
// "+prop,-prop" list and drops the rest.
func parseSortCriteria(criteria string) []sortKey {
	var keys []sortKey
	for _, raw := range strings.Split(criteria, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		key := sortKey{}
		switch raw[0] {
		case '-':
			key.descending = true
			raw = raw[1:]
		case '+':
			raw = raw[1:]
		}
		for _, prop := range sortProperties {
			if strings.EqualFold(prop, strings.TrimSpace(raw)) {
				key.property = prop
				break
			}
		}
		if key.property != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func sortKeysString(keys []sortKey) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		sign := "+"
		if k.descending {
			sign = "-"
		}
		parts = append(parts, sign+k.property)
	}
	return strings.Join(parts, ",")
}

func sortEntries(entries []ports.Entry, keys []sortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(entries, func(i, j int) bool {
		for _, key := range keys {
			c := compareEntries(entries[i], entries[j], key.property)
			if c == 0 {
				continue
			}
			if key.descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareEntries(a, b ports.Entry, property string) int {
	switch property {
	case "dc:title":
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	case "dc:date":
		return a.Date.Compare(b.Date)
	case "upnp:class":
		return strings.Compare(classOf(a), classOf(b))
	case "upnp:artist":
		return strings.Compare(strings.ToLower(a.Artist), strings.ToLower(b.Artist))
	case "upnp:album":
		return strings.Compare(strings.ToLower(a.Album), strings.ToLower(b.Album))
	case "upnp:originalTrackNumber":
		return compareInt(int64(a.TrackNumber), int64(b.TrackNumber))
	case "res@size":
		return compareInt(a.Size, b.Size)
	case "res@duration":
		return compareInt(int64(a.Duration), int64(b.Duration))
	default:
		return 0
	}
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
