package plex

import (
	"bytes"
	"strings"
	"time"

	"github.com/mikey-austin/plex_dlna/internal/ports"
)

type mediaContainer struct {
	MediaContainer containerBody `json:"MediaContainer"`
}

type containerBody struct {
	Size             int64       `json:"size"`
	TotalSize        *int64      `json:"totalSize"`
	Offset           int64       `json:"offset"`
	Title1           string      `json:"title1"`
	LibrarySectionID plexID      `json:"librarySectionID"`
	Directory        []directory `json:"Directory"`
	Metadata         []metadata  `json:"Metadata"`
}

// plexID accepts ids Plex sends either as numbers or as strings.
type plexID string

func (p *plexID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if string(data) == "null" {
		data = nil
	}
	*p = plexID(data)
	return nil
}

type directory struct {
	Key       string `json:"key"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	Thumb     string `json:"thumb"`
	UpdatedAt int64  `json:"updatedAt"`
}

type metadata struct {
	RatingKey             string  `json:"ratingKey"`
	ParentRatingKey       string  `json:"parentRatingKey"`
	LibrarySectionID      plexID  `json:"librarySectionID"`
	Type                  string  `json:"type"`
	Title                 string  `json:"title"`
	ParentTitle           string  `json:"parentTitle"`
	GrandparentTitle      string  `json:"grandparentTitle"`
	Summary               string  `json:"summary"`
	Year                  int     `json:"year"`
	OriginallyAvailableAt string  `json:"originallyAvailableAt"`
	Duration              int64   `json:"duration"`
	Index                 int     `json:"index"`
	Thumb                 string  `json:"thumb"`
	LeafCount             *int64  `json:"leafCount"`
	ChildCount            *int64  `json:"childCount"`
	Genre                 []tag   `json:"Genre"`
	Media                 []media `json:"Media"`
}

type tag struct {
	Tag string `json:"tag"`
}

type media struct {
	Container string `json:"container"`
	Duration  int64  `json:"duration"`
	Part      []part `json:"Part"`
}

type part struct {
	Key        string `json:"key"`
	Size       int64  `json:"size"`
	Container  string `json:"container"`
	File       string `json:"file"`
	Accessible *bool  `json:"accessible"`
	Exists     *bool  `json:"exists"`
}

var containerTypes = map[string]string{
	"show":       "object.container.album.videoAlbum",
	"season":     "object.container.album.videoAlbum",
	"artist":     "object.container.person.musicArtist",
	"album":      "object.container.album.musicAlbum",
	"photoalbum": "object.container.album.photoAlbum",
	"collection": "object.container.storageFolder",
	"playlist":   "object.container.playlistContainer",
}

var itemTypes = map[string]string{
	"movie":   "object.item.videoItem.movie",
	"episode": "object.item.videoItem",
	"clip":    "object.item.videoItem",
	"track":   "object.item.audioItem.musicTrack",
	"photo":   "object.item.imageItem.photo",
}

var mimeForContainer = map[string]string{
	"mp4":      "video/mp4",
	"m4v":      "video/mp4",
	"mov":      "video/quicktime",
	"mkv":      "video/x-matroska",
	"avi":      "video/x-msvideo",
	"mpegts":   "video/mpeg",
	"ts":       "video/mpeg",
	"mpeg":     "video/mpeg",
	"wmv":      "video/x-ms-wmv",
	"webm":     "video/webm",
	"mp3":      "audio/mpeg",
	"flac":     "audio/flac",
	"m4a":      "audio/mp4",
	"aac":      "audio/aac",
	"ogg":      "audio/ogg",
	"wav":      "audio/wav",
	"wma":      "audio/x-ms-wma",
	"jpeg":     "image/jpeg",
	"jpg":      "image/jpeg",
	"png":      "image/png",
	"gif":      "image/gif",
	"mka":      "audio/x-matroska",
	"opus":     "audio/ogg",
	"aiff":     "audio/aiff",
	"alac":     "audio/mp4",
	"dvr-ms":   "video/x-ms-dvr",
	"mpeg4":    "video/mp4",
	"matroska": "video/x-matroska",
}

var defaultMime = map[string]string{
	"movie":   "video/mp4",
	"episode": "video/mp4",
	"clip":    "video/mp4",
	"track":   "audio/mpeg",
	"photo":   "image/jpeg",
}

func isItemType(t string) bool {
	_, ok := itemTypes[t]
	return ok
}

func (m metadata) part() (media, part, bool) {
	for _, md := range m.Media {
		for _, p := range md.Part {
			if strings.TrimSpace(p.Key) != "" {
				return md, p, true
			}
		}
	}
	return media{}, part{}, false
}

func (m metadata) mimeType() string {
	md, p, ok := m.part()
	if ok {
		for _, c := range []string{p.Container, md.Container} {
			if mime, found := mimeForContainer[strings.ToLower(c)]; found {
				return mime
			}
		}
	}
	if mime, found := defaultMime[m.Type]; found {
		return mime
	}
	return "application/octet-stream"
}

func (m metadata) entry() ports.Entry {
	e := ports.Entry{
		NativeID:       metadataID(m.RatingKey),
		ParentNativeID: m.parentID(),
		Title:          m.Title,
		Description:    m.Summary,
		HasArt:         m.Thumb != "",
		ChildCount:     -1,
	}
	if len(m.Genre) > 0 {
		e.Genre = m.Genre[0].Tag
	}
	if date, err := time.Parse("2006-01-02", m.OriginallyAvailableAt); err == nil {
		e.Date = date
	} else if m.Year > 0 {
		e.Date = time.Date(m.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
	}

	if !isItemType(m.Type) {
		e.Kind = ports.KindContainer
		e.Class = containerTypes[m.Type]
		if e.Class == "" {
			e.Class = "object.container.storageFolder"
		}
		switch {
		case m.ChildCount != nil:
			e.ChildCount = *m.ChildCount
		case m.LeafCount != nil && m.Type != "show":
			e.ChildCount = *m.LeafCount
		}
		if m.Type == "album" {
			e.Artist = m.ParentTitle
		}
		return e
	}

	e.Kind = ports.KindItem
	e.Class = itemTypes[m.Type]
	e.MimeType = m.mimeType()
	e.Duration = time.Duration(m.Duration) * time.Millisecond
	switch m.Type {
	case "track":
		e.Artist = m.GrandparentTitle
		e.Album = m.ParentTitle
		e.TrackNumber = m.Index
	case "episode":
		e.Album = m.GrandparentTitle
		e.TrackNumber = m.Index
	}
	md, p, ok := m.part()
	if !ok {
		e.Unavailable = true
		return e
	}
	if (p.Accessible != nil && !*p.Accessible) || (p.Exists != nil && !*p.Exists) {
		e.Unavailable = true
	}
	e.Size = p.Size
	if e.Duration == 0 && md.Duration > 0 {
		e.Duration = time.Duration(md.Duration) * time.Millisecond
	}
	return e
}

// parentID is the container Plex files m under: the parent for seasons,
// episodes, albums and tracks, the library section otherwise.
func (m metadata) parentID() string {
	switch {
	case m.ParentRatingKey != "":
		return metadataID(m.ParentRatingKey)
	case m.LibrarySectionID != "":
		return sectionID(string(m.LibrarySectionID))
	}
	return ""
}

func (d directory) entry() ports.Entry {
	return ports.Entry{
		NativeID:       sectionID(d.Key),
		ParentNativeID: rootID,
		Kind:           ports.KindContainer,
		Title:          d.Title,
		Class:          "object.container.storageFolder",
		ChildCount:     -1,
		HasArt:         d.Thumb != "",
	}
}
