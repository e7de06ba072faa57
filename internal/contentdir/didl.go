package contentdir

import (
	"encoding/xml"
	"net/url"
	"strconv"
	"strings"

	"github.com/mikey-austin/plex_dlna/internal/dlna"
	"github.com/mikey-austin/plex_dlna/internal/ports"
)

const (
	didlNS = "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"
	dcNS   = "http://purl.org/dc/elements/1.1/"
	upnpNS = "urn:schemas-upnp-org:metadata-1-0/upnp/"
	dlnaNS = "urn:schemas-dlna-org:metadata-1-0/"
)

type didlLite struct {
	XMLName xml.Name     `xml:"DIDL-Lite"`
	XMLNS   string       `xml:"xmlns,attr"`
	DC      string       `xml:"xmlns:dc,attr"`
	UPnP    string       `xml:"xmlns:upnp,attr"`
	DLNA    string       `xml:"xmlns:dlna,attr"`
	Objects []didlObject `xml:""`
}

type didlObject struct {
	XMLName     xml.Name
	ID          string        `xml:"id,attr"`
	ParentID    string        `xml:"parentID,attr"`
	Restricted  string        `xml:"restricted,attr"`
	Searchable  string        `xml:"searchable,attr,omitempty"`
	ChildCount  string        `xml:"childCount,attr,omitempty"`
	Title       string        `xml:"dc:title"`
	Creator     string        `xml:"dc:creator,omitempty"`
	Date        string        `xml:"dc:date,omitempty"`
	Description string        `xml:"dc:description,omitempty"`
	Class       string        `xml:"upnp:class"`
	Artist      string        `xml:"upnp:artist,omitempty"`
	Album       string        `xml:"upnp:album,omitempty"`
	Genre       string        `xml:"upnp:genre,omitempty"`
	TrackNumber string        `xml:"upnp:originalTrackNumber,omitempty"`
	AlbumArt    *didlAlbumArt `xml:"upnp:albumArtURI,omitempty"`
	Res         []didlRes     `xml:"res"`
}

type didlAlbumArt struct {
	ProfileID string `xml:"dlna:profileID,attr"`
	URI       string `xml:",chardata"`
}

type didlRes struct {
	ProtocolInfo string `xml:"protocolInfo,attr"`
	Size         string `xml:"size,attr,omitempty"`
	Duration     string `xml:"duration,attr,omitempty"`
	URI          string `xml:",chardata"`
}

// filterSet is a parsed Browse/Search Filter argument.
type filterSet struct {
	all   bool
	props map[string]bool
}

func parseFilter(filter string) filterSet {
	filter = strings.TrimSpace(filter)
	if filter == "" || filter == "*" {
		return filterSet{all: true}
	}
	set := filterSet{props: map[string]bool{}}
	for _, p := range strings.Split(filter, ",") {
		p = strings.TrimSpace(p)
		if p == "*" {
			return filterSet{all: true}
		}
		if p != "" {
			set.props[strings.ToLower(p)] = true
		}
	}
	return set
}

func (f filterSet) has(prop string) bool {
	if f.all {
		return true
	}
	prop = strings.ToLower(prop)
	if f.props[prop] {
		return true
	}
	// "container@childCount" style names are accepted as "@childCount".
	if _, attr, ok := strings.Cut(prop, "@"); ok && !strings.HasPrefix(prop, "res@") {
		return f.props["@"+attr] || f.props["container@"+attr] || f.props["item@"+attr]
	}
	return false
}

// renderObject is one entry ready for rendering.
type renderObject struct {
	entry    ports.Entry
	kind     ports.EntryKind
	objectID string
	parentID string
}

func classOf(e ports.Entry) string {
	if e.Class != "" {
		return e.Class
	}
	if e.Kind == ports.KindContainer {
		return "object.container.storageFolder"
	}
	mime := strings.ToLower(e.MimeType)
	switch {
	case strings.HasPrefix(mime, "audio/"):
		return "object.item.audioItem.musicTrack"
	case strings.HasPrefix(mime, "video/"):
		return "object.item.videoItem"
	case strings.HasPrefix(mime, "image/"):
		return "object.item.imageItem.photo"
	default:
		return "object.item"
	}
}

func renderDIDL(objects []renderObject, filter filterSet, baseURL string) (string, error) {
	doc := didlLite{
		XMLNS:   didlNS,
		DC:      dcNS,
		UPnP:    upnpNS,
		DLNA:    dlnaNS,
		Objects: make([]didlObject, 0, len(objects)),
	}
	base := strings.TrimRight(baseURL, "/")
	for _, obj := range objects {
		doc.Objects = append(doc.Objects, buildObject(obj, filter, base))
	}
	data, err := xml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func buildObject(obj renderObject, filter filterSet, base string) didlObject {
	e := obj.entry
	out := didlObject{
		ID:         obj.objectID,
		ParentID:   obj.parentID,
		Restricted: "1",
		Title:      e.Title,
		Class:      classOf(e),
	}
	if out.Title == "" {
		out.Title = e.NativeID
	}
	if obj.kind == ports.KindContainer {
		out.XMLName = xml.Name{Local: "container"}
		if filter.has("@searchable") {
			out.Searchable = "1"
		}
		if e.ChildCount >= 0 && filter.has("@childCount") {
			out.ChildCount = strconv.FormatInt(e.ChildCount, 10)
		}
	} else {
		out.XMLName = xml.Name{Local: "item"}
	}
	if filter.has("dc:creator") {
		out.Creator = e.Artist
	}
	if filter.has("dc:date") && !e.Date.IsZero() {
		out.Date = e.Date.UTC().Format("2006-01-02")
	}
	if filter.has("dc:description") {
		out.Description = e.Description
	}
	if filter.has("upnp:artist") {
		out.Artist = e.Artist
	}
	if filter.has("upnp:album") {
		out.Album = e.Album
	}
	if filter.has("upnp:genre") {
		out.Genre = e.Genre
	}
	if filter.has("upnp:originalTrackNumber") && e.TrackNumber > 0 {
		out.TrackNumber = strconv.Itoa(e.TrackNumber)
	}
	if e.HasArt && base != "" && filter.has("upnp:albumArtURI") {
		out.AlbumArt = &didlAlbumArt{
			ProfileID: "JPEG_TN",
			URI:       base + "/art/" + url.PathEscape(obj.objectID),
		}
	}
	if obj.kind == ports.KindItem {
		res := didlRes{
			ProtocolInfo: dlna.ProtocolInfo(e.MimeType),
			URI:          base + "/stream/" + url.PathEscape(obj.objectID),
		}
		if e.Size > 0 && filter.has("res@size") {
			res.Size = strconv.FormatInt(e.Size, 10)
		}
		if e.Duration > 0 && filter.has("res@duration") {
			res.Duration = dlna.FormatDuration(e.Duration.Milliseconds())
		}
		out.Res = []didlRes{res}
	}
	return out
}
