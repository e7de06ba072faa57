package cdclient

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Object is one DIDL-Lite container or item.
type Object struct {
	ID         string     `json:"id"`
	ParentID   string     `json:"parentID"`
	Container  bool       `json:"container"`
	Title      string     `json:"title"`
	Class      string     `json:"class"`
	ChildCount int64      `json:"childCount,omitempty"`
	Creator    string     `json:"creator,omitempty"`
	Artist     string     `json:"artist,omitempty"`
	Album      string     `json:"album,omitempty"`
	Genre      string     `json:"genre,omitempty"`
	Date       string     `json:"date,omitempty"`
	AlbumArt   string     `json:"albumArt,omitempty"`
	Resources  []Resource `json:"resources,omitempty"`
}

// Resource is a res element of an item.
type Resource struct {
	URL          string `json:"url"`
	ProtocolInfo string `json:"protocolInfo"`
	Size         int64  `json:"size,omitempty"`
	Duration     string `json:"duration,omitempty"`
}

type didlLite struct {
	Objects []didlObject `xml:",any"`
}

type didlObject struct {
	XMLName     xml.Name
	ID          string    `xml:"id,attr"`
	ParentID    string    `xml:"parentID,attr"`
	ChildCount  string    `xml:"childCount,attr"`
	Title       string    `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creator     string    `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Date        string    `xml:"http://purl.org/dc/elements/1.1/ date"`
	Class       string    `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ class"`
	Artist      string    `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ artist"`
	Album       string    `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ album"`
	Genre       string    `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ genre"`
	AlbumArtURI []string  `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ albumArtURI"`
	Resources   []didlRes `xml:"res"`
}

type didlRes struct {
	Value        string `xml:",chardata"`
	ProtocolInfo string `xml:"protocolInfo,attr"`
	Duration     string `xml:"duration,attr"`
	Size         string `xml:"size,attr"`
}

// ParseDIDL decodes a DIDL-Lite document, keeping document order.
func ParseDIDL(doc string) ([]Object, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, nil
	}
	var didl didlLite
	if err := xml.Unmarshal([]byte(doc), &didl); err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(didl.Objects))
	for _, obj := range didl.Objects {
		kind := obj.XMLName.Local
		if kind != "container" && kind != "item" {
			continue
		}
		o := Object{
			ID:        obj.ID,
			ParentID:  obj.ParentID,
			Container: kind == "container",
			Title:     strings.TrimSpace(obj.Title),
			Class:     strings.TrimSpace(obj.Class),
			Creator:   obj.Creator,
			Artist:    obj.Artist,
			Album:     obj.Album,
			Genre:     obj.Genre,
			Date:      obj.Date,
		}
		if n, err := strconv.ParseInt(obj.ChildCount, 10, 64); err == nil {
			o.ChildCount = n
		}
		if len(obj.AlbumArtURI) > 0 {
			o.AlbumArt = strings.TrimSpace(obj.AlbumArtURI[0])
		}
		for _, res := range obj.Resources {
			r := Resource{
				URL:          strings.TrimSpace(res.Value),
				ProtocolInfo: res.ProtocolInfo,
				Duration:     res.Duration,
			}
			if n, err := strconv.ParseInt(res.Size, 10, 64); err == nil {
				r.Size = n
			}
			o.Resources = append(o.Resources, r)
		}
		out = append(out, o)
	}
	return out, nil
}
