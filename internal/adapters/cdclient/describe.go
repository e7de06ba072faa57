package cdclient

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mikey-austin/plex_dlna/internal/core"
)

const maxDescriptionBytes = 1 << 20

// Device is a parsed UPnP device description.
type Device struct {
	UUID         string    `json:"uuid"`
	FriendlyName string    `json:"friendlyName"`
	DeviceType   string    `json:"deviceType"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	ModelName    string    `json:"modelName,omitempty"`
	ModelNumber  string    `json:"modelNumber,omitempty"`
	Location     string    `json:"location"`
	BaseURL      string    `json:"baseURL"`
	Services     []Service `json:"services"`
	Icons        []Icon    `json:"icons,omitempty"`
}

// Service is one service entry with absolute URLs.
type Service struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	ControlURL  string `json:"controlURL"`
	EventSubURL string `json:"eventSubURL"`
	SCPDURL     string `json:"scpdURL"`
}

// Icon is one icon entry with an absolute URL.
type Icon struct {
	MimeType string `json:"mimeType"`
	URL      string `json:"url"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type deviceDescription struct {
	URLBase string `xml:"URLBase"`
	Device  struct {
		DeviceType   string          `xml:"deviceType"`
		FriendlyName string          `xml:"friendlyName"`
		Manufacturer string          `xml:"manufacturer"`
		ModelName    string          `xml:"modelName"`
		ModelNumber  string          `xml:"modelNumber"`
		UDN          string          `xml:"UDN"`
		IconList     []deviceIcon    `xml:"iconList>icon"`
		Services     []deviceService `xml:"serviceList>service"`
	} `xml:"device"`
}

type deviceService struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
	SCPDURL     string `xml:"SCPDURL"`
}

type deviceIcon struct {
	MimeType string `xml:"mimetype"`
	URL      string `xml:"url"`
	Width    int    `xml:"width"`
	Height   int    `xml:"height"`
}

// Describe fetches and parses the device description at location.
func Describe(ctx context.Context, httpClient *http.Client, location string) (Device, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return Device{}, core.WrapError(core.ExitUsage, "invalid location", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return Device{}, core.WrapError(core.ExitUpstream, "fetch device description", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Device{}, &core.CLIError{Code: core.ExitUpstream, Msg: fmt.Sprintf("device description error: %s", resp.Status)}
	}
	var desc deviceDescription
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxDescriptionBytes)).Decode(&desc); err != nil {
		return Device{}, core.WrapError(core.ExitUpstream, "decode device description", err)
	}
	return desc.device(location), nil
}

func (d deviceDescription) device(location string) Device {
	base := d.baseURL(location)
	dev := Device{
		UUID:         strings.TrimPrefix(strings.TrimSpace(d.Device.UDN), "uuid:"),
		FriendlyName: d.Device.FriendlyName,
		DeviceType:   d.Device.DeviceType,
		Manufacturer: d.Device.Manufacturer,
		ModelName:    d.Device.ModelName,
		ModelNumber:  d.Device.ModelNumber,
		Location:     location,
		BaseURL:      base,
	}
	for _, svc := range d.Device.Services {
		dev.Services = append(dev.Services, Service{
			Type:        strings.TrimSpace(svc.ServiceType),
			ID:          strings.TrimSpace(svc.ServiceID),
			ControlURL:  resolveURL(base, svc.ControlURL),
			EventSubURL: resolveURL(base, svc.EventSubURL),
			SCPDURL:     resolveURL(base, svc.SCPDURL),
		})
	}
	for _, icon := range d.Device.IconList {
		dev.Icons = append(dev.Icons, Icon{
			MimeType: icon.MimeType,
			URL:      resolveURL(base, icon.URL),
			Width:    icon.Width,
			Height:   icon.Height,
		})
	}
	return dev
}

func (d deviceDescription) baseURL(location string) string {
	if strings.TrimSpace(d.URLBase) != "" {
		return strings.TrimRight(strings.TrimSpace(d.URLBase), "/")
	}
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}

// ContentDirectory returns the ContentDirectory service, if any.
func (d Device) ContentDirectory() (Service, bool) {
	for _, svc := range d.Services {
		if strings.Contains(strings.ToLower(svc.Type), "contentdirectory") {
			return svc, true
		}
	}
	return Service{}, false
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return ref
	}
	baseURL, err := url.Parse(base + "/")
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
