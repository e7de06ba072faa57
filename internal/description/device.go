package description

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Device carries the per-deployment fields of the device description.
type Device struct {
	UUID            string
	FriendlyName    string
	Manufacturer    string
	ManufacturerURL string
	ModelName       string
	ModelNumber     string
	SerialNumber    string
	PresentationURL string
}

type xmlSpecVersion struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

type xmlIcon struct {
	MimeType string `xml:"mimetype"`
	Width    int    `xml:"width"`
	Height   int    `xml:"height"`
	Depth    int    `xml:"depth"`
	URL      string `xml:"url"`
}

type xmlService struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	SCPDURL     string `xml:"SCPDURL"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

type xmlDevice struct {
	DeviceType       string       `xml:"deviceType"`
	FriendlyName     string       `xml:"friendlyName"`
	Manufacturer     string       `xml:"manufacturer"`
	ManufacturerURL  string       `xml:"manufacturerURL,omitempty"`
	ModelDescription string       `xml:"modelDescription"`
	ModelName        string       `xml:"modelName"`
	ModelNumber      string       `xml:"modelNumber"`
	SerialNumber     string       `xml:"serialNumber,omitempty"`
	UDN              string       `xml:"UDN"`
	DLNADoc          string       `xml:"dlna:X_DLNADOC"`
	Icons            []xmlIcon    `xml:"iconList>icon"`
	Services         []xmlService `xml:"serviceList>service"`
	PresentationURL  string       `xml:"presentationURL,omitempty"`
}

type xmlRoot struct {
	XMLName     xml.Name       `xml:"urn:schemas-upnp-org:device-1-0 root"`
	DLNANS      string         `xml:"xmlns:dlna,attr"`
	SpecVersion xmlSpecVersion `xml:"specVersion"`
	Device      xmlDevice      `xml:"device"`
}

// DeviceDescription renders the root device description document.
func DeviceDescription(dev Device) ([]byte, error) {
	if strings.TrimSpace(dev.UUID) == "" {
		return nil, errors.New("device uuid required")
	}
	if dev.Manufacturer == "" {
		dev.Manufacturer = "plex_dlna"
	}
	if dev.ModelName == "" {
		dev.ModelName = "Plex DLNA Server"
	}
	if dev.ModelNumber == "" {
		dev.ModelNumber = "1"
	}
	root := xmlRoot{
		DLNANS:      "urn:schemas-dlna-org:device-1-0",
		SpecVersion: xmlSpecVersion{Major: 1, Minor: 0},
		Device: xmlDevice{
			DeviceType:       DeviceType,
			FriendlyName:     dev.FriendlyName,
			Manufacturer:     dev.Manufacturer,
			ManufacturerURL:  dev.ManufacturerURL,
			ModelDescription: "Plex library exposed as a UPnP MediaServer",
			ModelName:        dev.ModelName,
			ModelNumber:      dev.ModelNumber,
			SerialNumber:     dev.SerialNumber,
			UDN:              "uuid:" + strings.TrimPrefix(dev.UUID, "uuid:"),
			DLNADoc:          "DMS-1.50",
			PresentationURL:  dev.PresentationURL,
		},
	}
	for _, icon := range Icons() {
		root.Device.Icons = append(root.Device.Icons, xmlIcon{
			MimeType: icon.MimeType,
			Width:    icon.Size,
			Height:   icon.Size,
			Depth:    24,
			URL:      icon.URL(),
		})
	}
	for _, svc := range Services() {
		root.Device.Services = append(root.Device.Services, xmlService{
			ServiceType: svc.Type,
			ServiceID:   svc.ID,
			SCPDURL:     svc.SCPDURL(),
			ControlURL:  svc.ControlURL(),
			EventSubURL: svc.EventURL(),
		})
	}
	return marshalDocument(root)
}

type xmlArgument struct {
	Name                 string `xml:"name"`
	Direction            string `xml:"direction"`
	RelatedStateVariable string `xml:"relatedStateVariable"`
}

type xmlAction struct {
	Name      string        `xml:"name"`
	Arguments []xmlArgument `xml:"argumentList>argument,omitempty"`
}

type xmlStateVariable struct {
	SendEvents    string   `xml:"sendEvents,attr"`
	Name          string   `xml:"name"`
	DataType      string   `xml:"dataType"`
	AllowedValues []string `xml:"allowedValueList>allowedValue,omitempty"`
}

type xmlSCPD struct {
	XMLName        xml.Name           `xml:"urn:schemas-upnp-org:service-1-0 scpd"`
	SpecVersion    xmlSpecVersion     `xml:"specVersion"`
	Actions        []xmlAction        `xml:"actionList>action"`
	StateVariables []xmlStateVariable `xml:"serviceStateTable>stateVariable"`
}

// SCPD renders the service control protocol description of svc.
func SCPD(svc Service) ([]byte, error) {
	doc := xmlSCPD{SpecVersion: xmlSpecVersion{Major: 1, Minor: 0}}
	for _, action := range svc.Actions {
		out := xmlAction{Name: action.Name}
		for _, a := range action.Arguments {
			out.Arguments = append(out.Arguments, xmlArgument{
				Name:                 a.Name,
				Direction:            a.Direction,
				RelatedStateVariable: a.StateVariable,
			})
		}
		doc.Actions = append(doc.Actions, out)
	}
	for _, v := range svc.StateVariables {
		events := "no"
		if v.SendEvents {
			events = "yes"
		}
		doc.StateVariables = append(doc.StateVariables, xmlStateVariable{
			SendEvents:    events,
			Name:          v.Name,
			DataType:      v.DataType,
			AllowedValues: v.AllowedValues,
		})
	}
	return marshalDocument(doc)
}

func marshalDocument(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
