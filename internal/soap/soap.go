package soap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/mikey-austin/plex_dlna/internal/core"
	"github.com/mikey-austin/plex_dlna/internal/description"
)

const (
	envelopeNS    = "http://schemas.xmlsoap.org/soap/envelope/"
	encodingStyle = "http://schemas.xmlsoap.org/soap/encoding/"
	controlNS     = "urn:schemas-upnp-org:control-1-0"

	maxEnvelopeBytes = 1 << 20
)

// ContentType is the content type of every SOAP message.
const ContentType = `text/xml; charset="utf-8"`

// Arg is a named SOAP argument. Order matters on the wire.
type Arg struct {
	Name  string
	Value string
}

// Call is a decoded SOAP action invocation.
type Call struct {
	ServiceType string
	Action      string
	Args        map[string]string
}

// Arg returns the named argument, or "" when absent.
func (c Call) Arg(name string) string {
	return c.Args[name]
}

// Uint returns the named argument as an unsigned integer. Empty means 0.
func (c Call) Uint(name string) (int64, error) {
	raw := strings.TrimSpace(c.Args[name])
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, core.Errorf(core.KindInvalidArgs, "%s: not an unsigned integer", name)
	}
	return int64(v), nil
}

// ParseSOAPAction splits a SOAPACTION header into service type and action.
func ParseSOAPAction(header string) (string, string, error) {
	header = strings.Trim(strings.TrimSpace(header), `"`)
	serviceType, action, ok := strings.Cut(header, "#")
	if !ok || serviceType == "" || action == "" {
		return "", "", core.Errorf(core.KindInvalidAction, "malformed SOAPACTION %q", header)
	}
	return serviceType, action, nil
}

// ReadCall decodes a request envelope. soapAction may be empty, in which case
// the body element decides the action.
func ReadCall(r io.Reader, soapAction string) (Call, error) {
	dec := xml.NewDecoder(io.LimitReader(r, maxEnvelopeBytes))
	call := Call{Args: map[string]string{}}
	inBody := false
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Call{}, core.Errorf(core.KindInvalidAction, "envelope has no action")
			}
			return Call{}, core.Wrap(core.KindInvalidArgs, "decode envelope", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !inBody {
			inBody = start.Name.Local == "Body"
			continue
		}
		call.ServiceType = start.Name.Space
		call.Action = start.Name.Local
		if err := readArgs(dec, call.Args); err != nil {
			return Call{}, err
		}
		break
	}
	if soapAction != "" {
		serviceType, action, err := ParseSOAPAction(soapAction)
		if err != nil {
			return Call{}, err
		}
		if action != call.Action {
			return Call{}, core.Errorf(core.KindInvalidAction, "SOAPACTION %s does not match body %s", action, call.Action)
		}
		if call.ServiceType == "" {
			call.ServiceType = serviceType
		}
	}
	return call, nil
}

func readArgs(dec *xml.Decoder, args map[string]string) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return core.Wrap(core.KindInvalidArgs, "decode arguments", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			var value string
			if err := dec.DecodeElement(&value, &el); err != nil {
				return core.Wrap(core.KindInvalidArgs, "decode argument "+el.Name.Local, err)
			}
			args[el.Name.Local] = value
		case xml.EndElement:
			return nil
		}
	}
}

// Validate checks call against the action tables and returns the action.
func Validate(call Call) (description.Action, error) {
	action, ok := description.LookupAction(call.ServiceType, call.Action)
	if !ok {
		return description.Action{}, core.Errorf(core.KindInvalidAction, "unknown action %s#%s", call.ServiceType, call.Action)
	}
	for _, in := range action.In() {
		if _, ok := call.Args[in.Name]; !ok {
			return description.Action{}, core.Errorf(core.KindInvalidArgs, "missing argument %s", in.Name)
		}
	}
	return action, nil
}

// BuildEnvelope renders an action request or response body element.
func BuildEnvelope(serviceType string, element string, args []Arg) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString(`<s:Envelope xmlns:s="` + envelopeNS + `" s:encodingStyle="` + encodingStyle + `">`)
	buf.WriteString(`<s:Body><u:` + element + ` xmlns:u="` + xmlEscape(serviceType) + `">`)
	for _, a := range args {
		buf.WriteString(`<` + a.Name + `>` + xmlEscape(a.Value) + `</` + a.Name + `>`)
	}
	buf.WriteString(`</u:` + element + `></s:Body></s:Envelope>`)
	return buf.Bytes()
}

// WriteResponse writes a successful action response.
func WriteResponse(w http.ResponseWriter, serviceType string, action string, args []Arg) error {
	payload := BuildEnvelope(serviceType, action+"Response", args)
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.Header().Set("EXT", "")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(payload)
	return err
}

// WriteFault writes a UPnP error for err.
func WriteFault(w http.ResponseWriter, err error) error {
	code, desc := core.FaultCode(err)
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString(`<s:Envelope xmlns:s="` + envelopeNS + `" s:encodingStyle="` + encodingStyle + `">`)
	buf.WriteString(`<s:Body><s:Fault><faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring>`)
	buf.WriteString(`<detail><UPnPError xmlns="` + controlNS + `">`)
	buf.WriteString(fmt.Sprintf(`<errorCode>%d</errorCode>`, code))
	buf.WriteString(`<errorDescription>` + xmlEscape(desc) + `</errorDescription>`)
	buf.WriteString(`</UPnPError></detail></s:Fault></s:Body></s:Envelope>`)
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusInternalServerError)
	_, werr := w.Write(buf.Bytes())
	return werr
}

// Fault is a decoded SOAP fault.
type Fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail struct {
		UPnPError struct {
			ErrorCode        int    `xml:"errorCode"`
			ErrorDescription string `xml:"errorDescription"`
		} `xml:"UPnPError"`
	} `xml:"detail"`
}

func (f *Fault) Error() string {
	if f.Detail.UPnPError.ErrorCode != 0 {
		return fmt.Sprintf("upnp error %d: %s", f.Detail.UPnPError.ErrorCode, f.Detail.UPnPError.ErrorDescription)
	}
	return f.String
}

// ReadResponse decodes an action response into its output arguments.
// A SOAP fault is returned as a *Fault error.
func ReadResponse(r io.Reader, action string) (map[string]string, error) {
	dec := xml.NewDecoder(io.LimitReader(r, 64*maxEnvelopeBytes))
	inBody := false
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("soap response has no body")
			}
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !inBody {
			inBody = start.Name.Local == "Body"
			continue
		}
		if start.Name.Local == "Fault" {
			var fault Fault
			if err := dec.DecodeElement(&fault, &start); err != nil {
				return nil, err
			}
			return nil, &fault
		}
		if start.Name.Local != action+"Response" {
			return nil, fmt.Errorf("unexpected response element %s", start.Name.Local)
		}
		out := map[string]string{}
		if err := readArgs(dec, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

var xmlReplacer = strings.NewReplacer(
	`&`, "&amp;",
	`<`, "&lt;",
	`>`, "&gt;",
	`'`, "&apos;",
	`"`, "&quot;",
)

func xmlEscape(value string) string {
	return xmlReplacer.Replace(value)
}
