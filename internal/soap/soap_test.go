package soap

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mikey-austin/plex_dlna/internal/core"
	"github.com/mikey-austin/plex_dlna/internal/description"
)

const browseEnvelope = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
<s:Body><u:Browse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">
<ObjectID>0</ObjectID><BrowseFlag>BrowseDirectChildren</BrowseFlag><Filter>*</Filter>
<StartingIndex>0</StartingIndex><RequestedCount>10</RequestedCount><SortCriteria></SortCriteria>
</u:Browse></s:Body></s:Envelope>`

func TestReadCall(t *testing.T) {
	call, err := ReadCall(strings.NewReader(browseEnvelope), `"urn:schemas-upnp-org:service:ContentDirectory:1#Browse"`)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if call.Action != "Browse" || call.ServiceType != description.ContentDirectoryType {
		t.Fatalf("unexpected call %#v", call)
	}
	if call.Arg("BrowseFlag") != "BrowseDirectChildren" {
		t.Fatalf("unexpected flag %q", call.Arg("BrowseFlag"))
	}
	count, err := call.Uint("RequestedCount")
	if err != nil || count != 10 {
		t.Fatalf("unexpected count %d %v", count, err)
	}
	if _, err := Validate(call); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestReadCallActionMismatch(t *testing.T) {
	_, err := ReadCall(strings.NewReader(browseEnvelope), `"urn:schemas-upnp-org:service:ContentDirectory:1#Search"`)
	if core.KindOf(err) != core.KindInvalidAction {
		t.Fatalf("expected invalid action, got %v", err)
	}
}

func TestReadCallGarbage(t *testing.T) {
	if _, err := ReadCall(strings.NewReader("<not-soap"), ""); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := ReadCall(strings.NewReader(""), ""); err == nil {
		t.Fatalf("expected error for empty body")
	}
}

func TestValidateMissingArgument(t *testing.T) {
	call := Call{ServiceType: description.ContentDirectoryType, Action: "Browse", Args: map[string]string{"ObjectID": "0"}}
	if _, err := Validate(call); core.KindOf(err) != core.KindInvalidArgs {
		t.Fatalf("expected invalid args, got %v", err)
	}
	call.Action = "Destroy"
	if _, err := Validate(call); core.KindOf(err) != core.KindInvalidAction {
		t.Fatalf("expected invalid action, got %v", err)
	}
}

func TestUintRejectsNegative(t *testing.T) {
	call := Call{Args: map[string]string{"StartingIndex": "-1"}}
	if _, err := call.Uint("StartingIndex"); core.KindOf(err) != core.KindInvalidArgs {
		t.Fatalf("expected invalid args, got %v", err)
	}
}

func TestParseSOAPAction(t *testing.T) {
	st, action, err := ParseSOAPAction(`"urn:x:service:Y:1#Z"`)
	if err != nil || st != "urn:x:service:Y:1" || action != "Z" {
		t.Fatalf("unexpected parse %s %s %v", st, action, err)
	}
	if _, _, err := ParseSOAPAction("nohash"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	err := WriteResponse(rec, description.ContentDirectoryType, "Browse", []Arg{
		{Name: "Result", Value: `<DIDL-Lite><item id="a&b"/></DIDL-Lite>`},
		{Name: "NumberReturned", Value: "1"},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	out, err := ReadResponse(bytes.NewReader(rec.Body.Bytes()), "Browse")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out["Result"] != `<DIDL-Lite><item id="a&b"/></DIDL-Lite>` {
		t.Fatalf("unexpected result %q", out["Result"])
	}
	if out["NumberReturned"] != "1" {
		t.Fatalf("unexpected count %q", out["NumberReturned"])
	}
}

func TestFaultRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WriteFault(rec, core.Errorf(core.KindInvalidObjectID, "nope")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	_, err := ReadResponse(bytes.NewReader(rec.Body.Bytes()), "Browse")
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("expected fault, got %v", err)
	}
	if fault.Detail.UPnPError.ErrorCode != core.FaultNoSuchObject {
		t.Fatalf("unexpected code %d", fault.Detail.UPnPError.ErrorCode)
	}
}
