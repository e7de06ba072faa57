package cdclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mikey-austin/plex_dlna/internal/core"
	"github.com/mikey-austin/plex_dlna/internal/soap"
)

// Client calls ContentDirectory actions on one media server.
type Client struct {
	http        *http.Client
	controlURL  string
	serviceType string
}

// BrowseRequest carries Browse arguments.
type BrowseRequest struct {
	ObjectID       string
	Metadata       bool
	Filter         string
	StartingIndex  int64
	RequestedCount int64
	SortCriteria   string
}

// SearchRequest carries Search arguments.
type SearchRequest struct {
	ContainerID    string
	SearchCriteria string
	Filter         string
	StartingIndex  int64
	RequestedCount int64
	SortCriteria   string
}

// Result is a decoded Browse or Search response.
type Result struct {
	Objects        []Object `json:"objects"`
	NumberReturned int64    `json:"numberReturned"`
	TotalMatches   int64    `json:"totalMatches"`
	UpdateID       int64    `json:"updateID"`
}

// New returns a client for the device's ContentDirectory service.
func New(httpClient *http.Client, dev Device) (*Client, error) {
	svc, ok := dev.ContentDirectory()
	if !ok || svc.ControlURL == "" {
		return nil, &core.CLIError{Code: core.ExitUpstream, Msg: fmt.Sprintf("%s has no content directory", dev.Location)}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, controlURL: svc.ControlURL, serviceType: svc.Type}, nil
}

// Browse runs a Browse action.
func (c *Client) Browse(ctx context.Context, req BrowseRequest) (Result, error) {
	flag := "BrowseDirectChildren"
	if req.Metadata {
		flag = "BrowseMetadata"
	}
	if req.ObjectID == "" {
		req.ObjectID = "0"
	}
	out, err := c.call(ctx, "Browse", []soap.Arg{
		{Name: "ObjectID", Value: req.ObjectID},
		{Name: "BrowseFlag", Value: flag},
		{Name: "Filter", Value: defaultFilter(req.Filter)},
		{Name: "StartingIndex", Value: strconv.FormatInt(req.StartingIndex, 10)},
		{Name: "RequestedCount", Value: strconv.FormatInt(req.RequestedCount, 10)},
		{Name: "SortCriteria", Value: req.SortCriteria},
	})
	if err != nil {
		return Result{}, err
	}
	return decodeResult(out)
}

// Search runs a Search action.
func (c *Client) Search(ctx context.Context, req SearchRequest) (Result, error) {
	if req.ContainerID == "" {
		req.ContainerID = "0"
	}
	out, err := c.call(ctx, "Search", []soap.Arg{
		{Name: "ContainerID", Value: req.ContainerID},
		{Name: "SearchCriteria", Value: req.SearchCriteria},
		{Name: "Filter", Value: defaultFilter(req.Filter)},
		{Name: "StartingIndex", Value: strconv.FormatInt(req.StartingIndex, 10)},
		{Name: "RequestedCount", Value: strconv.FormatInt(req.RequestedCount, 10)},
		{Name: "SortCriteria", Value: req.SortCriteria},
	})
	if err != nil {
		return Result{}, err
	}
	return decodeResult(out)
}

// SystemUpdateID returns the server's current SystemUpdateID.
func (c *Client) SystemUpdateID(ctx context.Context) (int64, error) {
	out, err := c.call(ctx, "GetSystemUpdateID", nil)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(out["Id"]), 10, 64)
}

func (c *Client) call(ctx context.Context, action string, args []soap.Arg) (map[string]string, error) {
	envelope := soap.BuildEnvelope(c.serviceType, action, args)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.controlURL, bytes.NewReader(envelope))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", soap.ContentType)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#%s"`, c.serviceType, action))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, core.WrapError(core.ExitUpstream, action+" failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusInternalServerError {
		return nil, &core.CLIError{Code: core.ExitUpstream, Msg: fmt.Sprintf("%s: %s", action, resp.Status)}
	}
	out, err := soap.ReadResponse(resp.Body, action)
	if err != nil {
		var fault *soap.Fault
		if errors.As(err, &fault) {
			return nil, core.ErrorForFaultCode(fault.Detail.UPnPError.ErrorCode, fault.Error())
		}
		return nil, core.WrapError(core.ExitUpstream, "decode "+action+" response", err)
	}
	return out, nil
}

func decodeResult(out map[string]string) (Result, error) {
	objects, err := ParseDIDL(out["Result"])
	if err != nil {
		return Result{}, core.WrapError(core.ExitUpstream, "decode DIDL-Lite", err)
	}
	res := Result{Objects: objects}
	res.NumberReturned, _ = strconv.ParseInt(strings.TrimSpace(out["NumberReturned"]), 10, 64)
	res.TotalMatches, _ = strconv.ParseInt(strings.TrimSpace(out["TotalMatches"]), 10, 64)
	res.UpdateID, _ = strconv.ParseInt(strings.TrimSpace(out["UpdateID"]), 10, 64)
	return res, nil
}

func defaultFilter(filter string) string {
	if strings.TrimSpace(filter) == "" {
		return "*"
	}
	return filter
}

// Criteria turns free text into a title search. Input that already reads
// as search criteria is returned unchanged.
func Criteria(text string) string {
	text = strings.TrimSpace(text)
	if text == "*" || strings.Contains(text, " contains ") || strings.Contains(text, " derivedfrom ") || strings.Contains(text, "=") || strings.Contains(text, " exists ") {
		return text
	}
	q := strings.ReplaceAll(text, `"`, `\"`)
	return fmt.Sprintf(`dc:title contains "%s"`, q)
}
