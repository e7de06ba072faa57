package mediaserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikey-austin/plex_dlna/internal/contentdir"
	"github.com/mikey-austin/plex_dlna/internal/core"
	"github.com/mikey-austin/plex_dlna/internal/description"
	"github.com/mikey-austin/plex_dlna/internal/dlna"
	"github.com/mikey-austin/plex_dlna/internal/soap"
)

const (
	xmlContentType    = `text/xml; charset="utf-8"`
	subscriptionTTL   = 1800
	connectionIDValue = "0"
)

func (m *Module) handleDescription(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", xmlContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(m.deviceXML)))
	_, _ = w.Write(m.deviceXML)
}

func (m *Module) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

func (m *Module) handleIcon(w http.ResponseWriter, r *http.Request) {
	data, mime, ok := description.IconData(chi.URLParam(r, "name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (m *Module) handleSCPD(w http.ResponseWriter, r *http.Request) {
	svc, ok := description.LookupService(chi.URLParam(r, "service"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	data, err := description.SCPD(svc)
	if err != nil {
		m.log.Error("render scpd", zap.String("service", svc.Name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", xmlContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (m *Module) handleControl(w http.ResponseWriter, r *http.Request) {
	svc, ok := description.LookupService(chi.URLParam(r, "service"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	call, err := soap.ReadCall(r.Body, r.Header.Get("SOAPACTION"))
	if err == nil {
		if call.ServiceType == "" {
			call.ServiceType = svc.Type
		}
		if target, found := description.LookupService(call.ServiceType); !found || target.Name != svc.Name {
			err = core.Errorf(core.KindInvalidAction, "%s is not served at %s", call.ServiceType, svc.ControlURL())
		}
	}
	if err == nil {
		_, err = soap.Validate(call)
	}
	var out []soap.Arg
	if err == nil {
		out, err = m.dispatch(r, svc, call)
	}
	m.metrics.ObserveAction(svc.Name, call.Action, err)
	if err != nil {
		code, _ := core.FaultCode(err)
		m.log.Debug("soap fault",
			zap.String("service", svc.Name),
			zap.String("action", call.Action),
			zap.Int("code", code),
			zap.Error(err),
		)
		if werr := soap.WriteFault(w, err); werr != nil {
			m.log.Debug("write fault", zap.Error(werr))
		}
		return
	}
	if werr := soap.WriteResponse(w, call.ServiceType, call.Action, out); werr != nil {
		m.log.Debug("write response", zap.Error(werr))
	}
}

func (m *Module) dispatch(r *http.Request, svc description.Service, call soap.Call) ([]soap.Arg, error) {
	switch svc.Type {
	case description.ContentDirectoryType:
		return m.contentDirectory(r, call)
	case description.ConnectionManagerType:
		return connectionManager(call)
	case description.RegistrarType:
		return registrar(call)
	default:
		return nil, core.Errorf(core.KindInvalidAction, "no handler for %s", svc.Type)
	}
}

func (m *Module) contentDirectory(r *http.Request, call soap.Call) ([]soap.Arg, error) {
	switch call.Action {
	case "GetSearchCapabilities":
		return []soap.Arg{{Name: "SearchCaps", Value: m.engine.SearchCapabilities()}}, nil
	case "GetSortCapabilities":
		return []soap.Arg{{Name: "SortCaps", Value: m.engine.SortCapabilities()}}, nil
	case "GetSystemUpdateID":
		return []soap.Arg{{Name: "Id", Value: strconv.FormatUint(uint64(m.engine.SystemUpdateID()), 10)}}, nil
	case "Browse":
		start, count, err := window(call)
		if err != nil {
			return nil, err
		}
		res, err := m.engine.Browse(r.Context(), contentdir.BrowseRequest{
			ObjectID:       call.Arg("ObjectID"),
			BrowseFlag:     strings.TrimSpace(call.Arg("BrowseFlag")),
			Filter:         call.Arg("Filter"),
			StartingIndex:  start,
			RequestedCount: count,
			SortCriteria:   call.Arg("SortCriteria"),
			BaseURL:        m.baseURL(r),
		})
		if err != nil {
			return nil, err
		}
		return resultArgs(res), nil
	case "Search":
		start, count, err := window(call)
		if err != nil {
			return nil, err
		}
		res, err := m.engine.Search(r.Context(), contentdir.SearchRequest{
			ContainerID:    call.Arg("ContainerID"),
			SearchCriteria: call.Arg("SearchCriteria"),
			Filter:         call.Arg("Filter"),
			StartingIndex:  start,
			RequestedCount: count,
			SortCriteria:   call.Arg("SortCriteria"),
			BaseURL:        m.baseURL(r),
		})
		if err != nil {
			return nil, err
		}
		return resultArgs(res), nil
	default:
		return nil, core.Errorf(core.KindInvalidAction, "unsupported action %s", call.Action)
	}
}

func window(call soap.Call) (int64, int64, error) {
	start, err := call.Uint("StartingIndex")
	if err != nil {
		return 0, 0, err
	}
	count, err := call.Uint("RequestedCount")
	if err != nil {
		return 0, 0, err
	}
	return start, count, nil
}

func resultArgs(res contentdir.BrowseResult) []soap.Arg {
	return []soap.Arg{
		{Name: "Result", Value: res.Result},
		{Name: "NumberReturned", Value: strconv.FormatInt(res.NumberReturned, 10)},
		{Name: "TotalMatches", Value: strconv.FormatInt(res.TotalMatches, 10)},
		{Name: "UpdateID", Value: strconv.FormatUint(uint64(res.UpdateID), 10)},
	}
}

func connectionManager(call soap.Call) ([]soap.Arg, error) {
	switch call.Action {
	case "GetProtocolInfo":
		return []soap.Arg{
			{Name: "Source", Value: dlna.SourceProtocols()},
			{Name: "Sink", Value: ""},
		}, nil
	case "GetCurrentConnectionIDs":
		return []soap.Arg{{Name: "ConnectionIDs", Value: connectionIDValue}}, nil
	case "GetCurrentConnectionInfo":
		if strings.TrimSpace(call.Arg("ConnectionID")) != connectionIDValue {
			return nil, core.Errorf(core.KindInvalidArgs, "unknown connection %q", call.Arg("ConnectionID"))
		}
		return []soap.Arg{
			{Name: "RcsID", Value: "-1"},
			{Name: "AVTransportID", Value: "-1"},
			{Name: "ProtocolInfo", Value: ""},
			{Name: "PeerConnectionManager", Value: ""},
			{Name: "PeerConnectionID", Value: "-1"},
			{Name: "Direction", Value: "Output"},
			{Name: "Status", Value: "OK"},
		}, nil
	default:
		return nil, core.Errorf(core.KindInvalidAction, "unsupported action %s", call.Action)
	}
}

func registrar(call soap.Call) ([]soap.Arg, error) {
	switch call.Action {
	case "IsAuthorized", "IsValidated":
		return []soap.Arg{{Name: "Result", Value: "1"}}, nil
	case "RegisterDevice":
		return []soap.Arg{{Name: "RegistrationRespMsg", Value: ""}}, nil
	default:
		return nil, core.Errorf(core.KindInvalidAction, "unsupported action %s", call.Action)
	}
}

// handleSubscribe accepts GENA subscriptions without delivering NOTIFY.
func (m *Module) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if _, ok := description.LookupService(chi.URLParam(r, "service")); !ok {
		http.NotFound(w, r)
		return
	}
	sid := strings.TrimSpace(r.Header.Get("SID"))
	if sid == "" {
		if r.Header.Get("CALLBACK") == "" || r.Header.Get("NT") != "upnp:event" {
			http.Error(w, http.StatusText(http.StatusPreconditionFailed), http.StatusPreconditionFailed)
			return
		}
		sid = "uuid:" + uuid.NewString()
	}
	w.Header().Set("SID", sid)
	w.Header().Set("TIMEOUT", "Second-"+strconv.Itoa(subscriptionTTL))
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}

func (m *Module) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(r.Header.Get("SID")) == "" {
		http.Error(w, http.StatusText(http.StatusPreconditionFailed), http.StatusPreconditionFailed)
		return
	}
	w.WriteHeader(http.StatusOK)
}
