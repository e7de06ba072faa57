package description

import "strings"

// Service types and ids advertised by the media server.
const (
	DeviceType = "urn:schemas-upnp-org:device:MediaServer:1"

	ContentDirectoryType  = "urn:schemas-upnp-org:service:ContentDirectory:1"
	ConnectionManagerType = "urn:schemas-upnp-org:service:ConnectionManager:1"
	RegistrarType         = "urn:microsoft.com:service:X_MS_MediaReceiverRegistrar:1"
)

// Argument directions.
const (
	In  = "in"
	Out = "out"
)

// Argument is one SCPD action argument.
type Argument struct {
	Name          string
	Direction     string
	StateVariable string
}

// Action is one SCPD action.
type Action struct {
	Name      string
	Arguments []Argument
}

// In returns the input arguments in declaration order.
func (a Action) In() []Argument {
	return a.filter(In)
}

// Out returns the output arguments in declaration order.
func (a Action) Out() []Argument {
	return a.filter(Out)
}

func (a Action) filter(direction string) []Argument {
	out := make([]Argument, 0, len(a.Arguments))
	for _, arg := range a.Arguments {
		if arg.Direction == direction {
			out = append(out, arg)
		}
	}
	return out
}

// StateVariable is one SCPD state variable.
type StateVariable struct {
	Name          string
	DataType      string
	SendEvents    bool
	AllowedValues []string
}

// Service describes one UPnP service of the device.
type Service struct {
	Name           string
	Type           string
	ID             string
	Actions        []Action
	StateVariables []StateVariable
}

// SCPDURL is the path the SCPD document is served on.
func (s Service) SCPDURL() string {
	return "/scpd/" + s.Name + ".xml"
}

// ControlURL is the SOAP control path.
func (s Service) ControlURL() string {
	return "/" + s.Name + "/control"
}

// EventURL is the GENA subscription path.
func (s Service) EventURL() string {
	return "/" + s.Name + "/event"
}

// Action finds an action by name.
func (s Service) Action(name string) (Action, bool) {
	for _, action := range s.Actions {
		if action.Name == name {
			return action, true
		}
	}
	return Action{}, false
}

func arg(name, direction, variable string) Argument {
	return Argument{Name: name, Direction: direction, StateVariable: variable}
}

var contentDirectory = Service{
	Name: "ContentDirectory",
	Type: ContentDirectoryType,
	ID:   "urn:upnp-org:serviceId:ContentDirectory",
	Actions: []Action{
		{Name: "GetSearchCapabilities", Arguments: []Argument{
			arg("SearchCaps", Out, "SearchCapabilities"),
		}},
		{Name: "GetSortCapabilities", Arguments: []Argument{
			arg("SortCaps", Out, "SortCapabilities"),
		}},
		{Name: "GetSystemUpdateID", Arguments: []Argument{
			arg("Id", Out, "SystemUpdateID"),
		}},
		{Name: "Browse", Arguments: []Argument{
			arg("ObjectID", In, "A_ARG_TYPE_ObjectID"),
			arg("BrowseFlag", In, "A_ARG_TYPE_BrowseFlag"),
			arg("Filter", In, "A_ARG_TYPE_Filter"),
			arg("StartingIndex", In, "A_ARG_TYPE_Index"),
			arg("RequestedCount", In, "A_ARG_TYPE_Count"),
			arg("SortCriteria", In, "A_ARG_TYPE_SortCriteria"),
			arg("Result", Out, "A_ARG_TYPE_Result"),
			arg("NumberReturned", Out, "A_ARG_TYPE_Count"),
			arg("TotalMatches", Out, "A_ARG_TYPE_Count"),
			arg("UpdateID", Out, "A_ARG_TYPE_UpdateID"),
		}},
		{Name: "Search", Arguments: []Argument{
			arg("ContainerID", In, "A_ARG_TYPE_ObjectID"),
			arg("SearchCriteria", In, "A_ARG_TYPE_SearchCriteria"),
			arg("Filter", In, "A_ARG_TYPE_Filter"),
			arg("StartingIndex", In, "A_ARG_TYPE_Index"),
			arg("RequestedCount", In, "A_ARG_TYPE_Count"),
			arg("SortCriteria", In, "A_ARG_TYPE_SortCriteria"),
			arg("Result", Out, "A_ARG_TYPE_Result"),
			arg("NumberReturned", Out, "A_ARG_TYPE_Count"),
			arg("TotalMatches", Out, "A_ARG_TYPE_Count"),
			arg("UpdateID", Out, "A_ARG_TYPE_UpdateID"),
		}},
	},
	StateVariables: []StateVariable{
		{Name: "SearchCapabilities", DataType: "string"},
		{Name: "SortCapabilities", DataType: "string"},
		{Name: "SystemUpdateID", DataType: "ui4", SendEvents: true},
		{Name: "ContainerUpdateIDs", DataType: "string", SendEvents: true},
		{Name: "A_ARG_TYPE_ObjectID", DataType: "string"},
		{Name: "A_ARG_TYPE_Result", DataType: "string"},
		{Name: "A_ARG_TYPE_SearchCriteria", DataType: "string"},
		{Name: "A_ARG_TYPE_BrowseFlag", DataType: "string", AllowedValues: []string{"BrowseMetadata", "BrowseDirectChildren"}},
		{Name: "A_ARG_TYPE_Filter", DataType: "string"},
		{Name: "A_ARG_TYPE_SortCriteria", DataType: "string"},
		{Name: "A_ARG_TYPE_Index", DataType: "ui4"},
		{Name: "A_ARG_TYPE_Count", DataType: "ui4"},
		{Name: "A_ARG_TYPE_UpdateID", DataType: "ui4"},
	},
}

var connectionManager = Service{
	Name: "ConnectionManager",
	Type: ConnectionManagerType,
	ID:   "urn:upnp-org:serviceId:ConnectionManager",
	Actions: []Action{
		{Name: "GetProtocolInfo", Arguments: []Argument{
			arg("Source", Out, "SourceProtocolInfo"),
			arg("Sink", Out, "SinkProtocolInfo"),
		}},
		{Name: "GetCurrentConnectionIDs", Arguments: []Argument{
			arg("ConnectionIDs", Out, "CurrentConnectionIDs"),
		}},
		{Name: "GetCurrentConnectionInfo", Arguments: []Argument{
			arg("ConnectionID", In, "A_ARG_TYPE_ConnectionID"),
			arg("RcsID", Out, "A_ARG_TYPE_RcsID"),
			arg("AVTransportID", Out, "A_ARG_TYPE_AVTransportID"),
			arg("ProtocolInfo", Out, "A_ARG_TYPE_ProtocolInfo"),
			arg("PeerConnectionManager", Out, "A_ARG_TYPE_ConnectionManager"),
			arg("PeerConnectionID", Out, "A_ARG_TYPE_ConnectionID"),
			arg("Direction", Out, "A_ARG_TYPE_Direction"),
			arg("Status", Out, "A_ARG_TYPE_ConnectionStatus"),
		}},
	},
	StateVariables: []StateVariable{
		{Name: "SourceProtocolInfo", DataType: "string", SendEvents: true},
		{Name: "SinkProtocolInfo", DataType: "string", SendEvents: true},
		{Name: "CurrentConnectionIDs", DataType: "string", SendEvents: true},
		{Name: "A_ARG_TYPE_ConnectionStatus", DataType: "string", AllowedValues: []string{"OK", "ContentFormatMismatch", "InsufficientBandwidth", "UnreliableChannel", "Unknown"}},
		{Name: "A_ARG_TYPE_ConnectionManager", DataType: "string"},
		{Name: "A_ARG_TYPE_Direction", DataType: "string", AllowedValues: []string{"Input", "Output"}},
		{Name: "A_ARG_TYPE_ProtocolInfo", DataType: "string"},
		{Name: "A_ARG_TYPE_ConnectionID", DataType: "i4"},
		{Name: "A_ARG_TYPE_AVTransportID", DataType: "i4"},
		{Name: "A_ARG_TYPE_RcsID", DataType: "i4"},
	},
}

var registrar = Service{
	Name: "X_MS_MediaReceiverRegistrar",
	Type: RegistrarType,
	ID:   "urn:microsoft.com:serviceId:X_MS_MediaReceiverRegistrar",
	Actions: []Action{
		{Name: "IsAuthorized", Arguments: []Argument{
			arg("DeviceID", In, "A_ARG_TYPE_DeviceID"),
			arg("Result", Out, "A_ARG_TYPE_Result"),
		}},
		{Name: "IsValidated", Arguments: []Argument{
			arg("DeviceID", In, "A_ARG_TYPE_DeviceID"),
			arg("Result", Out, "A_ARG_TYPE_Result"),
		}},
		{Name: "RegisterDevice", Arguments: []Argument{
			arg("RegistrationReqMsg", In, "A_ARG_TYPE_RegistrationReqMsg"),
			arg("RegistrationRespMsg", Out, "A_ARG_TYPE_RegistrationRespMsg"),
		}},
	},
	StateVariables: []StateVariable{
		{Name: "A_ARG_TYPE_DeviceID", DataType: "string"},
		{Name: "A_ARG_TYPE_Result", DataType: "int"},
		{Name: "A_ARG_TYPE_RegistrationReqMsg", DataType: "bin.base64"},
		{Name: "A_ARG_TYPE_RegistrationRespMsg", DataType: "bin.base64"},
		{Name: "AuthorizationGrantedUpdateID", DataType: "ui4", SendEvents: true},
		{Name: "AuthorizationDeniedUpdateID", DataType: "ui4", SendEvents: true},
		{Name: "ValidationSucceededUpdateID", DataType: "ui4", SendEvents: true},
		{Name: "ValidationRevokedUpdateID", DataType: "ui4", SendEvents: true},
	},
}

// Services returns the services of the device in advertisement order.
func Services() []Service {
	return []Service{contentDirectory, connectionManager, registrar}
}

// LookupService finds a service by short name or service type.
func LookupService(nameOrType string) (Service, bool) {
	for _, svc := range Services() {
		if strings.EqualFold(svc.Name, nameOrType) || serviceBase(svc.Type) == serviceBase(nameOrType) {
			return svc, true
		}
	}
	return Service{}, false
}

// serviceBase drops the trailing version of a urn service type.
func serviceBase(serviceType string) string {
	if i := strings.LastIndex(serviceType, ":"); i > 0 && strings.HasPrefix(serviceType, "urn:") {
		return serviceType[:i]
	}
	return serviceType
}

// LookupAction finds an action of a service type.
func LookupAction(serviceType string, action string) (Action, bool) {
	svc, ok := LookupService(serviceType)
	if !ok {
		return Action{}, false
	}
	return svc.Action(action)
}
