package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BaseTopic is the default MQTT topic prefix for server events.
const BaseTopic = "plexdlna/v1"

// Event types carried in an Envelope.
const (
	TypeContainerUpdate = "container.update"
	TypeStream          = "stream"
)

// Stream phases.
const (
	StreamStarted  = "started"
	StreamFinished = "finished"
	StreamFailed   = "failed"
)

// Envelope wraps every published event.
type Envelope struct {
	Type     string          `json:"type"`
	DeviceID string          `json:"deviceId"`
	TS       int64           `json:"ts"`
	Body     json.RawMessage `json:"body"`
}

// Presence describes the media server on the bus.
type Presence struct {
	DeviceID     string `json:"deviceId"`
	FriendlyName string `json:"friendlyName"`
	Location     string `json:"location"`
	Online       bool   `json:"online"`
	TS           int64  `json:"ts"`
}

// ContainerUpdate reports a ContentDirectory updateID bump.
type ContainerUpdate struct {
	ContainerID    string `json:"containerId"`
	UpdateID       uint32 `json:"updateId"`
	SystemUpdateID uint32 `json:"systemUpdateId"`
}

// StreamEvent reports the life of one proxied stream.
type StreamEvent struct {
	ObjectID   string `json:"objectId"`
	Phase      string `json:"phase"`
	Remote     string `json:"remote,omitempty"`
	Range      string `json:"range,omitempty"`
	Status     int    `json:"status,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`
	DurationMS int64  `json:"durationMs,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewEnvelope builds an envelope with a JSON body.
func NewEnvelope(eventType string, deviceID string, ts int64, body any) (Envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, DeviceID: deviceID, TS: ts, Body: payload}, nil
}

// Validate checks required envelope fields.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("type required")
	}
	if strings.TrimSpace(e.DeviceID) == "" {
		return errors.New("deviceId required")
	}
	if len(e.Body) == 0 {
		return errors.New("body required")
	}
	return nil
}

// Decode unmarshals the envelope body into the struct matching its type.
func (e Envelope) Decode() (any, error) {
	switch e.Type {
	case TypeContainerUpdate:
		var body ContainerUpdate
		if err := json.Unmarshal(e.Body, &body); err != nil {
			return nil, err
		}
		return body, nil
	case TypeStream:
		var body StreamEvent
		if err := json.Unmarshal(e.Body, &body); err != nil {
			return nil, err
		}
		return body, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// TopicPresence builds the retained presence topic for a device.
func TopicPresence(topicBase, deviceID string) string {
	return fmt.Sprintf("%s/%s/presence", topicBase, deviceID)
}

// TopicEvents builds the topic for an event type on a device.
func TopicEvents(topicBase, deviceID, eventType string) string {
	return fmt.Sprintf("%s/%s/events/%s", topicBase, deviceID, eventType)
}

// TopicAllEvents builds a subscription filter matching every device's events.
func TopicAllEvents(topicBase string) string {
	return fmt.Sprintf("%s/+/events/#", topicBase)
}
