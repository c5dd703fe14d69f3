package smarthome

import "encoding/json"

// PayloadVersion is the directive protocol version this gateway speaks.
const PayloadVersion = "3"

// Request is the body the assistant posts for every directive.
type Request struct {
	Directive Directive `json:"directive"`
}

// Directive is one inbound instruction.
type Directive struct {
	Header   Header          `json:"header"`
	Endpoint *Endpoint       `json:"endpoint,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Header identifies a directive or event.
type Header struct {
	Namespace        string `json:"namespace"`
	Name             string `json:"name"`
	PayloadVersion   string `json:"payloadVersion"`
	MessageID        string `json:"messageId"`
	CorrelationToken string `json:"correlationToken,omitempty"`
}

// Endpoint addresses one device.
type Endpoint struct {
	Scope      *Scope            `json:"scope,omitempty"`
	EndpointID string            `json:"endpointId"`
	Cookie     map[string]string `json:"cookie,omitempty"`
}

// Scope carries the bearer token.
type Scope struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// directivePayload is the union of payload fields any supported directive reads.
type directivePayload struct {
	Scope      *Scope `json:"scope,omitempty"`
	EndpointID string `json:"endpointId,omitempty"`
}

// Response is an event, optionally with a context of reported properties.
type Response struct {
	Context *Context `json:"context,omitempty"`
	Event   Event    `json:"event"`
}

// Event is the outbound half of a directive exchange.
type Event struct {
	Header   Header    `json:"header"`
	Endpoint *Endpoint `json:"endpoint,omitempty"`
	Payload  any       `json:"payload"`
}

// Context lists reported property values.
type Context struct {
	Properties []Property `json:"properties"`
}

// Property is one reported capability value.
type Property struct {
	Namespace                 string `json:"namespace"`
	Name                      string `json:"name"`
	Value                     any    `json:"value"`
	TimeOfSample              string `json:"timeOfSample"`
	UncertaintyInMilliseconds int    `json:"uncertaintyInMilliseconds"`
}

// ErrorPayload is the payload of an ErrorResponse event.
type ErrorPayload struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// DiscoveryPayload is the payload of a Discover.Response event.
type DiscoveryPayload struct {
	Endpoints []DiscoveredEndpoint `json:"endpoints"`
}

// DiscoveredEndpoint describes one device to the assistant.
type DiscoveredEndpoint struct {
	EndpointID        string            `json:"endpointId"`
	ManufacturerName  string            `json:"manufacturerName"`
	FriendlyName      string            `json:"friendlyName"`
	Description       string            `json:"description"`
	DisplayCategories []string          `json:"displayCategories"`
	Cookie            map[string]string `json:"cookie"`
	Capabilities      []Capability      `json:"capabilities"`
}

// Capability declares one interface an endpoint supports.
type Capability struct {
	Type       string                `json:"type"`
	Interface  string                `json:"interface"`
	Version    string                `json:"version"`
	Properties *CapabilityProperties `json:"properties,omitempty"`
}

// CapabilityProperties declares which properties are reported and how.
type CapabilityProperties struct {
	Supported           []SupportedProperty `json:"supported"`
	ProactivelyReported bool                `json:"proactivelyReported"`
	Retrievable         bool                `json:"retrievable"`
}

// SupportedProperty names a reported property.
type SupportedProperty struct {
	Name string `json:"name"`
}

type connectivityValue struct {
	Value string `json:"value"`
}

type emptyPayload struct{}
