package shared

import (
	"reflect"
	"strings"
)

// Capability is an event family a plugin may take part in.
type Capability uint8

// Capabilities.
const (
	CapNewIssue Capability = 1 << iota
	CapProcessRequest
	CapProcessResponse
	CapMenuAction
)

// Capabilities is a set of capabilities.
type Capabilities uint8

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapNewIssue, "new-issue"},
	{CapProcessRequest, "process-request"},
	{CapProcessResponse, "process-response"},
	{CapMenuAction, "menu-action"},
}

var (
	issueHandlerType      = reflect.TypeFor[IssueHandler]()
	requestProcessorType  = reflect.TypeFor[RequestProcessor]()
	responseProcessorType = reflect.TypeFor[ResponseProcessor]()
	menuHandlerType       = reflect.TypeFor[MenuHandler]()
	activatableType       = reflect.TypeFor[Activatable]()
)

// Has returns whether the set contains the capability.
func (c Capabilities) Has(capability Capability) bool {
	return c&Capabilities(capability) != 0
}

// With returns the set with the capability added.
func (c Capabilities) With(capability Capability) Capabilities {
	return c | Capabilities(capability)
}

// Empty returns whether the set contains no capability.
func (c Capabilities) Empty() bool {
	return c == 0
}

func (c Capabilities) String() string {
	if c.Empty() {
		return "none"
	}

	names := make([]string, 0, len(capabilityNames))
	for _, cn := range capabilityNames {
		if c.Has(cn.cap) {
			names = append(names, cn.name)
		}
	}
	return strings.Join(names, ",")
}

func (c Capability) String() string {
	for _, cn := range capabilityNames {
		if cn.cap == c {
			return cn.name
		}
	}
	return "unknown"
}

// CapabilitiesOf probes v for the plugin interfaces it implements.
func CapabilitiesOf(v any) Capabilities {
	var caps Capabilities
	if _, ok := v.(IssueHandler); ok {
		caps = caps.With(CapNewIssue)
	}
	if _, ok := v.(RequestProcessor); ok {
		caps = caps.With(CapProcessRequest)
	}
	if _, ok := v.(ResponseProcessor); ok {
		caps = caps.With(CapProcessResponse)
	}
	if _, ok := v.(MenuHandler); ok {
		caps = caps.With(CapMenuAction)
	}
	return caps
}

// TypeCapabilities returns the capabilities of values of type t.
func TypeCapabilities(t reflect.Type) Capabilities {
	var caps Capabilities
	if t == nil {
		return caps
	}

	if t.Implements(issueHandlerType) {
		caps = caps.With(CapNewIssue)
	}
	if t.Implements(requestProcessorType) {
		caps = caps.With(CapProcessRequest)
	}
	if t.Implements(responseProcessorType) {
		caps = caps.With(CapProcessResponse)
	}
	if t.Implements(menuHandlerType) {
		caps = caps.With(CapMenuAction)
	}
	return caps
}

// IsActivatable returns whether values of type t accept an Env.
func IsActivatable(t reflect.Type) bool {
	return t != nil && t.Implements(activatableType)
}
