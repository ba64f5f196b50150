package plugin

import (
	"github.com/safing/extender/plugin/host"
	"github.com/safing/extender/service/mgr"
)

// Module runs an Extender as part of a mgr.Group.
type Module struct {
	Extender  *Extender
	Callbacks host.Callbacks
}

var _ mgr.Module = &Module{}

// NewModule returns a module starting e with the given host callbacks.
func NewModule(e *Extender, callbacks host.Callbacks) *Module {
	return &Module{
		Extender:  e,
		Callbacks: callbacks,
	}
}

// Start implements mgr.Module.
func (m *Module) Start(_ *mgr.Manager) error {
	return m.Extender.Start(m.Callbacks)
}

// Stop implements mgr.Module.
func (m *Module) Stop(_ *mgr.Manager) error {
	return m.Extender.Stop()
}
