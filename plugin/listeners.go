package plugin

import (
	"github.com/safing/extender/plugin/shared"
)

type (
	// StateListener is registered with the host to learn about the extension
	// being unloaded.
	StateListener interface {
		ExtensionUnloaded()
	}

	// HTTPListener is registered with the host to receive the traffic of all
	// host tools.
	HTTPListener interface {
		ProcessHTTPMessage(toolFlag int, isRequest bool, msg *shared.Message) error
	}

	// ScannerListener is registered with the host to receive new scan issues.
	ScannerListener interface {
		NewScanIssue(issue *shared.Issue) error
	}
)

var (
	_ StateListener   = &stateListener{}
	_ HTTPListener    = &httpListener{}
	_ ScannerListener = &scannerListener{}
)

type stateListener struct {
	e *Extender
}

// ExtensionUnloaded saves the configuration and stops the extender.
func (sl *stateListener) ExtensionUnloaded() {
	if err := sl.e.saveConfig(); err != nil {
		sl.e.mgr.Error("failed to save configuration", "err", err)
	}
	if err := sl.e.Stop(); err != nil {
		sl.e.mgr.Error("failed to stop extender", "err", err)
	}
}

type httpListener struct {
	e *Extender
}

// ProcessHTTPMessage dispatches the message of the tool with the given flag.
// Messages of unknown tools are dispatched to all processors.
func (hl *httpListener) ProcessHTTPMessage(toolFlag int, isRequest bool, msg *shared.Message) error {
	tool, ok := shared.ToolFromFlag(toolFlag)
	if !ok {
		hl.e.mgr.Debug("message of unknown tool", "flag", toolFlag)
	}
	return hl.e.ProcessHTTPMessage(tool, isRequest, msg)
}

type scannerListener struct {
	e *Extender
}

func (sl *scannerListener) NewScanIssue(issue *shared.Issue) error {
	return sl.e.NewScanIssue(issue)
}

// ApplicationClosing is called by the host when it shuts down.
func (e *Extender) ApplicationClosing() {
	if err := e.Stop(); err != nil {
		e.mgr.Warn("failed to stop extender", "err", err)
	}
}
