package plugin

import (
	"fmt"
	"io"

	vm "github.com/VictoriaMetrics/metrics"

	"github.com/safing/extender/plugin/shared"
)

type extenderMetrics struct {
	set *vm.Set

	newIssues        *vm.Counter
	requests         *vm.Counter
	responses        *vm.Counter
	menuClicks       *vm.Counter
	reloads          *vm.Counter
	reloadFailures   *vm.Counter
	dispatchDuration *vm.Histogram
}

func newExtenderMetrics(active func() float64) *extenderMetrics {
	set := vm.NewSet()
	m := &extenderMetrics{
		set:              set,
		newIssues:        set.NewCounter(`extender_dispatch_total{event="new_issue"}`),
		requests:         set.NewCounter(`extender_dispatch_total{event="process_request"}`),
		responses:        set.NewCounter(`extender_dispatch_total{event="process_response"}`),
		menuClicks:       set.NewCounter(`extender_dispatch_total{event="menu_action"}`),
		reloads:          set.NewCounter(`extender_reloads_total`),
		reloadFailures:   set.NewCounter(`extender_reload_failures_total`),
		dispatchDuration: set.NewHistogram(`extender_dispatch_duration_seconds`),
	}
	set.NewGauge(`extender_active_instances`, active)
	return m
}

func (m *extenderMetrics) dispatched(capability shared.Capability) {
	switch capability { //nolint:exhaustive
	case shared.CapNewIssue:
		m.newIssues.Inc()
	case shared.CapProcessRequest:
		m.requests.Inc()
	case shared.CapProcessResponse:
		m.responses.Inc()
	case shared.CapMenuAction:
		m.menuClicks.Inc()
	}
}

func (m *extenderMetrics) componentFailed(name string) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`extender_component_failures_total{component=%q}`, name)).Inc()
}

// WriteMetrics writes the extender metrics in the Prometheus text format.
func (e *Extender) WriteMetrics(w io.Writer) {
	e.metrics.set.WritePrometheus(w)
}
