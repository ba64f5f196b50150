package plugin

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/safing/extender/plugin/host"
	"github.com/safing/extender/plugin/shared"
)

// ErrNilMessage is returned when dispatching a nil message or issue.
var ErrNilMessage = errors.New("nil message")

// NewScanIssue notifies all active issue handlers of a new issue, in
// activation order. A failing handler does not stop the others. All failures
// are returned as one error.
func (e *Extender) NewScanIssue(issue *shared.Issue) error {
	if issue == nil {
		return ErrNilMessage
	}

	return e.dispatch(shared.CapNewIssue, "", func(inst *Instance) error {
		return inst.Value.(shared.IssueHandler).NewScanIssue(issue) //nolint:forcetypeassert
	})
}

// ProcessHTTPMessage passes msg to all active request or response processors
// accepting the tool, in activation order. All processors get the same
// message, so that each sees the changes of the ones before. A failing
// processor does not stop the others. All failures are returned as one error.
func (e *Extender) ProcessHTTPMessage(tool shared.Tool, isRequest bool, msg *shared.Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	msg.Tool = tool
	msg.IsRequest = isRequest

	if isRequest {
		return e.dispatch(shared.CapProcessRequest, tool, func(inst *Instance) error {
			return inst.Value.(shared.RequestProcessor).ProcessRequest(msg) //nolint:forcetypeassert
		})
	}
	return e.dispatch(shared.CapProcessResponse, tool, func(inst *Instance) error {
		return inst.Value.(shared.ResponseProcessor).ProcessResponse(msg) //nolint:forcetypeassert
	})
}

// dispatch calls fn for every instance in the registry snapshot that has the
// capability and accepts the tool. Without host callbacks nothing is called.
func (e *Extender) dispatch(capability shared.Capability, tool shared.Tool, fn func(*Instance) error) error {
	if !e.shim.Attached() {
		return host.ErrHostUnavailable
	}

	defer e.metrics.dispatchDuration.UpdateDuration(time.Now())
	e.metrics.dispatched(capability)

	var errs *multierror.Error
	for _, rec := range e.registry.Snapshot() {
		inst, ok := rec.Value.(*Instance)
		if !ok || !inst.Capabilities.Has(capability) || !inst.Accepts(tool) {
			continue
		}

		if err := e.call(inst, capability, fn); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// call runs fn for inst. Errors and panics are logged and returned as
// ComponentError.
func (e *Extender) call(inst *Instance, capability shared.Capability, fn func(*Instance) error) (err error) {
	defer func() {
		if panicVal := recover(); panicVal != nil {
			err = fmt.Errorf("panic: %v", panicVal)
		}
		if err == nil {
			return
		}

		err = &ComponentError{
			Name:      inst.Name(),
			Module:    inst.Module(),
			Operation: operationName(capability),
			Err:       err,
		}
		e.metrics.componentFailed(inst.Name())
		e.mgr.Error(
			"plugin failed to handle event",
			"plugin", inst.Name(),
			"module", inst.Module(),
			"event", capability,
			"err", err,
		)
	}()

	return fn(inst)
}

func operationName(capability shared.Capability) string {
	switch capability {
	case shared.CapNewIssue:
		return "handle new issue"
	case shared.CapProcessRequest:
		return "process request"
	case shared.CapProcessResponse:
		return "process response"
	case shared.CapMenuAction:
		return "handle menu click"
	default:
		return capability.String()
	}
}
