package plugin

import (
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/safing/extender/plugin/loader"
	"github.com/safing/extender/plugin/monitor"
	"github.com/safing/extender/plugin/shared"
)

// Instance is an activated plugin.
// It is the value of its record in the monitoring registry.
type Instance struct {
	// Definition is the definition the instance was created from. It is nil
	// for values that were activated directly and are not in the catalog.
	Definition *loader.Definition
	Kind       monitor.Kind
	Value      any

	// Capabilities are probed once on activation.
	Capabilities shared.Capabilities

	tools []shared.Tool
}

// Name returns the qualified name of the instance, or its type name.
func (inst *Instance) Name() string {
	if inst.Definition != nil {
		return inst.Definition.QualifiedName()
	}
	return monitor.TypeName(inst.Value)
}

// Module returns the module of the instance, if known.
func (inst *Instance) Module() string {
	if inst.Definition != nil {
		return inst.Definition.Module
	}
	return monitor.BootstrapModule
}

// Accepts returns whether traffic of the tool is dispatched to the instance.
func (inst *Instance) Accepts(tool shared.Tool) bool {
	return tool == "" || len(inst.tools) == 0 || slices.Contains(inst.tools, tool)
}

var errNilValue = errors.New("cannot activate nil value")

// Activate injects the shared environment into v and tracks it in the
// registry. Values whose type is in the catalog are tracked under the source
// file of their definition. Other values are activated, but not tracked, and
// thus never receive events.
// Activating a value again only replaces its environment.
func (e *Extender) Activate(v any) (*Instance, error) {
	if v == nil {
		return nil, errNilValue
	}

	kind := monitor.KindComponent
	if _, ok := v.(shared.MenuHandler); ok {
		kind = monitor.KindMenu
	}
	def, _ := e.catalog.ByType(reflect.TypeOf(v))

	return e.activate(v, def, kind), nil
}

// Instances returns the instances receiving events, in activation order.
func (e *Extender) Instances() []*Instance {
	records := e.registry.Snapshot()
	instances := make([]*Instance, 0, len(records))
	for _, rec := range records {
		if inst, ok := rec.Value.(*Instance); ok {
			instances = append(instances, inst)
		}
	}
	return instances
}

func (e *Extender) activate(v any, def *loader.Definition, kind monitor.Kind) *Instance {
	if inst := e.lookupInstance(v); inst != nil {
		e.setEnv(inst)
		return inst
	}

	inst := &Instance{
		Definition:   def,
		Kind:         kind,
		Value:        v,
		Capabilities: shared.CapabilitiesOf(v),
	}
	e.setEnv(inst)
	if filter, ok := v.(shared.ToolFilter); ok {
		inst.tools = filter.Tools()
	}

	subject := monitor.Subject{
		Kind:     kind,
		TypeName: monitor.TypeName(v),
		Module:   inst.Module(),
		Value:    inst,
	}
	if def != nil {
		subject.Location = def.Source
	}

	if _, tracked := e.registry.Track(subject); !tracked {
		e.mgr.Debug(
			"activated plugin without source location, it will not receive events",
			"plugin", inst.Name(),
		)
	} else {
		e.mgr.Debug(
			"activated plugin",
			"plugin", inst.Name(),
			"kind", kind,
			"capabilities", inst.Capabilities,
			"location", subject.Location,
		)
	}

	e.Events.Submit(LifecycleEvent{
		Type:     EventActivated,
		Name:     inst.Name(),
		Location: subject.Location,
		Instance: inst,
	})
	return inst
}

func (e *Extender) setEnv(inst *Instance) {
	if activatable, ok := inst.Value.(shared.Activatable); ok {
		activatable.SetEnv(shared.Env{
			Host:   e,
			Config: e.Config(),
			Log:    e.mgr.Logger().With("plugin", inst.Name()),
		})
	}
}

// lookupInstance returns the live instance holding v.
func (e *Extender) lookupInstance(v any) *Instance {
	if !reflect.TypeOf(v).Comparable() {
		return nil
	}
	for _, inst := range e.Instances() {
		if reflect.TypeOf(inst.Value) == reflect.TypeOf(v) && inst.Value == v {
			return inst
		}
	}
	return nil
}

// activateDefinition creates and activates an instance of def.
func (e *Extender) activateDefinition(def *loader.Definition, kind loader.Kind) (*Instance, error) {
	switch kind {
	case loader.KindMenu:
		if !def.Capabilities().Has(shared.CapMenuAction) {
			return nil, &loader.ActivationError{QualifiedName: def.QualifiedName(), Err: ErrNotMenuHandler}
		}
	case loader.KindComponent:
		if !def.Activatable() {
			return nil, nil
		}
	}

	v, err := e.currentLoader().Instantiate(def)
	if err != nil {
		return nil, err
	}

	inst := e.activate(v, def, monitorKind(kind))
	if kind == loader.KindMenu {
		e.registerMenu(def, inst)
	}
	return inst, nil
}

// activateEnabled activates all plugins of the enable-list of kind. It stops
// at the first activation failure. Instances activated before stay active.
func (e *Extender) activateEnabled(kind loader.Kind) error {
	entries := e.Config().EnableList(kind.Section())
	defs := e.currentLoader().Discover(entries, kind)

	var activated int
	for _, def := range defs {
		inst, err := e.activateDefinition(def, kind)
		if err != nil {
			e.mgr.Error(
				"failed to activate plugin",
				"plugin", def.QualifiedName(),
				"module", def.Module,
				"kind", kind,
				"err", err,
			)
			return err
		}
		if inst == nil {
			e.mgr.Debug("skipping plugin without environment", "plugin", def.QualifiedName())
			continue
		}
		activated++
	}

	if activated > 0 {
		e.mgr.Info(fmt.Sprintf("activated %ss", kind), "count", activated)
	}
	return nil
}

func monitorKind(kind loader.Kind) monitor.Kind {
	if kind == loader.KindMenu {
		return monitor.KindMenu
	}
	return monitor.KindComponent
}
