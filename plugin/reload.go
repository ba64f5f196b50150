package plugin

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/safing/extender/plugin/host"
	"github.com/safing/extender/plugin/loader"
	"github.com/safing/extender/plugin/monitor"
	"github.com/safing/extender/plugin/shared"
	"github.com/safing/extender/service/mgr"
)

// Reload reloads everything tracked at location. For the configuration file,
// the configuration is read again and the enable-lists are applied: newly
// enabled plugins are activated and disabled plugins are released. For source
// locations, the instances tracked there are released and replaced by fresh
// instances of their definitions.
// Concurrent reloads of the same location are run once.
func (e *Extender) Reload(location string) error {
	return e.mgr.Do("reload", func(wc *mgr.WorkerCtx) error {
		return e.reloadLocation(wc, location)
	})
}

func (e *Extender) reloadLocation(wc *mgr.WorkerCtx, location string) error {
	_, err, _ := e.reloads.Do(location, func() (any, error) {
		e.metrics.reloads.Inc()

		var err error
		if location == e.Config().Filename() {
			err = e.reloadConfig(wc)
		} else {
			err = e.reloadSource(wc, location)
		}
		if err != nil {
			e.metrics.reloadFailures.Inc()
		}
		return nil, err
	})
	return err
}

func (e *Extender) reloadConfig(wc *mgr.WorkerCtx) error {
	cfg := e.Config()
	if err := cfg.Reload(); err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	wc.Info("configuration reloaded", "file", cfg.Filename())

	var errs *multierror.Error
	for _, kind := range []loader.Kind{loader.KindMenu, loader.KindComponent} {
		if err := e.reconcile(wc, kind); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	// Newly enabled plugins may live in directories not watched yet.
	e.lock.RLock()
	watcher := e.watcher
	e.lock.RUnlock()
	if watcher != nil {
		watcher.Resync()
	}

	e.Events.Submit(LifecycleEvent{
		Type:     EventConfigReloaded,
		Name:     cfg.Filename(),
		Location: cfg.Filename(),
	})
	return errs.ErrorOrNil()
}

// reconcile makes the live instances of kind match the enable-list.
func (e *Extender) reconcile(wc *mgr.WorkerCtx, kind loader.Kind) error {
	wanted := e.currentLoader().Discover(e.Config().EnableList(kind.Section()), kind)
	isWanted := make(map[*loader.Definition]struct{}, len(wanted))
	for _, def := range wanted {
		isWanted[def] = struct{}{}
	}

	live := make(map[*loader.Definition]struct{})
	for _, rec := range e.registry.Snapshot() {
		inst, ok := rec.Value.(*Instance)
		if !ok || inst.Definition == nil || inst.Kind != monitorKind(kind) {
			continue
		}
		if _, ok := isWanted[inst.Definition]; ok {
			live[inst.Definition] = struct{}{}
			continue
		}
		if e.registry.Release(rec.Handle) {
			e.released(wc, rec, inst)
		}
	}

	var errs *multierror.Error
	for _, def := range wanted {
		if _, ok := live[def]; ok {
			continue
		}
		inst, err := e.activateDefinition(def, kind)
		switch {
		case err != nil:
			wc.Error("failed to activate plugin", "plugin", def.QualifiedName(), "err", err)
			errs = multierror.Append(errs, err)
		case inst != nil:
			wc.Info("activated plugin", "plugin", def.QualifiedName())
		}
	}
	return errs.ErrorOrNil()
}

// reloadSource replaces all instances tracked at location.
func (e *Extender) reloadSource(wc *mgr.WorkerCtx, location string) error {
	pruned := e.registry.Prune(location)
	if len(pruned) == 0 {
		return nil
	}

	var errs *multierror.Error
	for _, rec := range pruned {
		inst, ok := rec.Value.(*Instance)
		if !ok {
			continue
		}
		e.released(wc, rec, inst)

		if inst.Definition == nil {
			continue
		}
		// Look up the definition again, it might have been replaced.
		def, ok := e.catalog.Lookup(inst.Definition.Module, inst.Definition.Name)
		if !ok {
			wc.Warn("plugin definition vanished, not reactivating", "plugin", inst.Name())
			continue
		}

		kind := loader.KindComponent
		if inst.Kind == monitor.KindMenu {
			kind = loader.KindMenu
		}
		fresh, err := e.activateDefinition(def, kind)
		if err != nil {
			wc.Error("failed to reactivate plugin", "plugin", def.QualifiedName(), "err", err)
			errs = multierror.Append(errs, err)
			continue
		}
		if fresh != nil {
			e.Events.Submit(LifecycleEvent{
				Type:     EventReloaded,
				Name:     def.QualifiedName(),
				Location: location,
				Instance: fresh,
			})
		}
	}
	return errs.ErrorOrNil()
}

func (e *Extender) released(wc *mgr.WorkerCtx, rec monitor.Record, inst *Instance) {
	wc.Debug("released plugin", "plugin", inst.Name(), "location", rec.Location)
	e.Events.Submit(LifecycleEvent{
		Type:     EventReleased,
		Name:     inst.Name(),
		Location: rec.Location,
		Instance: inst,
	})
}

// menuAdapter is registered with the host for a menu definition. It routes
// clicks to the live instance of the definition, so that reloading the
// definition does not require registering the menu item again.
type menuAdapter struct {
	e       *Extender
	def     *loader.Definition
	caption string
}

// registerMenu registers the menu item of def with the host, once.
// Failures are logged.
func (e *Extender) registerMenu(def *loader.Definition, inst *Instance) {
	e.lock.Lock()
	_, exists := e.menus[def]
	adapter := &menuAdapter{
		e:       e,
		def:     def,
		caption: inst.Value.(shared.MenuHandler).Caption(), //nolint:forcetypeassert
	}
	if !exists {
		e.menus[def] = adapter
	}
	e.lock.Unlock()

	if exists {
		return
	}
	if err := e.shim.RegisterMenuItem(adapter.caption, adapter); err != nil {
		e.mgr.Warn(
			"failed to register menu item",
			"plugin", def.QualifiedName(),
			"caption", adapter.caption,
			"err", err,
		)
	}
}

// Caption returns the caption the menu item was registered with.
func (ma *menuAdapter) Caption() string {
	return ma.caption
}

// MenuItemClicked implements shared.MenuHandler.
func (ma *menuAdapter) MenuItemClicked(caption string, msgs []*shared.Message) error {
	if !ma.e.shim.Attached() {
		return host.ErrHostUnavailable
	}
	ma.e.metrics.dispatched(shared.CapMenuAction)

	for _, inst := range ma.e.Instances() {
		if inst.Definition != ma.def || inst.Kind != monitor.KindMenu {
			continue
		}
		return ma.e.call(inst, shared.CapMenuAction, func(inst *Instance) error {
			return inst.Value.(shared.MenuHandler).MenuItemClicked(caption, msgs) //nolint:forcetypeassert
		})
	}
	return fmt.Errorf("%w: %s", ErrMenuUnavailable, ma.def.QualifiedName())
}
