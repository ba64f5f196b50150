package mgr

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Module is an manage-able instance of some component.
type Module interface {
	Start(mgr *Manager) error
	Stop(mgr *Manager) error
}

// Group describes a group of modules that are started in order and stopped
// in reverse order.
type Group struct {
	modules []*groupModule

	// StopTimeout is the maximum time to wait for the workers of a module to
	// finish after it was stopped. Defaults to one minute.
	StopTimeout time.Duration
}

type groupModule struct {
	module  Module
	mgr     *Manager
	started bool
}

// NewGroup returns a new group of modules.
func NewGroup(ctx context.Context, modules ...Module) *Group {
	g := &Group{
		modules: make([]*groupModule, 0, len(modules)),
	}

	for _, m := range modules {
		// Skip nil values and typed nil pointers to allow for cleaner code.
		if m == nil || reflect.ValueOf(m).IsNil() {
			continue
		}

		g.modules = append(g.modules, &groupModule{
			module: m,
			mgr:    newManager(ctx, makeModuleName(m), "module"),
		})
	}

	return g
}

// Start starts all modules in the group in the defined order.
// If a module fails to start, all previous modules will be stopped in the
// reverse order.
func (g *Group) Start() error {
	for i, m := range g.modules {
		if err := m.module.Start(m.mgr); err != nil {
			g.stopFrom(i - 1)
			return fmt.Errorf("failed to start %s: %w", m.mgr.Name(), err)
		}
		m.started = true
		m.mgr.Info("started")
	}
	return nil
}

// Stop stops all started modules in the reverse order.
func (g *Group) Stop() (ok bool) {
	return g.stopFrom(len(g.modules) - 1)
}

func (g *Group) stopFrom(index int) (ok bool) {
	ok = true
	for i := index; i >= 0; i-- {
		m := g.modules[i]
		if !m.started {
			continue
		}

		if err := m.module.Stop(m.mgr); err != nil {
			m.mgr.Error("failed to stop", "err", err)
			ok = false
		}
		m.mgr.Cancel()
		if m.mgr.WaitForWorkers(g.StopTimeout) {
			m.mgr.Info("stopped")
		} else {
			ok = false
			m.mgr.Error(
				"failed to stop",
				"err", "timed out",
				"workerCnt", m.mgr.WorkerCount(),
			)
		}
		m.started = false
	}
	return ok
}

func makeModuleName(m Module) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", m), "*")
}
