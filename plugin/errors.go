package plugin

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned when starting an extender twice.
	ErrAlreadyStarted = errors.New("extender already started")

	// ErrNotStarted is returned by operations that need a started extender.
	ErrNotStarted = errors.New("extender not started")

	// ErrNotMenuHandler is returned when a menu definition does not implement
	// the menu handler interface.
	ErrNotMenuHandler = errors.New("not a menu handler")

	// ErrMenuUnavailable is returned when a menu item is clicked while no
	// instance of its handler is active.
	ErrMenuUnavailable = errors.New("menu handler not active")
)

// ComponentError is returned when a component fails to handle an event.
type ComponentError struct {
	// Name is the qualified name of the component, or its type name if it
	// was not created from a definition.
	Name      string
	Module    string
	Operation string
	Err       error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("component %s failed to %s: %s", e.Name, e.Operation, e.Err)
}

func (e *ComponentError) Unwrap() error {
	return e.Err
}
