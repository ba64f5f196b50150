// Package loader discovers and instantiates plugins from the enable-lists of
// the configuration.
//
// Plugins register a factory for each of their types with a Catalog at init
// time. An enable-list entry names a definition as "<module>.<name>" or a set
// of definitions as "<module>.<pattern>", where the pattern is a glob like
// "*". Discovery failures are logged and skip the entry.
package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/hashicorp/go-version"

	"github.com/safing/extender/plugin/config"
	"github.com/safing/extender/plugin/shared"
)

// TemplateName is the name of the menu template definition, which wildcard
// menu selectors never match.
const TemplateName = "MenuItem"

// globMeta are the characters that make a selector a pattern.
const globMeta = "*?[{"

// Kind is the kind of plugin an enable-list selects.
type Kind uint8

// Plugin kinds.
const (
	KindComponent Kind = iota + 1
	KindMenu
)

func (k Kind) String() string {
	switch k {
	case KindComponent:
		return "component"
	case KindMenu:
		return "menu"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Section returns the configuration section holding the enable-list of the
// kind.
func (k Kind) Section() string {
	if k == KindMenu {
		return config.SectionMenus
	}
	return config.SectionComponents
}

// Errors.
var (
	ErrInvalidName         = errors.New("invalid qualified name")
	ErrModuleNotFound      = errors.New("module not found")
	ErrDefinitionNotFound  = errors.New("definition not found")
	ErrHostVersion         = errors.New("host version too old")
	ErrInvalidDefinition   = errors.New("invalid definition")
	ErrDuplicateDefinition = errors.New("definition already registered")
)

// DiscoveryError is returned when an enable-list entry cannot be resolved.
type DiscoveryError struct {
	QualifiedName string
	Err           error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("failed to discover %s: %s", e.QualifiedName, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ActivationError is returned when a plugin could not be instantiated.
type ActivationError struct {
	QualifiedName string
	Err           error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("failed to activate %s: %s", e.QualifiedName, e.Err)
}

func (e *ActivationError) Unwrap() error {
	return e.Err
}

// Loader resolves enable-list entries against a catalog.
type Loader struct {
	catalog *Catalog
	logger  *slog.Logger

	lock        sync.RWMutex
	hostVersion *version.Version
	patterns    map[string]glob.Glob
}

// New returns a loader for the catalog. A nil logger uses the default logger.
func New(catalog *Catalog, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		catalog:  catalog,
		logger:   logger,
		patterns: make(map[string]glob.Glob),
	}
}

// Catalog returns the catalog of the loader.
func (l *Loader) Catalog() *Catalog {
	return l.catalog
}

// SetHostVersion sets the host version used to check MinHostVersion of
// definitions. Without a host version, all definitions are accepted.
func (l *Loader) SetHostVersion(v *version.Version) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.hostVersion = v
}

// SplitQualifiedName splits a qualified name at its last dot.
func SplitQualifiedName(qualifiedName string) (module, selector string, err error) {
	idx := strings.LastIndex(qualifiedName, ".")
	if idx <= 0 || idx == len(qualifiedName)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidName, qualifiedName)
	}
	return qualifiedName[:idx], qualifiedName[idx+1:], nil
}

// Resolve returns the definitions selected by the qualified name, sorted by
// name. Pattern selectors of menus only select menu handlers, and never the
// menu template. Pattern selectors of components select all definitions of the
// module.
func (l *Loader) Resolve(qualifiedName string, kind Kind) ([]*Definition, error) {
	module, selector, err := SplitQualifiedName(qualifiedName)
	if err != nil {
		return nil, &DiscoveryError{QualifiedName: qualifiedName, Err: err}
	}

	if !strings.ContainsAny(selector, globMeta) {
		def, ok := l.catalog.Lookup(module, selector)
		if !ok {
			if _, ok := l.catalog.Module(module); !ok {
				err = fmt.Errorf("%w: %s", ErrModuleNotFound, module)
			} else {
				err = fmt.Errorf("%w: %s in module %s", ErrDefinitionNotFound, selector, module)
			}
			return nil, &DiscoveryError{QualifiedName: qualifiedName, Err: err}
		}
		if err := l.checkHostVersion(def); err != nil {
			return nil, &DiscoveryError{QualifiedName: qualifiedName, Err: err}
		}
		return []*Definition{def}, nil
	}

	pattern, err := l.compile(selector)
	if err != nil {
		return nil, &DiscoveryError{QualifiedName: qualifiedName, Err: err}
	}
	defs, ok := l.catalog.Module(module)
	if !ok {
		return nil, &DiscoveryError{
			QualifiedName: qualifiedName,
			Err:           fmt.Errorf("%w: %s", ErrModuleNotFound, module),
		}
	}

	selected := make([]*Definition, 0, len(defs))
	for _, def := range defs {
		if !pattern.Match(def.Name) {
			continue
		}
		if kind == KindMenu &&
			(def.Name == TemplateName || !def.Capabilities().Has(shared.CapMenuAction)) {
			continue
		}
		if err := l.checkHostVersion(def); err != nil {
			l.logger.Warn(
				"skipping plugin",
				"name", def.QualifiedName(),
				"kind", kind,
				"err", err,
			)
			continue
		}
		selected = append(selected, def)
	}
	return selected, nil
}

// Discover resolves all enabled entries. Disabled entries are skipped without
// being resolved. Failing entries are logged and skipped. Definitions selected
// by multiple entries are returned once, at their first position.
func (l *Loader) Discover(entries []config.EnableEntry, kind Kind) []*Definition {
	var (
		defs []*Definition
		seen = make(map[*Definition]struct{})
	)

	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}

		resolved, err := l.Resolve(entry.QualifiedName, kind)
		if err != nil {
			l.logger.Error(
				"could not discover plugin",
				"name", entry.QualifiedName,
				"kind", kind,
				"err", err,
			)
			continue
		}

		for _, def := range resolved {
			if _, ok := seen[def]; ok {
				continue
			}
			seen[def] = struct{}{}
			defs = append(defs, def)
		}
	}

	return defs
}

// Instantiate creates a new instance of the definition. Factory errors and
// panics are returned as ActivationError.
func (l *Loader) Instantiate(def *Definition) (instance any, err error) {
	defer func() {
		if panicVal := recover(); panicVal != nil {
			instance = nil
			err = &ActivationError{
				QualifiedName: def.QualifiedName(),
				Err:           fmt.Errorf("panic: %v", panicVal),
			}
		}
	}()

	instance, err = def.factory()
	if err != nil {
		return nil, &ActivationError{QualifiedName: def.QualifiedName(), Err: err}
	}
	if isNil(instance) {
		return nil, &ActivationError{QualifiedName: def.QualifiedName(), Err: errNilInstance}
	}
	return instance, nil
}

func (l *Loader) checkHostVersion(def *Definition) error {
	if def.MinHostVersion == nil {
		return nil
	}

	l.lock.RLock()
	hostVersion := l.hostVersion
	l.lock.RUnlock()

	if hostVersion == nil || !hostVersion.LessThan(def.MinHostVersion) {
		return nil
	}
	return fmt.Errorf("%w: %s requires %s, running %s",
		ErrHostVersion, def.QualifiedName(), def.MinHostVersion, hostVersion)
}

func (l *Loader) compile(selector string) (glob.Glob, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if pattern, ok := l.patterns[selector]; ok {
		return pattern, nil
	}
	pattern, err := glob.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pattern %q: %w", ErrInvalidName, selector, err)
	}
	l.patterns[selector] = pattern
	return pattern, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() { //nolint:exhaustive
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
