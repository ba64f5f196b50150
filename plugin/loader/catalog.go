package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-version"

	"github.com/safing/extender/plugin/shared"
)

// Factory creates a new instance of a definition.
type Factory func() (any, error)

// Definition is a registered plugin type.
type Definition struct {
	// Module is the dotted module path, e.g. "scanners.passive".
	Module string
	// Name is the name of the definition within the module.
	Name string
	// Type is the concrete type created by the factory.
	Type reflect.Type
	// Source is the file the definition was registered from.
	Source string
	// MinHostVersion is the minimum host version required, if any.
	MinHostVersion *version.Version

	factory Factory
}

// QualifiedName returns "<module>.<name>".
func (d *Definition) QualifiedName() string {
	return d.Module + "." + d.Name
}

// Capabilities returns the capabilities of the definition type.
func (d *Definition) Capabilities() shared.Capabilities {
	return shared.TypeCapabilities(d.Type)
}

// Activatable returns whether instances accept the shared environment.
func (d *Definition) Activatable() bool {
	return shared.IsActivatable(d.Type)
}

func (d *Definition) String() string {
	return d.QualifiedName()
}

// Option configures a definition on registration.
type Option func(*Definition) error

// WithMinHostVersion requires a minimum host version for the definition.
func WithMinHostVersion(v string) Option {
	return func(d *Definition) error {
		minVersion, err := version.NewVersion(v)
		if err != nil {
			return fmt.Errorf("invalid minimum host version %q: %w", v, err)
		}
		d.MinHostVersion = minVersion
		return nil
	}
}

// WithSource overrides the source file of the definition.
func WithSource(path string) Option {
	return func(d *Definition) error {
		d.Source = path
		return nil
	}
}

// Catalog holds definitions by module and name. It is safe for concurrent use.
type Catalog struct {
	lock    sync.RWMutex
	modules map[string]map[string]*Definition
}

// Default is the catalog plugins register with in their init functions.
var Default = NewCatalog()

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		modules: make(map[string]map[string]*Definition),
	}
}

// Register adds a definition to the catalog. The type of the definition is T,
// which must not be an interface type. The source file of the definition is
// the file of the caller.
//
//	func init() {
//		_ = loader.Register(loader.Default, "scanners.passive", "HeaderCheck",
//			func() (*HeaderCheck, error) {
//				return &HeaderCheck{}, nil
//			},
//		)
//	}
func Register[T any](c *Catalog, module, name string, factory func() (T, error), opts ...Option) error {
	def := &Definition{
		Module: module,
		Name:   name,
		Type:   reflect.TypeFor[T](),
		factory: func() (any, error) {
			return factory()
		},
	}
	if _, file, _, ok := runtime.Caller(1); ok {
		def.Source = filepath.Clean(file)
	}

	for _, opt := range opts {
		if err := opt(def); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, def.QualifiedName(), err)
		}
	}

	return c.add(def, factory == nil)
}

func (c *Catalog) add(def *Definition, nilFactory bool) error {
	switch {
	case def.Module == "" || strings.HasPrefix(def.Module, ".") || strings.HasSuffix(def.Module, "."):
		return fmt.Errorf("%w: invalid module name %q", ErrInvalidDefinition, def.Module)
	case def.Name == "" || strings.Contains(def.Name, "."):
		return fmt.Errorf("%w: invalid name %q", ErrInvalidDefinition, def.Name)
	case strings.ContainsAny(def.Name, globMeta):
		return fmt.Errorf("%w: name %q contains pattern characters", ErrInvalidDefinition, def.Name)
	case def.Type.Kind() == reflect.Interface:
		return fmt.Errorf("%w: %s: type %s is an interface", ErrInvalidDefinition, def.QualifiedName(), def.Type)
	case nilFactory:
		return fmt.Errorf("%w: %s: missing factory", ErrInvalidDefinition, def.QualifiedName())
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	module, ok := c.modules[def.Module]
	if !ok {
		module = make(map[string]*Definition)
		c.modules[def.Module] = module
	}
	if _, ok := module[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDefinition, def.QualifiedName())
	}

	module[def.Name] = def
	return nil
}

// Lookup returns the named definition.
func (c *Catalog) Lookup(module, name string) (*Definition, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	def, ok := c.modules[module][name]
	return def, ok
}

// Module returns the definitions of the module sorted by name.
func (c *Catalog) Module(module string) ([]*Definition, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	defs, ok := c.modules[module]
	if !ok {
		return nil, false
	}
	return sortedDefinitions(defs), true
}

// Modules returns the names of all modules, sorted.
func (c *Catalog) Modules() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()

	modules := make([]string, 0, len(c.modules))
	for module := range c.modules {
		modules = append(modules, module)
	}
	sort.Strings(modules)
	return modules
}

// BySource returns all definitions registered from the source file.
func (c *Catalog) BySource(source string) []*Definition {
	c.lock.RLock()
	defer c.lock.RUnlock()

	var defs []*Definition
	for _, module := range c.modules {
		for _, def := range module {
			if def.Source == source {
				defs = append(defs, def)
			}
		}
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].QualifiedName() < defs[j].QualifiedName()
	})
	return defs
}

// ByType returns the definition creating values of type t. If several
// definitions share the type, the first by qualified name is returned. The
// menu template is only returned if no other definition has the type.
func (c *Catalog) ByType(t reflect.Type) (*Definition, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	var found *Definition
	for _, module := range c.modules {
		for _, def := range module {
			if def.Type != t {
				continue
			}
			if found == nil || preferDefinition(def, found) {
				found = def
			}
		}
	}
	return found, found != nil
}

func preferDefinition(def, over *Definition) bool {
	if (def.Name == TemplateName) != (over.Name == TemplateName) {
		return over.Name == TemplateName
	}
	return def.QualifiedName() < over.QualifiedName()
}

func sortedDefinitions(defs map[string]*Definition) []*Definition {
	sorted := make([]*Definition, 0, len(defs))
	for _, def := range defs {
		sorted = append(sorted, def)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	return sorted
}

var errNilInstance = errors.New("factory returned nil")
