package host

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/safing/extender/plugin/shared"
)

// SettingsBackend persists the extension settings of a Local host.
type SettingsBackend interface {
	Load(name string) (string, error)
	Save(name, value string) error
}

// Local is a minimal in-process host. It backs the command line harness and
// tests. It implements Callbacks.
type Local struct {
	lock sync.Mutex

	version       []string
	extensionName string
	settings      SettingsBackend
	memSettings   map[string]string

	scope     []string
	excluded  []string
	alerts    []string
	menuItems map[string]any
	listeners map[string][]any
	history   []*shared.Message
	siteMap   []*shared.Message
	issues    []*shared.Issue
	config    map[string]string

	funcs Funcs
}

var _ Callbacks = &Local{}

// NewLocal returns a local host reporting the given product and version,
// for example NewLocal("Local Host", "2", "1").
func NewLocal(versionParts ...string) *Local {
	l := &Local{
		version:     versionParts,
		memSettings: make(map[string]string),
		menuItems:   make(map[string]any),
		listeners:   make(map[string][]any),
		config:      make(map[string]string),
	}
	l.funcs = l.operations()
	return l
}

// SetSettingsBackend makes the host persist extension settings in backend.
func (l *Local) SetSettingsBackend(backend SettingsBackend) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.settings = backend
}

// Disable removes operations from the host, simulating an older version.
func (l *Local) Disable(ops ...string) {
	l.lock.Lock()
	defer l.lock.Unlock()

	for _, op := range ops {
		delete(l.funcs, op)
	}
}

// Has implements Callbacks.
func (l *Local) Has(op string) bool {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.funcs.Has(op)
}

// Invoke implements Callbacks.
func (l *Local) Invoke(op string, args ...any) (any, error) {
	l.lock.Lock()
	fn, ok := l.funcs[op]
	l.lock.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, op)
	}
	return fn(args...)
}

// Alerts returns the alerts issued so far.
func (l *Local) Alerts() []string {
	l.lock.Lock()
	defer l.lock.Unlock()

	return slices.Clone(l.alerts)
}

// ExtensionName returns the name set by the extension.
func (l *Local) ExtensionName() string {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.extensionName
}

// MenuItems returns the registered menu item handlers by caption.
func (l *Local) MenuItems() map[string]any {
	l.lock.Lock()
	defer l.lock.Unlock()

	items := make(map[string]any, len(l.menuItems))
	for caption, handler := range l.menuItems {
		items[caption] = handler
	}
	return items
}

// Listeners returns the listeners registered with the operation.
func (l *Local) Listeners(op string) []any {
	l.lock.Lock()
	defer l.lock.Unlock()

	return slices.Clone(l.listeners[op])
}

// Issues returns the scan issues added by the extension.
func (l *Local) Issues() []*shared.Issue {
	l.lock.Lock()
	defer l.lock.Unlock()

	return slices.Clone(l.issues)
}

// AddHistory adds messages to the proxy history and the site map.
func (l *Local) AddHistory(msgs ...*shared.Message) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.history = append(l.history, msgs...)
	l.siteMap = append(l.siteMap, msgs...)
}

func (l *Local) operations() Funcs {
	register := func(op string) Func {
		return func(args ...any) (any, error) {
			l.lock.Lock()
			defer l.lock.Unlock()

			l.listeners[op] = append(l.listeners[op], args[0])
			return nil, nil
		}
	}

	return Funcs{
		OpGetBurpVersion: func(...any) (any, error) {
			return slices.Clone(l.version), nil
		},
		OpSetExtensionName: func(args ...any) (any, error) {
			name, err := argString(args, 0)
			if err != nil {
				return nil, err
			}

			l.lock.Lock()
			defer l.lock.Unlock()

			l.extensionName = name
			return nil, nil
		},
		OpIssueAlert: func(args ...any) (any, error) {
			message, err := argString(args, 0)
			if err != nil {
				return nil, err
			}

			l.lock.Lock()
			defer l.lock.Unlock()

			l.alerts = append(l.alerts, message)
			return nil, nil
		},
		OpLoadExtensionSetting: func(args ...any) (any, error) {
			name, err := argString(args, 0)
			if err != nil {
				return nil, err
			}

			l.lock.Lock()
			defer l.lock.Unlock()

			if l.settings != nil {
				return l.settings.Load(name)
			}
			return l.memSettings[name], nil
		},
		OpSaveExtensionSetting: func(args ...any) (any, error) {
			name, err := argString(args, 0)
			if err != nil {
				return nil, err
			}
			value, err := argString(args, 1)
			if err != nil {
				return nil, err
			}

			l.lock.Lock()
			defer l.lock.Unlock()

			if l.settings != nil {
				return nil, l.settings.Save(name, value)
			}
			l.memSettings[name] = value
			return nil, nil
		},
		OpIsInScope: func(args ...any) (any, error) {
			u, err := argURL(args, 0)
			if err != nil {
				return nil, err
			}

			l.lock.Lock()
			defer l.lock.Unlock()

			return l.inScope(u), nil
		},
		OpIncludeInScope: func(args ...any) (any, error) {
			u, err := argURL(args, 0)
			if err != nil {
				return nil, err
			}

			l.lock.Lock()
			defer l.lock.Unlock()

			l.excluded = slices.DeleteFunc(l.excluded, func(prefix string) bool {
				return strings.HasPrefix(prefix, u)
			})
			l.scope = append(l.scope, u)
			return nil, nil
		},
		OpExcludeFromScope: func(args ...any) (any, error) {
			u, err := argURL(args, 0)
			if err != nil {
				return nil, err
			}

			l.lock.Lock()
			defer l.lock.Unlock()

			l.excluded = append(l.excluded, u)
			return nil, nil
		},
		OpSendToSpider: func(args ...any) (any, error) {
			u, err := argURL(args, 0)
			if err != nil {
				return nil, err
			}

			l.lock.Lock()
			defer l.lock.Unlock()

			if !l.inScope(u) {
				return nil, fmt.Errorf("%s is not in scope", u)
			}
			return nil, nil
		},
		OpGetProxyHistory: func(...any) (any, error) {
			l.lock.Lock()
			defer l.lock.Unlock()

			return slices.Clone(l.history), nil
		},
		OpGetSiteMap: func(args ...any) (any, error) {
			prefix, err := argString(args, 0)
			if err != nil {
				return nil, err
			}

			l.lock.Lock()
			defer l.lock.Unlock()

			items := make([]*shared.Message, 0, len(l.siteMap))
			for _, msg := range l.siteMap {
				if strings.HasPrefix(msg.URL(), prefix) {
					items = append(items, msg)
				}
			}
			return items, nil
		},
		OpAddToSiteMap: func(args ...any) (any, error) {
			msg, ok := args[0].(*shared.Message)
			if !ok {
				return nil, fmt.Errorf("%w: need *shared.Message, got %T", ErrInvalidArguments, args[0])
			}

			l.lock.Lock()
			defer l.lock.Unlock()

			l.siteMap = append(l.siteMap, msg)
			return nil, nil
		},
		OpAddScanIssue: func(args ...any) (any, error) {
			issue, ok := args[0].(*shared.Issue)
			if !ok {
				return nil, fmt.Errorf("%w: need *shared.Issue, got %T", ErrInvalidArguments, args[0])
			}

			l.lock.Lock()
			defer l.lock.Unlock()

			l.issues = append(l.issues, issue)
			return nil, nil
		},
		OpRegisterMenuItem: func(args ...any) (any, error) {
			caption, err := argString(args, 0)
			if err != nil {
				return nil, err
			}

			l.lock.Lock()
			defer l.lock.Unlock()

			l.menuItems[caption] = args[1]
			return nil, nil
		},
		OpSaveConfig: func(...any) (any, error) {
			l.lock.Lock()
			defer l.lock.Unlock()

			return l.config, nil
		},
		OpLoadConfig: func(args ...any) (any, error) {
			config, ok := args[0].(map[string]string)
			if !ok {
				return nil, fmt.Errorf("%w: need map[string]string, got %T", ErrInvalidArguments, args[0])
			}

			l.lock.Lock()
			defer l.lock.Unlock()

			l.config = config
			return nil, nil
		},
		OpRegisterExtensionStateListener: register(OpRegisterExtensionStateListener),
		OpRegisterHTTPListener:           register(OpRegisterHTTPListener),
		OpRegisterScannerListener:        register(OpRegisterScannerListener),
		OpRegisterProxyListener:          register(OpRegisterProxyListener),
		OpRegisterContextMenuFactory:     register(OpRegisterContextMenuFactory),
	}
}

// inScope must be called with the lock held.
func (l *Local) inScope(u string) bool {
	for _, prefix := range l.excluded {
		if strings.HasPrefix(u, prefix) {
			return false
		}
	}
	for _, prefix := range l.scope {
		if strings.HasPrefix(u, prefix) {
			return true
		}
	}
	return false
}

func argString(args []any, index int) (string, error) {
	s, ok := args[index].(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d must be a string, got %T", ErrInvalidArguments, index, args[index])
	}
	return s, nil
}

func argURL(args []any, index int) (string, error) {
	switch v := args[index].(type) {
	case *url.URL:
		return v.String(), nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("%w: argument %d must be a URL, got %T", ErrInvalidArguments, index, args[index])
	}
}
