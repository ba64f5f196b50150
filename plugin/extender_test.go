package plugin

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safing/extender/plugin/config"
	"github.com/safing/extender/plugin/host"
	"github.com/safing/extender/plugin/loader"
	"github.com/safing/extender/plugin/settings"
	"github.com/safing/extender/plugin/shared"
)

type recorder struct {
	lock  sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.calls = append(r.calls, call)
}

func (r *recorder) get() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]string(nil), r.calls...)
}

type (
	requestPlugin struct {
		shared.Base

		name     string
		rec      *recorder
		messages []*shared.Message
	}

	issuePlugin struct {
		shared.Base

		name string
		rec  *recorder
		fail error
		boom bool
	}

	menuPlugin struct {
		shared.Base

		id  int
		rec *recorder
	}

	repeaterOnly struct {
		requestPlugin
	}

	noEnv struct {
		rec *recorder
	}
)

func (p *requestPlugin) ProcessRequest(msg *shared.Message) error {
	p.rec.add(p.name)
	p.messages = append(p.messages, msg)
	msg.Comment += p.name + ";"
	return nil
}

func (p *issuePlugin) NewScanIssue(issue *shared.Issue) error {
	p.rec.add(p.name + ":" + issue.Name)
	if p.boom {
		panic("boom")
	}
	return p.fail
}

func (p *menuPlugin) Caption() string { return "Send All" }

func (p *menuPlugin) MenuItemClicked(caption string, msgs []*shared.Message) error {
	p.rec.add(caption + "@" + string(rune('0'+p.id)))
	return nil
}

func (p *repeaterOnly) Tools() []shared.Tool {
	return []shared.Tool{shared.ToolRepeater}
}

func (p *noEnv) ProcessRequest(*shared.Message) error {
	p.rec.add("noEnv")
	return nil
}

type testSetup struct {
	e      *Extender
	local  *host.Local
	dir    string
	config string
}

func newTestSetup(t *testing.T, c *loader.Catalog, ini string, opts Options) *testSetup {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultFilename)
	if ini != "" {
		require.NoError(t, os.WriteFile(path, []byte(ini), 0o600))
	}

	opts.Catalog = c
	opts.ConfigDirs = []string{dir}
	opts.NoConsole = true
	opts.NoLogFile = true
	// Tests opt into the watcher by setting a debounce.
	opts.DisableWatcher = opts.Debounce == 0

	ts := &testSetup{
		e:      New(opts),
		local:  host.NewLocal("Local Host", "2", "1"),
		dir:    dir,
		config: path,
	}
	t.Cleanup(func() {
		if ts.e.Started() {
			_ = ts.e.Stop()
		}
	})
	return ts
}

func instanceNames(e *Extender) []string {
	var n []string
	for _, inst := range e.Instances() {
		n = append(n, inst.Name())
	}
	return n
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()

	var (
		rec     = &recorder{}
		created = make(map[string][]*requestPlugin)
		lock    sync.Mutex
	)
	factory := func(name string) func() (*requestPlugin, error) {
		return func() (*requestPlugin, error) {
			lock.Lock()
			defer lock.Unlock()

			p := &requestPlugin{name: name, rec: rec}
			created[name] = append(created[name], p)
			return p, nil
		}
	}

	c := loader.NewCatalog()
	require.NoError(t, loader.Register(c, "pkg.mod", "PluginA", factory("PluginA")))
	require.NoError(t, loader.Register(c, "pkg.mod", "PluginB", factory("PluginB")))

	ts := newTestSetup(t, c, `
[components]
pkg.mod.PluginA = true
pkg.mod.PluginB = false
`, Options{})
	require.NoError(t, ts.e.Start(ts.local))

	// Only PluginA was created, and it received the environment.
	require.Len(t, created["PluginA"], 1)
	assert.Empty(t, created["PluginB"])
	pluginA := created["PluginA"][0]
	assert.Same(t, ts.e, pluginA.Host)
	assert.Same(t, ts.e.Config(), pluginA.Config)
	assert.Equal(t, ts.config, pluginA.Config.Filename())
	assert.NotNil(t, pluginA.Log)
	assert.Equal(t, []string{"pkg.mod.PluginA"}, instanceNames(ts.e))

	msg := &shared.Message{Request: []byte("GET / HTTP/1.1\r\n\r\n")}
	require.NoError(t, ts.e.ProcessHTTPMessage(shared.ToolProxy, true, msg))
	assert.Equal(t, []string{"PluginA"}, rec.get())
	require.Len(t, pluginA.messages, 1)
	assert.Same(t, msg, pluginA.messages[0])
	assert.Equal(t, shared.ToolProxy, msg.Tool)
	assert.True(t, msg.IsRequest)

	// Responses are not dispatched to request processors.
	require.NoError(t, ts.e.ProcessHTTPMessage(shared.ToolProxy, false, msg))
	assert.Equal(t, []string{"PluginA"}, rec.get())

	// Startup side effects on the host.
	assert.Equal(t, []string{ReadyAlert}, ts.local.Alerts())
	assert.Equal(t, settings.ExtensionName.Default, ts.local.ExtensionName())
	assert.Len(t, ts.local.Listeners(host.OpRegisterHTTPListener), 1)
	assert.Len(t, ts.local.Listeners(host.OpRegisterScannerListener), 1)
	assert.Len(t, ts.local.Listeners(host.OpRegisterExtensionStateListener), 1)

	assert.ErrorIs(t, ts.e.Start(ts.local), ErrAlreadyStarted)
}

func TestDispatchOrderAndChaining(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	var plugins []*requestPlugin
	newPlugin := func(name string) func() (*requestPlugin, error) {
		return func() (*requestPlugin, error) {
			p := &requestPlugin{name: name, rec: rec}
			plugins = append(plugins, p)
			return p, nil
		}
	}

	c := loader.NewCatalog()
	require.NoError(t, loader.Register(c, "pkg.chain", "First", newPlugin("First")))
	require.NoError(t, loader.Register(c, "pkg.chain", "Second", newPlugin("Second")))

	// Activation order follows the enable-list, not the names.
	ts := newTestSetup(t, c, `
[components]
pkg.chain.Second = true
pkg.chain.First = true
`, Options{})
	require.NoError(t, ts.e.Start(ts.local))
	require.Len(t, plugins, 2)

	msg := &shared.Message{Request: []byte("GET /x HTTP/1.1\r\n\r\n")}
	require.NoError(t, ts.e.ProcessHTTPMessage(shared.ToolRepeater, true, msg))

	assert.Equal(t, []string{"Second", "First"}, rec.get())
	assert.Equal(t, "Second;First;", msg.Comment)
	// Both saw the very same message.
	assert.Same(t, plugins[0].messages[0], plugins[1].messages[0])
}

func TestDispatchErrorIsolation(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	failure := errors.New("database gone")

	c := loader.NewCatalog()
	require.NoError(t, loader.Register(c, "pkg.issues", "Failing", func() (*issuePlugin, error) {
		return &issuePlugin{name: "Failing", rec: rec, fail: failure}, nil
	}))
	require.NoError(t, loader.Register(c, "pkg.issues", "Panicking", func() (*issuePlugin, error) {
		return &issuePlugin{name: "Panicking", rec: rec, boom: true}, nil
	}))
	require.NoError(t, loader.Register(c, "pkg.issues", "Working", func() (*issuePlugin, error) {
		return &issuePlugin{name: "Working", rec: rec}, nil
	}))

	ts := newTestSetup(t, c, `
[components]
pkg.issues.* = true
`, Options{})
	require.NoError(t, ts.e.Start(ts.local))

	err := ts.e.NewScanIssue(&shared.Issue{Name: "XSS"})
	require.Error(t, err)
	assert.Equal(t, []string{"Failing:XSS", "Panicking:XSS", "Working:XSS"}, rec.get())
	assert.ErrorIs(t, err, failure)

	var componentErr *ComponentError
	require.ErrorAs(t, err, &componentErr)
	assert.Equal(t, "pkg.issues.Failing", componentErr.Name)
	assert.Equal(t, "pkg.issues", componentErr.Module)
	assert.Contains(t, err.Error(), "component pkg.issues.Failing failed to handle new issue: database gone")
	assert.Contains(t, err.Error(), "component pkg.issues.Panicking failed to handle new issue: panic: boom")

	assert.ErrorIs(t, ts.e.NewScanIssue(nil), ErrNilMessage)

	var buf bytes.Buffer
	ts.e.WriteMetrics(&buf)
	assert.Contains(t, buf.String(), `extender_dispatch_total{event="new_issue"} 1`)
	assert.Contains(t, buf.String(), `extender_component_failures_total{component="pkg.issues.Failing"} 1`)
	assert.Contains(t, buf.String(), `extender_active_instances 3`)
}

func TestToolFilterAndListeners(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	c := loader.NewCatalog()
	require.NoError(t, loader.Register(c, "pkg.tools", "Repeater", func() (*repeaterOnly, error) {
		return &repeaterOnly{requestPlugin{name: "Repeater", rec: rec}}, nil
	}))
	require.NoError(t, loader.Register(c, "pkg.tools", "All", func() (*requestPlugin, error) {
		return &requestPlugin{name: "All", rec: rec}, nil
	}))

	ts := newTestSetup(t, c, "[components]\npkg.tools.* = true\n", Options{})
	require.NoError(t, ts.e.Start(ts.local))

	listeners := ts.local.Listeners(host.OpRegisterHTTPListener)
	require.Len(t, listeners, 1)
	listener, ok := listeners[0].(HTTPListener)
	require.True(t, ok)

	msg := &shared.Message{}
	require.NoError(t, listener.ProcessHTTPMessage(shared.ToolProxy.Flag(), true, msg))
	assert.Equal(t, shared.ToolProxy, msg.Tool)
	assert.Equal(t, []string{"All"}, rec.get())

	require.NoError(t, listener.ProcessHTTPMessage(shared.ToolRepeater.Flag(), true, &shared.Message{}))
	assert.Equal(t, []string{"All", "All", "Repeater"}, rec.get())

	// Unknown tools reach every processor.
	require.NoError(t, listener.ProcessHTTPMessage(3, true, &shared.Message{}))
	assert.Equal(t, []string{"All", "All", "Repeater", "All", "Repeater"}, rec.get())
}

func TestComponentsWithoutEnvAreSkipped(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	c := loader.NewCatalog()
	require.NoError(t, loader.Register(c, "pkg.env", "Bare", func() (*noEnv, error) {
		return &noEnv{rec: rec}, nil
	}))
	require.NoError(t, loader.Register(c, "pkg.env", "Proper", func() (*requestPlugin, error) {
		return &requestPlugin{name: "Proper", rec: rec}, nil
	}))

	ts := newTestSetup(t, c, "[components]\npkg.env.* = true\n", Options{})
	require.NoError(t, ts.e.Start(ts.local))

	assert.Equal(t, []string{"pkg.env.Proper"}, instanceNames(ts.e))
	require.NoError(t, ts.e.ProcessHTTPMessage(shared.ToolProxy, true, &shared.Message{}))
	assert.Equal(t, []string{"Proper"}, rec.get())
}

func TestActivationFailureStopsStart(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	c := loader.NewCatalog()
	ok := func(name string) func() (*requestPlugin, error) {
		return func() (*requestPlugin, error) {
			return &requestPlugin{name: name, rec: rec}, nil
		}
	}
	require.NoError(t, loader.Register(c, "pkg.fail", "First", ok("First")))
	require.NoError(t, loader.Register(c, "pkg.fail", "Broken", func() (*requestPlugin, error) {
		return nil, errors.New("missing wordlist")
	}))
	require.NoError(t, loader.Register(c, "pkg.fail", "Later", ok("Later")))

	ts := newTestSetup(t, c, `
[components]
pkg.fail.Missing = true
pkg.fail.First = true
pkg.fail.Broken = true
pkg.fail.Later = true
`, Options{})

	err := ts.e.Start(ts.local)
	var activationErr *loader.ActivationError
	require.ErrorAs(t, err, &activationErr)
	assert.Equal(t, "pkg.fail.Broken", activationErr.QualifiedName)

	// The unknown entry was skipped, the first plugin stays active.
	assert.Equal(t, []string{"pkg.fail.First"}, instanceNames(ts.e))
	assert.Empty(t, ts.local.Alerts())
}

func TestBestEffortStartup(t *testing.T) {
	t.Parallel()

	c := loader.NewCatalog()
	ts := newTestSetup(t, c, "", Options{})
	ts.local.Disable(
		host.OpGetBurpVersion,
		host.OpSetExtensionName,
		host.OpLoadExtensionSetting,
		host.OpRegisterHTTPListener,
		host.OpRegisterScannerListener,
	)

	require.NoError(t, ts.e.Start(ts.local))
	assert.Equal(t, "", ts.e.Config().Filename())
	assert.Equal(t, []string{ReadyAlert}, ts.local.Alerts())
	assert.Len(t, ts.local.Listeners(host.OpRegisterExtensionStateListener), 1)
	assert.Empty(t, ts.e.Instances())
}

func TestStartWithoutHost(t *testing.T) {
	t.Parallel()

	ts := newTestSetup(t, loader.NewCatalog(), "", Options{})
	assert.ErrorIs(t, ts.e.Stop(), ErrNotStarted)
	assert.ErrorIs(t, ts.e.Start(nil), host.ErrHostUnavailable)
	assert.False(t, ts.e.Started())

	require.NoError(t, ts.e.Start(ts.local))
	require.NoError(t, ts.e.Stop())
	require.NoError(t, ts.e.Stop())
}

func TestMenus(t *testing.T) {
	t.Parallel()

	var (
		rec   = &recorder{}
		count int
	)
	c := loader.NewCatalog()
	require.NoError(t, loader.Register(c, "menus.test", "SendAll", func() (*menuPlugin, error) {
		count++
		return &menuPlugin{id: count, rec: rec}, nil
	}))
	require.NoError(t, loader.Register(c, "menus.test", loader.TemplateName, func() (*menuPlugin, error) {
		return nil, errors.New("template must not be created")
	}))
	require.NoError(t, loader.Register(c, "menus.test", "NotAMenu", func() (*requestPlugin, error) {
		return &requestPlugin{}, nil
	}))

	ts := newTestSetup(t, c, "[menus]\nmenus.test.* = true\n", Options{})
	sub := ts.e.Events.Subscribe("test", 16)
	require.NoError(t, ts.e.Start(ts.local))

	items := ts.local.MenuItems()
	require.Len(t, items, 1)
	item, ok := items["Send All"].(shared.MenuHandler)
	require.True(t, ok)
	assert.Equal(t, "Send All", item.Caption())

	require.NoError(t, item.MenuItemClicked("Send All", []*shared.Message{{}}))
	assert.Equal(t, []string{"Send All@1"}, rec.get())

	// Reloading the source replaces the instance behind the menu item.
	def, ok := c.Lookup("menus.test", "SendAll")
	require.True(t, ok)
	require.NoError(t, ts.e.Reload(def.Source))
	require.NoError(t, item.MenuItemClicked("Send All", nil))
	assert.Equal(t, []string{"Send All@1", "Send All@2"}, rec.get())
	assert.Len(t, ts.local.MenuItems(), 1)

	var types []LifecycleEventType
	for len(sub.Events()) > 0 {
		types = append(types, (<-sub.Events()).Type)
	}
	assert.Equal(t, []LifecycleEventType{EventActivated, EventReleased, EventActivated, EventReloaded}, types)
}

func TestReloadConfig(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	c := loader.NewCatalog()
	for _, name := range []string{"PluginA", "PluginB"} {
		require.NoError(t, loader.Register(c, "pkg.mod", name, func() (*requestPlugin, error) {
			return &requestPlugin{name: name, rec: rec}, nil
		}))
	}

	ts := newTestSetup(t, c, "[components]\npkg.mod.PluginA = true\n", Options{})
	require.NoError(t, ts.e.Start(ts.local))
	assert.Equal(t, []string{"pkg.mod.PluginA"}, instanceNames(ts.e))

	require.NoError(t, os.WriteFile(ts.config, []byte("[components]\npkg.mod.PluginA = false\npkg.mod.PluginB = true\n"), 0o600))
	require.NoError(t, ts.e.Reload(ts.config))
	assert.Equal(t, []string{"pkg.mod.PluginB"}, instanceNames(ts.e))

	require.NoError(t, ts.e.ProcessHTTPMessage(shared.ToolProxy, true, &shared.Message{}))
	assert.Equal(t, []string{"PluginB"}, rec.get())

	var buf bytes.Buffer
	ts.e.WriteMetrics(&buf)
	assert.Contains(t, buf.String(), "extender_reloads_total 1")
}

func TestWatcherReloadsConfig(t *testing.T) {
	t.Parallel()

	c := loader.NewCatalog()
	for _, name := range []string{"PluginA", "PluginB"} {
		require.NoError(t, loader.Register(c, "pkg.mod", name, func() (*requestPlugin, error) {
			return &requestPlugin{name: name, rec: &recorder{}}, nil
		}))
	}

	ts := newTestSetup(t, c, "[components]\npkg.mod.PluginA = true\n", Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, ts.e.Start(ts.local))
	assert.Eventually(t, func() bool {
		ts.e.lock.RLock()
		defer ts.e.lock.RUnlock()

		return ts.e.watcher != nil && ts.e.watcher.Watched(ts.config)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(ts.config, []byte("[components]\npkg.mod.PluginB = true\n"), 0o600))
	assert.Eventually(t, func() bool {
		names := instanceNames(ts.e)
		return len(names) == 1 && names[0] == "pkg.mod.PluginB"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, ts.e.Stop())
}

func TestActivate(t *testing.T) {
	t.Parallel()

	c := loader.NewCatalog()
	require.NoError(t, loader.Register(c, "pkg.mod", "PluginA", func() (*requestPlugin, error) {
		return &requestPlugin{}, nil
	}))
	ts := newTestSetup(t, c, "", Options{})
	require.NoError(t, ts.e.Start(ts.local))

	_, err := ts.e.Activate(nil)
	require.Error(t, err)

	// Values not in the catalog get an environment, but no events.
	loose := &issuePlugin{rec: &recorder{}}
	inst, err := ts.e.Activate(loose)
	require.NoError(t, err)
	assert.Equal(t, "issuePlugin", inst.Name())
	assert.True(t, inst.Capabilities.Has(shared.CapNewIssue))
	assert.Same(t, ts.e, loose.Host)
	assert.Empty(t, ts.e.Instances())

	// Values of a catalog type are tracked once.
	p := &requestPlugin{name: "direct", rec: &recorder{}}
	first, err := ts.e.Activate(p)
	require.NoError(t, err)
	assert.Equal(t, "pkg.mod.PluginA", first.Name())
	again, err := ts.e.Activate(p)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Len(t, ts.e.Instances(), 1)

	// Plugins reach the settings through the host.
	require.NoError(t, p.Host.SaveSetting("jython.scan.depth", "3"))
	depth, err := ts.e.Settings().Load("jython.scan.depth", "1")
	require.NoError(t, err)
	assert.Equal(t, "3", depth)
}

func TestExtensionUnloaded(t *testing.T) {
	t.Parallel()

	ts := newTestSetup(t, loader.NewCatalog(), "[components]\n", Options{})
	require.NoError(t, ts.e.Start(ts.local))

	ts.e.Config().Section("components").Set("pkg.mod.PluginA", "false")

	listeners := ts.local.Listeners(host.OpRegisterExtensionStateListener)
	require.Len(t, listeners, 1)
	listeners[0].(StateListener).ExtensionUnloaded() //nolint:forcetypeassert

	saved, err := os.ReadFile(ts.config)
	require.NoError(t, err)
	assert.Contains(t, string(saved), "pkg.mod.PluginA")
	assert.NoError(t, ts.e.Stop())
}

func TestLogFile(t *testing.T) {
	t.Parallel()

	ts := newTestSetup(t, loader.NewCatalog(), "", Options{})
	ts.e.opts.NoLogFile = false
	require.NoError(t, ts.e.Start(ts.local))
	require.NoError(t, ts.e.Stop())

	data, err := os.ReadFile(filepath.Join(ts.dir, settings.LogFilename.Default))
	require.NoError(t, err)
	assert.Contains(t, string(data), "extender started")
}

func TestDispatchWithoutHost(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	c := loader.NewCatalog()
	require.NoError(t, loader.Register(c, "pkg.issues", "Early", func() (*issuePlugin, error) {
		return &issuePlugin{name: "Early", rec: rec}, nil
	}))
	require.NoError(t, loader.Register(c, "menus.test", "SendAll", func() (*menuPlugin, error) {
		return &menuPlugin{rec: rec}, nil
	}))

	ts := newTestSetup(t, c, "", Options{})
	_, err := ts.e.Activate(&issuePlugin{name: "Early", rec: rec})
	require.NoError(t, err)
	require.Len(t, ts.e.Instances(), 1)

	assert.ErrorIs(t, ts.e.NewScanIssue(&shared.Issue{Name: "x"}), host.ErrHostUnavailable)
	assert.ErrorIs(t, ts.e.ProcessHTTPMessage(shared.ToolProxy, true, &shared.Message{}), host.ErrHostUnavailable)
	def, ok := c.Lookup("menus.test", "SendAll")
	require.True(t, ok)
	adapter := &menuAdapter{e: ts.e, def: def, caption: "Send All"}
	assert.ErrorIs(t, adapter.MenuItemClicked("Send All", nil), host.ErrHostUnavailable)
	assert.Empty(t, rec.get())

	// Once the host is attached, the instance activated before receives events.
	require.NoError(t, ts.e.Start(ts.local))
	require.NoError(t, ts.e.NewScanIssue(&shared.Issue{Name: "x"}))
	assert.Equal(t, []string{"Early:x"}, rec.get())
}

func TestUnsupportedOperationKeepsState(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	c := loader.NewCatalog()
	for _, name := range []string{"PluginA", "PluginB"} {
		require.NoError(t, loader.Register(c, "pkg.mod", name, func() (*requestPlugin, error) {
			return &requestPlugin{name: name, rec: rec}, nil
		}))
	}
	ts := newTestSetup(t, c, "[components]\npkg.mod.* = true\n", Options{})

	// A host of an older version, which lacks sendToSpider.
	funcs := host.Funcs{}
	for _, op := range host.OperationNames() {
		if op == host.OpSendToSpider {
			continue
		}
		funcs[op] = func(args ...any) (any, error) {
			return ts.local.Invoke(op, args...)
		}
	}
	require.NoError(t, ts.e.Start(funcs))

	require.NoError(t, ts.e.ProcessHTTPMessage(shared.ToolProxy, true, &shared.Message{}))
	assert.Equal(t, []string{"PluginA", "PluginB"}, rec.get())
	instances := ts.e.Instances()
	records := ts.e.Registry().Snapshot()

	_, err := ts.e.Invoke(host.OpSendToSpider, "http://example.com/")
	require.ErrorIs(t, err, host.ErrUnsupportedOperation)
	var unsupported *host.UnsupportedOperationError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, host.OpSendToSpider, unsupported.Op)

	assert.Equal(t, instances, ts.e.Instances())
	assert.Equal(t, records, ts.e.Registry().Snapshot())

	require.NoError(t, ts.e.ProcessHTTPMessage(shared.ToolProxy, true, &shared.Message{}))
	assert.Equal(t, []string{"PluginA", "PluginB", "PluginA", "PluginB"}, rec.get())
}
