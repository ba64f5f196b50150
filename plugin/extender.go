package plugin

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tevino/abool"
	"golang.org/x/sync/singleflight"

	"github.com/safing/extender/base/log"
	"github.com/safing/extender/plugin/config"
	"github.com/safing/extender/plugin/host"
	"github.com/safing/extender/plugin/loader"
	"github.com/safing/extender/plugin/monitor"
	"github.com/safing/extender/plugin/settings"
	"github.com/safing/extender/plugin/shared"
	"github.com/safing/extender/service/mgr"
)

// ReadyAlert is the alert issued to the host when startup finished.
const ReadyAlert = "extender ready"

const stopTimeout = 10 * time.Second

// Options configures an Extender.
type Options struct {
	// Catalog holds the plugin definitions. Defaults to loader.Default.
	Catalog *loader.Catalog

	// ConfigDirs are searched for the configuration file if the configured
	// filename does not exist. Defaults to the directory of the executable
	// and its parent.
	ConfigDirs []string

	// Debounce is the time to wait for more changes before reloading.
	Debounce time.Duration

	// DisableWatcher disables reloading on source and config changes.
	DisableWatcher bool

	// LogConsole is where console log output goes. Defaults to stderr.
	LogConsole io.Writer
	// NoConsole disables console log output.
	NoConsole bool
	// NoLogFile disables the log file.
	NoLogFile bool
}

// Extender is the plugin core. It activates the enabled plugins on Start and
// dispatches host events to them.
type Extender struct {
	mgr  *mgr.Manager
	opts Options

	started *abool.AtomicBool
	stopped *abool.AtomicBool

	shim     *host.Shim
	settings *settings.Namespace
	catalog  *loader.Catalog
	registry *monitor.Registry
	reloads  singleflight.Group
	metrics  *extenderMetrics

	lock    sync.RWMutex
	loader  *loader.Loader
	config  *config.Configuration
	log     *log.Logger
	watcher *monitor.Watcher
	menus   map[*loader.Definition]*menuAdapter

	// Events receives the lifecycle events of plugin instances.
	Events *mgr.EventMgr[LifecycleEvent]
}

var _ shared.Host = &Extender{}

// New returns a new, not yet started extender.
func New(opts Options) *Extender {
	if opts.Catalog == nil {
		opts.Catalog = loader.Default
	}
	if opts.ConfigDirs == nil {
		opts.ConfigDirs = defaultConfigDirs()
	}

	m := mgr.New("extender")
	shim := host.NewShim(nil)
	e := &Extender{
		mgr:      m,
		opts:     opts,
		started:  abool.New(),
		stopped:  abool.New(),
		shim:     shim,
		settings: settings.New(settings.NewShimStore(shim)),
		catalog:  opts.Catalog,
		registry: monitor.NewRegistry(),
		loader:   loader.New(opts.Catalog, m.Logger()),
		config:   config.Empty(),
		menus:    make(map[*loader.Definition]*menuAdapter),
		Events:   mgr.NewEventMgr[LifecycleEvent]("lifecycle", m),
	}
	e.metrics = newExtenderMetrics(func() float64 {
		return float64(len(e.Instances()))
	})
	return e
}

func defaultConfigDirs() []string {
	exe, err := os.Executable()
	if err != nil {
		return nil
	}
	dir := filepath.Dir(exe)
	return []string{dir, filepath.Dir(dir)}
}

// Start attaches the host callbacks and activates all enabled plugins.
// Only attaching the callbacks and activating plugins may fail. Everything
// else is set up on a best effort basis and failures are logged.
func (e *Extender) Start(callbacks host.Callbacks) error {
	if !e.started.SetToIf(false, true) {
		return ErrAlreadyStarted
	}

	if err := e.shim.Attach(callbacks); err != nil {
		e.started.UnSet()
		return fmt.Errorf("failed to attach host: %w", err)
	}

	e.setupLogging()
	e.setupHostVersion()
	e.setupExtensionName()
	e.setupConfig()
	e.registerListeners()

	if err := e.activateEnabled(loader.KindMenu); err != nil {
		return err
	}
	if err := e.activateEnabled(loader.KindComponent); err != nil {
		return err
	}

	e.trackConfig()
	e.startWatcher()

	if err := e.shim.IssueAlert(ReadyAlert); err != nil {
		e.mgr.Warn("failed to issue ready alert", "err", err)
	}
	e.mgr.Info("extender started", "instances", e.registry.Len())
	return nil
}

// Stop stops the watcher and closes the log file. Active plugins stay
// usable, but are no longer reloaded.
func (e *Extender) Stop() error {
	if !e.started.IsSet() {
		return ErrNotStarted
	}
	if !e.stopped.SetToIf(false, true) {
		return nil
	}

	var errs *multierror.Error

	e.mgr.Cancel()
	e.lock.RLock()
	watcher := e.watcher
	logger := e.log
	e.lock.RUnlock()

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to close watcher: %w", err))
		}
	}
	if !e.mgr.WaitForWorkers(stopTimeout) {
		errs = multierror.Append(errs, fmt.Errorf("timed out waiting for %d workers", e.mgr.WorkerCount()))
	}

	e.mgr.Info("extender stopped")
	if logger != nil {
		if err := logger.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to close log: %w", err))
		}
	}
	return errs.ErrorOrNil()
}

// Started returns whether the extender was started.
func (e *Extender) Started() bool {
	return e.started.IsSet()
}

// Shim returns the shim over the host callbacks.
func (e *Extender) Shim() *host.Shim {
	return e.shim
}

// Settings returns the settings namespace backed by the host.
func (e *Extender) Settings() *settings.Namespace {
	return e.settings
}

// Config returns the active configuration.
func (e *Extender) Config() *config.Configuration {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return e.config
}

// Registry returns the registry of live instances.
func (e *Extender) Registry() *monitor.Registry {
	return e.registry
}

// Logger returns the logger of the extender.
func (e *Extender) Logger() *slog.Logger {
	return e.mgr.Logger()
}

func (e *Extender) setupLogging() {
	filename, err := e.settings.LoadKey(settings.LogFilename)
	if err != nil {
		e.mgr.Warn("failed to load log filename", "err", err)
		filename = settings.LogFilename.Default
	}
	format, err := e.settings.LoadKey(settings.LogFormat)
	if err != nil {
		e.mgr.Warn("failed to load log format", "err", err)
		format = settings.LogFormat.Default
	}
	level, err := e.settings.LoadKey(settings.LogLevel)
	if err != nil {
		e.mgr.Warn("failed to load log level", "err", err)
		level = settings.LogLevel.Default
	}

	opts := log.Options{
		Name:       "extender",
		Level:      level,
		Format:     log.Format(format),
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Console:    e.opts.LogConsole,
		NoConsole:  e.opts.NoConsole,
	}
	if !e.opts.NoLogFile {
		opts.File = e.logPath(filename)
	}

	logger, err := log.New(opts)
	if err != nil {
		e.mgr.Error("failed to set up logging, logging to console only", "err", err)
		opts.File = ""
		opts.NoConsole = false
		logger, err = log.New(opts)
		if err != nil {
			return
		}
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	e.log = logger
	e.mgr.SetLogger(logger.Logger)
	e.loader = loader.New(e.catalog, logger.Logger)
}

func (e *Extender) logPath(filename string) string {
	if filepath.IsAbs(filename) || len(e.opts.ConfigDirs) == 0 {
		return filename
	}
	return filepath.Join(e.opts.ConfigDirs[0], filename)
}

func (e *Extender) setupHostVersion() {
	v, err := e.shim.HostVersion()
	if err != nil {
		e.mgr.Warn("failed to get host version, skipping version checks", "err", err)
		return
	}

	e.currentLoader().SetHostVersion(v)
	e.mgr.Info("host version detected", "version", v.String())
}

func (e *Extender) setupExtensionName() {
	name, err := e.settings.LoadKey(settings.ExtensionName)
	if err != nil {
		e.mgr.Warn("failed to load extension name", "err", err)
		name = settings.ExtensionName.Default
	}
	if err := e.shim.SetExtensionName(name); err != nil {
		e.mgr.Warn("failed to set extension name", "name", name, "err", err)
	}
}

func (e *Extender) setupConfig() {
	filename, err := e.settings.LoadKey(settings.ConfigFilename)
	if err != nil {
		e.mgr.Warn("failed to load config filename", "err", err)
		filename = settings.ConfigFilename.Default
	}

	cfg, err := e.loadConfig(filename)
	if err != nil {
		e.mgr.Warn("failed to load configuration, using empty configuration", "err", err)
		cfg = config.Empty()
	} else {
		e.mgr.Info("configuration loaded", "file", cfg.Filename())
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	e.config = cfg
}

func (e *Extender) loadConfig(filename string) (*config.Configuration, error) {
	path, err := config.Find(filename, e.opts.ConfigDirs...)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func (e *Extender) registerListeners() {
	var errs *multierror.Error

	if err := e.shim.RegisterExtensionStateListener(&stateListener{e: e}); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := e.shim.RegisterHTTPListener(&httpListener{e: e}); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := e.shim.RegisterScannerListener(&scannerListener{e: e}); err != nil {
		errs = multierror.Append(errs, err)
	}

	if err := errs.ErrorOrNil(); err != nil {
		e.mgr.Warn("failed to register listeners", "err", err)
	}
}

// trackConfig tracks the configuration file, so that it is reloaded on change.
func (e *Extender) trackConfig() {
	cfg := e.Config()
	if cfg.Filename() == "" {
		return
	}

	e.registry.Track(monitor.Subject{
		Kind:     monitor.KindConfig,
		Module:   "config",
		Location: cfg.Filename(),
		Value:    cfg,
	})
}

func (e *Extender) startWatcher() {
	if e.opts.DisableWatcher {
		return
	}

	watcher, err := monitor.NewWatcher(e.registry, e.reloadLocation, e.opts.Debounce)
	if err != nil {
		e.mgr.Warn("failed to start watcher, reloading is disabled", "err", err)
		return
	}

	e.lock.Lock()
	e.watcher = watcher
	e.lock.Unlock()

	e.mgr.Go("watcher", watcher.Run)
}

func (e *Extender) currentLoader() *loader.Loader {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return e.loader
}

// Invoke implements shared.Host.
func (e *Extender) Invoke(op string, args ...any) (any, error) {
	return e.shim.Invoke(op, args...)
}

// IssueAlert implements shared.Host.
func (e *Extender) IssueAlert(message string) error {
	return e.shim.IssueAlert(message)
}

// LoadSetting implements shared.Host.
func (e *Extender) LoadSetting(name, fallback string) (string, error) {
	return e.settings.Load(name, fallback)
}

// SaveSetting implements shared.Host.
func (e *Extender) SaveSetting(name, value string) error {
	return e.settings.Save(name, value)
}

// IsInScope implements shared.Host.
func (e *Extender) IsInScope(url string) (bool, error) {
	return e.shim.IsInScope(url)
}

// IncludeInScope implements shared.Host.
func (e *Extender) IncludeInScope(url string) error {
	return e.shim.IncludeInScope(url)
}

// ExcludeFromScope implements shared.Host.
func (e *Extender) ExcludeFromScope(url string) error {
	return e.shim.ExcludeFromScope(url)
}

// saveConfig writes the configuration back to its file, if it has one.
func (e *Extender) saveConfig() error {
	err := e.Config().Save()
	if errors.Is(err, config.ErrNoFile) {
		return nil
	}
	return err
}
