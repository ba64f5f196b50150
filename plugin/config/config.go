// Package config provides the INI based extender configuration.
//
// The configuration file holds one section per concern. The "components" and
// "menus" sections are enable-lists that map qualified plugin names to a
// boolean, in declaration order:
//
//	[components]
//	scanners.passive.HeaderCheck = true
//	scanners.active.* = false
//
//	[menus]
//	menus.repeater.* = true
//
// Plugins may keep their own settings in additional sections.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

// Well known section names.
const (
	SectionComponents = "components"
	SectionMenus      = "menus"
)

// DefaultFilename is the file name searched for when the configured file does
// not exist.
const DefaultFilename = "extender.ini"

var (
	// ErrNotFound is returned by Find when no configuration file exists.
	ErrNotFound = errors.New("configuration file not found")

	// ErrNoFile is returned when saving or reloading a configuration that is
	// not backed by a file.
	ErrNoFile = errors.New("configuration is not backed by a file")
)

var loadOptions = ini.LoadOptions{
	// A bare "pkg.mod.Plugin" line means enabled.
	AllowBooleanKeys: true,
}

type (
	// Configuration is a set of named sections, optionally backed by a file.
	// It is safe for concurrent use.
	Configuration struct {
		filename string

		lock sync.RWMutex
		file *ini.File
	}

	// Section gives typed access to one section of a configuration.
	// It stays valid across Reload.
	Section struct {
		name string
		cfg  *Configuration
	}

	// Option is a key/value pair of a section.
	Option struct {
		Name  string
		Value string
	}

	// EnableEntry is one entry of an enable-list.
	EnableEntry struct {
		// QualifiedName is "<module>.<selector>", the selector may be a
		// wildcard pattern like "*".
		QualifiedName string
		Enabled       bool
	}
)

// Load reads the configuration file at filename.
func Load(filename string) (*Configuration, error) {
	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %s: %w", filename, err)
	}

	file, err := ini.LoadSources(loadOptions, absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", absPath, err)
	}

	return &Configuration{
		filename: absPath,
		file:     file,
	}, nil
}

// Parse parses configuration data that is not backed by a file.
func Parse(data []byte) (*Configuration, error) {
	file, err := ini.LoadSources(loadOptions, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &Configuration{file: file}, nil
}

// Empty returns an empty configuration that is not backed by a file.
func Empty() *Configuration {
	return &Configuration{file: ini.Empty(loadOptions)}
}

// Find returns the path of the configuration file. If filename does not exist,
// a file named like filename (or DefaultFilename) is searched in fallbackDirs.
func Find(filename string, fallbackDirs ...string) (string, error) {
	if filename != "" && fileExists(filename) {
		return filepath.Abs(filename)
	}

	base := filepath.Base(filename)
	if filename == "" {
		base = DefaultFilename
	}

	for _, dir := range fallbackDirs {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, base)
		if fileExists(candidate) {
			return filepath.Abs(candidate)
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNotFound, filename)
}

func fileExists(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && !stat.IsDir()
}

// Filename returns the absolute path of the backing file, or an empty string.
func (cfg *Configuration) Filename() string {
	return cfg.filename
}

// Reload re-reads the backing file. The current content is kept if the file
// cannot be parsed.
func (cfg *Configuration) Reload() error {
	if cfg.filename == "" {
		return ErrNoFile
	}

	file, err := ini.LoadSources(loadOptions, cfg.filename)
	if err != nil {
		return fmt.Errorf("failed to reload config %s: %w", cfg.filename, err)
	}

	cfg.lock.Lock()
	defer cfg.lock.Unlock()

	cfg.file = file
	return nil
}

// Save writes the configuration to its backing file.
func (cfg *Configuration) Save() error {
	if cfg.filename == "" {
		return ErrNoFile
	}

	cfg.lock.RLock()
	defer cfg.lock.RUnlock()

	if err := cfg.file.SaveTo(cfg.filename); err != nil {
		return fmt.Errorf("failed to save config %s: %w", cfg.filename, err)
	}
	return nil
}

// Sections returns the names of all sections, excluding the unnamed default
// section.
func (cfg *Configuration) Sections() []string {
	cfg.lock.RLock()
	defer cfg.lock.RUnlock()

	names := make([]string, 0)
	for _, name := range cfg.file.SectionStrings() {
		if name == ini.DefaultSection {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Section returns the named section. The section does not need to exist.
func (cfg *Configuration) Section(name string) *Section {
	return &Section{
		name: name,
		cfg:  cfg,
	}
}

// EnableList returns the enable-list stored in the named section.
// Values that are not valid booleans count as disabled.
func (cfg *Configuration) EnableList(section string) []EnableEntry {
	options := cfg.Section(section).Options()

	entries := make([]EnableEntry, 0, len(options))
	for _, opt := range options {
		enabled, err := parseBool(opt.Value)
		entries = append(entries, EnableEntry{
			QualifiedName: opt.Name,
			Enabled:       err == nil && enabled,
		})
	}
	return entries
}

// Name returns the section name.
func (s *Section) Name() string {
	return s.name
}

func (s *Section) key(name string) (*ini.Key, bool) {
	sec, err := s.cfg.file.GetSection(s.name)
	if err != nil {
		return nil, false
	}
	if !sec.HasKey(name) {
		return nil, false
	}
	return sec.Key(name), true
}

// Has returns whether the section holds the key.
func (s *Section) Has(name string) bool {
	s.cfg.lock.RLock()
	defer s.cfg.lock.RUnlock()

	_, ok := s.key(name)
	return ok
}

// Get returns the raw value of the key, or fallback.
func (s *Section) Get(name, fallback string) string {
	s.cfg.lock.RLock()
	defer s.cfg.lock.RUnlock()

	key, ok := s.key(name)
	if !ok {
		return fallback
	}
	return key.String()
}

// GetBool returns the key as boolean, or fallback if the key is missing or
// not a boolean.
func (s *Section) GetBool(name string, fallback bool) bool {
	value, err := parseBool(s.Get(name, ""))
	if err != nil {
		return fallback
	}
	return value
}

// GetInt returns the key as integer, or fallback if the key is missing or not
// an integer.
func (s *Section) GetInt(name string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(s.Get(name, "")))
	if err != nil {
		return fallback
	}
	return value
}

// GetList returns the key split at commas and newlines. Empty items are
// dropped.
func (s *Section) GetList(name string) []string {
	raw := s.Get(name, "")
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n'
	})

	list := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			list = append(list, f)
		}
	}
	return list
}

// Set sets the key, creating the section if needed.
func (s *Section) Set(name, value string) {
	s.cfg.lock.Lock()
	defer s.cfg.lock.Unlock()

	sec := s.cfg.file.Section(s.name)
	if sec.HasKey(name) {
		sec.Key(name).SetValue(value)
		return
	}
	// NewKey only fails for empty names.
	_, _ = sec.NewKey(name, value)
}

// Options returns all key/value pairs in declaration order.
func (s *Section) Options() []Option {
	s.cfg.lock.RLock()
	defer s.cfg.lock.RUnlock()

	sec, err := s.cfg.file.GetSection(s.name)
	if err != nil {
		return nil
	}

	keys := sec.Keys()
	options := make([]Option, 0, len(keys))
	for _, key := range keys {
		options = append(options, Option{
			Name:  key.Name(),
			Value: key.String(),
		})
	}
	return options
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "yes", "true", "on", "enabled":
		return true, nil
	case "0", "no", "false", "off", "disabled":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", value)
	}
}
