package host

import (
	"fmt"
	"maps"
	"net/url"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/safing/extender/plugin/shared"
)

// DefaultSiteMapPrefix is used by SiteMap when no prefix is given.
const DefaultSiteMapPrefix = "http"

// MakeHTTPRequest issues a request to the service and returns the host's
// request/response object.
func (s *Shim) MakeHTTPRequest(service shared.Service, request []byte) (any, error) {
	return s.Invoke(OpMakeHTTPRequest, service.Host, service.Port, service.UseHTTPS(), request)
}

// SendToRepeater opens a repeater tab with the request.
func (s *Shim) SendToRepeater(service shared.Service, request []byte, tabCaption string) error {
	return s.call(OpSendToRepeater, service.Host, service.Port, service.UseHTTPS(), request, tabCaption)
}

// SendToIntruder sends the request to the intruder tool.
func (s *Shim) SendToIntruder(service shared.Service, request []byte) error {
	return s.call(OpSendToIntruder, service.Host, service.Port, service.UseHTTPS(), request)
}

// SendToSpider adds the URL to scope, if needed, and sends it to the spider.
func (s *Shim) SendToSpider(rawURL string) error {
	u, err := parseURL(rawURL)
	if err != nil {
		return err
	}

	inScope, err := s.IsInScope(rawURL)
	if err != nil {
		return err
	}
	if !inScope {
		if err := s.IncludeInScope(rawURL); err != nil {
			return err
		}
	}

	return s.call(OpSendToSpider, u)
}

// DoActiveScan starts an active scan of the request.
func (s *Shim) DoActiveScan(service shared.Service, request []byte) (any, error) {
	return s.Invoke(OpDoActiveScan, service.Host, service.Port, service.UseHTTPS(), request)
}

// DoPassiveScan runs a passive scan over the request and response.
func (s *Shim) DoPassiveScan(service shared.Service, request, response []byte) (any, error) {
	return s.Invoke(OpDoPassiveScan, service.Host, service.Port, service.UseHTTPS(), request, response)
}

// ScanIssues returns the scan issues of URLs starting with urlPrefix.
func (s *Shim) ScanIssues(urlPrefix string) ([]any, error) {
	result, err := s.Invoke(OpGetScanIssues, urlPrefix)
	if err != nil {
		return nil, err
	}
	return toSlice(OpGetScanIssues, result)
}

// AddScanIssue registers a new scan issue with the host.
func (s *Shim) AddScanIssue(issue *shared.Issue) error {
	return s.call(OpAddScanIssue, issue)
}

// IsInScope returns whether the URL is in the suite scope.
func (s *Shim) IsInScope(rawURL string) (bool, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return false, err
	}
	return invokeAs[bool](s, OpIsInScope, u)
}

// IncludeInScope adds the URL to the suite scope.
func (s *Shim) IncludeInScope(rawURL string) error {
	u, err := parseURL(rawURL)
	if err != nil {
		return err
	}
	return s.call(OpIncludeInScope, u)
}

// ExcludeFromScope removes the URL from the suite scope.
func (s *Shim) ExcludeFromScope(rawURL string) error {
	u, err := parseURL(rawURL)
	if err != nil {
		return err
	}
	return s.call(OpExcludeFromScope, u)
}

// ProxyHistory returns the proxy history. If patterns are given, only items
// whose URL matches at least one of the regular expressions are returned.
// Items without a URL never match a pattern.
func (s *Shim) ProxyHistory(patterns ...string) ([]any, error) {
	matchers := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid history pattern %q: %w", pattern, err)
		}
		matchers = append(matchers, re)
	}

	result, err := s.Invoke(OpGetProxyHistory)
	if err != nil {
		return nil, err
	}
	items, err := toSlice(OpGetProxyHistory, result)
	if err != nil || len(matchers) == 0 {
		return items, err
	}

	filtered := make([]any, 0, len(items))
	for _, item := range items {
		withURL, ok := item.(interface{ URL() string })
		if !ok {
			continue
		}
		itemURL := withURL.URL()
		for _, re := range matchers {
			if re.MatchString(itemURL) {
				filtered = append(filtered, item)
				break
			}
		}
	}
	return filtered, nil
}

// SiteMap returns the site map items whose URL starts with one of the
// prefixes, or with DefaultSiteMapPrefix if none are given.
func (s *Shim) SiteMap(urlPrefixes ...string) ([]any, error) {
	if len(urlPrefixes) == 0 {
		urlPrefixes = []string{DefaultSiteMapPrefix}
	}

	var items []any
	for _, prefix := range urlPrefixes {
		result, err := s.Invoke(OpGetSiteMap, prefix)
		if err != nil {
			return nil, err
		}
		prefixItems, err := toSlice(OpGetSiteMap, result)
		if err != nil {
			return nil, err
		}
		items = append(items, prefixItems...)
	}
	return items, nil
}

// AddToSiteMap adds an item to the site map.
func (s *Shim) AddToSiteMap(item any) error {
	return s.call(OpAddToSiteMap, item)
}

// IssueAlert shows the message in the alerts tab of the host.
func (s *Shim) IssueAlert(message string) error {
	return s.call(OpIssueAlert, message)
}

// SaveState saves the suite state to the file. It blocks until the state is
// saved and must not be called from an event delivery callback.
func (s *Shim) SaveState(filename string) error {
	absPath, err := filepath.Abs(filename)
	if err != nil {
		return err
	}
	return s.call(OpSaveState, absPath)
}

// RestoreState restores the suite state from the file.
func (s *Shim) RestoreState(filename string) error {
	absPath, err := filepath.Abs(filename)
	if err != nil {
		return err
	}
	return s.call(OpRestoreState, absPath)
}

// LoadConfig replaces the host configuration. Keys not in config are reset
// to their defaults.
func (s *Shim) LoadConfig(config map[string]string) error {
	return s.call(OpLoadConfig, maps.Clone(config))
}

// SaveConfig returns a copy of the host configuration.
func (s *Shim) SaveConfig() (map[string]string, error) {
	result, err := s.Invoke(OpSaveConfig)
	if err != nil {
		return nil, err
	}

	switch v := result.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		return maps.Clone(v), nil
	case map[string]any:
		config := make(map[string]string, len(v))
		for key, value := range v {
			config[key] = fmt.Sprint(value)
		}
		return config, nil
	default:
		return nil, fmt.Errorf("%s: %w: %T", OpSaveConfig, ErrUnexpectedResult, result)
	}
}

// SetProxyInterceptionEnabled switches proxy interception on or off.
func (s *Shim) SetProxyInterceptionEnabled(enabled bool) error {
	return s.call(OpSetProxyInterceptionEnabled, enabled)
}

// HostVersion returns the version of the running host.
// Hosts report either a version string or a list of product name, major and
// minor version.
func (s *Shim) HostVersion() (*version.Version, error) {
	result, err := s.Invoke(OpGetBurpVersion)
	if err != nil {
		return nil, err
	}

	var raw string
	switch v := result.(type) {
	case string:
		raw = v
	case []string:
		if len(v) < 2 {
			return nil, fmt.Errorf("%s: %w: %v", OpGetBurpVersion, ErrUnexpectedResult, v)
		}
		raw = strings.Join(v[1:], ".")
	default:
		return nil, fmt.Errorf("%s: %w: %T", OpGetBurpVersion, ErrUnexpectedResult, result)
	}

	hostVersion, err := version.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse host version %q: %w", raw, err)
	}
	return hostVersion, nil
}

// ExitSuite shuts down the host. If the call returns without error when
// prompting, the user canceled the shutdown.
func (s *Shim) ExitSuite(promptUser bool) error {
	return s.call(OpExitSuite, promptUser)
}

// ToolName returns the name of a numeric tool flag.
func (s *Shim) ToolName(flag int) (string, error) {
	return invokeAs[string](s, OpGetToolName, flag)
}

// SetExtensionName sets the display name of the extension.
func (s *Shim) SetExtensionName(name string) error {
	return s.call(OpSetExtensionName, name)
}

// RegisterMenuItem adds a context menu item.
func (s *Shim) RegisterMenuItem(caption string, handler any) error {
	return s.call(OpRegisterMenuItem, caption, handler)
}

// RegisterExtensionStateListener registers a listener for extension state
// changes.
func (s *Shim) RegisterExtensionStateListener(listener any) error {
	return s.call(OpRegisterExtensionStateListener, listener)
}

// RegisterHTTPListener registers a listener for HTTP traffic of all tools.
func (s *Shim) RegisterHTTPListener(listener any) error {
	return s.call(OpRegisterHTTPListener, listener)
}

// RegisterScannerListener registers a listener for new scan issues.
func (s *Shim) RegisterScannerListener(listener any) error {
	return s.call(OpRegisterScannerListener, listener)
}

// LoadExtensionSetting returns a raw extension setting. Unset settings are
// returned as an empty string.
func (s *Shim) LoadExtensionSetting(name string) (string, error) {
	return invokeAs[string](s, OpLoadExtensionSetting, name)
}

// SaveExtensionSetting stores a raw extension setting.
func (s *Shim) SaveExtensionSetting(name, value string) error {
	return s.call(OpSaveExtensionSetting, name, value)
}

func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url %q: %w", ErrInvalidArguments, rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: url %q is not absolute", ErrInvalidArguments, rawURL)
	}
	return u, nil
}

// toSlice converts a slice result of any element type to []any.
func toSlice(op string, result any) ([]any, error) {
	if result == nil {
		return nil, nil
	}
	if items, ok := result.([]any); ok {
		return items, nil
	}

	rv := reflect.ValueOf(result)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%s: %w: %T", op, ErrUnexpectedResult, result)
	}

	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}
