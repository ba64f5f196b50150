package host

import "sort"

// Host operation names.
const (
	OpMakeHTTPRequest                 = "makeHttpRequest"
	OpSendToRepeater                  = "sendToRepeater"
	OpSendToIntruder                  = "sendToIntruder"
	OpSendToSpider                    = "sendToSpider"
	OpDoActiveScan                    = "doActiveScan"
	OpDoPassiveScan                   = "doPassiveScan"
	OpGetScanIssues                   = "getScanIssues"
	OpRegisterMenuItem                = "registerMenuItem"
	OpGetProxyHistory                 = "getProxyHistory"
	OpAddToSiteMap                    = "addToSiteMap"
	OpGetSiteMap                      = "getSiteMap"
	OpExcludeFromScope                = "excludeFromScope"
	OpIncludeInScope                  = "includeInScope"
	OpIsInScope                       = "isInScope"
	OpIssueAlert                      = "issueAlert"
	OpRestoreState                    = "restoreState"
	OpSaveState                       = "saveState"
	OpLoadConfig                      = "loadConfig"
	OpSaveConfig                      = "saveConfig"
	OpSetProxyInterceptionEnabled     = "setProxyInterceptionEnabled"
	OpGetBurpVersion                  = "getBurpVersion"
	OpExitSuite                       = "exitSuite"
	OpAddScanIssue                    = "addScanIssue"
	OpAddSuiteTab                     = "addSuiteTab"
	OpApplyMarkers                    = "applyMarkers"
	OpCreateMessageEditor             = "createMessageEditor"
	OpCreateTextEditor                = "createTextEditor"
	OpCustomizeUIComponent            = "customizeUiComponent"
	OpGetHelpers                      = "getHelpers"
	OpGetStderr                       = "getStderr"
	OpGetStdout                       = "getStdout"
	OpGetToolName                     = "getToolName"
	OpRegisterContextMenuFactory      = "registerContextMenuFactory"
	OpRegisterExtensionStateListener  = "registerExtensionStateListener"
	OpRegisterHTTPListener            = "registerHttpListener"
	OpRegisterPayloadGeneratorFactory = "registerIntruderPayloadGeneratorFactory"
	OpRegisterPayloadProcessor        = "registerIntruderPayloadProcessor"
	OpRegisterMessageEditorTabFactory = "registerMessageEditorTabFactory"
	OpRegisterProxyListener           = "registerProxyListener"
	OpRegisterScannerCheck            = "registerScannerCheck"
	OpRegisterInsertionPointProvider  = "registerScannerInsertionPointProvider"
	OpRegisterScannerListener         = "registerScannerListener"
	OpRegisterSessionHandlingAction   = "registerSessionHandlingAction"
	OpRemoveSuiteTab                  = "removeSuiteTab"
	OpSaveBuffersToTempFiles          = "saveBuffersToTempFiles"
	OpSaveToTempFile                  = "saveToTempFile"
	OpSetExtensionName                = "setExtensionName"
	OpLoadExtensionSetting            = "loadExtensionSetting"
	OpSaveExtensionSetting            = "saveExtensionSetting"
	OpUnloadExtension                 = "unloadExtension"
)

// Variadic marks an operation without an upper argument limit.
const Variadic = -1

// Operation describes the argument shape of a host operation.
type Operation struct {
	Name    string
	MinArgs int
	// MaxArgs is the maximum number of arguments or Variadic.
	MaxArgs int
}

// Accepts returns whether n arguments fit the operation.
func (op Operation) Accepts(n int) bool {
	if n < op.MinArgs {
		return false
	}
	return op.MaxArgs == Variadic || n <= op.MaxArgs
}

// Operations lists the known host operations.
// Operations not listed here are passed through without argument checks.
var Operations = map[string]Operation{}

func init() {
	for _, op := range []Operation{
		// Tools.
		// makeHttpRequest takes (service, request) or (host, port, useHttps, request).
		{Name: OpMakeHTTPRequest, MinArgs: 2, MaxArgs: 4},
		{Name: OpSendToRepeater, MinArgs: 5, MaxArgs: 5},
		{Name: OpSendToIntruder, MinArgs: 4, MaxArgs: 5},
		{Name: OpSendToSpider, MinArgs: 1, MaxArgs: 1},
		{Name: OpDoActiveScan, MinArgs: 4, MaxArgs: 5},
		{Name: OpDoPassiveScan, MinArgs: 5, MaxArgs: 5},
		{Name: OpGetScanIssues, MinArgs: 1, MaxArgs: 1},
		{Name: OpAddScanIssue, MinArgs: 1, MaxArgs: 1},
		{Name: OpGetToolName, MinArgs: 1, MaxArgs: 1},

		// Proxy and site map.
		{Name: OpGetProxyHistory, MinArgs: 0, MaxArgs: 0},
		{Name: OpAddToSiteMap, MinArgs: 1, MaxArgs: 1},
		{Name: OpGetSiteMap, MinArgs: 1, MaxArgs: 1},
		{Name: OpSetProxyInterceptionEnabled, MinArgs: 1, MaxArgs: 1},

		// Scope.
		{Name: OpExcludeFromScope, MinArgs: 1, MaxArgs: 1},
		{Name: OpIncludeInScope, MinArgs: 1, MaxArgs: 1},
		{Name: OpIsInScope, MinArgs: 1, MaxArgs: 1},

		// Suite state and configuration.
		{Name: OpIssueAlert, MinArgs: 1, MaxArgs: 1},
		{Name: OpRestoreState, MinArgs: 1, MaxArgs: 1},
		{Name: OpSaveState, MinArgs: 1, MaxArgs: 1},
		{Name: OpLoadConfig, MinArgs: 1, MaxArgs: 1},
		{Name: OpSaveConfig, MinArgs: 0, MaxArgs: 0},
		{Name: OpGetBurpVersion, MinArgs: 0, MaxArgs: 0},
		{Name: OpExitSuite, MinArgs: 1, MaxArgs: 1},

		// UI.
		{Name: OpRegisterMenuItem, MinArgs: 2, MaxArgs: 2},
		{Name: OpAddSuiteTab, MinArgs: 1, MaxArgs: 1},
		{Name: OpRemoveSuiteTab, MinArgs: 1, MaxArgs: 1},
		{Name: OpCreateMessageEditor, MinArgs: 2, MaxArgs: 2},
		{Name: OpCreateTextEditor, MinArgs: 0, MaxArgs: 0},
		{Name: OpCustomizeUIComponent, MinArgs: 1, MaxArgs: 1},

		// Helpers and buffers.
		{Name: OpApplyMarkers, MinArgs: 1, MaxArgs: 3},
		{Name: OpGetHelpers, MinArgs: 0, MaxArgs: 0},
		{Name: OpGetStderr, MinArgs: 0, MaxArgs: 0},
		{Name: OpGetStdout, MinArgs: 0, MaxArgs: 0},
		{Name: OpSaveBuffersToTempFiles, MinArgs: 1, MaxArgs: 1},
		{Name: OpSaveToTempFile, MinArgs: 1, MaxArgs: 1},

		// Listener and factory registration.
		{Name: OpRegisterContextMenuFactory, MinArgs: 1, MaxArgs: 1},
		{Name: OpRegisterExtensionStateListener, MinArgs: 1, MaxArgs: 1},
		{Name: OpRegisterHTTPListener, MinArgs: 1, MaxArgs: 1},
		{Name: OpRegisterPayloadGeneratorFactory, MinArgs: 1, MaxArgs: 1},
		{Name: OpRegisterPayloadProcessor, MinArgs: 1, MaxArgs: 1},
		{Name: OpRegisterMessageEditorTabFactory, MinArgs: 1, MaxArgs: 1},
		{Name: OpRegisterProxyListener, MinArgs: 1, MaxArgs: 1},
		{Name: OpRegisterScannerCheck, MinArgs: 1, MaxArgs: 1},
		{Name: OpRegisterInsertionPointProvider, MinArgs: 1, MaxArgs: 1},
		{Name: OpRegisterScannerListener, MinArgs: 1, MaxArgs: 1},
		{Name: OpRegisterSessionHandlingAction, MinArgs: 1, MaxArgs: 1},

		// Extension.
		{Name: OpSetExtensionName, MinArgs: 1, MaxArgs: 1},
		{Name: OpLoadExtensionSetting, MinArgs: 1, MaxArgs: 1},
		{Name: OpSaveExtensionSetting, MinArgs: 2, MaxArgs: 2},
		{Name: OpUnloadExtension, MinArgs: 0, MaxArgs: 0},
	} {
		Operations[op.Name] = op
	}
}

// OperationNames returns the names of all known operations, sorted.
func OperationNames() []string {
	names := make([]string, 0, len(Operations))
	for name := range Operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
