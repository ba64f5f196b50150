// Package builtin holds plugins that ship with the extender.
// Importing the package registers them with loader.Default:
//
//	builtin.traffic.HeaderInjector  adds configured headers to requests
//	builtin.traffic.RequestLogger   logs all traffic
//	builtin.issues.HighSeverityAlert alerts the user about high severity issues
//	builtin.menus.SendToRepeater    sends the selected requests to the repeater
//
// Plugins read their options from the configuration section named like the
// plugin, for example:
//
//	[builtin.traffic.HeaderInjector]
//	headers = X-Pentest: acme-2024, X-Debug: 1
//	tools = proxy, repeater
package builtin

import (
	"github.com/safing/extender/plugin/loader"
)

// Module names.
const (
	ModuleTraffic = "builtin.traffic"
	ModuleIssues  = "builtin.issues"
	ModuleMenus   = "builtin.menus"
)

func init() {
	mustRegister(loader.Register(loader.Default, ModuleTraffic, "HeaderInjector", newHeaderInjector))
	mustRegister(loader.Register(loader.Default, ModuleTraffic, "RequestLogger", newRequestLogger))
	mustRegister(loader.Register(loader.Default, ModuleIssues, "HighSeverityAlert", newHighSeverityAlert))
	mustRegister(loader.Register(loader.Default, ModuleMenus, "SendToRepeater", newSendToRepeater))
}

func mustRegister(err error) {
	if err != nil {
		panic(err)
	}
}
