// Package plugin is the plugin core of a traffic inspection host extension.
//
// Plugins are Go types registered with a loader.Catalog at init time. The
// configuration file selects which of them are active:
//
//	[components]
//	scanners.passive.* = true
//	scanners.active.SQLCheck = false
//
//	[menus]
//	menus.repeater.SendAll = true
//
// On Start, the Extender attaches the host callbacks, sets up logging and the
// configuration, activates all enabled menus and components and starts
// watching their source locations and the configuration file for changes.
//
// A plugin takes part in an event family by implementing the matching
// interface of the shared package:
//
//   - shared.IssueHandler receives new scan issues.
//   - shared.RequestProcessor and shared.ResponseProcessor receive the traffic
//     of the host tools. All processors see the same message, in activation
//     order.
//   - shared.MenuHandler adds a context menu item.
//
// Embedding shared.Base gives a plugin access to the host, the configuration
// and a logger. Components without it are not activated.
//
// A plugin failing to handle an event is logged and does not keep the event
// from the other plugins.
package plugin
