// Package shared contains the types plugin authors implement and consume.
//
// A plugin component is any Go value. It takes part in an event family by
// implementing the matching interface:
//
//   - IssueHandler is notified about new scan issues.
//   - RequestProcessor may inspect and modify outgoing requests.
//   - ResponseProcessor may inspect and modify incoming responses.
//   - MenuHandler contributes a context menu action.
//
// Components that embed Base (or otherwise implement Activatable) receive the
// host handle, the configuration and a logger when they are activated.
package shared
