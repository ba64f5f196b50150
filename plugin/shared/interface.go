package shared

import (
	"log/slog"

	"github.com/safing/extender/plugin/config"
)

type (
	// IssueHandler is notified whenever the host reports a new, unique scan
	// issue.
	IssueHandler interface {
		NewScanIssue(issue *Issue) error
	}

	// RequestProcessor is called for every request made by a host tool,
	// after the tool finished processing it and before it is sent. Changes to
	// msg are seen by all later processors and the host.
	RequestProcessor interface {
		ProcessRequest(msg *Message) error
	}

	// ResponseProcessor is called for every response received by a host tool,
	// before the tool processes it.
	ResponseProcessor interface {
		ProcessResponse(msg *Message) error
	}

	// ToolFilter may be implemented by request and response processors to
	// restrict processing to messages of the returned tools.
	// An empty list means all tools.
	ToolFilter interface {
		Tools() []Tool
	}

	// MenuHandler contributes an item to the context menus of the host.
	MenuHandler interface {
		// Caption returns the caption of the menu item.
		Caption() string

		// MenuItemClicked is called when the user clicks the menu item.
		// msgs holds the messages selected when the menu was opened.
		MenuItemClicked(caption string, msgs []*Message) error
	}

	// Activatable is implemented by components that want to receive the
	// shared environment on activation.
	Activatable interface {
		SetEnv(env Env)
	}

	// Host is the part of the host callback surface exposed to plugins.
	Host interface {
		// Invoke calls a host operation by name, see the host package for the
		// list of operations.
		Invoke(op string, args ...any) (any, error)

		IssueAlert(message string) error
		LoadSetting(name, fallback string) (string, error)
		SaveSetting(name, value string) error
		IsInScope(url string) (bool, error)
		IncludeInScope(url string) error
		ExcludeFromScope(url string) error
	}
)

// Env is the shared environment handed to every activated component.
type Env struct {
	Host   Host
	Config *config.Configuration
	Log    *slog.Logger
}

// Base can be embedded into components to make them activatable.
// The environment fields are then available directly on the component.
//
//	type HeaderCheck struct {
//		shared.Base
//	}
//
//	func (hc *HeaderCheck) ProcessResponse(msg *shared.Message) error {
//		hc.Log.Info("checking headers", "url", msg.URL())
//		return nil
//	}
type Base struct {
	Env
}

// SetEnv implements Activatable. Calling it again replaces the environment.
func (b *Base) SetEnv(env Env) {
	b.Env = env
}
