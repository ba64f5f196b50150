package builtin

import (
	"bytes"
	"strings"

	"github.com/safing/extender/plugin/shared"
)

// HeaderInjector adds the configured headers to every request. Options:
//
//	headers  list of "Name: value" headers
//	tools    list of tools to inject into, all tools if empty
type HeaderInjector struct {
	shared.Base
}

var (
	_ shared.RequestProcessor = &HeaderInjector{}
	_ shared.ToolFilter       = &HeaderInjector{}
)

func newHeaderInjector() (*HeaderInjector, error) {
	return &HeaderInjector{}, nil
}

func (hi *HeaderInjector) section() string {
	return ModuleTraffic + ".HeaderInjector"
}

// Tools implements shared.ToolFilter. It is read on activation, a changed
// tool list takes effect when the plugin is reactivated.
func (hi *HeaderInjector) Tools() []shared.Tool {
	if hi.Config == nil {
		return nil
	}

	var tools []shared.Tool
	for _, name := range hi.Config.Section(hi.section()).GetList("tools") {
		tool, err := shared.ParseTool(name)
		if err != nil {
			hi.Log.Warn("ignoring unknown tool", "tool", name, "err", err)
			continue
		}
		tools = append(tools, tool)
	}
	return tools
}

// ProcessRequest inserts the headers right after the request line, replacing
// headers of the same name.
func (hi *HeaderInjector) ProcessRequest(msg *shared.Message) error {
	if hi.Config == nil {
		return nil
	}
	headers := hi.Config.Section(hi.section()).GetList("headers")
	if len(headers) == 0 {
		return nil
	}

	msg.Request = injectHeaders(msg.Request, headers)
	return nil
}

func injectHeaders(request []byte, headers []string) []byte {
	head, body, found := bytes.Cut(request, []byte("\r\n\r\n"))
	lines := strings.Split(string(head), "\r\n")

	replaced := make(map[string]struct{}, len(headers))
	for _, header := range headers {
		name, _, _ := strings.Cut(header, ":")
		replaced[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}

	out := make([]string, 0, len(lines)+len(headers))
	out = append(out, lines[0])
	out = append(out, headers...)
	for _, line := range lines[1:] {
		name, _, _ := strings.Cut(line, ":")
		if _, ok := replaced[strings.ToLower(strings.TrimSpace(name))]; ok {
			continue
		}
		out = append(out, line)
	}

	result := []byte(strings.Join(out, "\r\n"))
	if found {
		result = append(result, "\r\n\r\n"...)
		result = append(result, body...)
	}
	return result
}

// RequestLogger logs every message at debug level, and requests with a
// response status of 500 or higher at warning level.
type RequestLogger struct {
	shared.Base
}

var (
	_ shared.RequestProcessor  = &RequestLogger{}
	_ shared.ResponseProcessor = &RequestLogger{}
)

func newRequestLogger() (*RequestLogger, error) {
	return &RequestLogger{}, nil
}

// ProcessRequest implements shared.RequestProcessor.
func (rl *RequestLogger) ProcessRequest(msg *shared.Message) error {
	rl.Log.Debug("request", "tool", msg.Tool, "url", msg.URL())
	return nil
}

// ProcessResponse implements shared.ResponseProcessor.
func (rl *RequestLogger) ProcessResponse(msg *shared.Message) error {
	status := statusCode(msg.Response)
	if strings.HasPrefix(status, "5") {
		rl.Log.Warn("server error", "tool", msg.Tool, "url", msg.URL(), "status", status)
		return nil
	}
	rl.Log.Debug("response", "tool", msg.Tool, "url", msg.URL(), "status", status)
	return nil
}

func statusCode(response []byte) string {
	line, _, _ := bytes.Cut(response, []byte("\n"))
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
