package shared

import (
	"fmt"
	"strconv"
	"strings"
)

// Tool identifies the host tool that produced a message.
type Tool string

// Host tools.
const (
	ToolSuite     Tool = "suite"
	ToolTarget    Tool = "target"
	ToolProxy     Tool = "proxy"
	ToolSpider    Tool = "spider"
	ToolScanner   Tool = "scanner"
	ToolIntruder  Tool = "intruder"
	ToolRepeater  Tool = "repeater"
	ToolSequencer Tool = "sequencer"
	ToolDecoder   Tool = "decoder"
	ToolComparer  Tool = "comparer"
	ToolExtender  Tool = "extender"
)

// toolFlags lists the tools by their numeric host flag.
var toolFlags = []struct {
	flag int
	tool Tool
}{
	{1, ToolSuite},
	{2, ToolTarget},
	{4, ToolProxy},
	{8, ToolSpider},
	{16, ToolScanner},
	{32, ToolIntruder},
	{64, ToolRepeater},
	{128, ToolSequencer},
	{256, ToolDecoder},
	{512, ToolComparer},
	{1024, ToolExtender},
}

// ToolFromFlag returns the tool for a numeric host tool flag.
func ToolFromFlag(flag int) (Tool, bool) {
	for _, tf := range toolFlags {
		if tf.flag == flag {
			return tf.tool, true
		}
	}
	return "", false
}

// Flag returns the numeric host flag of the tool, or 0.
func (t Tool) Flag() int {
	for _, tf := range toolFlags {
		if tf.tool == t {
			return tf.flag
		}
	}
	return 0
}

// ParseTool parses a tool name or numeric flag.
func ParseTool(s string) (Tool, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if flag, err := strconv.Atoi(s); err == nil {
		if tool, ok := ToolFromFlag(flag); ok {
			return tool, nil
		}
		return "", fmt.Errorf("unknown tool flag %d", flag)
	}

	tool := Tool(s)
	if tool.Flag() == 0 {
		return "", fmt.Errorf("unknown tool %q", s)
	}
	return tool, nil
}

// Service describes the target of a message.
type Service struct {
	Host     string
	Port     int
	Protocol string
}

// UseHTTPS returns whether the service is reached via https.
func (s Service) UseHTTPS() bool {
	return strings.EqualFold(s.Protocol, "https")
}

// Message is a single HTTP request/response pair as seen by a host tool.
// During dispatch the same Message is handed to every processor in turn.
type Message struct {
	Tool      Tool
	IsRequest bool

	Request  []byte
	Response []byte
	Service  Service

	Comment   string
	Highlight string

	// Native holds the host object the message was created from.
	Native any
}

// URL returns the URL of the request, built from the service and the request
// line.
func (msg *Message) URL() string {
	path := "/"
	line, _, _ := strings.Cut(string(msg.Request), "\n")
	if fields := strings.Fields(line); len(fields) >= 2 {
		path = fields[1]
	}
	// Absolute request target, as sent to proxies.
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}

	scheme := strings.ToLower(msg.Service.Protocol)
	if scheme == "" {
		scheme = "http"
	}
	host := msg.Service.Host
	if msg.Service.Port != 0 &&
		!(scheme == "http" && msg.Service.Port == 80) &&
		!(scheme == "https" && msg.Service.Port == 443) {
		host += ":" + strconv.Itoa(msg.Service.Port)
	}
	return scheme + "://" + host + path
}

// Issue is a scan issue reported by the host.
type Issue struct {
	Name        string
	Detail      string
	Background  string
	Remediation string
	URL         string
	Severity    string
	Confidence  string

	Service  Service
	Messages []*Message

	// Native holds the host object the issue was created from.
	Native any
}
