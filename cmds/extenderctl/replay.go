package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/safing/extender/plugin"
	"github.com/safing/extender/plugin/host"
	"github.com/safing/extender/plugin/settings"
	"github.com/safing/extender/plugin/shared"
	"github.com/safing/extender/service/mgr"
)

// ResponseSuffix is appended to a request file name to find its response.
const ResponseSuffix = ".response"

var (
	replayTool        string
	replayTarget      string
	replayConfigDir   string
	replayDB          string
	replayBackend     string
	replayHostVersion string
	replayMetrics     bool

	replayCmd = &cobra.Command{
		Use:   "replay <request file>...",
		Short: "Run the extender against a local host and pass raw HTTP requests through the enabled plugins",
		Long: `Run the extender against a local host and pass raw HTTP requests through the enabled plugins.

Each file holds one raw HTTP request. If a file named like the request file
plus "` + ResponseSuffix + `" exists, it is passed to the plugins as the response.
The requests and responses are printed as changed by the plugins.`,
		Args: cobra.MinimumNArgs(1),
		RunE: replay,
	}
)

func init() {
	rootCmd.AddCommand(replayCmd)

	flags := replayCmd.Flags()
	{
		flags.StringVar(&replayTool, "tool", string(shared.ToolProxy), "Sets the tool the traffic is attributed to.")
		flags.StringVar(&replayTarget, "target", "", "Sets the target service as URL, defaults to the Host header.")
		flags.StringVar(&replayConfigDir, "config-dir", ".", "Sets the directory holding the configuration file.")
		flags.StringVar(&replayDB, "db", "", "Sets a settings database to use as extension settings.")
		flags.StringVar(&replayBackend, "backend", settings.BackendBolt, "Sets the settings database backend: bolt or badger.")
		flags.StringVar(&replayHostVersion, "host-version", "2.1", "Sets the version reported by the local host.")
		flags.BoolVar(&replayMetrics, "metrics", false, "Prints the extender metrics when done.")
		_ = replayCmd.MarkFlagDirname("config-dir")
	}
}

func replay(cmd *cobra.Command, args []string) error {
	tool, err := shared.ParseTool(replayTool)
	if err != nil {
		return err
	}

	local := host.NewLocal(append([]string{"Local Host"}, strings.Split(replayHostVersion, ".")...)...)
	if replayDB != "" {
		store, err := settings.Open(replayBackend, replayDB)
		if err != nil {
			return err
		}
		defer func() {
			_ = store.Close()
		}()
		local.SetSettingsBackend(store)
	}

	e := plugin.New(plugin.Options{
		ConfigDirs:     []string{replayConfigDir},
		DisableWatcher: true,
		LogConsole:     cmd.ErrOrStderr(),
		NoLogFile:      true,
	})
	group := mgr.NewGroup(cmd.Context(), plugin.NewModule(e, local))
	if err := group.Start(); err != nil {
		return err
	}
	defer group.Stop()

	listener, err := httpListener(local)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, file := range args {
		msg, hasResponse, err := readMessage(file)
		if err != nil {
			return err
		}

		if err := listener.ProcessHTTPMessage(tool.Flag(), true, msg); err != nil {
			logger.Warn("plugins failed to process request", "file", file, "err", err)
		}
		fmt.Fprintf(out, "### %s %s\n%s\n", file, msg.URL(), msg.Request)

		if hasResponse {
			if err := listener.ProcessHTTPMessage(tool.Flag(), false, msg); err != nil {
				logger.Warn("plugins failed to process response", "file", file, "err", err)
			}
			fmt.Fprintf(out, "### %s%s\n%s\n", file, ResponseSuffix, msg.Response)
		}
	}

	for _, alert := range local.Alerts() {
		logger.Info("host alert", "msg", alert)
	}
	if replayMetrics {
		e.WriteMetrics(cmd.ErrOrStderr())
	}
	return nil
}

func httpListener(local *host.Local) (plugin.HTTPListener, error) {
	for _, l := range local.Listeners(host.OpRegisterHTTPListener) {
		if listener, ok := l.(plugin.HTTPListener); ok {
			return listener, nil
		}
	}
	return nil, errors.New("extender did not register an HTTP listener")
}

func readMessage(file string) (msg *shared.Message, hasResponse bool, err error) {
	request, err := os.ReadFile(file)
	if err != nil {
		return nil, false, err
	}

	msg = &shared.Message{Request: toCRLF(request)}
	msg.Service, err = service(msg.Request)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", file, err)
	}

	response, err := os.ReadFile(file + ResponseSuffix)
	switch {
	case err == nil:
		msg.Response = toCRLF(response)
		return msg, true, nil
	case errors.Is(err, fs.ErrNotExist):
		return msg, false, nil
	default:
		return nil, false, err
	}
}

// service returns the target service from the --target flag or the Host
// header of the request.
func service(request []byte) (shared.Service, error) {
	target := replayTarget
	if target == "" {
		for _, line := range strings.Split(string(request), "\r\n")[1:] {
			name, value, ok := strings.Cut(line, ":")
			if ok && strings.EqualFold(strings.TrimSpace(name), "host") {
				target = "http://" + strings.TrimSpace(value)
				break
			}
			if line == "" {
				break
			}
		}
	}
	if target == "" {
		return shared.Service{}, errors.New("no target: set --target or a Host header")
	}

	u, err := url.Parse(target)
	if err != nil {
		return shared.Service{}, fmt.Errorf("invalid target: %w", err)
	}
	svc := shared.Service{
		Host:     u.Hostname(),
		Protocol: u.Scheme,
		Port:     80,
	}
	if svc.Protocol == "https" {
		svc.Port = 443
	}
	if port := u.Port(); port != "" {
		svc.Port, err = strconv.Atoi(port)
		if err != nil {
			return shared.Service{}, fmt.Errorf("invalid target port: %w", err)
		}
	}
	return svc, nil
}

func toCRLF(data []byte) []byte {
	if bytes.Contains(data, []byte("\r\n")) {
		return data
	}
	return bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
}
