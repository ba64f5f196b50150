// Command extenderctl inspects and exercises extender plugins outside of the
// host application.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/safing/extender/base/log"
	_ "github.com/safing/extender/plugin/builtin"
)

var (
	logLevel string
	logger   *log.Logger

	rootCmd = &cobra.Command{
		Use:   "extenderctl",
		Short: "Inspect and exercise extender plugins",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
			logger, err = log.New(log.Options{
				Name:    "extenderctl",
				Level:   logLevel,
				Console: cmd.ErrOrStderr(),
			})
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	{
		flags.StringVar(&logLevel, "log", "warning", "Sets the log level of the console output.")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
