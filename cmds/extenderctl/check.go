package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/hashicorp/go-version"
	"github.com/spf13/cobra"

	"github.com/safing/extender/plugin/config"
	"github.com/safing/extender/plugin/loader"
	"github.com/safing/extender/plugin/shared"
)

var (
	checkHostVersion string

	checkCmd = &cobra.Command{
		Use:   "check <config file>",
		Short: "Show which plugins the enable-lists of a configuration activate",
		Args:  cobra.ExactArgs(1),
		RunE:  check,
	}
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkHostVersion, "host-version", "", "Checks plugins against this host version.")
}

func check(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}

	l := loader.New(loader.Default, logger.Logger)
	if checkHostVersion != "" {
		v, err := version.NewVersion(checkHostVersion)
		if err != nil {
			return fmt.Errorf("invalid host version: %w", err)
		}
		l.SetHostVersion(v)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tENTRY\tPLUGIN\tSTATE\tCAPABILITIES")

	var failed int
	for _, kind := range []loader.Kind{loader.KindMenu, loader.KindComponent} {
		for _, entry := range cfg.EnableList(kind.Section()) {
			if !entry.Enabled {
				fmt.Fprintf(tw, "%s\t%s\t-\tdisabled\t-\n", kind, entry.QualifiedName)
				continue
			}

			defs, err := l.Resolve(entry.QualifiedName, kind)
			if err != nil {
				failed++
				fmt.Fprintf(tw, "%s\t%s\t-\terror: %s\t-\n", kind, entry.QualifiedName, err)
				continue
			}
			if len(defs) == 0 {
				fmt.Fprintf(tw, "%s\t%s\t-\tno match\t-\n", kind, entry.QualifiedName)
				continue
			}

			for _, def := range defs {
				state := "active"
				switch {
				case kind == loader.KindMenu && !def.Capabilities().Has(shared.CapMenuAction):
					failed++
					state = "error: not a menu handler"
				case kind == loader.KindComponent && !def.Activatable():
					state = "skipped: does not accept an environment"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					kind, entry.QualifiedName, def.QualifiedName(), state, def.Capabilities())
			}
		}
	}

	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d entries failed", failed)
	}
	return nil
}
