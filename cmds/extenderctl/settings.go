package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/safing/extender/plugin/settings"
)

var (
	settingsDB      string
	settingsBackend string

	settingsCmd = &cobra.Command{
		Use:   "settings",
		Short: "Manage extension settings in a local settings database",
	}
	settingsGetCmd = &cobra.Command{
		Use:   "get <name>",
		Short: "Print a setting, or its default",
		Args:  cobra.ExactArgs(1),
		RunE:  settingsGet,
	}
	settingsSetCmd = &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Change a setting",
		Args:  cobra.ExactArgs(2),
		RunE:  settingsSet,
	}
	settingsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the well known and all stored settings",
		Args:  cobra.NoArgs,
		RunE:  settingsList,
	}
)

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd, settingsListCmd)
	settingsCmd.PersistentFlags().StringVar(&settingsDB, "db", "extender-settings.db", "Sets the settings database path.")
	settingsCmd.PersistentFlags().StringVar(&settingsBackend, "backend", settings.BackendBolt, "Sets the settings database backend: bolt or badger.")
}

func withSettings(fn func(ns *settings.Namespace, store settings.DBStore) error) (err error) {
	store, err := settings.Open(settingsBackend, settingsDB)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); err == nil {
			err = closeErr
		}
	}()

	return fn(settings.New(store), store)
}

func settingsGet(cmd *cobra.Command, args []string) error {
	return withSettings(func(ns *settings.Namespace, _ settings.DBStore) error {
		var fallback string
		if key, ok := settings.LookupKey(args[0]); ok {
			fallback = key.Default
		}

		value, err := ns.Load(args[0], fallback)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	})
}

func settingsSet(cmd *cobra.Command, args []string) error {
	return withSettings(func(ns *settings.Namespace, _ settings.DBStore) error {
		return ns.Save(args[0], args[1])
	})
}

func settingsList(cmd *cobra.Command, _ []string) error {
	return withSettings(func(ns *settings.Namespace, store settings.DBStore) error {
		values := make(map[string]string)
		for _, key := range settings.Keys {
			values[key.Name] = key.Default
		}

		reserved, err := ns.Reserved()
		if err != nil {
			return err
		}
		for name, value := range reserved {
			values[name] = value
		}

		plain, err := store.Names()
		if err != nil {
			return err
		}
		for _, name := range plain {
			if name == settings.BlobKey {
				continue
			}
			value, err := ns.Load(name, "")
			if err != nil {
				return err
			}
			values[name] = value
		}

		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", name, values[name])
		}
		return nil
	})
}
