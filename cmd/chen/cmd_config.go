package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"chen/internal/settings"
	"chen/internal/ui"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigView()
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show all settings with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigView()
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <field>",
	Short: "Print one setting's value (secrets are masked)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := settingsStore()
		if err != nil {
			return err
		}
		value, err := store.Get(args[0])
		if err != nil {
			return err
		}
		if field, ok := settings.FieldByName(args[0]); ok && field.Secret {
			value = settings.Mask(value)
		}
		fmt.Println(value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Validate and persist one setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := settingsStore()
		if err != nil {
			return err
		}
		if err := store.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s updated\n", args[0])
		return nil
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all settings back to defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := settingsStore()
		if err != nil {
			return err
		}
		if err := store.Reset(); err != nil {
			return err
		}
		fmt.Println("settings reset; next run will start onboarding")
		return nil
	},
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Walk through first-run setup",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			return errors.New("onboarding needs an interactive terminal")
		}
		store, err := settingsStore()
		if err != nil {
			return err
		}
		flow := settings.NewFlow(store, os.Getenv)
		saved, err := ui.RunOnboarding(flow)
		if err != nil {
			return err
		}
		if !saved {
			return errors.New("onboarding cancelled; nothing written")
		}
		fmt.Println("settings saved to", store.Path())
		return nil
	},
}

func settingsStore() (*settings.Store, error) {
	dir, err := stateDir()
	if err != nil {
		return nil, err
	}
	return settings.NewStore(dir), nil
}

func runConfigView() error {
	store, err := settingsStore()
	if err != nil {
		return err
	}
	doc, complete := store.Load()

	display := doc.Display()
	names := make([]string, 0, len(display))
	for name := range display {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := display[name]
		if value == "" {
			value = "(not set)"
		}
		fmt.Printf("%-22s %s\n", name, value)
	}
	if !complete {
		fmt.Println("\nno model API key configured; run `chen onboard`")
	}
	return nil
}

func init() {
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
}
