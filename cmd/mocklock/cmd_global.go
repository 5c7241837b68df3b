package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var globalCmd = &cobra.Command{
	Use:   "global",
	Short: "Show or change the global mocking switch",
}

var globalOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Enable mocking",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setGlobal(cmd, true)
	},
}

var globalOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Disable mocking; every call reaches the network",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setGlobal(cmd, false)
	},
}

var globalStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print whether mocking is enabled",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := controlClient().Enabled(cmd.Context())
		if err != nil {
			return err
		}
		return printGlobal(cmd, enabled)
	},
}

func init() {
	globalCmd.AddCommand(globalOnCmd, globalOffCmd, globalStatusCmd)
	rootCmd.AddCommand(globalCmd)
}

func setGlobal(cmd *cobra.Command, enabled bool) error {
	if err := controlClient().SetEnabled(cmd.Context(), enabled); err != nil {
		return err
	}
	return printGlobal(cmd, enabled)
}

func printGlobal(cmd *cobra.Command, enabled bool) error {
	w := cmd.OutOrStdout()
	if !wantTable(w) {
		return printJSON(w, map[string]bool{"enabled": enabled})
	}
	state := "off"
	if enabled {
		state = "on"
	}
	_, err := fmt.Fprintf(w, "mocking is %s\n", state)
	return err
}
