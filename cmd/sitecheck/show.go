package main

import (
	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <instance-id>",
	Short: "Show sections, items, progress and what still blocks submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		r, err := buildReport(s)
		if err != nil {
			return err
		}
		if showJSON {
			return writeJSON(cmd.OutOrStdout(), r)
		}
		return writeReport(cmd.OutOrStdout(), r)
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "print the report as JSON")
}
