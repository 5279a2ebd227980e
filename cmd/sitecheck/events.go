package main

import (
	"fmt"
	"sort"
	"strings"

	"sitecheck/internal/syncapi"

	"github.com/spf13/cobra"
)

var eventsSince int64

var eventsCmd = &cobra.Command{
	Use:   "events <instance-id>",
	Short: "List recent change events of a checklist instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := syncapi.New(syncapi.Config{
			BaseURL: cfg.API.BaseURL,
			Token:   cfg.API.Token,
			Timeout: cfg.API.Timeout,
		}, logger)

		events, err := client.ListEvents(cmd.Context(), args[0], eventsSince)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, e := range events {
			fmt.Fprintf(out, "%4d  %s  %-22s %s\n", e.Sequence, e.Timestamp.Format("2006-01-02 15:04:05"), e.Type(), eventDetail(e))
		}
		return nil
	},
}

// eventDetail renders the remaining event fields as sorted key=value pairs
func eventDetail(e syncapi.Event) string {
	keys := make([]string, 0, len(e.Event))
	for k := range e.Event {
		if k != "type" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Event[k]))
	}
	return strings.Join(parts, " ")
}

func init() {
	eventsCmd.Flags().Int64Var(&eventsSince, "since", 0, "only events after this sequence number")
}
