package main

import (
	"github.com/spf13/cobra"

	"github.com/pyconau/precord/internal/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch recent registrations in a terminal UI",
	Long: `Monitor shows a live view of the most recent pending and active
registrations, refreshed once per second. Press q to quit.`,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	return monitor.Run(app.store)
}
