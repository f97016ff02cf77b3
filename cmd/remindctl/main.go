package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "remindctl",
	Short: "remindctl - operator tool for health reminder schedules",
	Long: `remindctl works directly against the reminders database.
It can create and edit schedules, resolve notifications, run the
reconciliation sweep and export schedules as iCalendar.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newScheduleCommand())
	rootCmd.AddCommand(newNotificationCommand())
	rootCmd.AddCommand(newReconcileCommand())
	rootCmd.AddCommand(newExportCommand())
	rootCmd.AddCommand(newCalendarCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
