package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tazhate/healthreminders/internal/calendar"
	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/recurrence"
	"github.com/tazhate/healthreminders/internal/service"
)

// ruleFlags binds the recurrence rule fields to a command.
type ruleFlags struct {
	frequency string
	interval  int
	weekdays  []int
	monthDay  int
	anchor    string
	at        string
	timezone  string
	end       string
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.frequency, "freq", "DAILY", "Frequency (DAILY/WEEKLY/MONTHLY)")
	cmd.Flags().IntVar(&f.interval, "interval", 1, "Repeat every N periods")
	cmd.Flags().IntSliceVar(&f.weekdays, "weekday", nil, "Weekdays for WEEKLY rules, 0=Sunday")
	cmd.Flags().IntVar(&f.monthDay, "month-day", 0, "Day of month for MONTHLY rules")
	cmd.Flags().StringVar(&f.anchor, "anchor", "", "First eligible date (YYYY-MM-DD), default today")
	cmd.Flags().StringVar(&f.at, "at", domain.DefaultReminderTime, "Time of day (HH:MM)")
	cmd.Flags().StringVar(&f.timezone, "tz", "", "IANA timezone, default the configured one")
	cmd.Flags().StringVar(&f.end, "end", "", "Last eligible date (YYYY-MM-DD)")
}

func (f *ruleFlags) spec(defaultTZ *time.Location) domain.RecurrenceSpec {
	tz := f.timezone
	if tz == "" {
		tz = defaultTZ.String()
	}
	anchor := f.anchor
	if anchor == "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			anchor = time.Now().In(loc).Format(domain.DateLayout)
		}
	}

	spec := domain.RecurrenceSpec{
		Frequency:  domain.Frequency(f.frequency),
		Interval:   f.interval,
		ByMonthDay: f.monthDay,
		AnchorDate: anchor,
		TimeOfDay:  f.at,
		Timezone:   tz,
		EndDate:    f.end,
	}
	for _, d := range f.weekdays {
		spec.ByWeekday = append(spec.ByWeekday, time.Weekday(d))
	}
	return spec
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// reportPartial prints the saved schedule when a mutation only half applied.
func reportPartial(sc *domain.Schedule, err error) error {
	var dep *domain.DependencyError
	if errors.As(err, &dep) && dep.Partial && sc != nil {
		fmt.Fprintf(os.Stderr, "schedule %d saved, reminders not rescheduled; run `remindctl reconcile`\n", sc.ID)
	}
	return err
}

func formatNext(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func describe(sc *domain.Schedule) string {
	rule, err := recurrence.NewRule(sc.Spec)
	if err != nil {
		return "invalid rule: " + err.Error()
	}
	return rule.String()
}

func printSchedule(sc *domain.Schedule) {
	fmt.Printf("Schedule %d\n  rule:   %s\n  active: %t\n  next:   %s\n", sc.ID, describe(sc), sc.IsActive, formatNext(sc.NextTriggerAt))
}

func newScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Short:   "Schedule management commands",
		Aliases: []string{"schedules", "s"},
	}

	cmd.AddCommand(newScheduleListCommand())
	cmd.AddCommand(newScheduleCreateCommand())
	cmd.AddCommand(newScheduleUpdateCommand())
	cmd.AddCommand(newScheduleDeactivateCommand())
	cmd.AddCommand(newScheduleDeleteCommand())
	cmd.AddCommand(newSchedulePreviewCommand())

	return cmd
}

func newScheduleListCommand() *cobra.Command {
	var owner int64

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List an owner's schedules",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				list, err := a.schedules.List(cmd.Context(), owner)
				if err != nil {
					return fmt.Errorf("failed to list schedules: %w", err)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tLINK\tACTIVE\tNEXT\tRULE")
				for _, sc := range list {
					fmt.Fprintf(w, "%d\t%d\t%t\t%s\t%s\n", sc.ID, sc.UserVariableID, sc.IsActive, formatNext(sc.NextTriggerAt), describe(sc))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner user ID")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newScheduleCreateCommand() *cobra.Command {
	var (
		owner    int64
		variable int64
		inactive bool
		title    string
		message  string
		rule     ruleFlags
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a schedule for an owner's variable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				sc, err := a.schedules.Create(cmd.Context(), service.CreateScheduleInput{
					OwnerID:          owner,
					GlobalVariableID: variable,
					Spec:             rule.spec(a.cfg.Timezone),
					Inactive:         inactive,
					TitleTemplate:    title,
					MessageTemplate:  message,
				})
				if err != nil {
					return reportPartial(sc, err)
				}
				printSchedule(sc)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner user ID")
	cmd.Flags().Int64Var(&variable, "variable", 0, "Global variable ID")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Create the schedule paused")
	cmd.Flags().StringVar(&title, "title", "", "Title template, {variable} is substituted")
	cmd.Flags().StringVar(&message, "message", "", "Message template, {variable} and {value} are substituted")
	rule.register(cmd)
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("variable")
	return cmd
}

func newScheduleUpdateCommand() *cobra.Command {
	var (
		owner    int64
		activate bool
		title    string
		message  string
		rule     ruleFlags
	)

	cmd := &cobra.Command{
		Use:   "update [schedule_id]",
		Short: "Replace a schedule's rule or templates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			var in service.UpdateScheduleInput
			ruleChanged := false
			for _, name := range []string{"freq", "interval", "weekday", "month-day", "anchor", "at", "tz", "end"} {
				if cmd.Flags().Changed(name) {
					ruleChanged = true
				}
			}
			if cmd.Flags().Changed("activate") {
				in.IsActive = &activate
			}
			if cmd.Flags().Changed("title") {
				in.TitleTemplate = &title
			}
			if cmd.Flags().Changed("message") {
				in.MessageTemplate = &message
			}

			return withApp(func(a *app) error {
				if ruleChanged {
					spec := rule.spec(a.cfg.Timezone)
					in.Spec = &spec
				}
				sc, err := a.schedules.Update(cmd.Context(), id, owner, in)
				if err != nil {
					return reportPartial(sc, err)
				}
				printSchedule(sc)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner user ID")
	cmd.Flags().BoolVar(&activate, "activate", true, "Set whether the schedule is active")
	cmd.Flags().StringVar(&title, "title", "", "Title template")
	cmd.Flags().StringVar(&message, "message", "", "Message template")
	rule.register(cmd)
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newScheduleDeactivateCommand() *cobra.Command {
	var owner int64

	cmd := &cobra.Command{
		Use:   "deactivate [schedule_id]",
		Short: "Pause a schedule and drop its future reminders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				sc, err := a.schedules.Deactivate(cmd.Context(), id, owner)
				if err != nil {
					return reportPartial(sc, err)
				}
				fmt.Printf("Schedule %d deactivated\n", sc.ID)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner user ID")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newScheduleDeleteCommand() *cobra.Command {
	var owner int64

	cmd := &cobra.Command{
		Use:     "delete [schedule_id]",
		Short:   "Delete a schedule and its notification history",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				if err := a.schedules.Delete(cmd.Context(), id, owner); err != nil {
					return fmt.Errorf("failed to delete schedule: %w", err)
				}
				fmt.Printf("Schedule %d deleted\n", id)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner user ID")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newSchedulePreviewCommand() *cobra.Command {
	var (
		owner int64
		count int
	)

	cmd := &cobra.Command{
		Use:   "preview [schedule_id]",
		Short: "Show upcoming trigger times",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				sc, err := a.schedules.Get(cmd.Context(), id, owner)
				if err != nil {
					return err
				}
				times, err := a.schedules.Preview(cmd.Context(), id, owner, count)
				if err != nil {
					return err
				}
				loc, err := time.LoadLocation(sc.Spec.Timezone)
				if err != nil {
					loc = time.UTC
				}
				for _, t := range times {
					fmt.Println(t.In(loc).Format("Mon 2006-01-02 15:04 MST"))
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner user ID")
	cmd.Flags().IntVar(&count, "count", 5, "Number of occurrences")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newNotificationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notification",
		Short:   "Notification instance commands",
		Aliases: []string{"notifications", "n"},
	}

	cmd.AddCommand(newNotificationDueCommand())
	cmd.AddCommand(newNotificationResolveCommand())
	cmd.AddCommand(newNotificationHistoryCommand())

	return cmd
}

func newNotificationDueCommand() *cobra.Command {
	var (
		owner int64
		asOf  string
	)

	cmd := &cobra.Command{
		Use:   "due",
		Short: "List pending notifications that have triggered",
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Now()
			if asOf != "" {
				t, err := time.Parse(time.RFC3339, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
				at = t
			}
			return withApp(func(a *app) error {
				due, err := a.queue.ListPendingDue(cmd.Context(), owner, at)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tSCHEDULE\tTRIGGER\tTITLE")
				for _, d := range due {
					fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", d.Instance.ID, d.Instance.ScheduleID, d.Instance.TriggerAt.Format(time.RFC3339), d.Title)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner user ID")
	cmd.Flags().StringVar(&asOf, "as-of", "", "Reference time (RFC3339), default now")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newNotificationResolveCommand() *cobra.Command {
	var (
		owner   int64
		details string
	)

	cmd := &cobra.Command{
		Use:   "resolve [instance_id] [completed|skipped]",
		Short: "Complete or skip a pending notification",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var raw json.RawMessage
			if details != "" {
				raw = json.RawMessage(details)
			}
			return withApp(func(a *app) error {
				n, err := a.queue.Resolve(cmd.Context(), id, owner, args[1], raw)
				if err != nil {
					return err
				}
				fmt.Printf("Notification %d %s\n", n.ID, n.Status)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner user ID")
	cmd.Flags().StringVar(&details, "details", "", "Logged values as a JSON object")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newNotificationHistoryCommand() *cobra.Command {
	var owner int64

	cmd := &cobra.Command{
		Use:   "history [schedule_id]",
		Short: "List every notification of a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				list, err := a.queue.History(cmd.Context(), id, owner)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tTRIGGER\tSTATUS\tRESOLVED")
				for _, n := range list {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", n.ID, n.TriggerAt.Format(time.RFC3339), n.Status, formatNext(n.CompletedOrSkippedAt))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner user ID")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair next trigger times and pending reminders of every schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				report, err := a.schedules.Reconcile(cmd.Context(), time.Now())
				fmt.Printf("Checked %d schedules, repaired %d\n", report.Checked, report.Repaired)
				return err
			})
		},
	}
}

func newExportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export active schedules as an iCalendar file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				list, err := a.store.ListSchedules(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list schedules: %w", err)
				}
				ics, err := calendar.Export(cmd.Context(), list, a.store)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = fmt.Print(ics)
					return err
				}
				return os.WriteFile(output, []byte(ics), 0o644)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file")
	return cmd
}

func newCalendarCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "CalDAV mirror commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "discover",
		Short: "List calendars on the configured CalDAV server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				if a.calendar == nil {
					return errors.New("CalDAV is not configured")
				}
				cals, err := a.calendar.DiscoverCalendars(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "PATH\tNAME")
				for _, c := range cals {
					fmt.Fprintf(w, "%s\t%s\n", c.ID, c.DisplayName)
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Push every schedule to the CalDAV calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				if a.calendar == nil {
					return errors.New("CalDAV is not configured")
				}
				return syncCalendar(cmd.Context(), a)
			})
		},
	})

	return cmd
}

func syncCalendar(ctx context.Context, a *app) error {
	list, err := a.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list schedules: %w", err)
	}

	mirror := calendar.NewMirror(a.calendar, a.store, a.log)
	var errs []error
	for _, sc := range list {
		if err := mirror.Sync(ctx, sc); err != nil {
			errs = append(errs, fmt.Errorf("schedule %d: %w", sc.ID, err))
		}
	}
	fmt.Printf("Synced %d schedules, %d failed\n", len(list)-len(errs), len(errs))
	return errors.Join(errs...)
}
