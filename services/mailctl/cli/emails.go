package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			b, err := rt.Backend(cmd.Context())
			if err != nil {
				return err
			}
			if err := b.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			_, _ = fmt.Fprintln(rt.out, "schema up to date")
			return nil
		},
	}
}

func newScheduleCommand() *cobra.Command {
	var (
		req   campaign.ScheduleReq
		start string
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a campaign: one email per recipient",
		Example: `  mailctl schedule --sender-email ops@example.com --subject Hi --body Hello \
    --to a@example.com --to b@example.com --start 2026-10-18T09:00:00Z --hourly-limit 100 --delay-ms 2000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if start == "" {
				req.StartTime = time.Now().UTC()
			} else {
				t, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				req.StartTime = t
			}

			b, err := rt.Backend(cmd.Context())
			if err != nil {
				return err
			}
			jobs, err := b.Service.ScheduleCampaign(cmd.Context(), req)
			if len(jobs) > 0 {
				if werr := writeJobs(rt, jobs); werr != nil {
					return werr
				}
			}
			if err != nil {
				return fmt.Errorf("scheduled %d of %d: %w", len(jobs), len(req.Recipients), err)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Subject, "subject", "", "Subject line")
	f.StringVar(&req.Body, "body", "", "Message body")
	f.StringSliceVar(&req.Recipients, "to", nil, "Recipient address, repeatable or comma separated")
	f.StringVar(&start, "start", "", "Start time, RFC3339 (default now)")
	f.Int64Var(&req.DelayBetweenEmails, "delay-ms", 0, "Pause after each successful send, in milliseconds")
	f.IntVar(&req.HourlyLimit, "hourly-limit", 100, "Maximum sends per sender per clock hour")
	f.StringVar(&req.SenderEmail, "sender-email", "", "Sender address")
	f.StringVar(&req.SenderName, "sender-name", "", "Sender display name")
	return cmd
}

func writeJobs(rt *runtimeState, jobs []campaign.ScheduledJob) error {
	if f := rt.OutputFormat(); f != FormatTable {
		return writeObject(rt.out, f, jobs)
	}
	writeJobsTable(rt.out, jobs)
	return nil
}

func newListCommand() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:       "list <pending|sent|failed>",
		Short:     "List emails by status",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"pending", "sent", "failed"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			b, err := rt.Backend(cmd.Context())
			if err != nil {
				return err
			}
			emails, err := b.Service.ListByStatus(cmd.Context(), strings.ToUpper(args[0]), limit, offset)
			if err != nil {
				return err
			}
			if f := rt.OutputFormat(); f != FormatTable {
				return writeObject(rt.out, f, emails)
			}
			writeEmailTable(rt.out, emails)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid id %q", args[0])
			}
			b, err := rt.Backend(cmd.Context())
			if err != nil {
				return err
			}
			e, err := b.Service.GetByID(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("email %d: %w", id, err)
			}
			if f := rt.OutputFormat(); f != FormatTable {
				return writeObject(rt.out, f, e)
			}
			writeEmailTable(rt.out, []campaign.Email{e})
			return nil
		},
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Email counts by status and queued jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			b, err := rt.Backend(cmd.Context())
			if err != nil {
				return err
			}
			st, err := b.Service.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if f := rt.OutputFormat(); f != FormatTable {
				return writeObject(rt.out, f, st)
			}
			writeStatsTable(rt.out, st)
			return nil
		},
	}
}
