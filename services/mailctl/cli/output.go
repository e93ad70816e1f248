package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
	"github.com/Mutter0815/MailScheduler/internal/scheduling"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

func writeObject(w io.Writer, format Format, obj any) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, string(data))
		return err
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func writeEmailTable(w io.Writer, emails []campaign.Email) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTO\tSENDER\tSTATUS\tSCHEDULED\tSENT\tLAST_ERROR")
	for _, e := range emails {
		sender := "-"
		if e.Sender != nil {
			sender = e.Sender.Email
		}
		sent := "-"
		if e.SentAt != nil {
			sent = formatTime(*e.SentAt)
		}
		lastErr := e.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.To, sender, e.Status, formatTime(e.ScheduledAt), sent, lastErr)
	}
	_ = tw.Flush()
}

func writeJobsTable(w io.Writer, jobs []campaign.ScheduledJob) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "EMAIL_ID\tJOB_ID")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(tw, "%d\t%s\n", j.EmailID, j.JobID)
	}
	_ = tw.Flush()
}

func writeStatsTable(w io.Writer, st scheduling.Stats) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TOTAL\tPENDING\tSENT\tFAILED\tQUEUED_JOBS")
	_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\n", st.Total, st.Pending, st.Sent, st.Failed, st.QueuedJobs)
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
