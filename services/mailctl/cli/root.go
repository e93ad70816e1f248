// Package cli implements mailctl, the operator command line for the mail
// scheduler: schema migration, scheduling campaigns, inspecting emails and
// tailing delivery events.
package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
	"github.com/Mutter0815/MailScheduler/internal/scheduling"
	"github.com/Mutter0815/MailScheduler/internal/store"
	"github.com/Mutter0815/MailScheduler/pkg/db"
)

type emailService interface {
	ScheduleCampaign(ctx context.Context, req campaign.ScheduleReq) ([]campaign.ScheduledJob, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]campaign.Email, error)
	GetByID(ctx context.Context, id int64) (campaign.Email, error)
	Stats(ctx context.Context) (scheduling.Stats, error)
}

// Backend is the database side of the CLI.
type Backend struct {
	Service emailService
	Migrate func(ctx context.Context) error
	Close   func() error
}

type Config struct {
	Out     io.Writer
	Connect func(ctx context.Context, dsn string, maxAttempts int) (*Backend, error)
	// Events opens a delivery event stream. Defaults to RabbitMQ.
	Events func(url, queue string) (EventSource, error)
}

type runtimeState struct {
	dsn          string
	outputFormat string
	maxAttempts  int
	out          io.Writer
	connect      func(ctx context.Context, dsn string, maxAttempts int) (*Backend, error)
	events       func(url, queue string) (EventSource, error)
	backend      *Backend
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{Out: os.Stdout, Connect: ConnectPostgres, Events: DialEvents}
}

// ConnectPostgres opens the database and builds the scheduling service on it.
func ConnectPostgres(ctx context.Context, dsn string, maxAttempts int) (*Backend, error) {
	sqlDB, err := db.Open(dsn)
	if err != nil {
		return nil, err
	}
	st := store.New(sqlDB)
	return &Backend{
		Service: scheduling.NewService(st, maxAttempts),
		Migrate: func(ctx context.Context) error { return db.Migrate(ctx, sqlDB) },
		Close:   sqlDB.Close,
	}, nil
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		out:     cfg.Out,
		connect: cfg.Connect,
		events:  cfg.Events,
	}
	if rt.out == nil {
		rt.out = os.Stdout
	}

	root := &cobra.Command{
		Use:           "mailctl",
		Short:         "Operate the mail scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if rt.dsn == "" {
				rt.dsn = os.Getenv("DB_DSN")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("MAILCTL_OUTPUT")
			}
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.close()
		},
	}

	root.PersistentFlags().StringVar(&rt.dsn, "dsn", "", "Postgres DSN (default $DB_DSN)")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().IntVar(&rt.maxAttempts, "max-attempts", 3, "Delivery attempts per scheduled email")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		newMigrateCommand(),
		newScheduleCommand(),
		newListCommand(),
		newGetCommand(),
		newStatsCommand(),
		newEventsCommand(),
	)
	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// Backend connects on first use; commands that never touch the database
// never need a DSN.
func (rt *runtimeState) Backend(ctx context.Context) (*Backend, error) {
	if rt.backend != nil {
		return rt.backend, nil
	}
	if rt.dsn == "" {
		return nil, errors.New("no database configured: pass --dsn or set DB_DSN")
	}
	if rt.connect == nil {
		rt.connect = ConnectPostgres
	}
	b, err := rt.connect(ctx, rt.dsn, rt.maxAttempts)
	if err != nil {
		return nil, err
	}
	rt.backend = b
	return b, nil
}

func (rt *runtimeState) close() error {
	if rt.backend == nil || rt.backend.Close == nil {
		return nil
	}
	err := rt.backend.Close()
	rt.backend = nil
	return err
}

func (rt *runtimeState) OutputFormat() Format {
	if rt.outputFormat != "" {
		return Format(rt.outputFormat)
	}
	return FormatTable
}
