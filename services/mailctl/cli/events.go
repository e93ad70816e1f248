package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
	"github.com/Mutter0815/MailScheduler/pkg/rmq"
)

// EventSource streams delivery events published by the sender worker.
type EventSource interface {
	Stream(ctx context.Context) (<-chan campaign.DeliveryEvent, error)
	Close() error
}

type rmqEvents struct {
	cons *rmq.Consumer
}

func DialEvents(url, queue string) (EventSource, error) {
	cons, err := rmq.NewConsumer(url, queue, 50)
	if err != nil {
		return nil, err
	}
	return &rmqEvents{cons: cons}, nil
}

func (r *rmqEvents) Close() error { return r.cons.Close() }

// Stream acks each event once decoded; undecodable messages are dropped.
func (r *rmqEvents) Stream(ctx context.Context) (<-chan campaign.DeliveryEvent, error) {
	msgs, err := r.cons.Consume()
	if err != nil {
		return nil, err
	}
	out := make(chan campaign.DeliveryEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				var ev campaign.DeliveryEvent
				if err := json.Unmarshal(d.Body, &ev); err != nil {
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func newEventsCommand() *cobra.Command {
	var (
		url   string
		queue string
		count int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail delivery events from RabbitMQ",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if url == "" {
				url = os.Getenv("RMQ_URL")
			}
			if url == "" {
				return fmt.Errorf("no broker configured: pass --rmq-url or set RMQ_URL")
			}
			if rt.events == nil {
				rt.events = DialEvents
			}
			src, err := rt.events(url, queue)
			if err != nil {
				return fmt.Errorf("events: %w", err)
			}
			defer src.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			events, err := src.Stream(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(rt.out)
			seen := 0
			for ev := range events {
				if rt.OutputFormat() == FormatJSON {
					if err := enc.Encode(ev); err != nil {
						return err
					}
				} else {
					writeEventLine(rt, ev)
				}
				seen++
				if count > 0 && seen >= count {
					return nil
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "rmq-url", "", "AMQP URL (default $RMQ_URL)")
	cmd.Flags().StringVar(&queue, "queue", envOr("EVENTS_QUEUE", "email_events"), "Event queue name")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Stop after n events (0 = until interrupted)")
	return cmd
}

func writeEventLine(rt *runtimeState, ev campaign.DeliveryEvent) {
	next := "-"
	if ev.NextDue != nil {
		next = ev.NextDue.UTC().Format(time.RFC3339)
	}
	line := fmt.Sprintf("%s  job=%s email=%d outcome=%s state=%s attempts=%d next=%s",
		ev.At.UTC().Format(time.RFC3339), ev.JobID, ev.EmailID, ev.Outcome, ev.State, ev.Attempts, next)
	if ev.Error != "" {
		line += " error=" + fmt.Sprintf("%q", ev.Error)
	}
	_, _ = fmt.Fprintln(rt.out, line)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
