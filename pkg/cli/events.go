package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/events"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/events/rabbitmq"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type eventsTailFlags struct {
	queue   string
	binding string
	poll    time.Duration
	limit   int
}

func newEventsCommand(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect session events published on RabbitMQ",
	}

	flags := &eventsTailFlags{}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print session events as they arrive",
		Long: `Bind a durable queue to the events exchange and print every event as one JSON line.

Examples:
  # Everything
  testmanager events tail

  # Only completions, stop after 10
  testmanager events tail --binding session.completed --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.Config.RabbitMQ_URL == "" {
				return errors.New("RABBITMQ_URL is required to tail events")
			}
			broker, err := rabbitmq.NewBroker(a.Config.RabbitMQ_URL, a.Config.EventsExchange, a.Logger)
			if err != nil {
				return err
			}
			defer broker.Close()
			if err := broker.DeclareQueue(flags.queue, flags.binding); err != nil {
				return err
			}
			if size, err := broker.QueueSize(flags.queue); err == nil && size > 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), color.YellowString("%d events waiting in %s", size, flags.queue))
			}
			err = tailEvents(cmd.Context(), broker, flags.queue, cmd.OutOrStdout(), flags.poll, flags.limit, a.Logger)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	tail.Flags().StringVar(&flags.queue, "queue", "testmanager.events.tail", "Queue to consume from")
	tail.Flags().StringVar(&flags.binding, "binding", "#", "Routing key pattern, e.g. session.*")
	tail.Flags().DurationVar(&flags.poll, "poll", time.Second, "Wait between polls of an empty queue")
	tail.Flags().IntVar(&flags.limit, "limit", 0, "Stop after this many events (0 for no limit)")

	cmd.AddCommand(tail)
	return cmd
}

// tailEvents writes each event from queue to w until ctx is done or limit events were seen.
func tailEvents(ctx context.Context, sub events.Subscriber, queue string, w io.Writer, poll time.Duration, limit int, logger *slog.Logger) error {
	enc := json.NewEncoder(w)
	seen := 0
	for limit <= 0 || seen < limit {
		event, ack, err := sub.Next(ctx, queue)
		if err != nil {
			return err
		}
		if event == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(poll):
			}
			continue
		}
		if err := enc.Encode(event); err != nil {
			if nackErr := ack.Nack(true); nackErr != nil {
				logger.Warn("Failed to requeue event", slog.String("event_id", event.ID), slog.String("error", nackErr.Error()))
			}
			return err
		}
		if err := ack.Ack(); err != nil {
			return err
		}
		seen++
	}
	return nil
}
