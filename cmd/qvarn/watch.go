package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/qvarn/qvarn/internal/config"
	"github.com/qvarn/qvarn/internal/events"
	"github.com/qvarn/qvarn/internal/ui"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch [type]",
	Short:   "Print resource changes as they are published",
	GroupID: "tools",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats-url")
		if natsURL == "" && configPath != "" {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			natsURL = cfg.Events.NATSURL
		}
		if natsURL == "" {
			return fmt.Errorf("no NATS URL configured")
		}

		topic := events.AllChanges
		if len(args) == 1 {
			topic = events.TypeSubjects(args[0])
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return watchChanges(ctx, natsURL, topic, cmd.OutOrStdout())
	},
}

func watchChanges(ctx context.Context, natsURL, topic string, w io.Writer) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats: disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Changes(topic)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-ch:
			if !ok {
				return nil
			}
			fmt.Fprintln(w, formatChange(time.Now(), c))
		}
	}
}

func formatChange(at time.Time, c events.ResourceChanged) string {
	line := fmt.Sprintf("%s %s %s/%s", ui.RenderMuted(at.Format(time.TimeOnly)), ui.RenderChange(c.Change), c.Type, c.ID)
	if c.Revision != "" {
		line += " " + ui.RenderMuted(c.Revision)
	}
	return line
}

func init() {
	watchCmd.Flags().String("nats-url", os.Getenv("QVARN_EVENTS_NATS_URL"), "NATS server URL (defaults to events.nats_url)")
}
