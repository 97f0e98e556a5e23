// Command queuewatch follows an appointment from a terminal the way the
// patient and doctor screens do: by polling the API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"consultation-queue-server/internal/client"
	"consultation-queue-server/internal/models"
	"consultation-queue-server/internal/observability"
	"consultation-queue-server/internal/queue"
	"consultation-queue-server/internal/watch"
)

type globals struct {
	baseURL  string
	token    string
	interval time.Duration
	logLevel string
}

func main() {
	_ = godotenv.Load()

	g := &globals{}
	rootCmd := &cobra.Command{
		Use:          "queuewatch",
		Short:        "Follow a consultation queue or thread from the terminal",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.baseURL, "base-url", envOr("QUEUEWATCH_BASE_URL", "http://localhost:3001/api/v1"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("QUEUEWATCH_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().DurationVar(&g.interval, "interval", 5*time.Second, "poll interval")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level")

	rootCmd.AddCommand(queueCmd(g))
	rootCmd.AddCommand(threadCmd(g))
	rootCmd.AddCommand(sendCmd(g))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (g *globals) setup() (*client.Client, zerolog.Logger, error) {
	if g.token == "" {
		return nil, zerolog.Logger{}, fmt.Errorf("a token is required (--token or QUEUEWATCH_TOKEN)")
	}
	logger := observability.InitLogger("queuewatch", "development", g.logLevel)
	return client.New(g.baseURL, g.token), logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func queueCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "queue <appointment-id>",
		Short: "Print queue position changes until the appointment leaves the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, err := g.setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			w := watch.NewQueueWatcher(c, args[0], watch.QueueOptions{
				Interval: g.interval,
				OnUpdate: func(s watch.Snapshot[queue.Position]) {
					if !s.Valid {
						logger.Warn().Err(s.Err).Msg("No position yet")
						return
					}
					p := s.Value
					logger.Info().
						Int("queue_number", p.QueueNumber).
						Int("current_serving", p.CurrentServing).
						Int("ahead", p.Ahead).
						Int("wait_minutes", p.EstimatedWaitMinutes).
						Str("status", string(p.AppointmentStatus)).
						Str("doctor", string(p.DoctorStatus)).
						Bool("stale", s.Stale).
						Msg("Queue")
				},
				OnTurn: func(p queue.Position) {
					logger.Info().Str("meet_link", p.MeetLink).Msg("It's your turn")
				},
				Logger: logger,
			})
			w.Start(ctx)
			defer w.Stop()

			select {
			case <-ctx.Done():
			case <-w.Done():
			}
			return w.Err()
		},
	}
}

func threadCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "thread <appointment-id>",
		Short: "Print new messages until the appointment is closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, err := g.setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			printed := map[string]bool{}
			w := watch.NewThreadWatcher(c, args[0], watch.ThreadOptions{
				Interval: g.interval,
				OnUpdate: func(s watch.ThreadState) {
					for _, m := range s.Messages {
						if m.ID == "" || printed[m.ID] {
							continue
						}
						printed[m.ID] = true
						printMessage(m)
					}
				},
				Logger: logger,
			})
			w.Start(ctx)
			defer w.Stop()

			select {
			case <-ctx.Done():
			case <-w.Done():
			}
			return w.Err()
		},
	}
}

func sendCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "send <appointment-id> <message>",
		Short: "Post a message to an appointment thread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, err := g.setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			msg, err := c.SendMessage(ctx, args[0], args[1], uuid.NewString())
			if err != nil {
				return err
			}
			logger.Info().Str("message_id", msg.ID).Msg("Sent")
			return nil
		},
	}
}

func printMessage(m models.Message) {
	fmt.Printf("%s  %-7s  %s\n", m.CreatedAt.Local().Format("15:04"), m.SenderType, m.Content)
}
