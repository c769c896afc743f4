package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
)

// eventFlags — флаги описания события.
type eventFlags struct {
	eventType  string
	action     string
	ref        string
	baseRef    string
	sha        string
	repository string
}

func (f *eventFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.eventType, "type", string(domain.EventPush), "Event type (push, pull_request, schedule, manual)")
	cmd.Flags().StringVar(&f.action, "action", "", "Pull request action (opened, synchronize, reopened, ready_for_review)")
	cmd.Flags().StringVar(&f.ref, "ref", "", "Git ref, e.g. refs/heads/master")
	cmd.Flags().StringVar(&f.baseRef, "base-ref", "", "Target branch of the pull request")
	cmd.Flags().StringVar(&f.sha, "sha", "", "Commit to build")
	cmd.Flags().StringVar(&f.repository, "repository", "", "Repository URL")
}

func (f *eventFlags) event() (domain.Event, error) {
	switch domain.EventType(f.eventType) {
	case domain.EventPush, domain.EventPullRequest, domain.EventSchedule, domain.EventManual:
	default:
		return domain.Event{}, fmt.Errorf("unknown event type %q", f.eventType)
	}
	return domain.Event{
		Type:       domain.EventType(f.eventType),
		Action:     f.action,
		Ref:        f.ref,
		BaseRef:    f.baseRef,
		SHA:        f.sha,
		Repository: f.repository,
		ReceivedAt: time.Now(),
	}, nil
}

// NewEventCmd создаёт группу команд для событий-триггеров.
func NewEventCmd(clientFn func() *Client, cfgFn func() (*config.Config, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Send trigger events and follow run notifications",
	}

	cmd.AddCommand(
		newEventSendCmd(clientFn, outputFn),
		newEventPublishCmd(cfgFn, outputFn),
		newEventWatchCmd(cfgFn, outputFn),
	)

	return cmd
}

func newEventSendCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var flags eventFlags

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send an event to the server over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := flags.event()
			if err != nil {
				return err
			}
			out := outputFn()

			resp, err := clientFn().SendEvent(cmd.Context(), EventInfo{
				Type:       string(ev.Type),
				Action:     ev.Action,
				Ref:        ev.Ref,
				BaseRef:    ev.BaseRef,
				SHA:        ev.SHA,
				Repository: ev.Repository,
			})
			if err != nil {
				return err
			}

			if !resp.Matched {
				out.Success("Event ignored: " + resp.Reason)
				if out.JSONMode() {
					out.JSON(resp)
				}
				return nil
			}

			rows := make([][]string, len(resp.Runs))
			for i, r := range resp.Runs {
				rows[i] = runRow(r)
			}
			out.Print(runHeaders, rows, resp)
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

func newEventPublishCmd(cfgFn func() (*config.Config, error), outputFn func() *Output) *cobra.Command {
	var flags eventFlags

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event to RabbitMQ",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := flags.event()
			if err != nil {
				return err
			}

			conn, err := dialBroker(cmd.Context(), cfgFn)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := mq.NewPublisher(conn, slog.Default()).PublishEvent(cmd.Context(), ev); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Event %s published to %s", ev.Type, mq.ExchangeEvents))
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

func newEventWatchCmd(cfgFn func() (*config.Config, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print run.finished notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dialBroker(cmd.Context(), cfgFn)
			if err != nil {
				return err
			}
			defer conn.Close()

			out := outputFn()
			consumer := mq.NewConsumer(conn, mq.ConsumerConfig{
				Queue: mq.QueueRunsFinished,
				Handler: func(_ context.Context, msg *mq.Message) error {
					return printFinished(out, msg)
				},
				Logger: slog.Default(),
			})

			err = consumer.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// printFinished выводит уведомление о завершении run.
func printFinished(out *Output, msg *mq.Message) error {
	if msg.Type != mq.MessageTypeRunFinished {
		return mq.Permanent(fmt.Errorf("unexpected message type %q", msg.Type))
	}
	p, err := mq.ParsePayload[mq.RunFinishedPayload](msg)
	if err != nil {
		return mq.Permanent(err)
	}

	if out.JSONMode() {
		out.JSON(p)
		return nil
	}
	out.Table(
		[]string{"RUN", "PIPELINE", "RUNNER", "STATUS", "FAILED_STEP", "REF", "DURATION"},
		[][]string{{p.RunID.String(), p.Pipeline, p.RunnerLabel, string(p.Status), p.FailedStep, p.Ref, formatMs(p.DurationMs)}},
	)
	return nil
}

// dialBroker подключается к RabbitMQ из конфигурации и объявляет топологию.
func dialBroker(ctx context.Context, cfgFn func() (*config.Config, error)) (*mq.Connection, error) {
	cfg, err := cfgFn()
	if err != nil {
		return nil, err
	}
	url := cfg.RabbitMQURL
	if url == "" {
		url = mq.DefaultURL()
	}

	conn, err := mq.NewConnection(url, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	if err := mq.SetupTopology(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
