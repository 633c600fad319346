package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/eventrelay/internal/domain"
	"github.com/pscheid92/eventrelay/internal/platform/retry"
	"github.com/pscheid92/eventrelay/internal/platform/version"
	"github.com/pscheid92/eventrelay/internal/relay"
	"github.com/pscheid92/eventrelay/internal/relayclient"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	relayURL   string
	redialMax  int
	redialWait time.Duration
}

func newWatchCmd() *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:     "watch TYPE[:ID]...",
		Short:   "Print dispatches for the given topics as JSON lines",
		Example: "  eventctl watch emote_set.update:01GG8F04Y000089195YKEP5CNM\n  eventctl watch --relay ws://localhost:8080/ws 'user.*'",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topics, err := parseTopics(args)
			if err != nil {
				return err
			}
			return runWatch(cmd, opts, topics)
		},
	}
	cmd.Flags().StringVar(&opts.relayURL, "relay", "ws://localhost:8080/ws", "Relay port URL")
	cmd.Flags().IntVar(&opts.redialMax, "redial-attempts", 10, "Redial attempts after the connection drops")
	cmd.Flags().DurationVar(&opts.redialWait, "redial-delay", time.Second, "Initial redial backoff")
	return cmd
}

func parseTopics(args []string) ([]domain.Topic, error) {
	topics := make([]domain.Topic, 0, len(args))
	for _, arg := range args {
		topic, err := domain.ParseTopic(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid topic %q: %w", arg, err)
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

// jsonLines serialises concurrent writers onto one stream.
type jsonLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newJSONLines(w io.Writer) *jsonLines {
	return &jsonLines{enc: json.NewEncoder(w)}
}

func (j *jsonLines) write(v any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(v); err != nil {
		slog.Warn("Failed to write output", "error", err)
	}
}

func runWatch(cmd *cobra.Command, opts *watchOptions, topics []domain.Topic) error {
	ctx := cmd.Context()
	out := newJSONLines(cmd.OutOrStdout())

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	client := relayclient.New(relayclient.Config{
		URL:    opts.relayURL,
		Header: header,
		Redial: retry.Policy{
			MaxAttempts:    opts.redialMax,
			InitialBackoff: opts.redialWait,
			MaxBackoff:     30 * time.Second,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.Warn("Relay connection lost, redialing", "attempt", attempt, "error", err, "backoff", backoff)
			},
		},
		OnError: func(perr *relay.PortError) {
			slog.Error("Relay rejected request", "error", perr.Message, "type", perr.Type, "handler_id", perr.HandlerID)
		},
	}, clockwork.NewRealClock())
	defer client.Close()

	for _, topic := range topics {
		if _, err := client.Subscribe(ctx, topic.Type, topic.ObjectID, func(d domain.Dispatch) { out.write(d) }); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		slog.Info("Watching topic", "topic", topic.String())
	}

	<-ctx.Done()
	return nil
}
