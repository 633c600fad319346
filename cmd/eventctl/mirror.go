package main

import (
	"fmt"

	"github.com/pscheid92/eventrelay/internal/adapter/redis"
	"github.com/pscheid92/eventrelay/internal/domain"
	"github.com/spf13/cobra"
)

func newMirrorCmd() *cobra.Command {
	var redisURL string

	cmd := &cobra.Command{
		Use:   "mirror [TYPE]...",
		Short: "Tail dispatches the relay mirrors to Redis",
		Long:  "Tail dispatches the relay mirrors to Redis. Without arguments every event type is printed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			types := make([]domain.EventType, 0, len(args))
			for _, arg := range args {
				types = append(types, domain.EventType(arg))
			}
			return runMirror(cmd, redisURL, types)
		},
	}
	cmd.Flags().StringVar(&redisURL, "redis", "redis://localhost:6379", "Redis URL the relay mirrors to")
	return cmd
}

func runMirror(cmd *cobra.Command, redisURL string, types []domain.EventType) error {
	ctx := cmd.Context()

	rdb, err := redis.NewClient(ctx, redisURL)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	sub, err := redis.SubscribeDispatches(ctx, rdb, types...)
	if err != nil {
		return err
	}
	defer sub.Close()

	out := newJSONLines(cmd.OutOrStdout())
	for d := range sub.Ch {
		out.write(d)
	}
	return nil
}
