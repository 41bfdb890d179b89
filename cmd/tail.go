package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyberlens/cyber-lens/internal/bus"
)

var (
	tailGroup    string
	tailConsumer string
)

// tailCmd follows the lookups stream
var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow completed lookups on the Redis lookups stream",
	Long: `Print lookups as they are announced on the Redis "lookups" stream by any
running Cyber-Lens instance. Uses a consumer group so several tails can share work.

Examples:
  cyber-lens tail --redis redis://localhost:6379
  cyber-lens tail --group soc --consumer analyst-1`,
	RunE: runTail,
}

func init() {
	rootCmd.AddCommand(tailCmd)

	host, _ := os.Hostname()
	tailCmd.Flags().StringVar(&tailGroup, "group", "cyber-lens-tail", "Consumer group name")
	tailCmd.Flags().StringVar(&tailConsumer, "consumer", fmt.Sprintf("%s-%d", host, os.Getpid()), "Consumer name")
}

func runTail(cmd *cobra.Command, args []string) error {
	config := GetConfig()
	if config.Redis.URL == "" {
		return errors.New("tail needs --redis or redis.url")
	}
	logger, err := newLogger(config)
	if err != nil {
		return err
	}

	rb, err := bus.NewRedisBus(config.Redis.URL, logger)
	if err != nil {
		return err
	}
	defer rb.Close()

	err = rb.ReadLookupsStream(cmd.Context(), tailGroup, tailConsumer, func(ctx context.Context, msg bus.LookupMessage) error {
		owner := msg.OwnerType
		if msg.OwnerID != "" {
			owner += ":" + msg.OwnerID
		}
		fmt.Printf("%s  %-40s  %-7s  %-10s  %3d  %s\n",
			time.Unix(msg.Timestamp, 0).Format("02/01/2006 15:04:05"), msg.IOC, msg.Type, msg.Verdict, msg.Score, owner)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
