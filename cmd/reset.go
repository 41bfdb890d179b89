package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/cyberlens/cyber-lens/internal/bus"
	"github.com/cyberlens/cyber-lens/internal/store"
)

var (
	confirmReset bool
	resetRedis   bool
	resetDB      bool
	resetOwner   string
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear lookup history and/or the Redis lookups stream",
	Long: `Reset clears stored lookup history and the Redis "lookups" stream.

By default both are cleared. Use --redis-only or --db-only to pick one, and
--owner to clear a single user's history.

WARNING: This operation is irreversible.

Examples:
  # Clear everything (asks for confirmation)
  cyber-lens reset

  # Clear one user's history without prompting
  cyber-lens reset --db-only --owner alice --yes`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVarP(&confirmReset, "yes", "y", false, "Automatically confirm reset operation")
	resetCmd.Flags().BoolVar(&resetRedis, "redis-only", false, "Reset only the Redis lookups stream")
	resetCmd.Flags().BoolVar(&resetDB, "db-only", false, "Reset only lookup history")
	resetCmd.Flags().StringVar(&resetOwner, "owner", "", "Only clear this user's history")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	if !resetRedis && !resetDB {
		resetRedis, resetDB = true, true
	}
	if resetOwner != "" {
		// The stream is shared by all owners.
		resetRedis = false
	}
	if resetRedis && config.Redis.URL == "" {
		fmt.Println("Redis not configured; skipping stream reset")
		resetRedis = false
	}

	var targets []string
	if resetRedis {
		targets = append(targets, "the Redis lookups stream")
	}
	if resetDB {
		if resetOwner != "" {
			targets = append(targets, fmt.Sprintf("lookup history of %q", resetOwner))
		} else {
			targets = append(targets, "all lookup history")
		}
	}
	if len(targets) == 0 {
		return nil
	}
	fmt.Printf("This will permanently delete: %s\n", strings.Join(targets, " and "))

	if !confirmReset {
		fmt.Print("Are you sure you want to continue? (y/N): ")
		var response string
		fmt.Scanln(&response)
		if r := strings.ToLower(response); r != "y" && r != "yes" {
			fmt.Println("Reset operation cancelled.")
			return nil
		}
	}

	if resetRedis {
		if err := resetLookupStream(ctx, config.Redis.URL); err != nil {
			if !resetDB {
				return fmt.Errorf("failed to reset Redis data: %w", err)
			}
			fmt.Printf("Warning: Failed to reset Redis data: %v\n", err)
		} else {
			fmt.Println("✓ Redis lookups stream cleared")
		}
	}

	if resetDB {
		n, err := resetHistory(ctx, config.Database.Path, resetOwner)
		if err != nil {
			return fmt.Errorf("failed to reset history: %w", err)
		}
		fmt.Printf("✓ Removed %d stored lookup(s)\n", n)
	}
	return nil
}

func resetLookupStream(ctx context.Context, redisURL string) error {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client.Del(ctx, bus.LookupsStream).Err()
}

func resetHistory(ctx context.Context, dbPath, owner string) (int64, error) {
	st, err := store.NewStore(resolvePathRelativeToBase(getWorkingDir(), dbPath))
	if err != nil {
		return 0, err
	}
	defer st.Close()

	if owner != "" {
		return st.DeleteHistory(ctx, store.Owner{Type: "user", ID: owner})
	}
	return st.Reset(ctx)
}
