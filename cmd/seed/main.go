package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mangohabit/feedcore/internal/db"
	"github.com/mangohabit/feedcore/internal/seed"
	"github.com/mangohabit/feedcore/pkg/config"
	"github.com/mangohabit/feedcore/pkg/logging"
)

var (
	cfg      *config.Config
	database *db.DB
	opts     seed.Options
)

var rootCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a development database for the mango feed",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := logging.InitLogger(&cfg.Logging); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if database, err = db.New(&cfg.Database, cfg.Logging.Level); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if database != nil {
			_ = database.Close()
		}
		_ = logging.GetLogger().Sync()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return database.Migrate(cmd.Context())
	},
}

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Insert fake posts and likes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := database.Migrate(ctx); err != nil {
			return err
		}
		repo := db.NewPostRepository(db.NewRepository(database.DB))
		res, err := seed.NewSeeder(repo, opts.Seed).Run(ctx, opts)
		if err != nil {
			return err
		}
		logging.GetLogger().Info("Done", zap.Int("posts", res.Posts), zap.Int("likes", res.Likes))
		return nil
	},
}

func init() {
	postsCmd.Flags().IntVar(&opts.Posts, "count", 100, "Number of posts")
	postsCmd.Flags().IntVar(&opts.Authors, "authors", 10, "Number of distinct authors")
	postsCmd.Flags().IntVar(&opts.Likers, "likers", 20, "Number of users that may like posts")
	postsCmd.Flags().IntVar(&opts.Days, "days", 30, "Spread posts over this many past days")
	postsCmd.Flags().Int64Var(&opts.Seed, "seed", 0, "Random seed (0 picks one)")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(postsCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
