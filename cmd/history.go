package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/example/pitchbook/internal/config"
	"github.com/example/pitchbook/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var (
		cfgPath string
		limit   int
	)

	c := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.History.DatabaseURL == "" {
				return fmt.Errorf("history.database_url is not configured")
			}

			ctx := context.Background()
			db, err := history.Open(ctx, cfg.History.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := history.Migrate(ctx, db); err != nil {
				return err
			}

			runs, err := history.NewStore(db).RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				booking := "-"
				if r.BookingGUID != nil {
					booking = *r.BookingGUID
				}
				finished := "running"
				if r.FinishedAt != nil {
					finished = r.FinishedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(os.Stdout, "id=%s started=%s finished=%s strategy=%s status=%s booking=%s\n",
					r.ID, r.StartedAt.Format(time.RFC3339), finished, r.Strategy, r.Status, booking)
			}
			return nil
		},
	}

	c.Flags().StringVar(&cfgPath, "config", "", "path to the YAML config (default configs/pitchbook.yaml)")
	c.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	return c
}
