package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/pitchbook/internal/config"
	"github.com/example/pitchbook/internal/engine"
	"github.com/example/pitchbook/internal/history"
	"github.com/example/pitchbook/internal/secret"
	"github.com/example/pitchbook/internal/site"
	"github.com/example/pitchbook/internal/strategy"
)

func newRunCmd() *cobra.Command {
	var cfgPath string

	c := &cobra.Command{
		Use:   "run",
		Short: "Execute one bounded booking run (intended to be fired by cron near midnight)",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			runID := uuid.New()
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
				With().Timestamp().Str("run", runID.String()).Logger()

			creds, err := loadCredentials(cfg)
			if err != nil {
				return err
			}

			prefs, err := strategy.Preferences(cfg.Strategy, time.Now(), time.Local)
			if err != nil {
				return err
			}
			for i, p := range prefs {
				logger.Info().Int("priority", i+1).Time("preferred", p).Msg("preference")
			}

			client := site.New(cfg.Site.Hostname, logger)
			if cfg.Site.ActivityGUID != "" {
				client.UseActivity(cfg.Site.ActivityGUID)
			} else {
				client.UseActivityName(cfg.Site.Activity)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout())
			defer cancel()

			var rec engine.Recorder = engine.NopRecorder{}
			var store *history.Store
			if cfg.History.DatabaseURL != "" {
				db, err := history.Open(ctx, cfg.History.DatabaseURL)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := history.Migrate(ctx, db); err != nil {
					return err
				}
				store = history.NewStore(db)
				if err := store.StartRun(ctx, runID, cfg.Strategy.Name); err != nil {
					return err
				}
				rec = history.NewRecorder(store, runID, logger)
			}

			eng := &engine.Engine{
				Client:        client,
				RetryInterval: cfg.RetryInterval(),
				CancelReason:  cfg.Booking.ReasonToCancel,
				Rec:           rec,
				Log:           logger,
			}

			booking, runErr := eng.Run(ctx, creds, prefs)
			return report(cmd.Context(), logger, store, runID, client, booking, runErr)
		},
	}

	c.Flags().StringVar(&cfgPath, "config", "", "path to the YAML config (default configs/pitchbook.yaml)")
	return c
}

func loadCredentials(cfg *config.Config) (site.Credentials, error) {
	if cfg.Credentials.File == "" {
		return site.Credentials{Login: cfg.Credentials.Login, Password: cfg.Credentials.Password}, nil
	}
	data, err := os.ReadFile(cfg.Credentials.File)
	if err != nil {
		return site.Credentials{}, err
	}
	return secret.Decrypt(string(data), os.Getenv("PITCHBOOK_PASSPHRASE"))
}

// report logs the terminal outcome and closes the journal row. A
// timed-out run exits 0 like a booked one: the scheduler will try
// again another night, only an auth failure or broken setup should
// page through a non-zero exit.
func report(ctx context.Context, logger zerolog.Logger, store *history.Store, runID uuid.UUID, client *site.Client, booking site.Booking, runErr error) error {
	finish := func(status string, guid, detail *string) {
		if store == nil {
			return
		}
		if err := store.FinishRun(ctx, runID, status, guid, detail); err != nil {
			logger.Warn().Err(err).Msg("journal finish write failed")
		}
	}

	switch {
	case runErr == nil:
		logger.Info().
			Str("booking", booking.GUID).
			Time("start", booking.Start).
			Time("end", booking.End).
			Str("activity", booking.Activity).
			Str("assigned_to", booking.AssignedTo).
			Msg("booked")
		finish("booked", &booking.GUID, nil)
		if all, err := client.MyBookings(ctx); err == nil {
			for _, b := range all {
				logger.Debug().Str("booking", b.GUID).Time("start", b.Start).Msg("account booking")
			}
		}
		return nil

	case errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runErr, context.Canceled):
		logger.Warn().Msg("timed out without booking")
		msg := runErr.Error()
		finish("timed_out", nil, &msg)
		return nil

	default:
		msg := runErr.Error()
		finish("failed", nil, &msg)
		return runErr
	}
}
