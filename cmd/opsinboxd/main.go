// Package main is the entry point for the opsinboxd daemon. opsinboxd runs
// the inbound carrier webhook server and bridges the realtime change feed
// onto the in-process event bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/opsinbox/internal/ai"
	"github.com/tOgg1/opsinbox/internal/carrier"
	"github.com/tOgg1/opsinbox/internal/config"
	"github.com/tOgg1/opsinbox/internal/db"
	"github.com/tOgg1/opsinbox/internal/events"
	"github.com/tOgg1/opsinbox/internal/feed"
	"github.com/tOgg1/opsinbox/internal/logging"
	"github.com/tOgg1/opsinbox/internal/notes"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFile string
	logLevel   string
	logFormat  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $HOME/.config/opsinbox/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override logging format (json, console)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(versionCmd)
}

var rootCmd = &cobra.Command{
	Use:   "opsinboxd",
	Short: "Realtime inbox synchronization daemon",
	Long:  "opsinboxd serves the inbound carrier webhook and bridges the realtime change feed for the operations inbox.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("opsinboxd %s (commit %s, built %s)\n", version, commit, date)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and feed bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := logging.Component("opsinboxd")
		logger.Info().
			Str("version", version).
			Str("commit", commit).
			Msg("starting")

		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		applied, err := database.MigrateUp(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if applied > 0 {
			logger.Info().Int("applied", applied).Msg("migrations applied")
		}

		bus := events.NewBus()
		defer bus.Close()

		errCh := make(chan error, 2)

		webhook := carrier.NewWebhookServer(database, bus, logging.Component("webhook"))
		server := &http.Server{
			Addr:              cfg.Carrier.WebhookAddr,
			Handler:           webhook.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.Carrier.WebhookAddr).Msg("webhook server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("webhook server: %w", err)
			}
		}()

		if cfg.Feed.URL != "" {
			go func() {
				if err := runFeed(ctx, cfg, bus); err != nil && !errors.Is(err, context.Canceled) {
					errCh <- fmt.Errorf("feed: %w", err)
				}
			}()
		} else {
			logger.Warn().Msg("no feed url configured, running webhook only")
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("component failed")
			stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("webhook shutdown failed")
		}
		return nil
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <thread-id>",
	Short: "Run note extraction for a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid thread id %q", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()

		completer, err := ai.NewClient(ai.Config{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
		})
		if err != nil {
			return fmt.Errorf("ai client: %w", err)
		}

		evaluator, err := notes.NewEvaluator(notes.EvaluatorConfig{
			Threads:   db.NewThreadRepository(database),
			Creators:  db.NewCreatorRepository(database),
			Messages:  db.NewMessageRepository(database),
			Notes:     db.NewNoteRepository(database),
			Completer: completer,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		created, err := evaluator.Evaluate(ctx, threadID, func(processed, total, created int) {
			fmt.Printf("\rsegments %d/%d, notes %d", processed, total, created)
		})
		fmt.Println()
		if err != nil {
			return err
		}
		fmt.Printf("created %d notes for thread %d\n", created, threadID)
		return nil
	},
}

func runFeed(ctx context.Context, cfg *config.Config, bus events.Publisher) error {
	switch cfg.Feed.Transport {
	case config.FeedTransportRedis:
		listener, err := feed.NewRedisFeed(cfg.Feed.URL, cfg.Feed.Channel, bus)
		if err != nil {
			return err
		}
		defer listener.Close()
		return listener.Run(ctx)
	default:
		client, err := feed.NewWebsocketFeed(cfg.Feed.URL, bus, cfg.Feed.ReconnectInterval)
		if err != nil {
			return err
		}
		return client.Run(ctx)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
