package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sitecheck/internal/config"
	"sitecheck/internal/fill"
	"sitecheck/internal/photo"
	"sitecheck/internal/store"
	"sitecheck/internal/syncapi"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile      string
	apiURLFlag   string
	tokenFlag    string
	logLevelFlag string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sitecheck",
	Short: "Fill in and submit inspection checklists",
	Long: `sitecheck drives the checklist fill engine from the command line: it loads
a checklist instance from the API, records item statuses, notes, photos and
signatures, and submits the inspection once every requirement is met.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile, map[string]string{
			"api.base_url": apiURLFlag,
			"api.token":    tokenFlag,
			"log.level":    logLevelFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = c

		logger, err = config.NewLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sitecheck.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURLFlag, "api-url", "", "checklist API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "bearer token (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(showCmd, fillCmd, submitCmd, eventsCmd)
}

// session is one loaded checklist instance and the controller over it
type session struct {
	client *syncapi.Client
	store  *store.Store
	ctrl   *fill.Controller
}

func openSession(ctx context.Context, instanceID string) (*session, error) {
	client := syncapi.New(syncapi.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: cfg.API.Timeout,
	}, logger)

	st := store.New(client, cfg.API.Timeout, logger)
	if err := st.Load(ctx, instanceID); err != nil {
		return nil, fmt.Errorf("load checklist %s: %w", instanceID, err)
	}

	pipeline := photo.NewPipeline(cfg.Photos.Options(), nil, logger)
	ctrl := fill.New(st, client, client, pipeline, fill.Options{
		UploadConcurrency:  cfg.Photos.Concurrency,
		SignatureLineWidth: cfg.Signature.LineWidth,
	}, logger)

	return &session{client: client, store: st, ctrl: ctrl}, nil
}

func (s *session) Close() {
	s.ctrl.Teardown()
}
