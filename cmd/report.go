package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/config"
	"github.com/xkilldash9x/wayfinder/internal/observability"
	"github.com/xkilldash9x/wayfinder/internal/store"
)

// storeProvider creates the configured report store. This abstraction lets
// tests inject a mock store instead of a live database connection.
type storeProvider interface {
	// Create returns the store, a cleanup function to release resources, and an
	// error if the creation fails. A nil store means persistence is disabled.
	Create(ctx context.Context, cfg *config.Config) (schemas.ReportStore, func(), error)
}

// defaultStoreProvider opens the store named by store.driver.
type defaultStoreProvider struct{}

// NewStoreProvider is a factory function that creates a new defaultStoreProvider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg *config.Config) (schemas.ReportStore, func(), error) {
	logger := observability.GetLogger()
	s, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, nil, nil
	}
	cleanup := func() {
		if err := s.Close(); err != nil {
			logger.Warn("Failed to close report store", zap.Error(err))
		}
	}
	return s, cleanup, nil
}

// newReportCmd creates and configures the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var sessionID string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Render a stored session report",
		Long:  `Loads the report of a finished session from the configured store and renders it.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, sessionID, provider)
		},
	}

	reportCmd.Flags().StringVar(&sessionID, "session-id", "", "The ID of the session to report on (required)")
	_ = reportCmd.MarkFlagRequired("session-id")
	reportCmd.Flags().StringP("format", "f", "", "Report format: text, json or yaml")
	reportCmd.Flags().StringP("output", "o", "", "Output file path (default stdout)")

	return reportCmd
}

// runReport contains the core, testable logic for rendering a stored report.
func runReport(ctx context.Context, logger *zap.Logger, cfg *config.Config, sessionID string, provider storeProvider) error {
	reportStore, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}
	if reportStore == nil {
		return errors.New("no report store configured (set store.driver and store.dsn)")
	}

	report, err := reportStore.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, schemas.ErrReportNotFound) {
			return fmt.Errorf("no report for session %s", sessionID)
		}
		return fmt.Errorf("failed to load report: %w", err)
	}
	return writeReport(report, cfg.Report.Format, cfg.Report.Output, logger)
}
