package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/agent"
	"github.com/xkilldash9x/wayfinder/internal/browser"
	"github.com/xkilldash9x/wayfinder/internal/capture"
	"github.com/xkilldash9x/wayfinder/internal/config"
	"github.com/xkilldash9x/wayfinder/internal/llmclient"
	"github.com/xkilldash9x/wayfinder/internal/observability"
	"github.com/xkilldash9x/wayfinder/internal/reporting"
)

const shutdownTimeout = 15 * time.Second

// runDeps holds the constructors the run command uses, so tests can swap
// the browser and model for fakes.
type runDeps struct {
	openBrowser  func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.BrowserSession, error)
	newLLMClient func(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error)
	stores       storeProvider
	agentOptions []agent.Option
	stdin        io.Reader
	stdout       io.Writer
}

func defaultRunDeps() runDeps {
	return runDeps{
		openBrowser:  browser.New,
		newLLMClient: llmclient.NewClient,
		stores:       NewStoreProvider(),
		stdin:        os.Stdin,
		stdout:       os.Stdout,
	}
}

// SessionError is returned when a session ends without reaching its goal.
type SessionError struct {
	SessionID string
	Status    schemas.TerminationStatus
	Reason    string
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s ended %s: %s", e.SessionID, e.Status, e.Reason)
}

func newRunCmd(deps runDeps) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one browsing session toward a goal",
		Long: `Opens a browser, then repeatedly observes the page, asks the model for the next
action and applies it until the model finishes or aborts, or a step or failure
budget runs out. A report is printed at the end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runSession(ctx, cfg, observability.GetLogger(), deps)
		},
	}

	runCmd.Flags().StringP("goal", "g", "", "Natural-language goal for the session (required unless set in config)")
	runCmd.Flags().StringP("start-url", "u", "", "URL to load before the first observation")
	runCmd.Flags().Int("max-steps", 0, "Step budget. (Overrides config/env)")
	runCmd.Flags().Bool("confirm", false, "Ask before each step")
	runCmd.Flags().StringSlice("allowed-domains", nil, "Restrict navigation to these domains and their subdomains")
	runCmd.Flags().String("engine", "", "Browser engine: chromedp or rod. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run the browser without a window")
	runCmd.Flags().String("model", "", "Model name. (Overrides config/env)")
	runCmd.Flags().String("screenshots-dir", "", "Directory for per-step screenshots")
	runCmd.Flags().StringP("format", "f", "", "Report format: text, json or yaml")
	runCmd.Flags().StringP("output", "o", "", "Report output file (default stdout)")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	return runCmd
}

// runSession wires the components, runs the agent and writes the report.
// Cancellation of ctx ends the session as aborted and returns ctx's error.
func runSession(ctx context.Context, cfg *config.Config, logger *zap.Logger, deps runDeps) error {
	if cfg.Agent.Goal == "" {
		return errors.New("a goal is required (--goal or agent.goal)")
	}

	if cfg.Tracing.Enabled {
		shutdown, err := startTracing(cfg.Tracing, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	reportStore, closeStore, err := deps.stores.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	llm, err := deps.newLLMClient(ctx, cfg.Agent.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	defer llm.Close()

	session, err := deps.openBrowser(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			logger.Warn("Error during browser shutdown", zap.Error(err))
		}
	}()

	opts := append([]agent.Option{}, deps.agentOptions...)
	if cfg.Agent.Loop.Confirm {
		gate := newPromptGate(deps.stdin, deps.stdout)
		defer gate.Close()
		opts = append(opts, agent.WithStepGate(gate))
	}
	if cfg.Capture.ScreenshotsDir != "" {
		rec, err := capture.NewRecorder(session, cfg.Capture.ScreenshotsDir, logger)
		if err != nil {
			return err
		}
		opts = append(opts, agent.WithRecorder(rec))
	}

	ag, err := agent.New(cfg, session, llm, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	report, serveErr := runWithMetrics(ctx, cfg.Metrics.Addr, ag, logger)
	if serveErr != nil {
		logger.Error("Metrics server failed", zap.Error(serveErr))
	}

	if err := writeReport(report, cfg.Report.Format, cfg.Report.Output, logger); err != nil {
		return err
	}
	if reportStore != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := reportStore.Save(saveCtx, report); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		logger.Info("Report saved", zap.String("session_id", report.SessionID))
	}

	switch {
	case report.Status == schemas.StatusSucceeded:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return &SessionError{SessionID: report.SessionID, Status: report.Status, Reason: report.Reason}
}

// runWithMetrics runs the agent and, when addr is set, serves metrics until
// the session ends. A metrics server failure aborts the session.
func runWithMetrics(ctx context.Context, addr string, ag *agent.Agent, logger *zap.Logger) (*schemas.SessionReport, error) {
	if addr == "" {
		return ag.Run(ctx), nil
	}

	srv := &http.Server{Addr: addr, Handler: observability.NewMetricsHandler(), ReadHeaderTimeout: 5 * time.Second}
	g, gctx := errgroup.WithContext(ctx)

	var report *schemas.SessionReport
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		report = ag.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	err := g.Wait()
	return report, err
}

func startTracing(cfg config.TracingConfig, logger *zap.Logger) (func(), error) {
	var w io.Writer = os.Stderr
	var file *os.File
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace output %s: %w", cfg.Output, err)
		}
		w, file = f, f
	}
	tp, err := observability.NewTracerProvider("wayfinder", Version, w)
	if err != nil {
		if file != nil {
			file.Close()
		}
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
		if file != nil {
			file.Close()
		}
	}, nil
}

// writeReport renders report with the reporting module.
func writeReport(report *schemas.SessionReport, format, outputPath string, logger *zap.Logger) error {
	reporter, err := reporting.New(format, outputPath)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Warn("Failed to close reporter cleanly.", zap.Error(err))
		}
	}()

	if err := reporter.Write(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if outputPath != "" {
		logger.Info("Report written to file", zap.String("path", outputPath))
	}
	return nil
}
