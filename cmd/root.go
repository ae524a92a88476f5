// Package cmd implements the wayfinder command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/internal/config"
	"github.com/xkilldash9x/wayfinder/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

var cfgFile string

// flagBindings maps command flags onto configuration keys. Flags a command
// does not define are skipped.
var flagBindings = map[string]string{
	"goal":            "agent.goal",
	"start-url":       "agent.start_url",
	"max-steps":       "agent.loop.max_steps",
	"confirm":         "agent.loop.confirm",
	"allowed-domains": "agent.allowed_domains",
	"engine":          "browser.engine",
	"headless":        "browser.headless",
	"model":           "agent.llm.model",
	"screenshots-dir": "capture.screenshots_dir",
	"format":          "report.format",
	"output":          "report.output",
	"metrics-addr":    "metrics.addr",
}

// NewRootCommand builds the command tree with fresh flag state.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "wayfinder",
		Short:   "Wayfinder drives a browser toward a goal with a language model.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "wayfinder"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "wayfinder"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting wayfinder", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml, then ~/.wayfinder/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "wayfinder version %s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd(defaultRunDeps()))
	rootCmd.AddCommand(newReportCmd(NewStoreProvider()))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command line under ctx, which main makes signal-aware.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file, environment and the flags of cmd into v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		for _, p := range config.SearchPaths() {
			v.AddConfigPath(p)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	for name, key := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in command context")
	}
	return cfg, nil
}
