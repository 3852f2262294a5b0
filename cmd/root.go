// cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/autowait/internal/config"
	"github.com/xkilldash9x/autowait/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// NewRootCommand builds the command tree. Each call returns an independent
// tree, so tests never share flag state.
func NewRootCommand() *cobra.Command {
	var (
		cfgFile     string
		logLevel    string
		stopTracing func(context.Context) error
	)

	root := &cobra.Command{
		Use:           "autowait",
		Short:         "autowait drives browsers with auto-waiting locators and assertions.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)
			if err := initializeConfig(v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			if logLevel != "" {
				v.Set("logger.level", logLevel)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			// Logs go to stderr so command output on stdout stays parseable.
			observability.Initialize(cfg.Logger(), zapcore.Lock(os.Stderr))
			logger := observability.GetLogger()
			logger.Debug("Starting autowait", zap.String("version", Version))

			stopTracing, err = observability.SetupTracing(cfg.Telemetry(), os.Stderr)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			defer observability.Sync()
			if stopTracing == nil {
				return nil
			}
			return stopTracing(context.WithoutCancel(cmd.Context()))
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logger.level (debug, info, warn, error)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newProbeCmd(), newVersionCmd())
	return root
}

// Execute runs the command tree under ctx.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		if logger := observability.GetLogger(); !errors.Is(err, context.Canceled) {
			logger.Error("Command execution failed", zap.Error(err))
		}
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return err
}

// initializeConfig reads the config file, if any, and binds AUTOWAIT_*
// environment variables.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("AUTOWAIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// configFromContext returns the configuration stored by PersistentPreRunE.
func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not initialized")
	}
	return cfg, nil
}
