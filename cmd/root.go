// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domtaint/internal/config"
	"github.com/xkilldash9x/domtaint/internal/observability"
)

type contextKey string

const configKey contextKey = "domtaint.config"

// configCandidates are searched in order when --config is not given.
var configCandidates = []string{"config.yaml", "~/.domtaint.yaml"}

// flagKeys maps command line flags to the configuration keys they override.
var flagKeys = map[string]string{
	"log-level":         "logger.level",
	"label":             "tracker.label",
	"selector":          "tracker.selector",
	"locator":           "tracker.locator",
	"start-immediately": "tracker.start_immediately",
	"seed-code":         "tracker.seed_code",
	"trigger":           "tracker.triggers",
	"settle":            "tracker.settle_time",
	"script-timeout":    "tracker.script_timeout",
	"engine":            "browser.engine",
	"headless":          "browser.headless",
	"concurrency":       "browser.concurrency",
	"format":            "report.format",
	"output":            "report.output",
}

// NewRootCommand creates a fresh command tree. Each call returns independent flag state.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "domtaint",
		Short:        "domtaint follows a DOM value through a page's JavaScript.",
		Long:         "domtaint loads a page, marks one DOM element as tainted and rewrites the page's scripts so every value derived from it carries a label describing how it was computed.",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "domtaint"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting domtaint", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringP("config", "c", "", "config file (default ./config.yaml, then ~/.domtaint.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(newTrackCmd())
	cmd.AddCommand(newRewriteCmd())
	return cmd
}

// Execute runs the command tree with ctx and logs a failure before returning it.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and environment, then binds the flags of cmd.
// Precedence: flags, DOMTAINT_* environment variables, config file, defaults.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	explicit, _ := cmd.Flags().GetString("config")
	path, err := configFilePath(explicit)
	if err != nil {
		return err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("DOMTAINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	return bindErr
}

// configFilePath resolves the config file to read. An explicit path must exist; the
// default candidates are optional.
func configFilePath(explicit string) (string, error) {
	if explicit != "" {
		path, err := homedir.Expand(explicit)
		if err != nil {
			return "", fmt.Errorf("failed to resolve config path %s: %w", explicit, err)
		}
		return path, nil
	}
	for _, candidate := range configCandidates {
		path, err := homedir.Expand(candidate)
		if err != nil {
			continue
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", nil
}

// getConfigFromContext returns the configuration stored by the root command.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not found in command context")
	}
	return cfg, nil
}
