package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/haidra-org/horde-model-reference/internal/config"
	"github.com/haidra-org/horde-model-reference/internal/server"
)

// ConfigFileEnvVar names the config file when --config is not given.
const ConfigFileEnvVar = config.EnvPrefix + "_CONFIG_FILE"

var (
	configFile  string
	envFiles    []string
	flagBinding = map[string]string{}
)

// AddConfigFlags registers the flags shared by every server-side command.
func AddConfigFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file (or "+ConfigFileEnvVar+")")
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, ".env files loaded before the environment is read")
	cmd.PersistentFlags().String("base-path", "", "Directory holding the reference files")
	cmd.PersistentFlags().String("mode", "", "Replicate mode: PRIMARY or REPLICA")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "", "Log format: json, text, console")
	flagBinding["base-path"] = "base_path"
	flagBinding["mode"] = "replicate_mode"
	flagBinding["log-level"] = "logging.level"
	flagBinding["log-format"] = "logging.format"
}

// loadConfig resolves the configuration for cmd: .env files, then the
// environment and config file, then explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, nil, err
	}
	if configFile == "" {
		configFile = os.Getenv(ConfigFileEnvVar)
	}
	v, err := config.NewViper(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := bindFlags(cmd, v); err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := server.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	cfg.ApplyModeRules(logger)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger, nil
}

// bindFlags lets changed flags override viper keys.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for flag, key := range flagBinding {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}
	return nil
}
