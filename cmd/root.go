// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/config"
	"github.com/xkilldash9x/haggle-cli/internal/observability"
)

// ExitUsage is the exit status for invalid flags or configuration.
const ExitUsage = 64

type contextKey string

const configKey contextKey = "config"

// flagKeys maps command flags to the configuration keys they override.
// A flag is bound only when the running command defines it.
var flagKeys = map[string]string{
	"headless":              "browser.headless",
	"screenshot-on-success": "diagnostics.screenshot_on_success",
	"session-file":          "session.path",
	"screenshot-dir":        "diagnostics.dir",
	"selectors-file":        "selectors.file",
	"email":                 "email",
	"password":              "password",
}

// ExitError carries the process exit status of a finished command. Its
// message has already been reported when Err is nil.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Err: err}
}

// ExitCode maps the error returned by Execute to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// NewRootCommand builds a fresh command tree. Every call gets its own viper
// instance, so tests never share flag or config state.
func NewRootCommand() *cobra.Command {
	var cfgFile, envFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "haggle",
		Short:         "haggle messages a seller on kleinanzeigen.de and makes an offer.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile); err != nil {
				return usageError(err)
			}

			config.SetDefaults(v)
			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return usageError(fmt.Errorf("failed to initialize configuration: %w", err))
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return usageError(fmt.Errorf("failed to load or validate config: %w", err))
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded.", zap.String("version", Version), zap.String("config_file", v.ConfigFileUsed()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with HAGGLE_* variables, ignored when missing")

	cmd.AddCommand(newRunCmd(v))
	cmd.AddCommand(newSelectorsCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the command line under ctx. The returned error maps to an
// exit status with ExitCode.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	defer observability.Sync()

	var exitErr *ExitError
	if err != nil && !(errors.As(err, &exitErr) && exitErr.Err == nil) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// initializeConfig reads in config file and ENV variables if set, and binds
// the running command's flags.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(config.EnvKeyReplacer())
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}
	return nil
}

// configFrom returns the configuration loaded by the root command.
func configFrom(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not initialized")
	}
	return cfg, nil
}
