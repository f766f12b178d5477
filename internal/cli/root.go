// Package cli implements the pilot command line interface.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options are the settings shared by every subcommand. They are resolved
// from flags, environment (PILOT_*), and the optional config file at
// $HOME/.pilot/config.yaml, in that order of precedence.
type Options struct {
	ServerURL    string
	CachePath    string
	PollInterval time.Duration
	LogLevel     string
}

// NewRootCmd builds the pilot command tree.
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:          "pilot",
		Short:        "Interactive client for the agent backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.resolve(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ServerURL, "server", "http://localhost:8000", "Agent backend base URL")
	flags.StringVar(&opts.CachePath, "cache-path", defaultCachePath(), "Local session cache database path")
	flags.DurationVar(&opts.PollInterval, "poll-interval", time.Second, "Tool schema poll interval")
	flags.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newSessionsCmd(opts))
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newMockAgentCmd(opts))
	return cmd
}

// resolve layers viper sources under the cobra flags.
func (o *Options) resolve(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix("PILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".pilot"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	o.ServerURL = v.GetString("server")
	o.CachePath = v.GetString("cache-path")
	o.PollInterval = v.GetDuration("poll-interval")
	o.LogLevel = v.GetString("log-level")
	return nil
}

// Logger builds the process logger at the configured level.
func (o *Options) Logger() (logr.Logger, error) {
	level, err := zapcore.ParseLevel(o.LogLevel)
	if err != nil {
		return logr.Logger{}, fmt.Errorf("invalid log level %q: %w", o.LogLevel, err)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.OutputPaths = []string{"stderr"}
	zapLog, err := zapCfg.Build()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zapLog), nil
}

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pilot-cache.db"
	}
	return filepath.Join(home, ".pilot", "cache.db")
}
