package main

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-dataconv/internal/logging"
	"github.com/goliatone/go-dataconv/pkg/config"
)

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "dataconv",
		Short:         "Convert CSV, XML, JSON and YAML documents through templates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "configuration file (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format override (auto, text, json)")

	cmd.AddCommand(
		newServeCmd(flags),
		newConvertCmd(flags),
		newInitCmd(),
		newVersionCmd(),
	)
	return cmd
}

func (f *globalFlags) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if strings.TrimSpace(f.configPath) == "" {
		cfg, err = config.FromEnvironment()
	} else {
		cfg, err = config.Load(f.configPath)
	}
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	return logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
}
