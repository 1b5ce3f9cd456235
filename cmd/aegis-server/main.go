package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/samijaber1/aegis-budget/internal/config"
)

type options struct {
	configPath string
	host       string
	port       int
	policyPath string
	backend    string
	logLevel   string
	logJSON    bool
}

func (o *options) flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("aegis-server", pflag.ExitOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to the YAML config file (default $AEGIS_CONFIG)")
	fs.StringVar(&o.host, "host", "", "HTTP listen host")
	fs.IntVar(&o.port, "port", 0, "HTTP listen port")
	fs.StringVar(&o.policyPath, "policy-path", "", "SLO document directory or file")
	fs.StringVar(&o.backend, "backend", "", "Metrics backend (prometheus|cloudmonitoring|synthetic)")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	fs.BoolVar(&o.logJSON, "log-json", false, "Emit JSON logs")
	return fs
}

// apply overrides cfg with the flags that were set on the command line
func (o *options) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("host") {
		cfg.Server.Host = o.host
	}
	if fs.Changed("port") {
		cfg.Server.Port = o.port
	}
	if fs.Changed("policy-path") {
		cfg.Policy.Path = o.policyPath
	}
	if fs.Changed("backend") {
		cfg.Backend.Type = o.backend
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if fs.Changed("log-json") {
		cfg.Logging.JSON = o.logJSON
	}
}

func newCommand() *cobra.Command {
	o := &options{}

	cmd := &cobra.Command{
		Use:          "aegis-server",
		Short:        "Evaluate SLO error budgets and burn rate alerts",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(o.configPath)
			if err != nil {
				return err
			}
			o.apply(cmd.Flags(), cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().AddFlagSet(o.flags())
	return cmd
}

func main() {
	if err := newCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
