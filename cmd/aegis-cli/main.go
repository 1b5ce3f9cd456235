package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/samijaber1/aegis-budget/internal/adapter/synthetic"
	"github.com/samijaber1/aegis-budget/internal/backend"
	"github.com/samijaber1/aegis-budget/internal/config"
	"github.com/samijaber1/aegis-budget/internal/logging"
	"github.com/samijaber1/aegis-budget/internal/policy"
	"github.com/samijaber1/aegis-budget/internal/sli"
	"github.com/samijaber1/aegis-budget/internal/slo"
)

// globalOptions are shared by every command that talks to a backend
type globalOptions struct {
	configPath string
	policyPath string
	backend    string
	fixtures   string
	sloName    string
	at         string
	output     string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	o := &globalOptions{}

	root := &cobra.Command{
		Use:           "aegis-cli",
		Short:         "Inspect SLO error budgets and burn rate alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	fs := root.PersistentFlags()
	fs.StringVar(&o.configPath, "config", "", "Path to the YAML config file (default $AEGIS_CONFIG)")
	fs.StringVar(&o.policyPath, "policy-path", "", "SLO document directory or file")
	fs.StringVar(&o.backend, "backend", "", "Metrics backend (prometheus|cloudmonitoring|synthetic)")
	fs.StringVar(&o.fixtures, "fixtures", "", "Synthetic metric fixture file or directory")
	fs.StringVar(&o.sloName, "slo", "", "Only this SLO")
	fs.StringVar(&o.at, "at", "", "Evaluation time in RFC3339 (default now)")
	fs.StringVarP(&o.output, "output", "o", "table", "Output format (table|json)")
	fs.StringVar(&o.logLevel, "log-level", "warn", "Log level")

	root.AddCommand(
		newValidateCommand(),
		newBudgetCommand(o),
		newAlertsCommand(o),
		newReportCommand(o),
		newExplainCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	type exitCoder interface {
		ExitCode() int
	}
	if coded, ok := err.(exitCoder); ok {
		os.Exit(coded.ExitCode())
	}
	os.Exit(1)
}

// env is the loaded policy and backend a command evaluates against
type env struct {
	cfg       *config.Config
	logger    *slog.Logger
	policies  *policy.Store
	evaluator *sli.Evaluator
	at        time.Time
	close     func() error
}

func (o *globalOptions) load(ctx context.Context) (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.policyPath != "" {
		cfg.Policy.Path = o.policyPath
	}
	if o.backend != "" {
		cfg.Backend.Type = o.backend
	}
	if o.fixtures != "" {
		cfg.Backend.FixturePath = o.fixtures
	}

	at := time.Now().UTC()
	if o.at != "" {
		at, err = time.Parse(time.RFC3339, o.at)
		if err != nil {
			return nil, fmt.Errorf("invalid --at: %w", err)
		}
	}

	logger := logging.NewWithWriter(os.Stderr, o.logLevel, false)

	policies, err := policy.NewStore(cfg.Policy.Path, logger)
	if err != nil {
		return nil, err
	}
	// Excluded SLOs are logged; only an unreadable path stops the command
	if _, err := policies.Load(); err != nil && policies.Snapshot() == nil {
		return nil, err
	}

	b, closeBackend, err := backend.New(ctx, cfg.Backend, logger)
	if err != nil {
		return nil, err
	}
	if fake, ok := b.(*synthetic.Adapter); ok && cfg.Backend.FixturePath != "" {
		if err := backend.ApplyFixtures(fake, cfg.Backend.FixturePath, policies.Snapshot().Definitions); err != nil {
			_ = closeBackend()
			return nil, err
		}
	}

	return &env{
		cfg:       cfg,
		logger:    logger,
		policies:  policies,
		evaluator: sli.NewEvaluator(b, sli.WithQueryTimeout(cfg.Backend.QueryTimeout)),
		at:        at,
		close:     closeBackend,
	}, nil
}

// definitions returns the selected SLO or every loaded one
func (e *env) definitions(name string) ([]slo.Definition, error) {
	if name == "" {
		return e.policies.Snapshot().Definitions, nil
	}
	def, ok := e.policies.Get(name)
	if !ok {
		return nil, fmt.Errorf("SLO not found: %s", name)
	}
	return []slo.Definition{def}, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return 1
	}
	return e.code
}
