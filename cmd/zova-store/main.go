// ABOUTME: Entry point for zova-store, the operator CLI for the conversation database
// ABOUTME: Loads config, opens the store and dispatches cobra subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/zova-store/internal/config"
	"github.com/2389/zova-store/internal/store"
)

// version is overridden with -ldflags at build time.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes one command line. The store is closed whether or not the
// command succeeded.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) (err error) {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing store: %w", cerr)
		}
	}()
	return root.ExecuteContext(ctx)
}

// app carries the state shared by every subcommand for one invocation.
type app struct {
	configPath string
	dbPath     string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
	store  *store.SQLiteStore
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "zova-store",
		Short:         "Inspect and maintain the zova conversation database",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $ZOVA_CONFIG or $XDG_CONFIG_HOME/zova/store.yaml)")
	flags.StringVar(&a.dbPath, "db", "", "database path, overrides database.path")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	flags.StringVar(&a.logFormat, "log-format", "", "text or json")

	root.AddCommand(
		newCheckCmd(a),
		newSessionsCmd(a),
		newBranchesCmd(a),
		newMessagesCmd(a),
		newMediaCmd(a),
		newEventsCmd(a),
		newImportLegacyCmd(a),
	)
	return root
}

// open loads configuration, applies flag overrides and opens the store.
func (a *app) open(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	a.cfg = cfg
	a.logger = setupLogger(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())

	st, err := store.Open(cfg.Database.Path, store.Options{
		Workers:   cfg.Database.Workers,
		QueueSize: cfg.Database.QueueSize,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	a.store = st

	if cfg.Legacy.AutoImport && cmd.Name() != "import-legacy" {
		ctx, cancel := a.callContext(cmd)
		defer cancel()
		report, err := st.ImportLegacyFile(ctx, cfg.Legacy.Path)
		if err != nil {
			return fmt.Errorf("importing legacy conversations: %w", err)
		}
		if report.ImportedSessions > 0 {
			a.logger.Info("imported legacy conversations",
				"source", report.SourcePath,
				"sessions", report.ImportedSessions,
				"skipped", report.SkippedRows)
		}
	}
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// callContext bounds one command's store calls by database.call_timeout.
func (a *app) callContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.cfg.Database.CallTimeout)
}
