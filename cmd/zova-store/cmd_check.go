// ABOUTME: Health and migration subcommands for zova-store
// ABOUTME: check verifies pragmas and tables; import-legacy migrates the old TSV list

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the database pragmas and schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.callContext(cmd)
			defer cancel()

			report, err := a.store.SchemaReport(ctx)
			if err != nil {
				return fmt.Errorf("schema report: %w", err)
			}

			out := cmd.OutOrStdout()
			cyan := color.New(color.FgCyan)
			cyan.Fprintln(out, "  Database")
			cyan.Fprintln(out, "  --------")
			fmt.Fprintf(out, "  Path:          %s\n", a.cfg.Database.Path)
			fmt.Fprintf(out, "  journal_mode:  %s\n", report.JournalMode)
			fmt.Fprintf(out, "  foreign_keys:  %d\n", report.ForeignKeys)
			fmt.Fprintf(out, "  busy_timeout:  %d\n", report.BusyTimeoutMS)
			fmt.Fprintf(out, "  tables:        %s\n", strings.Join(report.Tables, ", "))

			if !report.Healthy() {
				if missing := report.MissingTables(); len(missing) > 0 {
					return fmt.Errorf("missing tables: %s", strings.Join(missing, ", "))
				}
				return errors.New("database pragmas do not match the expected configuration")
			}
			success(out, "OK")
			return nil
		},
	}
}

func newImportLegacyCmd(a *app) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "import-legacy",
		Short: "Import the legacy conversation list once",
		Long: "Creates a session for every valid row of the legacy TSV file.\n" +
			"Nothing is imported when the database already has sessions.\n" +
			"The source file is never modified.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if source == "" {
				source = a.cfg.Legacy.Path
			}

			ctx, cancel := a.callContext(cmd)
			defer cancel()

			report, err := a.store.ImportLegacyFile(ctx, source)
			if err != nil {
				return fmt.Errorf("import legacy: %w", err)
			}

			out := cmd.OutOrStdout()
			yellow := color.New(color.FgYellow)
			switch {
			case report.SourceMissing:
				yellow.Fprintf(out, "No legacy file at %s\n", report.SourcePath)
				return nil
			case report.AlreadyMigrated:
				yellow.Fprintln(out, "Already migrated: the database has sessions")
				return nil
			}

			success(out, "Imported %d sessions from %s", report.ImportedSessions, report.SourcePath)
			if report.SkippedRows > 0 {
				yellow.Fprintf(out, "  Skipped %d rows\n", report.SkippedRows)
				for _, w := range report.Warnings {
					fmt.Fprintf(out, "    line %d: %s\n", w.LineNumber, w.Reason)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "legacy TSV path (default legacy.path)")
	return cmd
}
