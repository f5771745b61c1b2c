// ABOUTME: Session and branch subcommands for zova-store
// ABOUTME: list, create, rename, delete and restore sessions; list a session's branches

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/zova-store/internal/store"
)

const timeLayout = "2006-01-02 15:04:05"

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage conversation sessions",
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.callContext(cmd)
			defer cancel()

			sessions, err := a.store.ListSessions(ctx, all)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tUPDATED\tSTATE")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					s.ID,
					truncate(oneLine(s.Title), 40),
					s.UpdatedAt.Format(timeLayout),
					s.Visibility)
			}
			return w.Flush()
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include deleted sessions")

	create := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a session with an empty root branch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := store.DefaultSessionTitle
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				title = args[0]
			}

			ctx, cancel := a.callContext(cmd)
			defer cancel()

			sess, err := a.store.CreateSession(ctx, store.NewSession{Title: title})
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}

			out := cmd.OutOrStdout()
			success(out, "Created session: %s", sess.ID)
			fmt.Fprintf(out, "  Title:   %s\n", sess.Title)
			fmt.Fprintf(out, "  Branch:  %s\n", sess.ActiveBranchID)
			return nil
		},
	}

	rename := &cobra.Command{
		Use:   "rename <session> <title>",
		Short: "Change a session's title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := store.ParseSessionID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := a.callContext(cmd)
			defer cancel()

			sess, err := a.store.UpdateSession(ctx, id, store.SessionPatch{Title: &args[1]})
			if err != nil {
				return fmt.Errorf("rename session: %w", err)
			}
			success(cmd.OutOrStdout(), "Renamed session %s to %q", sess.ID, sess.Title)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <session>",
		Short: "Soft-delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := store.ParseSessionID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := a.callContext(cmd)
			defer cancel()

			if err := a.store.SoftDeleteSession(ctx, id); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
			success(cmd.OutOrStdout(), "Deleted session: %s", id)
			return nil
		},
	}

	restore := &cobra.Command{
		Use:   "restore <session>",
		Short: "Restore a soft-deleted session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := store.ParseSessionID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := a.callContext(cmd)
			defer cancel()

			if err := a.store.RestoreSession(ctx, id); err != nil {
				return fmt.Errorf("restore session: %w", err)
			}
			success(cmd.OutOrStdout(), "Restored session: %s", id)
			return nil
		},
	}

	cmd.AddCommand(list, create, rename, del, restore)
	return cmd
}

func newBranchesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branches",
		Short: "Inspect a session's branch history",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <session>",
		Short: "List every branch of a session, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := store.ParseSessionID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := a.callContext(cmd)
			defer cancel()

			sess, err := a.store.GetSession(ctx, id)
			if err != nil {
				return fmt.Errorf("get session: %w", err)
			}
			branches, err := a.store.ListBranches(ctx, id)
			if err != nil {
				return fmt.Errorf("list branches: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPARENT\tCREATED\tSTATE")
			for _, b := range branches {
				parent := "-"
				if b.ParentBranchID != nil {
					parent = b.ParentBranchID.String()
				}
				state := b.Visibility.String()
				if b.ID == sess.ActiveBranchID {
					state = "active*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.ID, parent, b.CreatedAt.Format(timeLayout), state)
			}
			return w.Flush()
		},
	})
	return cmd
}

func success(w io.Writer, format string, args ...any) {
	color.New(color.FgGreen).Fprintf(w, "✓ "+format+"\n", args...)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// oneLine keeps multi-line titles and contents on one table row.
func oneLine(s string) string {
	return strings.NewReplacer("\n", `\n`, "\r", `\r`, "\t", " ").Replace(s)
}
