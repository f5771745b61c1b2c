// ABOUTME: Message subcommands for zova-store
// ABOUTME: list and append on the active branch, and fork history at an edited message

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/zova-store/internal/store"
)

func newMessagesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Read and write messages on a session's active branch",
	}

	list := &cobra.Command{
		Use:   "list <session>",
		Short: "List messages on the active branch in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := store.ParseSessionID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := a.callContext(cmd)
			defer cancel()

			msgs, err := a.store.ListMessages(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("list messages: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintln(out, "No messages.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tID\tROLE\tCONTENT")
			for _, m := range msgs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.Seq, m.ID, m.Role, truncate(oneLine(m.Content), 60))
			}
			return w.Flush()
		},
	}

	var role string
	appendCmd := &cobra.Command{
		Use:   "append <session> <content>",
		Short: "Append a message to the active branch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := store.ParseSessionID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := a.callContext(cmd)
			defer cancel()

			msg, err := a.store.AppendMessage(ctx, sessionID, store.NewMessage{
				Role:    store.MessageRole(role),
				Content: args[1],
			})
			if err != nil {
				return fmt.Errorf("append message: %w", err)
			}

			out := cmd.OutOrStdout()
			success(out, "Appended message: %s", msg.ID)
			fmt.Fprintf(out, "  Seq:     %d\n", msg.Seq)
			fmt.Fprintf(out, "  Branch:  %s\n", msg.BranchID)
			return nil
		},
	}
	appendCmd.Flags().StringVar(&role, "role", string(store.RoleUser), "system, user or assistant")

	fork := &cobra.Command{
		Use:   "fork <session> <message> <content>",
		Short: "Replace a message's content on a new branch",
		Long: "Copies the active branch up to and including <message> onto a new branch,\n" +
			"with <message> carrying the new content, and makes that branch active.\n" +
			"The old branch is kept but hidden.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := store.ParseSessionID(args[0])
			if err != nil {
				return err
			}
			messageID, err := store.ParseMessageID(args[1])
			if err != nil {
				return err
			}

			ctx, cancel := a.callContext(cmd)
			defer cancel()

			outcome, err := a.store.ForkFromHistory(ctx, sessionID, store.HistoryForkRequest{
				SourceMessageID:    messageID,
				ReplacementContent: args[2],
			})
			if err != nil {
				return fmt.Errorf("fork history: %w", err)
			}

			out := cmd.OutOrStdout()
			success(out, "Forked to branch: %s", outcome.NewBranchID)
			fmt.Fprintf(out, "  Previous:  %s\n", outcome.PreviousBranchID)
			fmt.Fprintln(out)

			cyan := color.New(color.FgCyan)
			cyan.Fprintln(out, "  Message remaps")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  OLD\tNEW")
			for _, r := range outcome.MessageIDRemaps {
				fmt.Fprintf(w, "  %s\t%s\n", r.OldMessageID, r.NewMessageID)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(list, appendCmd, fork)
	return cmd
}
