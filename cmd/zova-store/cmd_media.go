// ABOUTME: Media reference and agent event subcommands for zova-store
// ABOUTME: attach, list and delete media refs; list a session's agent events

package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/zova-store/internal/store"
)

func newMediaCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Manage media references attached to messages",
	}

	var (
		in                        store.NewMediaRef
		sha256                    string
		durationMS, width, height int64
	)
	attach := &cobra.Command{
		Use:   "attach <session> <message> <uri>",
		Short: "Attach a media reference to a message",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, messageID, err := parseMessageArgs(args)
			if err != nil {
				return err
			}
			in.URI = args[2]

			flags := cmd.Flags()
			if flags.Changed("sha256") {
				in.SHA256Hex = &sha256
			}
			if flags.Changed("duration-ms") {
				in.DurationMS = &durationMS
			}
			if flags.Changed("width") {
				in.WidthPx = &width
			}
			if flags.Changed("height") {
				in.HeightPx = &height
			}

			ctx, cancel := a.callContext(cmd)
			defer cancel()

			ref, err := a.store.AttachMedia(ctx, sessionID, messageID, in)
			if err != nil {
				return fmt.Errorf("attach media: %w", err)
			}
			success(cmd.OutOrStdout(), "Attached media: %s", ref.ID)
			return nil
		},
	}
	attach.Flags().StringVar(&in.MimeType, "mime", "application/octet-stream", "MIME type")
	attach.Flags().Int64Var(&in.SizeBytes, "size", 0, "size in bytes")
	attach.Flags().StringVar(&sha256, "sha256", "", "hex SHA-256 of the content")
	attach.Flags().Int64Var(&durationMS, "duration-ms", 0, "duration for audio or video")
	attach.Flags().Int64Var(&width, "width", 0, "width in pixels")
	attach.Flags().Int64Var(&height, "height", 0, "height in pixels")

	var all bool
	list := &cobra.Command{
		Use:   "list <session> <message>",
		Short: "List media attached to a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, messageID, err := parseMessageArgs(args)
			if err != nil {
				return err
			}

			ctx, cancel := a.callContext(cmd)
			defer cancel()

			refs, err := a.store.ListMedia(ctx, sessionID, messageID, all)
			if err != nil {
				return fmt.Errorf("list media: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(refs) == 0 {
				fmt.Fprintln(out, "No media.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMIME\tSIZE\tURI\tSTATE")
			for _, r := range refs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.MimeType, strconv.FormatInt(r.SizeBytes, 10), truncate(r.URI, 50), r.Visibility)
			}
			return w.Flush()
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include deleted media")

	del := &cobra.Command{
		Use:   "delete <session> <message> <media>",
		Short: "Soft-delete a media reference",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, messageID, err := parseMessageArgs(args)
			if err != nil {
				return err
			}
			mediaID, err := store.ParseMediaRefID(args[2])
			if err != nil {
				return err
			}

			ctx, cancel := a.callContext(cmd)
			defer cancel()

			if err := a.store.SoftDeleteMedia(ctx, sessionID, messageID, mediaID); err != nil {
				return fmt.Errorf("delete media: %w", err)
			}
			success(cmd.OutOrStdout(), "Deleted media: %s", mediaID)
			return nil
		},
	}

	cmd.AddCommand(attach, list, del)
	return cmd
}

func newEventsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the agent event log",
	}

	var message string
	list := &cobra.Command{
		Use:   "list <session>",
		Short: "List agent events for a session, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := store.ParseSessionID(args[0])
			if err != nil {
				return err
			}
			var messageID *store.MessageID
			if message != "" {
				id, err := store.ParseMessageID(message)
				if err != nil {
					return err
				}
				messageID = &id
			}

			ctx, cancel := a.callContext(cmd)
			defer cancel()

			events, err := a.store.ListAgentEvents(ctx, sessionID, messageID)
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "No events.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tTYPE\tMESSAGE\tPAYLOAD")
			for _, e := range events {
				target := "-"
				if e.MessageID != nil {
					target = e.MessageID.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format(timeLayout), e.EventType, target, truncate(e.PayloadJSON, 60))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&message, "message", "", "only events attached to this message")

	cmd.AddCommand(list)
	return cmd
}

func parseMessageArgs(args []string) (store.SessionID, store.MessageID, error) {
	sessionID, err := store.ParseSessionID(args[0])
	if err != nil {
		return store.SessionID{}, store.MessageID{}, err
	}
	messageID, err := store.ParseMessageID(args[1])
	if err != nil {
		return store.SessionID{}, store.MessageID{}, err
	}
	return sessionID, messageID, nil
}
