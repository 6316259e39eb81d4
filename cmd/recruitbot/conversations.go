package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"recruitbot/internal/backend"
	"recruitbot/internal/domain"
	"recruitbot/internal/transcript"
)

func conversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "List, rename, delete and export conversations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your conversations, most recent first",
		RunE: withBackend(func(ctx context.Context, cmd *cobra.Command, api *backend.Client, owner string, args []string) error {
			convs, err := api.ListConversations(ctx, owner)
			if err != nil {
				return err
			}
			return printConversations(cmd.OutOrStdout(), convs)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename [id] [title]",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: withBackend(func(ctx context.Context, cmd *cobra.Command, api *backend.Client, owner string, args []string) error {
			title := strings.Join(args[1:], " ")
			if err := api.RenameConversation(ctx, args[0], title); err != nil {
				return err
			}
			logger.Info("conversation renamed", "id", args[0], "title", title)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a conversation and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: withBackend(func(ctx context.Context, cmd *cobra.Command, api *backend.Client, owner string, args []string) error {
			if err := api.DeleteConversation(ctx, args[0]); err != nil {
				return err
			}
			logger.Info("conversation deleted", "id", args[0])
			return nil
		}),
	})

	var (
		format string
		output string
	)
	export := &cobra.Command{
		Use:   "export [id]",
		Short: "Export a conversation transcript as JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: withBackend(func(ctx context.Context, cmd *cobra.Command, api *backend.Client, owner string, args []string) error {
			f, err := transcript.ParseFormat(format)
			if err != nil {
				return err
			}
			conv, err := findConversation(ctx, api, owner, args[0])
			if err != nil {
				return err
			}
			msgs, err := api.ListMessages(ctx, conv.ID)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			if err := transcript.Write(w, *conv, msgs, f); err != nil {
				return err
			}
			if output != "" {
				logger.Info("transcript exported", "id", conv.ID, "messages", len(msgs), "file", output)
			}
			return nil
		}),
	}
	export.Flags().StringVarP(&format, "format", "f", "json", "output format: json or yaml")
	export.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	cmd.AddCommand(export)

	return cmd
}

// withBackend loads the config and hands the command a backend client and
// the configured owner id.
func withBackend(fn func(ctx context.Context, cmd *cobra.Command, api *backend.Client, owner string, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := requireOwner(cfg); err != nil {
			return err
		}
		api, _ := newClients(cfg)
		return fn(cmd.Context(), cmd, api, cfg.Client.OwnerID, args)
	}
}

func findConversation(ctx context.Context, api *backend.Client, owner, id string) (*domain.Conversation, error) {
	convs, err := api.ListConversations(ctx, owner)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		if convs[i].ID == id {
			return &convs[i], nil
		}
	}
	return nil, fmt.Errorf("conversation %s: %w", id, backend.ErrNotFound)
}

func printConversations(out io.Writer, convs []domain.Conversation) error {
	if len(convs) == 0 {
		fmt.Fprintln(out, "No conversations.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCONTEXT\tUPDATED")
	for _, c := range convs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Title, c.Context, humanize.Time(c.UpdatedAt))
	}
	return tw.Flush()
}
