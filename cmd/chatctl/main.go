// Command chatctl runs maintenance tasks against the chat backends.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sanaka-srujana/tars-chat/internal/app"
	"github.com/sanaka-srujana/tars-chat/internal/config"
	clog "github.com/sanaka-srujana/tars-chat/internal/log"
	mongorepo "github.com/sanaka-srujana/tars-chat/internal/repository/mongo"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config.Config
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Maintenance commands for the chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Load()
			clog.Init(cfg.Env)
			return config.Validate(cfg)
		},
	}
	// withContainer connects the backends for the duration of fn.
	withContainer := func(cmd *cobra.Command, fn func(ctx context.Context, c *app.Container) error) error {
		ctx := cmd.Context()
		c, err := app.Build(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(ctx, c)
	}

	root.AddCommand(
		newMigrateCmd(withContainer),
		newSweepTypingCmd(withContainer),
		newUnreadCmd(withContainer),
		newMarkReadCmd(withContainer),
	)
	return root
}

type runner func(cmd *cobra.Command, fn func(ctx context.Context, c *app.Container) error) error

func newMigrateCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and indexes, and rewrite legacy reaction documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *app.Container) error {
				// Build already ran the relational migration.
				if c.Mongo == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "postgres schema up to date")
					return nil
				}
				n, err := mongorepo.MigrateLegacyReactions(ctx, c.Mongo)
				if err != nil {
					return err
				}
				log.Info().Int64("documents", n).Msg("legacy reactions migrated")
				fmt.Fprintf(cmd.OutOrStdout(), "schema up to date, %d message documents rewritten\n", n)
				return nil
			})
		},
	}
}

func newSweepTypingCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-typing",
		Short: "Delete typing indicators older than the expiry window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *app.Container) error {
				n, err := c.Services.Typing.SweepExpired(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d stale typing indicators deleted\n", n)
				return nil
			})
		},
	}
}

func newUnreadCmd(run runner) *cobra.Command {
	var userID, conversationID string
	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Print a user's unread count, for one conversation or all of them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *app.Container) error {
				out := cmd.OutOrStdout()
				if conversationID != "" {
					n, err := c.Services.Unread.UnreadCount(ctx, userID, conversationID)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s\t%d\n", conversationID, n)
					return nil
				}
				convs, err := c.Services.Conversations.ListForUser(ctx, userID)
				if err != nil {
					return err
				}
				for _, conv := range convs {
					fmt.Fprintf(out, "%s\t%d\n", conv.ID, conv.UnreadCount)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (required)")
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newMarkReadCmd(run runner) *cobra.Command {
	var userID, conversationID string
	cmd := &cobra.Command{
		Use:   "mark-read",
		Short: "Mark every message of a conversation as read by a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *app.Container) error {
				n, err := c.Services.Unread.MarkAsRead(ctx, conversationID, userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d messages marked read\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (required)")
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation id (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}
