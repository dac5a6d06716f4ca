package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"caricature/internal/middleware"
	"caricature/internal/styles"
)

type balanceSetter interface {
	SetBalance(ctx context.Context, ownerID string, credits int) error
}

func newCreditsCommand(c *cli) *cobra.Command {
	var owner string
	var set int
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Show or overwrite an owner's credit balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("set") {
				setter, ok := c.svc.Ledger.(balanceSetter)
				if !ok {
					return errors.New("the configured credit backend cannot set balances")
				}
				if err := setter.SetBalance(ctx, owner, set); err != nil {
					return err
				}
			}
			balance, err := c.svc.Ledger.Balance(ctx, owner)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits\n", owner, balance)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().IntVar(&set, "set", 0, "overwrite the balance")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newStylesCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "styles",
		Short: "List the style catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := c.svc.Styles.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no styles; add one with `caricaturectl styles add <image>`")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDISPLAY NAME\tURL")
			for _, s := range all {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.DisplayName, s.URL)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(newStylesAddCommand(c))
	return cmd
}

func newStylesAddCommand(c *cli) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <image>",
		Short: "Copy a style reference image into storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ext := strings.ToLower(filepath.Ext(args[0]))
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			key, err := c.svc.Files.Write(cmd.Context(), styles.Dir+"/"+strings.ToLower(name)+ext, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", key)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "style name (defaults to the file name)")
	return cmd
}

func newMigrateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.svc.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newCredentialsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored provider credentials",
	}
	var key, workflowURL string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store the renderer API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.svc.Credentials()
			if err != nil {
				return err
			}
			if workflowURL == "" {
				workflowURL = c.cfg.RendererURL
			}
			if err := store.SetRendererAPIKey(cmd.Context(), key, workflowURL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "renderer api key stored")
			return nil
		},
	}
	set.Flags().StringVar(&key, "key", "", "renderer API key (required)")
	set.Flags().StringVar(&workflowURL, "workflow-url", "", "workflow the key belongs to")
	_ = set.MarkFlagRequired("key")
	cmd.AddCommand(set)
	return cmd
}

func newTokenCommand(c *cli) *cobra.Command {
	var owner, locale string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := middleware.SignJWT(c.cfg.JWTSecret, owner, locale, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVar(&locale, "locale", "", "preferred message locale (en, id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
