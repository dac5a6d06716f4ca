// Command caricaturectl runs and inspects generations from a terminal using
// the same backends as the api.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"caricature/internal/bootstrap"
	"caricature/internal/infra"
)

// cli carries the services opened by the root command's pre-run hook.
type cli struct {
	cfg    *infra.Config
	logger infra.Logger
	svc    *bootstrap.Services
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{}
	err := newRootCommand(c).ExecuteContext(ctx)
	if c.svc != nil {
		if cerr := c.svc.Close(); cerr != nil {
			c.logger.Warn().Err(cerr).Msg("close backends")
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand(c *cli) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "caricaturectl",
		Short:         "Run and inspect caricature generations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = infra.NewLogger(cfg.AppEnv)
			if !verbose {
				c.logger = c.logger.Level(zerolog.WarnLevel)
			}
			svc, err := bootstrap.New(cmd.Context(), cfg, &c.logger)
			if err != nil {
				return err
			}
			c.svc = svc
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level instead of warnings only")

	root.AddCommand(
		newGenerateCommand(c),
		newResumeCommand(c),
		newStatusCommand(c),
		newCreditsCommand(c),
		newStylesCommand(c),
		newMigrateCommand(c),
		newCredentialsCommand(c),
		newTokenCommand(c),
	)
	return root
}
