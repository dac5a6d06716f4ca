package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"caricature/internal/domain"
	"caricature/internal/orchestrator"
)

func newGenerateCommand(c *cli) *cobra.Command {
	var owner, subject, input, style string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create a generation, or resume the owner's active one, and wait for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req := orchestrator.Request{OwnerID: owner, Subject: subject, InputImage: input}
			if s := strings.TrimSpace(style); s != "" {
				if strings.Contains(s, "://") {
					req.StyleImage = s
				} else {
					resolved, err := c.svc.Styles.Resolve(ctx, s)
					if errors.Is(err, domain.ErrNotFound) {
						return fmt.Errorf("unknown style %q, see `caricaturectl styles`", s)
					}
					if err != nil {
						return err
					}
					req.StyleImage = resolved.URL
					req.StyleName = resolved.Name
				}
			}

			orch, err := c.svc.Orchestrator(ctx)
			if err != nil {
				return err
			}
			res, err := orch.CreateOrResume(ctx, req, printProgress(cmd.OutOrStdout()))
			return printOutcome(cmd.OutOrStdout(), res, err)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVar(&subject, "subject", "", "name of the person in the photo")
	cmd.Flags().StringVar(&input, "input", "", "input photo URL")
	cmd.Flags().StringVar(&style, "style", "", "style name from the catalog, or a style image URL")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newResumeCommand(c *cli) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue polling the owner's active generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := c.svc.Orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			res, err := orch.Resume(cmd.Context(), owner, printProgress(cmd.OutOrStdout()))
			return printOutcome(cmd.OutOrStdout(), res, err)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newStatusCommand(c *cli) *cobra.Command {
	var owner, jobID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the owner's active generation, or a job by id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				job *domain.Job
				err error
			)
			switch {
			case jobID != "":
				job, err = c.svc.Jobs.Get(ctx, jobID)
			case owner != "":
				job, err = c.svc.Jobs.FindActive(ctx, owner)
			default:
				return errors.New("pass --owner or --job")
			}
			if errors.Is(err, domain.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "no generation in progress")
				return nil
			}
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	return cmd
}

func printProgress(w io.Writer) orchestrator.ProgressFunc {
	last := ""
	return func(p orchestrator.Progress) {
		if p.Message == last {
			return
		}
		last = p.Message
		fmt.Fprintf(w, "[%s] %s\n", p.JobID, p.Message)
	}
}

func printOutcome(w io.Writer, res *orchestrator.Result, err error) error {
	if err != nil {
		var oe *orchestrator.Error
		if errors.As(err, &oe) {
			if oe.Kind == orchestrator.KindAbandoned {
				fmt.Fprintf(w, "stopped waiting; run `caricaturectl resume` to pick job %s up again\n", oe.JobID)
				return nil
			}
			return fmt.Errorf("%s: %s", oe.Kind, oe.Message)
		}
		return err
	}
	verb := "completed"
	if res.Resumed {
		verb = "completed (resumed)"
	}
	fmt.Fprintf(w, "[%s] %s: %s\ncredits left: %d\n", res.JobID, verb, res.OutputImage, res.Balance)
	return nil
}

func printJob(w io.Writer, job *domain.Job) {
	fmt.Fprintf(w, "id:       %s\n", job.ID)
	fmt.Fprintf(w, "owner:    %s\n", job.OwnerID)
	fmt.Fprintf(w, "status:   %s\n", job.Status)
	if job.StyleName != "" {
		fmt.Fprintf(w, "style:    %s\n", job.StyleName)
	}
	if job.OutputImage != "" {
		fmt.Fprintf(w, "output:   %s\n", job.OutputImage)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(w, "error:    %s\n", job.ErrorMessage)
	}
	fmt.Fprintf(w, "created:  %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "updated:  %s\n", job.UpdatedAt.Format("2006-01-02 15:04:05"))
}
