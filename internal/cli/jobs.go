package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/bedrockbatch/internal/filetype"
	"github.com/local/bedrockbatch/internal/jobs"
	"github.com/local/bedrockbatch/internal/orchestrator"
	"github.com/local/bedrockbatch/internal/results"
	"github.com/local/bedrockbatch/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [job-arn]",
	Short: "Show the status of a job (default: the latest registered job)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := app.Job(ctx, argOrEmpty(args))
		if err != nil {
			return err
		}
		eng, err := app.JobEngine(ctx, e)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), eng.GetStatus(ctx, e.JobARN))
	},
}

var (
	monitorInterval  time.Duration
	monitorMaxErrors int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [job-arn]",
	Short: "Poll a job until it finishes and preview its results",
	Long: `Poll a job until it reaches a terminal status. Completed jobs get a bounded
preview of their results. Interrupting stops the wait; the job keeps running.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := app.Job(cmd.Context(), argOrEmpty(args))
		if err != nil {
			return err
		}
		return follow(cmd, e)
	},
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 0, "poll interval (default BATCH_POLL_INTERVAL)")
	monitorCmd.Flags().IntVar(&monitorMaxErrors, "max-errors", 0, "give up after this many consecutive failed polls (0 = never)")
}

// follow polls e's job to a terminal status and prints the outcome.
func follow(cmd *cobra.Command, e store.Entry) error {
	ctx := cmd.Context()
	eng, err := app.JobEngine(ctx, e)
	if err != nil {
		return err
	}
	g, err := app.JobGateway(ctx, e)
	if err != nil {
		return err
	}
	interval := cfg.Batch.PollInterval
	if monitorInterval > 0 {
		interval = monitorInterval
	}
	out, err := orchestrator.Follow(ctx, eng, results.NewResolver(eng, g), e, orchestrator.FollowOptions{
		Poll: jobs.MonitorOptions{
			Interval:  interval,
			MaxErrors: monitorMaxErrors,
			OnPoll: func(s jobs.Snapshot) {
				log.Info().Str("job_arn", s.JobARN).Str("status", string(s.Status)).Str("provider_status", s.ProviderStatus).Msg("poll")
			},
		},
		Results:           results.Options{PreviewLines: cfg.Batch.PreviewLines, PresignTTL: cfg.Batch.PresignTTL},
		VideoPreviewLines: cfg.Batch.VideoPreviewLines,
	})
	if out != nil {
		if perr := printJSON(cmd.OutOrStdout(), out); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

const defaultPresignTTL = time.Hour

var (
	resultsLines   int
	resultsPresign bool
)

var resultsCmd = &cobra.Command{
	Use:   "results [job-arn]",
	Short: "Locate a completed job's output and preview its records",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := app.Job(ctx, argOrEmpty(args))
		if err != nil {
			return err
		}
		eng, err := app.JobEngine(ctx, e)
		if err != nil {
			return err
		}
		g, err := app.JobGateway(ctx, e)
		if err != nil {
			return err
		}
		opts := results.Options{
			PreviewLines: orchestrator.PreviewLines(filetype.Modality(e.Modality), cfg.Batch.PreviewLines, cfg.Batch.VideoPreviewLines),
		}
		if cmd.Flags().Changed("lines") {
			opts.PreviewLines = resultsLines
		}
		if resultsPresign {
			opts.PresignTTL = cfg.Batch.PresignTTL
			if opts.PresignTTL <= 0 {
				opts.PresignTTL = defaultPresignTTL
			}
		}
		res, err := results.NewResolver(eng, g).Resolve(ctx, e.JobARN, opts)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	resultsCmd.Flags().IntVarP(&resultsLines, "lines", "n", 0, "preview at most this many lines")
	resultsCmd.Flags().BoolVar(&resultsPresign, "presign", false, "include a download URL for the data file")
}

var stopCmd = &cobra.Command{
	Use:   "stop <job-arn>",
	Short: "Request that a job stops",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := app.Job(ctx, args[0])
		if err != nil {
			return err
		}
		eng, err := app.JobEngine(ctx, e)
		if err != nil {
			return err
		}
		if err := eng.Stop(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stop requested for %s\n", args[0])
		return nil
	},
}

var (
	jobsLimit  int
	jobsRemote bool
	jobsStatus string
	jobsName   string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List registered jobs, or recent provider jobs with --remote",
	Long: `List jobs recorded by earlier submissions, newest first. With --remote the
provider's own job list is queried instead.

Examples:
  batchctl jobs
  batchctl jobs --remote --status InProgress`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if jobsRemote {
			eng, err := app.Engine(ctx)
			if err != nil {
				return err
			}
			list, err := eng.List(ctx, jobs.ListFilter{NameContains: jobsName, Status: jobsStatus, Max: jobsLimit})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		}
		reg, err := app.Registry()
		if err != nil {
			return err
		}
		entries, err := reg.Recent(ctx, jobsLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), entries)
	},
}

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", store.DefaultRecent, "max jobs")
	jobsCmd.Flags().BoolVar(&jobsRemote, "remote", false, "query the provider instead of the registry")
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "provider status filter (with --remote)")
	jobsCmd.Flags().StringVar(&jobsName, "name", "", "job name substring filter (with --remote)")
}
