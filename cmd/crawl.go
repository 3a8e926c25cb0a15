package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/crawlops/crawlpilot/internal/app"
	"github.com/crawlops/crawlpilot/internal/clock/system"
	"github.com/crawlops/crawlpilot/internal/crawl"
	"github.com/crawlops/crawlpilot/internal/id/uuid"
	"github.com/crawlops/crawlpilot/internal/progress"
	"github.com/crawlops/crawlpilot/internal/report"
	"github.com/crawlops/crawlpilot/internal/seed"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// crawlOptions carries the crawl command's flag values. confID, rounds and
// crawlID are normalized against the configuration before the run starts.
type crawlOptions struct {
	crawlID  string
	confID   string
	rounds   int
	seedFile string
	seedName string
	urlDir   string
}

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl to completion",
		Long: `Runs a multi-round crawl on the remote service and waits for it to finish.
Each round walks GENERATE, FETCH, PARSE and UPDATEDB after the initial
INJECT, polling job status until every stage completes. The seed comes
from a local file uploaded to the service, or from a directory already
present on it.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.crawlID, "crawl-id", "", "crawl id (generated when empty)")
	cmd.Flags().StringVar(&opts.confID, "conf-id", "", "remote configuration id (default from config)")
	cmd.Flags().IntVar(&opts.rounds, "rounds", 0, "number of pipeline rounds (default from config)")
	cmd.Flags().StringVar(&opts.seedFile, "seed-file", "", "local seed list, one url per line")
	cmd.Flags().StringVar(&opts.seedName, "seed-name", "default", "name the uploaded seed list is stored under")
	cmd.Flags().StringVar(&opts.urlDir, "url-dir", "", "seed directory already on the remote service")

	return cmd
}

func runCrawlCommand(cmd *cobra.Command, opts *crawlOptions) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if opts.seedFile != "" && opts.urlDir != "" {
		return errors.New("--seed-file and --url-dir are mutually exclusive")
	}
	if opts.seedFile == "" && opts.urlDir == "" {
		return errors.New("a seed source is required: --seed-file or --url-dir")
	}

	if opts.confID == "" {
		opts.confID = a.Config().Crawl.ConfID
	}
	if opts.rounds <= 0 {
		opts.rounds = a.Config().Crawl.Rounds
	}

	clk := system.New()
	if opts.crawlID == "" {
		generated, err := uuid.New().NewCrawlID(clk.Now())
		if err != nil {
			return fmt.Errorf("generate crawl id: %w", err)
		}
		opts.crawlID = generated
	}

	// Ctrl-C cancels the poll loop so the run still lands a report.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	logger := a.Logger().Named("crawl")
	builder := report.NewBuilder(opts.crawlID, opts.confID, clk)

	fmt.Fprintf(out, "crawl %s starting (conf %s, %d rounds)\n", opts.crawlID, opts.confID, opts.rounds)

	runErr := driveCrawl(ctx, a, opts, clk, builder, out)

	outcome := report.StatusSucceeded
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		outcome = report.StatusStopped
	default:
		outcome = report.StatusFailed
		logger.Error("crawl failed", zap.String("crawl_id", opts.crawlID), zap.Error(runErr))
	}

	rep := builder.Finish(outcome, runErr)
	if outcome == report.StatusFailed {
		a.Hub().Emit(progress.Event{
			Kind:    progress.KindCrawlFailed,
			CrawlID: opts.crawlID,
			ConfID:  opts.confID,
			Round:   len(rep.Rounds) + 1,
			Note:    runErr.Error(),
			TS:      clk.Now(),
		})
	}
	if a.Archiver() != nil {
		archiveCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		uri, archiveErr := a.Archiver().Archive(archiveCtx, rep)
		cancel()
		if archiveErr != nil {
			logger.Warn("crawl report archive failed",
				zap.String("crawl_id", opts.crawlID),
				zap.Error(archiveErr),
			)
		} else {
			fmt.Fprintf(out, "report archived to %s\n", uri)
		}
	}

	if runErr != nil {
		return fmt.Errorf("crawl %s: %w", opts.crawlID, runErr)
	}
	fmt.Fprintf(out, "crawl %s %s: %d rounds, %d jobs in %s\n",
		opts.crawlID, rep.Status, len(rep.Rounds), rep.TotalJobs,
		rep.FinishedAt.Sub(rep.StartedAt).Round(time.Second),
	)
	return nil
}

// driveCrawl uploads the seed when a file was given, then injects and
// walks every round, printing the jobs each round produced.
func driveCrawl(ctx context.Context, a *app.App, opts *crawlOptions, clk crawl.Clock, builder *report.Builder, out io.Writer) error {
	logger := a.Logger().Named("crawl")

	var seedRef *crawl.SeedRef
	if opts.seedFile != "" {
		urls, err := seed.Load(opts.seedFile)
		if err != nil {
			return fmt.Errorf("load seed file: %w", err)
		}
		ref, err := seed.NewUploader(a.Client(), logger).Upload(ctx, seed.List{Name: opts.seedName, URLs: urls})
		if err != nil {
			return err
		}
		seedRef = &ref
		builder.SetSeed(ref)
		fmt.Fprintf(out, "seed %q uploaded to %s (%d urls)\n", ref.Name, ref.Dir, len(urls))
	}

	client, err := crawl.NewJobClient(a.Client(), opts.crawlID, opts.confID, logger)
	if err != nil {
		return err
	}
	initial, err := client.Inject(ctx, seedRef, opts.urlDir, nil)
	if err != nil {
		return fmt.Errorf("inject crawl %s: %w", opts.crawlID, err)
	}
	a.Hub().Emit(progress.Event{
		Kind:    progress.KindJobCreated,
		CrawlID: opts.crawlID,
		ConfID:  opts.confID,
		JobID:   initial.ID,
		Stage:   string(initial.Stage),
		State:   string(crawl.StateRunning),
		Round:   1,
		TS:      clk.Now(),
	})

	orch, err := crawl.NewOrchestrator(crawl.OrchestratorConfig{
		Client:       client,
		InitialJob:   initial,
		TotalRounds:  opts.rounds,
		PollInterval: a.Config().Crawl.PollInterval(),
		Sleeper:      system.NewSleeper(),
		Clock:        clk,
		Emitter:      a.Hub(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	for orch.CurrentRound() <= orch.TotalRounds() {
		round := orch.CurrentRound()
		jobs, err := orch.NextRound(ctx)
		if err != nil {
			return err
		}
		builder.AddRound(round, jobs)
		printRound(out, round, orch.TotalRounds(), jobs)
	}

	a.Hub().Emit(progress.Event{
		Kind:    progress.KindCrawlComplete,
		CrawlID: opts.crawlID,
		ConfID:  opts.confID,
		Round:   orch.TotalRounds(),
		TS:      clk.Now(),
	})
	return nil
}

// printRound writes the completed jobs of one round as a small table.
func printRound(w io.Writer, round, total int, jobs []crawl.Job) {
	fmt.Fprintf(w, "round %d/%d complete\n", round, total)
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  STAGE\tJOB ID")
	for _, job := range jobs {
		fmt.Fprintf(tw, "  %s\t%s\n", job.Stage, job.ID)
	}
	tw.Flush()
}
