package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/crawlops/crawlpilot/internal/crawl"
	"github.com/spf13/cobra"
)

// newJobsCmd groups job inspection and control under 'jobs'.
func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control jobs on the remote service",
	}
	cmd.AddCommand(newJobsListCmd(), newJobsInfoCmd(), newJobsStopCmd(), newJobsAbortCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var (
		all     bool
		crawlID string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs known to the remote service",
		Long: `List jobs known to the remote service. By default only jobs running
under the configured conf id are shown; --all lifts that filter.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			infos, err := a.Client().ListJobs(cmd.Context())
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			confID := a.Config().Crawl.ConfID
			if all {
				confID = ""
			}
			printJobTable(cmd.OutOrStdout(), filterJobs(infos, confID, crawlID))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include jobs from other configurations")
	cmd.Flags().StringVar(&crawlID, "crawl", "", "only show jobs belonging to this crawl id")
	return cmd
}

// filterJobs keeps records matching the given conf and crawl ids. An
// empty id matches everything on that axis.
func filterJobs(infos []crawl.JobInfo, confID, crawlID string) []crawl.JobInfo {
	if confID == "" && crawlID == "" {
		return infos
	}
	filtered := infos[:0]
	for _, info := range infos {
		if confID != "" && info.ConfID != confID {
			continue
		}
		if crawlID != "" && info.CrawlID != crawlID {
			continue
		}
		filtered = append(filtered, info)
	}
	return filtered
}

func newJobsInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <job-id>",
		Short: "Show the status record of one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			info, err := a.Client().GetJobStatus(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("job %s: %w", args[0], err)
			}
			printJobInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

func newJobsStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <job-id>",
		Short: "Ask the remote service to stop a job gracefully",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Client().StopJob(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("stop job %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stop requested for job %s\n", args[0])
			return nil
		},
	}
}

func newJobsAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <job-id>",
		Short: "Kill a job on the remote service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Client().AbortJob(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("abort job %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "abort requested for job %s\n", args[0])
			return nil
		},
	}
}

// printJobTable writes one row per job status record.
func printJobTable(w io.Writer, infos []crawl.JobInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "no jobs")
		return
	}
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tTYPE\tSTATE\tCRAWL\tCONF")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", info.ID, info.Type, info.State, info.CrawlID, info.ConfID)
	}
	tw.Flush()
}

// printJobInfo writes the full status record of one job, arguments
// included.
func printJobInfo(w io.Writer, info crawl.JobInfo) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", info.ID)
	fmt.Fprintf(tw, "type\t%s\n", info.Type)
	fmt.Fprintf(tw, "state\t%s\n", info.State)
	fmt.Fprintf(tw, "crawl\t%s\n", info.CrawlID)
	fmt.Fprintf(tw, "conf\t%s\n", info.ConfID)
	if info.Msg != "" {
		fmt.Fprintf(tw, "msg\t%s\n", info.Msg)
	}
	tw.Flush()
	if len(info.Args) > 0 {
		if args, err := json.MarshalIndent(info.Args, "", "  "); err == nil {
			fmt.Fprintf(w, "args\n%s\n", args)
		}
	}
}
