package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/crawlops/crawlpilot/internal/harvest"
	"github.com/crawlops/crawlpilot/internal/seed"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newSeedCmd groups seed list operations under 'seed'.
func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create and harvest seed lists",
	}
	cmd.AddCommand(newSeedCreateCmd(), newSeedHarvestCmd())
	return cmd
}

func newSeedCreateCmd() *cobra.Command {
	var (
		file string
		name string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Upload a local seed list to the remote service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			urls, err := seed.Load(file)
			if err != nil {
				return fmt.Errorf("load seed file: %w", err)
			}
			uploader := seed.NewUploader(a.Client(), a.Logger().Named("seed"))
			ref, err := uploader.Upload(cmd.Context(), seed.List{Name: name, URLs: urls})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seed %q uploaded to %s (%d urls)\n", ref.Name, ref.Dir, len(urls))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to a seed list, one url per line")
	cmd.Flags().StringVar(&name, "name", "default", "name the seed list is stored under")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newSeedHarvestCmd() *cobra.Command {
	var (
		outFile  string
		name     string
		upload   bool
		render   bool
		maxLinks int
	)
	cmd := &cobra.Command{
		Use:   "harvest <portal-url>",
		Short: "Scrape seed urls off a portal page",
		Long: `Fetches a portal page and extracts its anchor links into a seed list.
Pages that look like JS-rendered shells can be re-fetched through a
headless browser with --render. The result goes to stdout, to a file
with --out, or straight to the remote service with --upload.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			hcfg := a.HarvestConfig()
			if render {
				hcfg.RenderEnabled = true
			}
			if maxLinks > 0 {
				hcfg.MaxLinks = maxLinks
			}

			logger := a.Logger().Named("harvest")
			harvester, err := harvest.New(hcfg, logger)
			if err != nil {
				return fmt.Errorf("build harvester: %w", err)
			}
			defer func() {
				if cerr := harvester.Close(cmd.Context()); cerr != nil {
					logger.Warn("harvester close failed", zap.Error(cerr))
				}
			}()

			res, err := harvester.Harvest(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("harvest %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "harvested %d links from %s (rendered=%t)\n", len(res.Links), res.PortalURL, res.Rendered)

			switch {
			case outFile != "":
				if err := writeSeedFile(outFile, res.Links); err != nil {
					return err
				}
				fmt.Fprintf(out, "seed list written to %s\n", outFile)
			case upload:
				uploader := seed.NewUploader(a.Client(), a.Logger().Named("seed"))
				ref, err := uploader.Upload(cmd.Context(), seed.List{Name: name, URLs: res.Links})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "seed %q uploaded to %s\n", ref.Name, ref.Dir)
			default:
				for _, link := range res.Links {
					fmt.Fprintln(out, link)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outFile, "out", "", "write the harvested list to this file instead of stdout")
	cmd.Flags().StringVar(&name, "name", "default", "name used with --upload")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the harvested list to the remote service")
	cmd.Flags().BoolVar(&render, "render", false, "allow headless browser rendering for JS-heavy portals")
	cmd.Flags().IntVar(&maxLinks, "max-links", 0, "cap on harvested links (default from config)")
	return cmd
}

// writeSeedFile writes one url per line, the format seed.Load reads back.
func writeSeedFile(path string, urls []string) error {
	body := strings.Join(urls, "\n") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write seed file: %w", err)
	}
	return nil
}
