package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-spider/internal/clock/system"
	"github.com/JakeFAU/site-spider/internal/config"
	"github.com/JakeFAU/site-spider/internal/crawler"
	"github.com/JakeFAU/site-spider/internal/export"
	"github.com/JakeFAU/site-spider/internal/server"
)

// crawlOptions mirrors the Policy fields. Only flags the user set override
// the configured defaults.
type crawlOptions struct {
	maxDepth      int
	maxWorkers    int
	include       string
	exclude       string
	stayOnDomain  bool
	respectRobots bool
	timeoutMs     int
	format        string
	output        string
}

// newCrawlCmd creates the one-shot 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl <start-url>",
		Short: "Crawl a site once and print its site map",
		Long: `Crawls from the start URL in the foreground and writes the finished site
map to stdout (or --output) as a text report, sitemaps.org XML or Markdown.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawlCommand(cmd, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.maxDepth, "max-depth", crawler.DefaultMaxDepth, "maximum link depth to fetch")
	flags.IntVar(&opts.maxWorkers, "max-workers", crawler.DefaultMaxWorkers, "number of concurrent workers")
	flags.StringVar(&opts.include, "include", "", "comma separated substrings a link must contain")
	flags.StringVar(&opts.exclude, "exclude", "", "comma separated substrings that reject a link")
	flags.BoolVar(&opts.stayOnDomain, "stay-on-domain", true, "only follow links on the start URL's host")
	flags.BoolVar(&opts.respectRobots, "respect-robots", true, "honor robots.txt Disallow rules")
	flags.IntVar(&opts.timeoutMs, "timeout-ms", crawler.DefaultConnectionTimeoutMs, "per-page fetch timeout in milliseconds")
	flags.StringVar(&opts.format, "format", string(export.FormatText), "output format: text, xml or markdown")
	flags.StringVarP(&opts.output, "output", "o", "", "write the export to this file instead of stdout")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, startURL string, opts *crawlOptions) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	policy := buildPolicy(cmd, rt.cfg, startURL, opts)
	if msgs := policy.Validate(); len(msgs) > 0 {
		return &crawler.ConfigValidationError{Messages: msgs}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	engine := server.BuildEngine(rt.cfg, clock, rt.logger.Named("engine"))
	siteMap := crawler.NewSiteMap(policy, clock)
	if err := engine.Run(ctx, "cli", siteMap); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}

	body, err := export.Render(format, siteMap)
	if err != nil {
		return fmt.Errorf("render %s: %w", format, err)
	}
	if err := writeOutput(cmd, opts.output, body); err != nil {
		return err
	}

	stats := siteMap.Stats()
	rt.logger.Info("crawl command finished",
		zap.String("status", string(siteMap.Status())),
		zap.Int("total_pages", stats.TotalPages),
		zap.Int("failed_pages", stats.FailedPages),
	)
	return nil
}

func buildPolicy(cmd *cobra.Command, cfg config.Config, startURL string, opts *crawlOptions) crawler.Policy {
	policy := cfg.Policy(startURL)
	flags := cmd.Flags()
	if flags.Changed("max-depth") {
		policy.MaxDepth = opts.maxDepth
	}
	if flags.Changed("max-workers") {
		policy.MaxWorkers = opts.maxWorkers
	}
	if flags.Changed("stay-on-domain") {
		policy.StayOnDomain = opts.stayOnDomain
	}
	if flags.Changed("respect-robots") {
		policy.RespectRobots = opts.respectRobots
	}
	if flags.Changed("timeout-ms") {
		policy.ConnectionTimeoutMs = opts.timeoutMs
	}
	policy.IncludePatterns = crawler.SplitPatterns(opts.include)
	policy.ExcludePatterns = crawler.SplitPatterns(opts.exclude)
	return policy
}

func writeOutput(cmd *cobra.Command, path, body string) error {
	if path == "" {
		if _, err := fmt.Fprint(cmd.OutOrStdout(), body); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
