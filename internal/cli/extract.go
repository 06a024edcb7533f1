package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tariffscope/internal/cache"
	"github.com/ppiankov/tariffscope/internal/pipeline"
	"github.com/ppiankov/tariffscope/internal/worker"
)

var (
	extractTimeout   time.Duration
	extractWorkers   int
	sectionsURL      string
	registerWorkbook string
	noCache          bool
	httpProxy        string
	httpsProxy       string
	extractJSON      bool
)

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract the tariff schedule into a new snapshot",
	Long: `Extract crawls the published tariff schedule and publishes a new
classification snapshot:
- Fetch the sections index and every section page
- Fetch and parse chapter pages in parallel (rate tables and notes)
- Merge the preferential, trade remedy and concession registers
- Validate the code hierarchy and carry retired codes forward
- Persist and publish the snapshot if its content changed

Rows that cannot be parsed are kept as dead letters (see 'tariffscope review').

Example:
  tariffscope extract --sections-url https://tariff.example/schedule
  tariffscope extract --registers ./registers.xlsx --workers 8
  tariffscope extract --no-cache --timeout 30m`,
	Args: cobra.NoArgs,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().DurationVar(&extractTimeout, "timeout", time.Hour, "overall extraction timeout")
	extractCmd.Flags().IntVar(&extractWorkers, "workers", 0, "chapter workers (default from config)")
	extractCmd.Flags().StringVar(&sectionsURL, "sections-url", "", "sections index URL (overrides source.sections_url)")
	extractCmd.Flags().StringVar(&registerWorkbook, "registers", "", "register workbook path or URL (overrides source.register_workbook)")
	extractCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable change detection (parse every chapter)")
	extractCmd.Flags().StringVar(&httpProxy, "http-proxy", "", "HTTP proxy URL (overrides HTTP_PROXY env var)")
	extractCmd.Flags().StringVar(&httpsProxy, "https-proxy", "", "HTTPS proxy URL (overrides HTTPS_PROXY env var)")
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "print the run summary as JSON on stdout")
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sectionsURL != "" {
		cfg.Source.SectionsURL = sectionsURL
	}
	if registerWorkbook != "" {
		cfg.Source.RegisterWorkbook = registerWorkbook
	}
	if extractWorkers > 0 {
		cfg.Concurrency.Workers = extractWorkers
	}
	if httpProxy != "" {
		cfg.HTTP.HTTPProxy = httpProxy
	}
	if httpsProxy != "" {
		cfg.HTTP.HTTPSProxy = httpsProxy
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
	if cfg.Source.RegisterWorkbook, err = expandHome(cfg.Source.RegisterWorkbook); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Tariffscope Extraction\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Sections:   %s\n", cfg.Source.SectionsURL)
	if cfg.Source.RegisterWorkbook != "" {
		fmt.Fprintf(os.Stderr, "  Registers:  %s\n", cfg.Source.RegisterWorkbook)
	}
	fmt.Fprintf(os.Stderr, "  Workers:    %d\n", cfg.Concurrency.Workers)
	fmt.Fprintf(os.Stderr, "  Cache:      %v\n", cfg.Cache.Enabled)
	fmt.Fprintf(os.Stderr, "  Timeout:    %v\n", extractTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	// The previous snapshot is needed to carry retired codes forward
	st, err := loadStore(ctx, repo)
	if err != nil {
		return fmt.Errorf("load previous snapshot: %w", err)
	}

	limiter := worker.NewLimiter(
		cfg.RateLimiting.RequestsPerSecond,
		cfg.RateLimiting.BurstSize,
		cfg.RateLimiting.Delay,
		cfg.RateLimiting.Jitter,
	)
	fetcher, err := pipeline.NewHTTPFetcher(cfg.HTTP, limiter)
	if err != nil {
		return err
	}

	var changes *pipeline.ChangeDetector
	if cfg.Cache.Enabled {
		dir, err := expandHome(cfg.Cache.Dir)
		if err != nil {
			return err
		}
		changes = pipeline.NewChangeDetector(cache.NewLayeredCache(time.Hour, dir, cfg.Cache.TTL), cfg.Cache.TTL)
	}

	p, err := pipeline.NewPipeline(cfg, fetcher, st, repo, changes)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "⚙️  Crawling schedule...\n")
	res, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Extraction Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Run:          %s\n", res.RunID)
	fmt.Fprintf(os.Stderr, "  Version:      %s\n", res.Version)
	if res.Published {
		fmt.Fprintf(os.Stderr, "  Published:    yes\n")
	} else {
		fmt.Fprintf(os.Stderr, "  Published:    no (content unchanged)\n")
	}
	fmt.Fprintf(os.Stderr, "  Chapters:     %d (%d unchanged, %d failed)\n", res.Chapters, res.Reused, res.Failed)
	if res.Carried > 0 {
		fmt.Fprintf(os.Stderr, "  Carried:      %d codes kept from the previous snapshot\n", res.Carried)
	}
	fmt.Fprintf(os.Stderr, "  Codes:        %d (%d active)\n", res.Stats.Codes, res.Stats.ActiveCodes)
	fmt.Fprintf(os.Stderr, "  Rates:        %d general, %d preferential, %d remedies, %d concessions\n",
		res.Stats.GeneralRates, res.Stats.PreferentialRates, res.Stats.TradeRemedies, res.Stats.Concessions)
	fmt.Fprintf(os.Stderr, "  Orphans:      %d (%d reattached, %d excluded)\n",
		res.Hierarchy.Orphans, res.Hierarchy.Reattached, res.Hierarchy.Excluded)
	fmt.Fprintf(os.Stderr, "  Dead letters: %d\n", res.Stats.DeadLetters)
	fmt.Fprintf(os.Stderr, "  Duration:     %v\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "\n")

	if extractJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return nil
}
