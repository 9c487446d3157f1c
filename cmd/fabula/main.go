package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/audio"
	"github.com/ternarybob/fabula/internal/common"
	"github.com/ternarybob/fabula/internal/control"
	"github.com/ternarybob/fabula/internal/genres"
	"github.com/ternarybob/fabula/internal/interfaces"
	"github.com/ternarybob/fabula/internal/locks"
	"github.com/ternarybob/fabula/internal/models"
	"github.com/ternarybob/fabula/internal/opf"
	"github.com/ternarybob/fabula/internal/pipeline"
	"github.com/ternarybob/fabula/internal/ratelimit"
	"github.com/ternarybob/fabula/internal/scrapers"
	"github.com/ternarybob/fabula/internal/storage/sqlite"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	output   = flag.String("output", "", "Target root directory for organized books")
	bookRoot = flag.String("book-root", "", "Directory whose immediate children are treated as books")
	doCopy   = flag.Bool("copy", false, "Copy book folders to the output root")
	doMove   = flag.Bool("move", false, "Move book folders to the output root")
	dryRun   = flag.Bool("dry-run", false, "Skip all side effects")

	flatten  = flag.Bool("flatten", false, "Flatten audio files to the target root")
	rename   = flag.Bool("rename", false, "Rename tracks to 'NN - Title.ext'")
	writeOPF = flag.Bool("opf", false, "Write metadata.opf sidecar")
	infoTxt  = flag.Bool("infotxt", false, "Write info.txt sidecar")
	cover    = flag.Bool("cover", false, "Download cover.jpg")
	id3Tag   = flag.Bool("id3-tag", false, "Embed ID3 tags in MP3 files")
	series   = flag.Bool("series", false, "Use series/volume in the target path")

	fromOPF      = flag.Bool("from-opf", false, "Use an existing metadata.opf as the source")
	forceRefresh = flag.Bool("force-refresh", false, "Re-scrape the OPF's source URL and overwrite")
	site         = flag.String("site", "all", "Restrict scraping to one catalog site")

	workers  = flag.Int("workers", 0, "Worker pool size (overrides config)")
	resume   = flag.Bool("resume", false, "Resume the most recent incomplete job")
	noResume = flag.Bool("no-resume", false, "Always start a fresh job")
	yolo     = flag.Bool("yolo", false, "Auto-accept all prompts")
	debug    = flag.Bool("debug", false, "Verbose logging")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Fabula version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence:
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	var err error

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("fabula.toml"); err == nil {
			configFiles = append(configFiles, "fabula.toml")
		}
	}

	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		os.Exit(1)
	}

	if *debug {
		config.Logging.Level = "debug"
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	opts := buildOptions()
	if err := opts.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid options")
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		logger.Fatal().Err(err).Msg("Run failed")
		os.Exit(1)
	}
}

// buildOptions assembles the job option snapshot from flags; positional
// arguments are the audiobook folders
func buildOptions() *models.Options {
	workerCount := *workers
	if workerCount == 0 {
		workerCount = config.Queue.Workers
	}

	return &models.Options{
		Folders:      flag.Args(),
		Output:       *output,
		BookRoot:     *bookRoot,
		Copy:         *doCopy,
		Move:         *doMove,
		DryRun:       *dryRun,
		Flatten:      *flatten,
		Rename:       *rename,
		OPF:          *writeOPF,
		InfoTxt:      *infoTxt,
		Cover:        *cover,
		ID3Tag:       *id3Tag,
		Series:       *series,
		FromOPF:      *fromOPF,
		ForceRefresh: *forceRefresh,
		Site:         *site,
		Workers:      workerCount,
		Resume:       *resume,
		NoResume:     *noResume,
		Yolo:         *yolo,
		Debug:        *debug,
	}
}

// run wires the storage, pipeline, and controller, then executes the job with
// interrupt handling: the first Ctrl+C stops gracefully (identification
// deletes the job, processing preserves it), the second aborts hard.
func run(opts *models.Options) error {
	storage, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	if err != nil {
		return fmt.Errorf("failed to open queue store: %w", err)
	}
	defer storage.Close()

	pipe, err := buildPipeline(storage, opts)
	if err != nil {
		return err
	}

	controller := control.NewController(config, storage, pipe, &terminalPrompter{yolo: opts.Yolo}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		logger.Warn().Msg("Interrupt received, stopping gracefully (press again to abort)")
		controller.RequestStop()
		<-sigChan
		logger.Warn().Msg("Second interrupt, aborting")
		cancel()
	}()

	started := time.Now()
	jobID, err := controller.Run(ctx, opts)
	if err != nil {
		return err
	}
	if jobID == "" {
		return nil
	}

	progress, err := controller.Progress(context.Background(), jobID)
	if err != nil {
		return err
	}

	logger.Info().
		Str("job_id", jobID).
		Int("total", progress.Total).
		Int("completed", progress.Completed).
		Int("failed", progress.Failed).
		Int("skipped", progress.Skipped).
		Str("elapsed", time.Since(started).Round(time.Millisecond).String()).
		Msg("Done")
	return nil
}

// buildPipeline assembles the shared pipeline collaborators for a run
func buildPipeline(storage interfaces.StorageManager, opts *models.Options) (*pipeline.Pipeline, error) {
	lockMgr, err := locks.NewManager(locks.Mode(config.Locks.Mode), storage.LockStorage(),
		logger, config.Locks.Timeout, config.Locks.PollInterval)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewDomainLimiter(config.HTTP.DomainDelay)
	fetcher := scrapers.NewFetcher(&config.HTTP, limiter, logger)

	registry := scrapers.NewRegistry()
	if err := registry.Restrict(opts.Site); err != nil {
		return nil, err
	}

	var advisor interfaces.GenreAdvisor
	if config.Genres.UseLLM {
		claudeAdvisor, err := genres.NewClaudeAdvisor(&config.Claude, config.Genres.Confidence, logger)
		if err != nil {
			return nil, err
		}
		advisor = claudeAdvisor
	}

	normalizer, err := genres.NewNormalizer(config.Genres.MappingPath, advisor, logger)
	if err != nil {
		return nil, err
	}

	template, err := opf.LoadTemplate(config.OPF.TemplatePath)
	if err != nil {
		return nil, err
	}

	tagger := audio.NewTagger(logger)

	cancelled := func(ctx context.Context, jobID string) bool {
		job, err := storage.JobStorage().GetJob(ctx, jobID)
		if err != nil {
			return false
		}
		return job.Status == models.JobStatusCancelled
	}

	return pipeline.New(lockMgr, fetcher, registry, normalizer, tagger, template, logger, cancelled), nil
}
