package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"fleamarket-scraper/api"
	"fleamarket-scraper/config"
	"fleamarket-scraper/llm"
	"fleamarket-scraper/pipeline"
	"fleamarket-scraper/scraper/forum"
	"fleamarket-scraper/services"
	"fleamarket-scraper/storage"
	"fleamarket-scraper/utils"
)

const (
	summaryFile          = "summary.txt"
	geocodeFailuresFile  = "geocoding_failures.json"
	defaultExportFile    = "markets.csv"
	renderedFetchTimeout = 45 * time.Second
)

// env bundles what every subcommand starts from.
type env struct {
	cfg      *config.Config
	logger   *utils.Logger
	denylist *services.Denylist
}

func setup(req config.Requirements) (*env, error) {
	logger := utils.NewLogger()
	cfg := config.Load()
	logger.SetDebug(cfg.Debug || flagDebug)

	if err := cfg.Validate(req); err != nil {
		logger.Error("[config] %v", err)
		return nil, err
	}

	denylist, err := services.LoadDenylist(cfg.PlaceholdersFile)
	if err != nil {
		logger.Error("[config] %v", err)
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, denylist: denylist}, nil
}

func (e *env) openLocal(ctx context.Context) (storage.Store, error) {
	s, err := storage.NewSQLiteStore(ctx, e.cfg.LocalDBPath, e.denylist, e.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (e *env) openRemote(ctx context.Context) (storage.Store, error) {
	s, err := storage.NewPostgresStore(ctx, e.cfg.RemoteDatabaseURL, e.denylist, e.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (e *env) open(ctx context.Context, local bool) (storage.Store, error) {
	if local {
		return e.openLocal(ctx)
	}
	return e.openRemote(ctx)
}

func newRunCmd() *cobra.Command {
	var opts pipeline.Options
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, normalize and store new flea market posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Re-normalize every post and replace the structured corpus")
	cmd.Flags().BoolVar(&opts.SkipFetch, "skip-fetch", false, "Reuse the previously fetched posts")
	cmd.Flags().BoolVar(&opts.SkipNormalize, "skip-normalize", false, "Reuse the previously normalized records")
	cmd.Flags().BoolVar(&opts.SkipExisting, "skip-existing", false, "Leave markets already in a store untouched")
	return cmd
}

func runPipeline(ctx context.Context, opts pipeline.Options) error {
	e, err := setup(config.Requirements{Completion: !opts.SkipNormalize, Remote: true})
	if err != nil {
		return err
	}
	cfg, logger := e.cfg, e.logger

	logPath, err := logger.OpenRunLog(cfg.LogDir)
	if err != nil {
		logger.Warn("[main] Run log disabled: %v", err)
	}
	defer logger.Close()

	logger.Info("=== Flea market pipeline starting ===")
	logger.Info("Config — pages: %d | list/detail workers: %d/%d | llm: %s x%d | data: %s",
		cfg.MaxPages, cfg.ListConcurrency, cfg.DetailConcurrency, cfg.OpenAIModel, cfg.LLMConcurrency, cfg.DataDir)

	var crawler pipeline.Crawler
	if !opts.SkipFetch {
		c := forum.NewCrawler(forum.CrawlerConfig{
			BaseURL:           cfg.ForumBaseURL,
			MaxPages:          cfg.MaxPages,
			ListConcurrency:   cfg.ListConcurrency,
			DetailConcurrency: cfg.DetailConcurrency,
			MaxRetries:        cfg.FetchMaxRetries,
			RetryDelay:        time.Second,
			RateLimitMs:       cfg.RateLimitMs,
		},
			forum.NewLightweightFetch(cfg.FetchTimeout),
			func() (forum.FetchStrategy, error) {
				return forum.NewRenderedFetch(cfg.ChromeBin, renderedFetchTimeout, logger), nil
			},
			services.NewExtractor(logger),
			logger,
		)
		defer c.Close()
		crawler = c
	}

	var merger *services.Merger
	if !opts.SkipNormalize {
		client := llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, cfg.LLMTimeout)
		normalizer := services.NewNormalizer(client, e.denylist, cfg.LLMMaxAttempts, logger)
		merger = services.NewMerger(normalizer, cfg.LLMConcurrency, logger)
	}

	p := pipeline.New(storage.NewCorpus(cfg.DataDir), crawler, merger, e.openLocal, e.openRemote, logger)
	report, err := p.Run(ctx, opts)
	if err != nil {
		logger.Error("[main] %v", err)
		return err
	}
	report.LogFile = logPath

	report.Print(os.Stdout)
	summaryPath := filepath.Join(cfg.LogDir, summaryFile)
	if err := report.Save(summaryPath); err != nil {
		logger.Warn("[main] Could not write summary: %v", err)
	} else {
		logger.Info("Summary written to %s", summaryPath)
	}

	if !report.Success() {
		return errRunFailed
	}
	logger.Info("=== Pipeline complete ===")
	return nil
}

func newServeCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the stored markets over a read-only HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), local)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Serve the local store instead of the remote one")
	return cmd
}

func serve(ctx context.Context, local bool) error {
	e, err := setup(config.Requirements{Remote: !local})
	if err != nil {
		return err
	}
	logger := e.logger

	store, err := e.open(ctx, local)
	if err != nil {
		logger.Error("[main] %v", err)
		return err
	}
	defer store.Close()

	router := api.NewServer(api.NewHandler(store, e.denylist, logger), logger)
	httpServer := &http.Server{
		Addr:         ":" + e.cfg.APIPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("[api] Listening on :%s", e.cfg.APIPort)
		logger.Info("[api]   Markets:   http://localhost:%s/api/v1/flea-markets", e.cfg.APIPort)
		logger.Info("[api]   Health:    http://localhost:%s/health", e.cfg.APIPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("[api] Shutting down")
	case err := <-serverErr:
		logger.Error("[api] Server error: %v", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("[api] Server stopped")
	return nil
}

func newGeocodeCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "geocode",
		Short: "Resolve coordinates for stored markets that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			return geocode(cmd.Context(), local)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Geocode the local store instead of the remote one")
	return cmd
}

func geocode(ctx context.Context, local bool) error {
	e, err := setup(config.Requirements{Remote: !local})
	if err != nil {
		return err
	}
	cfg, logger := e.cfg, e.logger
	if cfg.KakaoAPIKey == "" {
		logger.Warn("[geocoder] KAKAO_REST_API_KEY is not set — only Nominatim will be queried")
	}

	store, err := e.open(ctx, local)
	if err != nil {
		logger.Error("[main] %v", err)
		return err
	}
	defer store.Close()

	g := services.NewGeocoder(services.GeocoderConfig{
		KakaoAPIKey:     cfg.KakaoAPIKey,
		KakaoBaseURL:    cfg.KakaoBaseURL,
		NominatimURL:    cfg.GeocoderBaseURL,
		UserAgent:       cfg.GeocoderUserAgent,
		RequestInterval: 500 * time.Millisecond,
	}, e.denylist, logger)

	stats, failures, err := g.Enrich(ctx, store)
	if err != nil {
		logger.Error("[main] %v", err)
		return err
	}

	if len(failures) > 0 {
		path := filepath.Join(cfg.DataDir, geocodeFailuresFile)
		if err := storage.WriteJSON(path, failures); err != nil {
			logger.Error("[main] Could not write %s: %v", path, err)
			return err
		}
		logger.Warn("[geocoder] %d market(s) need manual follow-up — see %s", len(failures), path)
	}

	logger.Info("Geocoding done — resolved: %d | skipped: %d | failed: %d", stats.Processed, stats.Skipped, stats.Failed)
	return nil
}

func newExportCmd() *cobra.Command {
	var (
		remote bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every stored market and session to a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return export(cmd.Context(), !remote, output)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "Export the remote store instead of the local one")
	cmd.Flags().StringVarP(&output, "output", "o", "", "CSV path (default: DATA_DIR/"+defaultExportFile+")")
	return cmd
}

func export(ctx context.Context, local bool, output string) error {
	e, err := setup(config.Requirements{Remote: !local})
	if err != nil {
		return err
	}
	logger := e.logger
	if output == "" {
		output = filepath.Join(e.cfg.DataDir, defaultExportFile)
	}

	store, err := e.open(ctx, local)
	if err != nil {
		logger.Error("[main] %v", err)
		return err
	}
	defer store.Close()

	details, err := storage.LoadDetails(ctx, store)
	if err != nil {
		logger.Error("[main] Load markets: %v", err)
		return err
	}

	w, err := storage.NewCSVWriter(output)
	if err != nil {
		logger.Error("[main] %v", err)
		return err
	}
	rows, err := w.WriteMarkets(details)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		logger.Error("[main] CSV write failed: %v", err)
		return err
	}

	logger.Info("Exported %d market(s) as %d row(s) to %s", len(details), rows, output)
	return nil
}
