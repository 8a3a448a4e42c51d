package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vpnsentry/config"
	"vpnsentry/internal/appliance"
	"vpnsentry/internal/detect"
	"vpnsentry/internal/directory"
	"vpnsentry/internal/geoip"
	"vpnsentry/internal/ingest"
	"vpnsentry/internal/logger"
	"vpnsentry/internal/risk"
	"vpnsentry/internal/rules"
	"vpnsentry/internal/runlock"
	"vpnsentry/internal/store"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("vpnsentry.yml"); err == nil {
		return "vpnsentry.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "vpnsentry.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "vpnsentry.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.VPNSentry.Appliance.Timeout <= 0 {
		cfg.VPNSentry.Appliance.Timeout = 30 * time.Second
	}
	if cfg.VPNSentry.Appliance.ADOM == "" {
		cfg.VPNSentry.Appliance.ADOM = "root"
	}

	if cfg.VPNSentry.Directory.Timeout <= 0 {
		cfg.VPNSentry.Directory.Timeout = 10 * time.Second
	}
	if cfg.VPNSentry.GeoIP.Timeout <= 0 {
		cfg.VPNSentry.GeoIP.Timeout = 5 * time.Second
	}

	if cfg.VPNSentry.Lock.KeyPrefix == "" {
		cfg.VPNSentry.Lock.KeyPrefix = "vpnsentry"
	}
	if cfg.VPNSentry.Lock.TTL <= 0 {
		cfg.VPNSentry.Lock.TTL = 10 * time.Minute
	}

	if cfg.VPNSentry.Storage.Path == "" {
		cfg.VPNSentry.Storage.Path = "data/vpnsentry.db"
	}

	if cfg.VPNSentry.Ingest.Interval <= 0 {
		cfg.VPNSentry.Ingest.Interval = 10 * time.Minute
	}
	if cfg.VPNSentry.Ingest.Lookback <= 0 {
		cfg.VPNSentry.Ingest.Lookback = 10 * time.Minute
	}
	if cfg.VPNSentry.Ingest.InitialLookback <= 0 {
		cfg.VPNSentry.Ingest.InitialLookback = 365 * 24 * time.Hour
	}
	if cfg.VPNSentry.Ingest.FetchLimit <= 0 {
		cfg.VPNSentry.Ingest.FetchLimit = 1000
	}
	if cfg.VPNSentry.Ingest.SettleDelay <= 0 {
		cfg.VPNSentry.Ingest.SettleDelay = 10 * time.Second
	}
	if cfg.VPNSentry.Ingest.MaxWait <= 0 {
		cfg.VPNSentry.Ingest.MaxWait = 2 * time.Minute
	}

	if cfg.VPNSentry.Detection.BruteForceWindow <= 0 {
		cfg.VPNSentry.Detection.BruteForceWindow = 5 * time.Minute
	}
	if cfg.VPNSentry.Detection.BruteForceThreshold <= 0 {
		cfg.VPNSentry.Detection.BruteForceThreshold = 5
	}
	if cfg.VPNSentry.Detection.TravelMinGap <= 0 {
		cfg.VPNSentry.Detection.TravelMinGap = 90 * time.Minute
	}

	if cfg.VPNSentry.Risk.Interval <= 0 {
		cfg.VPNSentry.Risk.Interval = 15 * time.Minute
	}
	if cfg.VPNSentry.Risk.Window <= 0 {
		cfg.VPNSentry.Risk.Window = 7 * 24 * time.Hour
	}

	if cfg.VPNSentry.Retention.MaxAge <= 0 {
		cfg.VPNSentry.Retention.MaxAge = 180 * 24 * time.Hour
	}
	if cfg.VPNSentry.Retention.Interval <= 0 {
		cfg.VPNSentry.Retention.Interval = 24 * time.Hour
	}

	if cfg.VPNSentry.Metrics.Addr == "" {
		cfg.VPNSentry.Metrics.Addr = ":9090"
	}
	if cfg.VPNSentry.Logging.Level == "" {
		cfg.VPNSentry.Logging.Level = "info"
	}
}

// pipeline bundles everything a subcommand needs.
type pipeline struct {
	cfg          *config.Config
	store        *store.Store
	orchestrator *ingest.Orchestrator
	scorer       *risk.Scorer
	lock         *runlock.Lock
	geo          *geoip.Client
}

func (p *pipeline) Close() {
	if p.geo != nil {
		if err := p.geo.Close(); err != nil {
			logger.Warnf("Error closing geo cache: %v", err)
		}
	}
	if p.lock != nil {
		if err := p.lock.Close(); err != nil {
			logger.Warnf("Error closing lock client: %v", err)
		}
	}
	if err := p.store.Close(); err != nil {
		logger.Warnf("Error closing store: %v", err)
	}
}

func buildPipeline(configArg string) (*pipeline, error) {
	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.VPNSentry.Logging.Level, cfg.VPNSentry.Logging.Format, cfg.VPNSentry.Logging.Console); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger.Infof("VPNSentry starting")
	logger.Infof("Config loaded from: %s", configPath)

	st, err := store.Open(cfg.VPNSentry.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	app, err := appliance.NewClient(appliance.Config{
		Host:      cfg.VPNSentry.Appliance.Host,
		Port:      cfg.VPNSentry.Appliance.Port,
		ADOM:      cfg.VPNSentry.Appliance.ADOM,
		APIToken:  cfg.VPNSentry.Appliance.APIToken,
		VerifySSL: cfg.VPNSentry.Appliance.VerifySSL,
		Timeout:   cfg.VPNSentry.Appliance.Timeout,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create appliance client: %w", err)
	}

	var dir ingest.DirectoryLookup
	if cfg.VPNSentry.Directory.Server != "" {
		d, err := directory.NewClient(directory.Config{
			Server:       cfg.VPNSentry.Directory.Server,
			Port:         cfg.VPNSentry.Directory.Port,
			UseSSL:       cfg.VPNSentry.Directory.UseSSL,
			BaseDN:       cfg.VPNSentry.Directory.BaseDN,
			BindUser:     cfg.VPNSentry.Directory.BindUser,
			BindPassword: cfg.VPNSentry.Directory.BindPassword,
			Timeout:      cfg.VPNSentry.Directory.Timeout,
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("create directory client: %w", err)
		}
		dir = d
	} else {
		logger.Warnf("No directory server configured; directory enrichment disabled")
	}

	var geo *geoip.Client
	var geoLookup ingest.GeoLookup
	if cfg.VPNSentry.GeoIP.BaseURL != "" {
		geo, err = geoip.NewClient(geoip.Config{
			BaseURL: cfg.VPNSentry.GeoIP.BaseURL,
			Timeout: cfg.VPNSentry.GeoIP.Timeout,
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("create geo client: %w", err)
		}
		geoLookup = geo
	} else {
		logger.Warnf("No geolocation endpoint configured; geo enrichment disabled")
	}

	var lock *runlock.Lock
	var locker ingest.Locker
	if cfg.VPNSentry.Lock.Addr != "" {
		lock, err = runlock.New(runlock.Config{
			Addr:      cfg.VPNSentry.Lock.Addr,
			Password:  cfg.VPNSentry.Lock.Password,
			DB:        cfg.VPNSentry.Lock.DB,
			KeyPrefix: cfg.VPNSentry.Lock.KeyPrefix,
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("create run lock: %w", err)
		}
		locker = lock
	} else {
		logger.Warnf("No lock backend configured; concurrent runs are not excluded")
	}

	var engine rules.Engine
	if cfg.VPNSentry.Rules.Enabled {
		if strings.TrimSpace(cfg.VPNSentry.Rules.Path) == "" {
			logger.Warnf("Rules enabled but rules.path is empty; rule tagging disabled")
		} else {
			sigmaEngine, stats, err := rules.NewSigmaEngine(cfg.VPNSentry.Rules.Path)
			if err != nil {
				st.Close()
				return nil, fmt.Errorf("load rules from %s: %w", cfg.VPNSentry.Rules.Path, err)
			}
			engine = sigmaEngine
			logger.Infof("Rules loaded: loaded=%d skipped_complex=%d skipped_invalid=%d files=%d",
				stats.Loaded, stats.SkippedComplex, stats.SkippedInvalid, stats.TotalFiles)
			if stats.Loaded == 0 {
				logger.Warnf("No compatible rules loaded; rule tagging is effectively disabled")
			}
		}
	}

	brute := detect.NewBruteForceDetector(st, detect.BruteForceConfig{
		Window:    cfg.VPNSentry.Detection.BruteForceWindow,
		Threshold: cfg.VPNSentry.Detection.BruteForceThreshold,
	})
	travel := detect.NewTravelDetector(st, detect.TravelConfig{
		MinGap: cfg.VPNSentry.Detection.TravelMinGap,
	})

	orchestrator := ingest.New(ingest.Config{
		Lookback:         cfg.VPNSentry.Ingest.Lookback,
		InitialLookback:  cfg.VPNSentry.Ingest.InitialLookback,
		FetchLimit:       cfg.VPNSentry.Ingest.FetchLimit,
		SettleDelay:      cfg.VPNSentry.Ingest.SettleDelay,
		MaxWait:          cfg.VPNSentry.Ingest.MaxWait,
		ClockOffset:      cfg.VPNSentry.Ingest.ClockOffset,
		LockTTL:          cfg.VPNSentry.Lock.TTL,
		TrustedCountries: cfg.VPNSentry.Detection.TrustedCountries,
	}, st, app, dir, geoLookup, locker, engine, brute, travel)

	scorer := risk.NewScorer(st, risk.Config{Window: cfg.VPNSentry.Risk.Window})

	return &pipeline{
		cfg:          cfg,
		store:        st,
		orchestrator: orchestrator,
		scorer:       scorer,
		lock:         lock,
		geo:          geo,
	}, nil
}

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	category := fs.String("category", "", "Single category to ingest (vpn, intrusion, antivirus, webfilter)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	p, err := buildPipeline(*configArg)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	defer p.Close()

	var cats []ingest.Category
	if *category != "" {
		cat := ingest.CategoryByName(*category)
		if cat == nil {
			fmt.Fprintf(os.Stderr, "unknown category: %s\n", *category)
			return 2
		}
		cats = append(cats, *cat)
	}

	report := p.orchestrator.Run(context.Background(), cats...)
	fmt.Println(report.Summary())
	return 0
}

func runScore(args []string) int {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	username := fs.String("user", "", "Recalculate a single user instead of all")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	p, err := buildPipeline(*configArg)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	if *username != "" {
		score, err := p.scorer.Recalculate(ctx, *username)
		if err != nil {
			logger.Errorf("Score recalculation failed for %s: %v", *username, err)
			return 1
		}
		fmt.Printf("%s: score=%d level=%s trend=%s\n",
			score.Username, score.CurrentScore, score.RiskLevel, score.Trend)
		return 0
	}

	n, err := p.scorer.RecalculateAll(ctx)
	if err != nil {
		logger.Errorf("Score recalculation failed: %v", err)
		return 1
	}
	fmt.Printf("Recalculated %d users\n", n)
	return 0
}

func runRetention(args []string) int {
	fs := flag.NewFlagSet("retention", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	dryRun := fs.Bool("dry-run", false, "Report what would be deleted without deleting")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	p, err := buildPipeline(*configArg)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	defer p.Close()

	cutoff := time.Now().UTC().Add(-p.cfg.VPNSentry.Retention.MaxAge)
	result, err := p.store.DeleteOlderThan(context.Background(), cutoff, *dryRun)
	if err != nil {
		logger.Errorf("Retention failed: %v", err)
		return 1
	}
	verb := "deleted"
	if *dryRun {
		verb = "would delete"
	}
	fmt.Printf("Retention %s %d records (connections=%d failures=%d events=%d) older than %s\n",
		verb, result.Total(), result.Connections, result.AuthFailures, result.Events,
		cutoff.Format(time.RFC3339))
	return 0
}

// runDaemon runs ingestion, scoring and retention on their configured
// intervals until interrupted.
func runDaemon(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}

	p, err := buildPipeline(configArg)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if p.cfg.VPNSentry.Metrics.Enabled {
		addr := p.cfg.VPNSentry.Metrics.Addr
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Infof("Metrics listening on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		// First run immediately, then on the interval.
		p.orchestrator.Run(ctx)
		ticker := time.NewTicker(p.cfg.VPNSentry.Ingest.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.orchestrator.Run(ctx)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(p.cfg.VPNSentry.Risk.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := p.scorer.RecalculateAll(ctx); err != nil {
					logger.Errorf("Score recalculation failed: %v", err)
				} else {
					logger.Infof("Recalculated risk scores for %d users", n)
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(p.cfg.VPNSentry.Retention.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-p.cfg.VPNSentry.Retention.MaxAge)
				if result, err := p.store.DeleteOlderThan(ctx, cutoff, false); err != nil {
					logger.Errorf("Retention failed: %v", err)
				} else if result.Total() > 0 {
					logger.Infof("Retention deleted %d records older than %s",
						result.Total(), cutoff.Format(time.RFC3339))
				}
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	time.Sleep(1 * time.Second)

	logger.Infof("VPNSentry stopped")
	logger.Sync()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "ingest":
			os.Exit(runIngest(os.Args[2:]))
		case "score":
			os.Exit(runScore(os.Args[2:]))
		case "retention":
			os.Exit(runRetention(os.Args[2:]))
		case "run":
			runDaemon(os.Args[2:])
			return
		default:
			// Backward-compatible mode: first arg is config path.
			runDaemon(os.Args[1:])
			return
		}
	}

	runDaemon(nil)
}
