package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"riskengine/config"
	"riskengine/internal/alerts"
	"riskengine/internal/cache"
	"riskengine/internal/classify"
	"riskengine/internal/deadletter"
	"riskengine/internal/engine"
	inputredis "riskengine/internal/input/redis"
	"riskengine/internal/logger"
	"riskengine/internal/lookup"
	"riskengine/internal/metrics"
	"riskengine/internal/notify"
	"riskengine/internal/retry"
	"riskengine/internal/rules"
	"riskengine/internal/store"
	"riskengine/internal/velocity"
	"riskengine/pkg/models"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("riskengine.yml"); err == nil {
		return "riskengine.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "riskengine.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "riskengine.yml"
}

func applyDefaults(cfg *config.Config) {
	re := &cfg.RiskEngine

	if re.Input.Redis.Addr == "" {
		re.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if re.Input.Redis.Key == "" {
		re.Input.Redis.Key = "risk_events"
	}
	if re.Input.Redis.BlockTimeout == 0 {
		re.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if re.Engine.Workers <= 0 {
		re.Engine.Workers = 8
	}
	if re.Engine.MaxScore <= 0 {
		re.Engine.MaxScore = 100
	}
	if re.Engine.Window <= 0 {
		re.Engine.Window = time.Hour
	}
	if re.Engine.EventTimeout <= 0 {
		re.Engine.EventTimeout = 30 * time.Second
	}
	if len(re.Engine.KeyFields) == 0 {
		re.Engine.KeyFields = map[string]string{
			string(models.EntityTransaction): "merchant",
		}
	}

	if len(re.Tiers) == 0 {
		re.Tiers = []config.TierConfig{
			{Name: "approved", MinScore: 0},
			{Name: "review_required", MinScore: 30},
			{Name: "blocked", MinScore: 50},
		}
	}

	if re.Store.Mode == "" {
		re.Store.Mode = "redis"
	}
	if re.Store.Redis.Addr == "" {
		re.Store.Redis.Addr = re.Input.Redis.Addr
	}
	if re.Store.Redis.KeyPrefix == "" {
		re.Store.Redis.KeyPrefix = "riskengine"
	}
	if re.Store.Redis.Retention <= 0 {
		re.Store.Redis.Retention = 24 * time.Hour
	}
	if re.Store.Redis.QueryLimit <= 0 {
		re.Store.Redis.QueryLimit = 1000
	}

	if re.Cache.TTL <= 0 {
		re.Cache.TTL = 5 * time.Minute
	}

	if re.Alerts.FloorTier == "" {
		re.Alerts.FloorTier = re.Tiers[len(re.Tiers)-1].Name
	}
	if re.Alerts.Cooldown <= 0 {
		re.Alerts.Cooldown = 15 * time.Minute
	}
	if re.Alerts.Notifier.Mode == "" {
		re.Alerts.Notifier.Mode = "file"
	}
	if re.Alerts.Notifier.File.Path == "" {
		re.Alerts.Notifier.File.Path = "output/alerts.jsonl"
	}

	if re.Retry.MaxAttempts <= 0 {
		re.Retry.MaxAttempts = 3
	}
	if re.Retry.BaseDelay <= 0 {
		re.Retry.BaseDelay = 100 * time.Millisecond
	}
	if re.Retry.MaxDelay <= 0 {
		re.Retry.MaxDelay = 5 * time.Second
	}

	if re.DeadLetter.Path == "" {
		re.DeadLetter.Path = "output/dead_letter.jsonl"
	}

	if re.Metrics.Addr == "" {
		re.Metrics.Addr = ":9109"
	}

	if re.Logging.Level == "" {
		re.Logging.Level = "info"
	}
}

func buildPolicy(cfg *config.Config) (*classify.Policy, error) {
	thresholds := make([]classify.Threshold, 0, len(cfg.RiskEngine.Tiers))
	for _, t := range cfg.RiskEngine.Tiers {
		thresholds = append(thresholds, classify.Threshold{Tier: t.Name, MinScore: t.MinScore})
	}
	return classify.NewPolicy(thresholds)
}

func buildEvaluator(cfg *config.Config) (*rules.Evaluator, error) {
	if strings.TrimSpace(cfg.RiskEngine.Rules.Path) == "" {
		return nil, fmt.Errorf("rules.path is required")
	}
	rs, err := rules.LoadRuleSet(cfg.RiskEngine.Rules.Path)
	if err != nil {
		return nil, err
	}
	logger.Infof("Rule set loaded: rules=%d path=%s", len(rs.Rules), cfg.RiskEngine.Rules.Path)
	return rules.NewEvaluator(rs, cfg.RiskEngine.Engine.MaxScore)
}

func keyFields(cfg *config.Config) map[models.EntityType]string {
	out := make(map[models.EntityType]string, len(cfg.RiskEngine.Engine.KeyFields))
	for raw, field := range cfg.RiskEngine.Engine.KeyFields {
		typ, ok := models.ParseEntityType(raw)
		if !ok {
			logger.Warnf("Ignoring velocity key field for unknown entity type %q", raw)
			continue
		}
		out[typ] = field
	}
	return out
}

func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.RiskEngine.Retry.MaxAttempts,
		BaseDelay:   cfg.RiskEngine.Retry.BaseDelay,
		MaxDelay:    cfg.RiskEngine.Retry.MaxDelay,
	}
}

func buildNotifier(cfg *config.Config) (alerts.Notifier, func() error, error) {
	switch cfg.RiskEngine.Alerts.Notifier.Mode {
	case "file":
		n, err := notify.NewFileNotifier(cfg.RiskEngine.Alerts.Notifier.File.Path)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("Alert notifier mode: file (%s)", cfg.RiskEngine.Alerts.Notifier.File.Path)
		return n, n.Close, nil
	case "http":
		n, err := notify.NewHTTPNotifier(notify.HTTPConfig{
			URL:     cfg.RiskEngine.Alerts.Notifier.HTTP.URL,
			Timeout: cfg.RiskEngine.Alerts.Notifier.HTTP.Timeout,
			Headers: cfg.RiskEngine.Alerts.Notifier.HTTP.Headers,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("Alert notifier mode: http (%s)", cfg.RiskEngine.Alerts.Notifier.HTTP.URL)
		return n, n.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown notifier mode: %s", cfg.RiskEngine.Alerts.Notifier.Mode)
	}
}

func buildEnricher(cfg *config.Config, c *cache.Cache, policy retry.Policy) (*lookup.Enricher, error) {
	if !cfg.RiskEngine.Lookup.Enabled {
		return nil, nil
	}
	client, err := lookup.NewHTTPClient(lookup.HTTPConfig{
		URL:     cfg.RiskEngine.Lookup.HTTP.URL,
		Timeout: cfg.RiskEngine.Lookup.HTTP.Timeout,
		Headers: cfg.RiskEngine.Lookup.HTTP.Headers,
	})
	if err != nil {
		return nil, err
	}
	checks := make([]lookup.Check, 0, len(cfg.RiskEngine.Lookup.Checks))
	for _, chk := range cfg.RiskEngine.Lookup.Checks {
		typ, _ := models.ParseEntityType(chk.EntityType)
		checks = append(checks, lookup.Check{Name: chk.Name, EntityType: typ})
	}
	logger.Infof("Compliance lookups enabled: checks=%d url=%s", len(checks), cfg.RiskEngine.Lookup.HTTP.URL)
	return lookup.NewEnricher(client, c, checks, cfg.RiskEngine.Cache.TTL, policy), nil
}

func runServe(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}

	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.RiskEngine.Logging.Enabled, cfg.RiskEngine.Logging.Level, cfg.RiskEngine.Logging.File, cfg.RiskEngine.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("RiskEngine starting")
	logger.Infof("Config loaded from: %s", configPath)

	if cfg.RiskEngine.Metrics.Enabled {
		metrics.Serve(cfg.RiskEngine.Metrics.Addr)
	}

	policy, err := buildPolicy(cfg)
	if err != nil {
		log.Fatalf("Failed to build tier policy: %v", err)
	}
	evaluator, err := buildEvaluator(cfg)
	if err != nil {
		log.Fatalf("Failed to load rules: %v", err)
	}

	var results store.ResultStore
	switch cfg.RiskEngine.Store.Mode {
	case "redis":
		s, err := store.NewRedisStore(store.RedisConfig{
			Addr:       cfg.RiskEngine.Store.Redis.Addr,
			Password:   cfg.RiskEngine.Store.Redis.Password,
			DB:         cfg.RiskEngine.Store.Redis.DB,
			KeyPrefix:  cfg.RiskEngine.Store.Redis.KeyPrefix,
			Retention:  cfg.RiskEngine.Store.Redis.Retention,
			QueryLimit: cfg.RiskEngine.Store.Redis.QueryLimit,
		})
		if err != nil {
			log.Fatalf("Failed to create Redis result store: %v", err)
		}
		results = s
		logger.Infof("Result store mode: redis (%s)", cfg.RiskEngine.Store.Redis.Addr)
	case "memory":
		results = store.NewMemoryStore(int(cfg.RiskEngine.Store.Redis.QueryLimit))
		logger.Infof("Result store mode: memory")
	default:
		log.Fatalf("Unknown store mode: %s", cfg.RiskEngine.Store.Mode)
	}
	defer results.Close()

	rp := retryPolicy(cfg)
	lookupCache := cache.New(cfg.RiskEngine.Cache.ErrTTL)
	enricher, err := buildEnricher(cfg, lookupCache, rp)
	if err != nil {
		log.Fatalf("Failed to create lookup client: %v", err)
	}

	var dispatcher *alerts.Dispatcher
	if cfg.RiskEngine.Alerts.Enabled {
		notifier, closeNotifier, err := buildNotifier(cfg)
		if err != nil {
			log.Fatalf("Failed to create notifier: %v", err)
		}
		defer closeNotifier()
		dispatcher = alerts.NewDispatcher(alerts.Config{
			FloorTier: cfg.RiskEngine.Alerts.FloorTier,
			Cooldown:  cfg.RiskEngine.Alerts.Cooldown,
			Retry:     rp,
		}, policy, notifier)
	}

	deadLetter, err := deadletter.NewWriter(cfg.RiskEngine.DeadLetter.Path)
	if err != nil {
		log.Fatalf("Failed to create dead-letter writer: %v", err)
	}
	defer deadLetter.Close()

	orch := engine.NewOrchestrator(engine.OrchestratorConfig{
		Evaluator:   evaluator,
		Aggregator:  velocity.NewAggregator(results, cfg.RiskEngine.Engine.Window),
		Policy:      policy,
		Results:     results,
		Dispatcher:  dispatcher,
		Enricher:    enricher,
		DeadLetter:  deadLetter,
		RetryPolicy: rp,
		KeyFields:   keyFields(cfg),
	})

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         cfg.RiskEngine.Input.Redis.Addr,
		Password:     cfg.RiskEngine.Input.Redis.Password,
		DB:           cfg.RiskEngine.Input.Redis.DB,
		Key:          cfg.RiskEngine.Input.Redis.Key,
		BlockTimeout: cfg.RiskEngine.Input.Redis.BlockTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}

	pipe := engine.NewPipeline(consumer, orch, lookupCache, cfg.RiskEngine.Engine.Workers, cfg.RiskEngine.Engine.EventTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := pipe.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	time.Sleep(1 * time.Second)

	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}

	logger.Infof("RiskEngine stopped")
}

func runEvaluate(args []string) int {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	input := fs.String("input", "", "Events JSONL input path")
	output := fs.String("output", "output/results.jsonl", "Results JSONL output path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*input) == "" {
		fmt.Fprintln(os.Stderr, "evaluate requires -input")
		return 2
	}

	cfg, err := config.LoadConfig(findConfigFile(*configArg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.RiskEngine.Logging.Enabled, cfg.RiskEngine.Logging.Level, cfg.RiskEngine.Logging.File, cfg.RiskEngine.Logging.Console); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}

	policy, err := buildPolicy(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build tier policy: %v\n", err)
		return 1
	}
	evaluator, err := buildEvaluator(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load rules: %v\n", err)
		return 1
	}

	// Replay runs stay self-contained: in-memory history, file alerts.
	results := store.NewMemoryStore(int(cfg.RiskEngine.Store.Redis.QueryLimit))
	rp := retryPolicy(cfg)

	var dispatcher *alerts.Dispatcher
	if cfg.RiskEngine.Alerts.Enabled {
		notifier, err := notify.NewFileNotifier(cfg.RiskEngine.Alerts.Notifier.File.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create notifier: %v\n", err)
			return 1
		}
		defer notifier.Close()
		dispatcher = alerts.NewDispatcher(alerts.Config{
			FloorTier: cfg.RiskEngine.Alerts.FloorTier,
			Cooldown:  cfg.RiskEngine.Alerts.Cooldown,
			Retry:     rp,
		}, policy, notifier)
	}

	deadLetter, err := deadletter.NewWriter(cfg.RiskEngine.DeadLetter.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create dead-letter writer: %v\n", err)
		return 1
	}
	defer deadLetter.Close()

	orch := engine.NewOrchestrator(engine.OrchestratorConfig{
		Evaluator:   evaluator,
		Aggregator:  velocity.NewAggregator(results, cfg.RiskEngine.Engine.Window),
		Policy:      policy,
		Results:     results,
		Dispatcher:  dispatcher,
		DeadLetter:  deadLetter,
		RetryPolicy: rp,
		KeyFields:   keyFields(cfg),
	})

	f, err := os.Open(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open input: %v\n", err)
		return 1
	}
	defer f.Close()

	ctx := context.Background()
	var out []models.EvaluationResult
	processed, failed := 0, 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		result, err := orch.Process(ctx, []byte(line))
		if err != nil {
			failed++
			continue
		}
		processed++
		out = append(out, *result)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read input: %v\n", err)
		return 1
	}

	if err := writeJSONLines(*output, out); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write results: %v\n", err)
		return 1
	}

	fmt.Printf("evaluated events=%d failed=%d output=%s\n", processed, failed, *output)
	return 0
}

func writeJSONLines[T any](path string, rows []T) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, item := range rows {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "evaluate":
			os.Exit(runEvaluate(os.Args[2:]))
		default:
			// Backward-compatible mode: first arg is config path.
			runServe(os.Args[1:])
			return
		}
	}

	runServe(nil)
}
