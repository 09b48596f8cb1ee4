// Package main runs the bank transaction monitor: a browser-automation
// polling engine that logs into the corporate banking portal, watches the
// transaction history, and pushes every new transaction to the notification
// channel and the e-commerce order API exactly once.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mbbank-monitor/internal/api"
	"mbbank-monitor/internal/browser"
	"mbbank-monitor/internal/captcha"
	"mbbank-monitor/internal/config"
	"mbbank-monitor/internal/dispatch"
	"mbbank-monitor/internal/fetch"
	"mbbank-monitor/internal/login"
	"mbbank-monitor/internal/monitor"
	"mbbank-monitor/internal/observability"
	"mbbank-monitor/internal/storage"
	chstore "mbbank-monitor/internal/storage/clickhouse"
	filestore "mbbank-monitor/internal/storage/file"
	"mbbank-monitor/internal/storage/memory"
	"mbbank-monitor/internal/storage/migrations"
	pgstore "mbbank-monitor/internal/storage/postgres"
)

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	hubURL := flag.String("hub-url", envOr("SELENIUM_HUB_URL", "http://localhost:4444/wd/hub"), "Selenium hub URL")
	ocrURL := flag.String("ocr-url", envOr("OCR_URL", "http://localhost:8000/read_captcha"), "Captcha OCR sidecar URL")
	configPath := flag.String("config", os.Getenv("MONITOR_CONFIG"), "YAML config file (portal selectors, tunables)")
	corpID := flag.String("corp-id", os.Getenv("MB_CORP_ID"), "Portal corporate ID")
	username := flag.String("username", os.Getenv("MB_USERNAME"), "Portal username")
	password := flag.String("password", os.Getenv("MB_PASSWORD"), "Portal password")
	headless := flag.Bool("headless", envOr("MB_HEADLESS", "true") == "true", "Run the browser headless")

	dispatchLogPath := flag.String("dispatch-log", envOr("DISPATCH_LOG_PATH", "dispatch.log"), "File-backed dispatch log path")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL DSN for the dispatch log (overrides --dispatch-log)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse DSN for the transaction archive (optional)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage (testing only; forgets dispatches on restart)")

	larkAppID := flag.String("lark-app-id", os.Getenv("LARK_APP_ID"), "Lark app id (empty disables notifications)")
	larkAppSecret := flag.String("lark-app-secret", os.Getenv("LARK_APP_SECRET"), "Lark app secret")
	larkChatID := flag.String("lark-chat-id", os.Getenv("LARK_CHAT_ID"), "Lark chat id to notify")

	wooURL := flag.String("woo-url", os.Getenv("WOO_URL"), "WooCommerce store URL (empty disables order creation)")
	wooKey := flag.String("woo-key", os.Getenv("WOO_CONSUMER_KEY"), "WooCommerce consumer key")
	wooSecret := flag.String("woo-secret", os.Getenv("WOO_CONSUMER_SECRET"), "WooCommerce consumer secret")

	apiAddr := flag.String("api-addr", envOr("API_ADDR", ":8080"), "HTTP API listen address")

	flag.Parse()

	logger := log.New(os.Stdout, "[monitor] ", log.LstdFlags|log.Lshortfile)

	if *corpID == "" || *username == "" || *password == "" {
		logger.Fatal("--corp-id, --username and --password are required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	dispatchLog, archive, cleanup, err := buildStores(ctx, storeConfig{
		useMemory:     *useMemory,
		dispatchPath:  *dispatchLogPath,
		postgresDSN:   *postgresDSN,
		clickhouseDSN: *clickhouseDSN,
	}, logger)
	if err != nil {
		logger.Fatalf("storage setup: %v", err)
	}
	defer cleanup()

	// Browser and captcha
	driver := browser.NewRemote(*hubURL,
		browser.WithHeadless(*headless),
		browser.WithTimeout(cfg.Tunables.CallTimeout),
	)
	solver := captcha.NewHTTPSolver(*ocrURL)

	// Login and fetch
	controller, err := login.NewController(login.Options{
		Driver: driver,
		Solver: solver,
		Portal: cfg.Portal,
		Credentials: login.Credentials{
			CorpID:   *corpID,
			Username: *username,
			Password: *password,
		},
		MaxAttempts: cfg.Tunables.MaxLoginAttempts,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatalf("login controller: %v", err)
	}

	fetcher, err := fetch.NewFetcher(fetch.FetcherOptions{
		Driver:   driver,
		Portal:   cfg.Portal,
		MaxPages: cfg.Tunables.MaxPages,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatalf("fetcher: %v", err)
	}

	// Dispatch gateway
	var notifier dispatch.Notifier
	if *larkAppID != "" {
		notifier = dispatch.NewLarkNotifier(*larkAppID, *larkAppSecret, *larkChatID,
			dispatch.WithLarkLogger(logger))
		logger.Println("Lark notifications enabled")
	} else {
		logger.Println("Lark notifications disabled")
	}

	var orders dispatch.OrderClient
	if *wooURL != "" {
		orders = dispatch.NewWooClient(*wooURL, *wooKey, *wooSecret,
			dispatch.WithWooLogger(logger))
		logger.Println("WooCommerce order creation enabled")
	} else {
		logger.Println("WooCommerce order creation disabled")
	}

	gateway := dispatch.NewService(dispatch.ServiceOptions{
		Notifier: notifier,
		Orders:   orders,
		Logger:   logger,
	})

	// Scheduler
	sched, err := monitor.NewScheduler(monitor.SchedulerOptions{
		Driver:      driver,
		Login:       controller,
		Fetcher:     fetcher,
		DispatchLog: dispatchLog,
		Archive:     archive,
		Gateway:     gateway,
		Metrics:     observability.DefaultMetrics,
		Tunables:    cfg.Tunables,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatalf("scheduler: %v", err)
	}

	// HTTP API with the dispatched-transaction feed
	feed := api.NewFeed(logger)
	sched.AddListener(feed.Publish)
	server := api.NewServer(api.ServerOptions{
		Addr:   *apiAddr,
		Status: sched,
		Feed:   feed,
		Logger: logger,
	})
	go func() {
		if err := server.Start(); err != nil {
			logger.Printf("HTTP server error: %v", err)
		}
	}()

	// Run until signal or fatal login failure
	err = sched.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logger.Printf("HTTP shutdown error: %v", serr)
	}

	if err != nil && ctx.Err() == nil {
		logger.Fatalf("monitor stopped: %v", err)
	}
	logger.Println("Monitor shut down")
}

type storeConfig struct {
	useMemory     bool
	dispatchPath  string
	postgresDSN   string
	clickhouseDSN string
}

// buildStores selects the dispatch log backend (memory, postgres, or the
// append-only file) and the optional ClickHouse transaction archive.
func buildStores(ctx context.Context, cfg storeConfig, logger *log.Logger) (storage.DispatchLogStore, storage.TransactionArchiveStore, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var dispatchLog storage.DispatchLogStore
	switch {
	case cfg.useMemory:
		dispatchLog = memory.NewDispatchLog()
		logger.Println("Using in-memory dispatch log")

	case cfg.postgresDSN != "":
		pool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
		if err != nil {
			return nil, nil, cleanup, err
		}
		cleanups = append(cleanups, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return nil, nil, cleanup, err
		}
		dispatchLog = pgstore.NewDispatchLog(pool)
		logger.Println("Using PostgreSQL dispatch log")

	default:
		fileLog, err := filestore.OpenDispatchLog(cfg.dispatchPath)
		if err != nil {
			return nil, nil, cleanup, err
		}
		cleanups = append(cleanups, func() {
			if err := fileLog.Close(); err != nil {
				logger.Printf("closing dispatch log: %v", err)
			}
		})
		dispatchLog = fileLog
		logger.Printf("Using file dispatch log at %s", cfg.dispatchPath)
	}

	var archive storage.TransactionArchiveStore
	if cfg.clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.clickhouseDSN)
		if err != nil {
			return nil, nil, cleanup, err
		}
		cleanups = append(cleanups, func() { conn.Close() })
		archive = chstore.NewArchiveStore(conn)
		logger.Println("ClickHouse transaction archive enabled")
	} else if cfg.useMemory {
		archive = memory.NewArchiveStore()
	}

	return dispatchLog, archive, cleanup, nil
}

// envOr returns the env value or a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
