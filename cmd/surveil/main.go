package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"surveil/internal/auth"
	"surveil/internal/camera"
	"surveil/internal/config"
	"surveil/internal/database"
	"surveil/internal/health"
	"surveil/internal/pipeline"
	"surveil/internal/pipeline/detectors"
	"surveil/internal/stream"
	"surveil/internal/telegram"
	"surveil/internal/ws"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to a JSON config file")
		httpF   = flag.String("http", "", "HTTP listen address (overrides config)")
		grpcF   = flag.String("grpc", "", "gRPC health listen address (overrides config)")
		dbF     = flag.String("db", "", "SQLite database path (overrides config)")
		dbgF    = flag.Bool("debug", false, "Log every HTTP request")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[surveil] ", log.Ltime)

	cfg, err := loadConfig(*configF)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if *httpF != "" {
		cfg.HTTPAddr = *httpF
	}
	if *grpcF != "" {
		cfg.GRPCAddr = *grpcF
	}
	if *dbF != "" {
		cfg.DatabasePath = *dbF
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Storage
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		logger.Fatalf("database: %v", err)
	}

	// Cameras
	cameras, err := camera.NewManager(cfg.Cameras, cfg.StaleAfter.D())
	if err != nil {
		logger.Fatalf("cameras: %v", err)
	}
	if err := cameras.Register(ctx, db); err != nil {
		logger.Fatalf("cameras: %v", err)
	}

	// Detectors and the composed pipeline
	registry, err := buildRegistry(cfg)
	if err != nil {
		logger.Fatalf("detectors: %v", err)
	}
	checkInference(ctx, cfg, logger)
	composer, err := pipeline.NewComposer(registry.Stages(detectors.DefaultOrder), pipeline.ComposerOptions{
		DetectorTimeout: cfg.DetectorTimeout.D(),
		MergeIoU:        cfg.MergeIoU,
		Exclusions:      cfg.Exclusions,
	})
	if err != nil {
		logger.Fatalf("pipeline: %v", err)
	}

	// Event fan-out
	bus := pipeline.NewEventBus()
	hub := ws.NewEventHub()
	bus.Subscribe(hub)

	var wg sync.WaitGroup

	recorder := database.NewRecorder(db, cfg.Retention.D())
	recorded, _ := bus.SubscribeChannel(256)
	wg.Add(1)
	go func() {
		defer wg.Done()
		recorder.Run(ctx, recorded)
	}()

	bot := telegram.NewTelegramBot(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	if bot.Configured() {
		notifier := telegram.NewNotifier(bot, cameras, db, telegram.NotifierConfig{
			Cooldown: cfg.Telegram.Cooldown.D(),
			Names:    cfg.CameraNames(),
		})
		alerts, _ := bus.SubscribeChannel(64)
		commands := telegram.NewCommandHandler(bot, cameras, db)
		wg.Add(2)
		go func() {
			defer wg.Done()
			notifier.Run(ctx, alerts)
		}()
		go func() {
			defer wg.Done()
			commands.StartPolling(ctx)
		}()
		logger.Printf("Telegram alerts enabled (cooldown %s per camera and type)", cfg.Telegram.Cooldown.D())
	} else {
		logger.Printf("Telegram alerts disabled: set TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID to enable")
	}

	// Scheduler
	roster, err := pipeline.NewRoster(cameras.IDs())
	if err != nil {
		logger.Fatalf("roster: %v", err)
	}
	pool := pipeline.NewWorkerPool(cfg.Workers)
	scheduler, err := pipeline.NewScheduler(roster, cameras, composer, pool, bus, cfg.DetectionFPS)
	if err != nil {
		logger.Fatalf("scheduler: %v", err)
	}

	// Health
	monitor := health.NewMonitor(scheduler)
	healthSrv := health.NewServer(monitor)
	if err := healthSrv.Start(cfg.GRPCAddr); err != nil {
		logger.Fatalf("health: %v", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx, time.Second)
	}()

	authenticator, err := auth.NewAuthenticator(auth.Options{
		Enabled:   cfg.Auth.Enabled,
		Username:  cfg.Auth.Username,
		Password:  cfg.Auth.Password,
		JWTSecret: cfg.Auth.JWTSecret,
		JWTExpiry: cfg.Auth.TokenExpiry.D(),
	})
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	cameras.Start(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = scheduler.Run(ctx)
	}()

	api := &apiServer{
		cameras:   cameras,
		events:    db,
		scheduler: scheduler,
		composer:  composer,
		recorder:  recorder,
		hub:       hub,
		mjpeg:     stream.NewMJPEGHandler(cameras, stream.DefaultFPS),
		auth:      authenticator,
		logger:    logger,
	}
	handleHTTPServer(ctx, cfg.HTTPAddr, api, &wg, errc, logger, *dbgF)

	// Wait for signal.
	logger.Printf("exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()

	wg.Wait()
	cameras.Stop()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := pool.Wait(waitCtx); err != nil {
		logger.Printf("workers still busy at shutdown: %v", err)
	}
	waitCancel()

	healthSrv.Stop()
	bus.Close()
	hub.Close()
	if err := registry.Close(); err != nil {
		logger.Printf("detectors: %v", err)
	}
	if err := db.Close(); err != nil {
		logger.Printf("database: %v", err)
	}
	logger.Println("exited")
}

// loadConfig reads the config file when one is given and applies the
// environment overrides
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}
