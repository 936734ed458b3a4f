package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"lingocrowd/core/internal/api"
	"lingocrowd/core/internal/api/handlers"
	"lingocrowd/core/internal/cache"
	"lingocrowd/core/internal/config"
	"lingocrowd/core/internal/db"
	"lingocrowd/core/internal/email"
	"lingocrowd/core/internal/payments"
	"lingocrowd/core/internal/realtime"
	"lingocrowd/core/internal/services"
	"lingocrowd/core/internal/storage"
	"lingocrowd/core/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'all' (default)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	switch cfg.RunMode {
	case "api", "bg", "all":
	default:
		log.Fatalf("Invalid run mode specified: %s.", cfg.RunMode)
	}

	// Long-lived listeners (fan-out relay, settings invalidation, rate limiter cleanup)
	// stop when appCtx is cancelled.
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	indexCtx, cancelIndex := context.WithTimeout(appCtx, 30*time.Second)
	if err := db.EnsureIndexes(indexCtx, mongoDb); err != nil {
		log.Fatalf("Failed to ensure indexes: %v", err)
	}
	cancelIndex()

	redisClient, err := cache.ConnectRedis(appCtx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	hub := realtime.NewHub()
	fanout := realtime.NewRedisFanout(hub, redisClient)

	taskClient := tasks.NewClient(cfg)
	defer taskClient.Close()

	videoStorage, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize S3 storage: %v", err)
	}
	gateway := payments.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.GatewayTimeout, cfg.StripeWebhookTolerance)

	// Services shared by the API handlers and the task processor.
	dispatcher := services.NewDispatcher(mongoDb, fanout, taskClient)
	settingsService := services.NewSettingsService(mongoDb, cfg, redisClient)
	requestService := services.NewRequestService(mongoDb, dispatcher)
	svc := handlers.Services{
		Users:         services.NewUserService(mongoDb, cfg),
		Requests:      requestService,
		Conversations: services.NewConversationService(mongoDb, dispatcher, requestService),
		Projects:      services.NewProjectService(mongoDb, dispatcher, gateway, settingsService, cfg),
		Pledges:       services.NewPledgeService(mongoDb, dispatcher, gateway, settingsService, cfg),
		Videos:        services.NewVideoService(mongoDb, dispatcher, videoStorage),
		Ratings:       services.NewRatingService(mongoDb),
		Notifications: services.NewNotificationService(mongoDb, dispatcher),
		Settings:      settingsService,
		Webhooks:      services.NewWebhookService(mongoDb, dispatcher, gateway),
	}

	var wg sync.WaitGroup
	background := func(name string, run func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(appCtx); err != nil {
				log.Printf("%s stopped with error: %v", name, err)
			}
		}()
	}
	background("Settings subscriber", settingsService.SubscribeToChanges)

	shutdownChan := make(chan struct{}, 1)

	serviceRouter := api.SetupServiceRouter(cfg, mongoDb, redisClient, shutdownChan)
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: serviceRouter,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		fmt.Printf("Service API listening on :%s\n", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Service API ListenAndServe error: %v", err)
		}
		fmt.Println("Service API server stopped.")
	}()

	var mainApiSrv *http.Server
	var backgroundTaskSrv *asynq.Server
	var scheduler *asynq.Scheduler

	fmt.Printf("Starting application in '%s' mode...\n", cfg.RunMode)

	apiMode := func() {
		fmt.Println("Starting main API server...")
		background("Fan-out relay", fanout.Listen)

		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: api.SetupRouter(appCtx, cfg, svc, fanout),
			// No WriteTimeout: SSE streams stay open.
			ReadHeaderTimeout: 10 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Printf("Main API listening on :%s\n", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Main API ListenAndServe error: %v", err)
			}
			fmt.Println("Main API server stopped.")
		}()
	}

	bgMode := func() {
		fmt.Println("Starting background worker...")
		taskProcessor := tasks.NewTaskProcessor(
			cfg,
			mongoDb,
			newEmailSender(cfg, redisClient),
			svc.Notifications,
			svc.Users,
			svc.Pledges,
			services.NewEmailTemplateService(mongoDb),
		)
		backgroundTaskSrv, err = tasks.SetupServer(cfg, taskProcessor)
		if err != nil {
			log.Fatalf("Background task server error: %v", err)
		}
		scheduler, err = tasks.SetupScheduler(cfg)
		if err != nil {
			log.Fatalf("Task scheduler error: %v", err)
		}
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "all":
		apiMode()
		bgMode()
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		fmt.Printf("\nReceived signal: %s. Shutting down gracefully...\n", sig)
	case <-shutdownChan:
		fmt.Println("\nShutdown requested via Service API. Shutting down gracefully...")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	fmt.Println("Shutting down Service API server...")
	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Service API server shutdown error: %v", err)
	}

	// Cancelling first ends open SSE streams, which Shutdown would otherwise wait for.
	cancelApp()

	if mainApiSrv != nil {
		fmt.Println("Shutting down Main API server...")
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
	}
	if scheduler != nil {
		fmt.Println("Shutting down task scheduler...")
		scheduler.Shutdown()
	}
	if backgroundTaskSrv != nil {
		fmt.Println("Shutting down Background Task server...")
		backgroundTaskSrv.Shutdown()
	}

	fmt.Println("Waiting for servers to stop...")
	wg.Wait()

	fmt.Println("Server gracefully stopped")
}

// newEmailSender picks the primary sender and optionally mirrors every e-mail to the
// file named by LOG_EMAILS.
func newEmailSender(cfg *config.Config, redisClient *redis.Client) email.Sender {
	var primary email.Sender
	if os.Getenv("MOCK_SERVICES") == "true" {
		log.Println("MOCK_SERVICES enabled: Using Redis email sender.")
		primary = email.NewRedisSender(redisClient)
	} else {
		primary = email.NewSMTPSender(cfg)
	}
	composite := email.NewCompositeEmailSender(primary)

	if logEmailsPath := os.Getenv("LOG_EMAILS"); logEmailsPath != "" {
		fileSender, err := email.NewFileEmailSender(logEmailsPath)
		if err != nil {
			log.Printf("WARNING: Failed to initialize file email sender (LOG_EMAILS='%s'): %v. Proceeding without file logging.", logEmailsPath, err)
		} else {
			composite.AddSender(fileSender)
			log.Printf("LOG_EMAILS set to '%s', enabling file email logger.", logEmailsPath)
		}
	}
	return composite
}
