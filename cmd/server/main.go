package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/photoremix/internal/admin"
	"github.com/digkill/photoremix/internal/api"
	"github.com/digkill/photoremix/internal/billing"
	"github.com/digkill/photoremix/internal/config"
	"github.com/digkill/photoremix/internal/database"
	"github.com/digkill/photoremix/internal/imagegen"
	"github.com/digkill/photoremix/internal/metrics"
	"github.com/digkill/photoremix/internal/repository"
	"github.com/digkill/photoremix/internal/scheduler"
	"github.com/digkill/photoremix/internal/service"
	"github.com/digkill/photoremix/internal/storage"
	"github.com/digkill/photoremix/internal/telegram"
	"github.com/digkill/photoremix/pkg/logger"
)

const recoveryInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	store, err := storage.NewS3Store(storage.Config{
		Endpoint:     cfg.S3Endpoint,
		Region:       cfg.S3Region,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		Bucket:       cfg.S3Bucket,
		UsePathStyle: cfg.S3UsePathStyle,
		Prefix:       cfg.S3Prefix,
		PresignTTL:   cfg.PresignTTL,
	})
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	generator, err := imagegen.New(cfg, logr)
	if err != nil {
		log.Fatalf("image generator: %v", err)
	}

	var queue scheduler.Queue
	switch cfg.QueueBackend {
	case config.QueueRedis:
		rdb, err := scheduler.ConnectRedis(ctx, scheduler.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		queue = scheduler.NewRedisQueue(rdb, cfg.QueueName, cfg.WorkerCount, logr)
	default:
		queue = scheduler.NewMemoryQueue(cfg.WorkerCount, logr)
	}

	stripe := billing.NewStripe(billing.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
	})

	accountRepo := repository.NewAccountRepository(db)
	assetRepo := repository.NewAssetRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	checkoutRepo := repository.NewCheckoutRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	ledger := service.NewLedger(logr, db, accountRepo)
	settingsService := service.NewSettingsService(cfg, settingsRepo)
	generationService := service.NewGenerationService(cfg, logr, db, assetRepo, ledger, settingsService, store, generator, queue)
	galleryService := service.NewGalleryService(logr, assetRepo, store)
	paymentService := service.NewPaymentService(logr, db, paymentRepo, accountRepo, ledger, settingsService)
	checkoutService := service.NewCheckoutService(logr, checkoutRepo, ledger, settingsService, stripe)
	defer checkoutService.Wait()

	apiServer := api.NewServer(api.Options{
		Addr:           cfg.APIListenAddr,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logr, api.Services{
		Generations: generationService,
		Gallery:     galleryService,
		Payments:    paymentService,
		Checkout:    checkoutService,
		Ledger:      ledger,
		Settings:    settingsService,
		Stripe:      stripe,
	})

	adminServer := admin.NewServer(admin.Options{
		Addr:      cfg.AdminListenAddr,
		Username:  cfg.AdminUsername,
		Password:  cfg.AdminPassword,
		JWTSecret: cfg.JWTSecret,
	}, logr, ledger, settingsService, paymentService, generationService, galleryService)

	var bot *telegram.Bot
	if cfg.BotToken != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			log.Fatalf("telegram bot: %v", err)
		}
		bot = telegram.NewBot(cfg, botAPI, logr, ledger, settingsService, generationService, paymentService, checkoutService)
		generationService.SetNotifier(bot)
	} else {
		logr.Info("TELEGRAM_BOT_TOKEN not set, bot disabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return apiServer.Run(ctx) })
	g.Go(func() error { return adminServer.Run(ctx) })
	g.Go(func() error { return queue.Run(ctx, generationService.Execute) })
	g.Go(func() error {
		generationService.RunRecovery(ctx, recoveryInterval)
		return nil
	})
	g.Go(func() error {
		metrics.RunStatusGauges(ctx, assetRepo, logr)
		return nil
	})
	if bot != nil {
		g.Go(func() error { return bot.Run(ctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
