package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"salon-referral-system/handlers"
	"salon-referral-system/middleware"
	"salon-referral-system/models"
	"salon-referral-system/services"
	"salon-referral-system/utils"
	"salon-referral-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.CustomerReferral{},
		&models.PipelineRun{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// Payload archival is optional; without R2 credentials the pipeline still
	// runs, snapshots just stay in the pipeline_runs table.
	if err := utils.InitR2(); err != nil {
		log.Printf("⚠️  Payload archival disabled: %v", err)
	}

	giftCardURL := os.Getenv("GIFTCARD_API_URL")
	if giftCardURL == "" {
		log.Fatal("GIFTCARD_API_URL environment variable not set")
	}
	giftCardToken := os.Getenv("GIFTCARD_API_TOKEN")
	if giftCardToken == "" {
		log.Fatal("GIFTCARD_API_TOKEN environment variable not set")
	}

	provider := services.NewGiftCardClient(giftCardURL, giftCardToken)
	issuer := services.NewGiftCardIssuer(provider)
	resolver := services.NewReferralResolver(db)
	codes := services.NewCodeGenerator(db)
	recorder := services.NewPipelineRecorder(db)
	notifier := services.NewNotifier(
		os.Getenv("NOTIFY_EMAIL_URL"),
		os.Getenv("NOTIFY_SMS_URL"),
		os.Getenv("NOTIFY_SERVICE_TOKEN"),
	)

	engine := services.NewRewardEngine(
		db, provider, issuer, resolver, codes, notifier, recorder,
		envCents("SIGNUP_BONUS_CENTS", 1000),
		envCents("REFERRER_REWARD_CENTS", 1000),
		os.Getenv("REFERRAL_BASE_URL"),
	)

	app := fiber.New(fiber.Config{})

	app.Use(middleware.WebhookAuthMiddleware())

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins != "" {
		origins := strings.Split(allowedOrigins, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(origins, ","),
			AllowMethods: "GET,POST,OPTIONS",
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Service-Token",
		}))
	}

	h := &handlers.WebhookHandler{
		DB:       db,
		Engine:   engine,
		Resolver: resolver,
		Recorder: recorder,
	}
	handlers.SetupWebhookRoutes(app, h)

	workers.NewReconcileWorker(db).Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Referral rewards service running on http://localhost:5300")
	log.Println("✅ Reconcile worker running (every 5m)")

	<-ctx.Done()
	log.Println("Shutting down server...")
	_ = app.Shutdown()
}

func envCents(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	cents, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cents <= 0 {
		log.Fatalf("invalid %s value %q", name, raw)
	}
	return cents
}
