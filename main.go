package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"posterly/internal/analytics"
	analytics_api "posterly/internal/analytics/api"
	"posterly/internal/auth"
	"posterly/internal/checkout"
	checkout_api "posterly/internal/checkout/api"
	checkoutdb "posterly/internal/checkout/db"
	checkoutredis "posterly/internal/checkout/redis"
	"posterly/internal/config"
	"posterly/internal/credits"
	credits_api "posterly/internal/credits/api"
	creditsdb "posterly/internal/credits/db"
	"posterly/internal/database/migrations"
	"posterly/internal/generation"
	generation_api "posterly/internal/generation/api"
	"posterly/internal/inventory"
	inventory_api "posterly/internal/inventory/api"
	"posterly/internal/inventory/certificate"
	inventorydb "posterly/internal/inventory/db"
	"posterly/internal/kafka"
	"posterly/internal/logger"
	"posterly/internal/orders"
	orders_api "posterly/internal/orders/api"
	ordersdb "posterly/internal/orders/db"
	"posterly/internal/subscription"
	subscription_api "posterly/internal/subscription/api"
	subscriptiondb "posterly/internal/subscription/db"
)

// subscribeSessionExpiry reacts to checkout TTL keys lapsing in Redis. The
// reservations themselves are durable rows; Redis only supplies the timing.
func subscribeSessionExpiry(rdb *redis.Client, checkoutService *checkout.CheckoutService, log *logger.Logger) {
	ctx := context.Background()

	val, err := rdb.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		log.Error("REDIS", fmt.Sprintf("Failed to get keyspace config: %v", err))
	} else {
		log.Info("REDIS", fmt.Sprintf("Current keyspace notifications setting: %v", val))
		if len(val) < 2 || !strings.Contains(val[1].(string), "x") || !strings.Contains(val[1].(string), "E") {
			log.Warn("REDIS", "Keyspace notifications not properly configured for expiry events!")
		}
	}

	pubsub := rdb.PSubscribe(ctx, "__keyevent@0__:expired")
	log.Info("REDIS", fmt.Sprintf("Subscribed to Redis keyevent expired notifications (DB %d)", rdb.Options().DB))

	go func() {
		for msg := range pubsub.Channel() {
			confirmationID := checkoutredis.SessionIDFromExpiredKey(msg.Payload)
			if confirmationID == "" {
				continue
			}
			log.LogCheckout("EXPIRY", confirmationID, "Session TTL lapsed, abandoning")
			if err := checkoutService.HandleSessionExpiry(confirmationID); err != nil {
				log.Error("CHECKOUT", fmt.Sprintf("Failed to abandon expired session %s: %v", confirmationID, err))
			}
		}
	}()
}

func verifyConnections(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	if cfg.Database.DSN == "" {
		log.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	if _, err := redisClient.ConfigSet(ctx, "notify-keyspace-events", "Ex").Result(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	} else {
		log.Info("REDIS", "Keyspace notifications enabled for expired events")
	}

	log.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, redisClient.Options().DB))
	return bunDB, redisClient
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Commerce Transaction Engine")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	bunDB, redisClient := verifyConnections(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	migrationRunner := migrations.NewRunner(bunDB, migrations.DefaultOptions(), log)
	if err := migrationRunner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	defer migrationRunner.Close()

	var kafkaProducer *kafka.Producer
	if cfg.Kafka.Enabled {
		kafkaProducer = kafka.NewProducer(cfg.Kafka.Brokers)
		defer kafkaProducer.Close()
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.RequiredTopics()); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
	} else {
		log.Warn("KAFKA", "Kafka disabled, domain events will not be published")
		kafkaProducer = kafka.NewProducer(cfg.Kafka.Brokers)
	}

	checkout.InitStripe()

	subscriptionService := subscription.NewSubscriptionService(
		&subscriptiondb.DB{Bun: bunDB},
		subscription.NewStripeBilling(cfg.Stripe.SubscriptionPriceID, log),
		kafkaProducer,
		log,
	)

	creditService := credits.NewCreditService(
		&creditsdb.DB{Bun: bunDB},
		subscriptionService,
		kafkaProducer,
		cfg.Credits.FreeTotal,
		log,
	)

	inventoryService := inventory.NewInventoryService(
		&inventorydb.DB{Bun: bunDB},
		subscriptionService,
		certificate.NewGenerator(cfg.Catalog.CertificateSecret),
		kafkaProducer,
		cfg.Catalog.PriceFloor,
		cfg.Catalog.MaxSupply,
		log,
	)

	checkoutStore := &checkoutdb.DB{Bun: bunDB}
	orderService := orders.NewOrderService(
		&ordersdb.DB{Bun: bunDB},
		inventoryService,
		checkoutStore,
		kafkaProducer,
		log,
	)

	checkoutService := checkout.NewCheckoutService(
		checkoutStore,
		inventoryService,
		checkout.NewStripePayments(log),
		orderService,
		checkoutredis.NewSessionTTL(redisClient),
		kafkaProducer,
		cfg.Checkout.SessionTTL,
		log,
	)

	generationService := generation.NewGenerationService(
		creditService,
		inventoryService,
		generation.NewClient(cfg.External.GenerationServiceURL, log),
		log,
	)

	analyticsService := analytics.NewService(bunDB)

	checkoutHandler := &checkout_api.Handler{
		Checkout: checkoutService,
		Webhook: &checkout.WebhookHandler{
			Checkout:      checkoutService,
			Credits:       creditService,
			Subscriptions: subscriptionService,
			Logger:        log,
		},
		Logger: log,
	}
	creditsHandler := &credits_api.Handler{Credits: creditService, Logger: log}
	inventoryHandler := &inventory_api.Handler{Inventory: inventoryService, Logger: log}
	generationHandler := &generation_api.Handler{Generation: generationService, Logger: log}
	subscriptionHandler := &subscription_api.Handler{Subscriptions: subscriptionService, Logger: log}
	ordersHandler := &orders_api.Handler{Orders: orderService, Logger: log}
	analyticsHandler := &analytics_api.Handler{Analytics: analyticsService, Logger: log}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// Webhook endpoint is signed by the provider, never by our tokens.
	r.Post("/api/stripe/webhook", checkoutHandler.StripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware())
		log.Info("AUTH", "OIDC middleware applied to protected API routes")

		r.Route("/api", func(r chi.Router) {
			r.Post("/prepare-checkout", checkoutHandler.PrepareCheckout)
			r.Post("/complete-order", checkoutHandler.CompleteOrder)
			r.Post("/complete-catalogue-order", checkoutHandler.CompleteOrder)
			r.Post("/cancel-checkout", checkoutHandler.CancelCheckout)

			r.Get("/generation-credits", creditsHandler.GetBalance)
			r.Post("/use-generation-credit", creditsHandler.UseCredit)
			r.Post("/generate", generationHandler.Generate)

			r.Route("/images/{id}", func(r chi.Router) {
				r.Get("/", inventoryHandler.GetArtifact)
				r.Post("/public", inventoryHandler.PublishArtifact)
				r.Get("/sales", analyticsHandler.GetArtifactSales)
			})

			r.Post("/create-subscription", subscriptionHandler.CreateSubscription)
			r.Post("/confirm-subscription", subscriptionHandler.ConfirmSubscription)
			r.Post("/cancel-subscription", subscriptionHandler.CancelSubscription)
			r.Get("/subscription", subscriptionHandler.GetSubscription)

			r.Get("/orders/{orderId}", ordersHandler.GetOrder)

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.AdminOnly)
				r.Put("/orders/{orderId}/status", ordersHandler.UpdateStatus)
				r.Get("/orders/export", ordersHandler.ExportCSV)
				r.Get("/summary", analyticsHandler.GetStoreSummary)
				r.Put("/artifacts/{id}/sold-count", inventoryHandler.SetSoldCount)
				r.Post("/artifacts/{id}/review", inventoryHandler.ReviewArtifact)
			})
		})
		log.Info("ROUTER", "API routes registered under /api")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Info("REDIS", "Starting checkout session expiry subscription")
	subscribeSessionExpiry(redisClient, checkoutService, log)

	sweeper := orders.NewSweeper(orderService, cfg.Checkout.ReconcileInterval)
	go sweeper.Run()
	defer sweeper.Stop()

	go func() {
		log.Info("HTTP", fmt.Sprintf("Commerce engine running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	}
	log.Info("APP", "Shutdown complete")
}
