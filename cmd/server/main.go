package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clearfunds/backend/docs"
	"github.com/clearfunds/backend/internal/config"
	"github.com/clearfunds/backend/internal/database"
	mW "github.com/clearfunds/backend/internal/middleware"
	"github.com/clearfunds/backend/internal/providers"
	"github.com/clearfunds/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title ClearFunds Payments API
// @version 1.0
// @description Uniform API over multiple ACH money-movement providers
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "ClearFunds Payments API"
	docs.SwaggerInfo.Description = "Uniform API over multiple ACH money-movement providers"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	redisClient := database.InitRedis(config.LoadRedisConfig())
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Build the provider registry
	registry := providers.NewRegistry()
	features := providers.DefaultFeatures()

	dwolla, err := providers.NewDwollaProvider(config.LoadDwollaConfig())
	if err != nil {
		log.Fatalf("Failed to initialize dwolla provider: %v", err)
	}
	registry.Register(dwolla, features[providers.TypeDwolla])

	proxy, err := providers.NewProxyProvider(config.LoadProxyConfig())
	if err != nil {
		log.Fatalf("Failed to initialize proxy provider: %v", err)
	}
	registry.Register(proxy, features[providers.TypeProxy])

	paymentService := services.NewPaymentService(registry, redisClient)
	providerService := services.NewProviderService(registry)
	webhookService := services.NewWebhookService(registry, redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Get("/providers", providerService.ListProviders)
		r.Post("/providers/recommend", providerService.RecommendProvider)

		// Provider webhooks authenticate via payload signature, not JWT
		r.Post("/webhooks/{provider}", webhookService.HandleWebhook)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/customers", paymentService.CreateCustomer)
			r.Get("/customers/{customerId}", paymentService.GetCustomer)
			r.Put("/customers/{customerId}", paymentService.UpdateCustomer)
			r.Delete("/customers/{customerId}", paymentService.DeleteCustomer)
			r.Post("/customers/{customerId}/migrate", paymentService.MigrateCustomer)

			r.Post("/customers/{customerId}/accounts", paymentService.LinkAccount)
			r.Get("/customers/{customerId}/accounts", paymentService.ListAccounts)
			r.Get("/accounts/{accountId}", paymentService.GetAccount)
			r.Delete("/accounts/{accountId}", paymentService.UnlinkAccount)
			r.Get("/accounts/{accountId}/balance", paymentService.GetBalance)
			r.Get("/accounts/{accountId}/transfers", paymentService.ListTransfers)

			r.Post("/transfers", paymentService.CreateTransfer)
			r.Get("/transfers/{transferId}", paymentService.GetTransfer)
			r.Post("/transfers/{transferId}/cancel", paymentService.CancelTransfer)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
