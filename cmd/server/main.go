package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/timegate/backend/docs"
	"github.com/timegate/backend/internal/config"
	"github.com/timegate/backend/internal/database"
	"github.com/timegate/backend/internal/handlers"
	mW "github.com/timegate/backend/internal/middleware"
	"github.com/timegate/backend/internal/proxy"
	"github.com/timegate/backend/internal/services"
)

// @title Timegate API
// @version 1.0
// @description Paid time-boxed access gateway: capability tokens, credit ledger, scoped origin proxying
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("pricing.table", "PRICING_TABLE")
	viper.BindEnv("scopes.restricted_paths", "SCOPE_RESTRICTED_PATHS")
	viper.BindEnv("origin.url", "ORIGIN_URL")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	docs.SwaggerInfo.Host = "localhost:8080"

	// Initialize stores
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	pricing := config.LoadPricingTable()
	scopeRules := config.LoadScopeRules()

	ledgerService := services.NewLedgerService(db)
	tokenService := services.NewTokenService(db, redisClient, ledgerService, pricing)
	authorizer := services.NewScopeAuthorizer(scopeRules)

	tokenHandler := handlers.NewTokenHandler(tokenService)
	ledgerHandler := handlers.NewLedgerHandler(ledgerService)
	paymentHandler := handlers.NewPaymentHandler(ledgerService)

	viper.SetDefault("origin.url", "http://localhost:9000")
	originURL, err := url.Parse(viper.GetString("origin.url"))
	if err != nil {
		log.Fatalf("Invalid origin URL: %v", err)
	}
	forwarder := proxy.NewForwarder(originURL)

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
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

	// Management API
	r.Route("/api/v1", func(r chi.Router) {
		// Public: payment gateway notifications (signature verified upstream)
		r.Post("/payments/notify", paymentHandler.Notify)

		// Protected: account session required
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/tokens", tokenHandler.IssueToken)
			r.Get("/tokens", tokenHandler.ListTokens)
			r.Delete("/tokens/{tokenID}", tokenHandler.RevokeToken)

			r.Get("/balance", ledgerHandler.GetBalance)
			r.Get("/ledger", ledgerHandler.ListEntries)
		})
	})

	// Gateway: capability token validation + scope check, then forwarding
	r.With(mW.GatewayAuth(tokenService, authorizer)).Handle("/gate/*", forwarder)

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
