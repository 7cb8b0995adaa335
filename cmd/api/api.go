package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paybridge/internal/checkout"
	"paybridge/internal/domain/storage"
	"paybridge/internal/idempotency"
	"paybridge/internal/payments"
	"paybridge/internal/ratelimiter"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type application struct {
	config      config
	store       *storage.Container
	logger      *zap.SugaredLogger
	checkout    *checkout.Service
	txnIDs      *payments.IDGenerator
	rateLimiter *ratelimiter.FixedWindowRateLimiter
	redis       *redis.Client
}

type config struct {
	addr        string
	db          dbConfig
	env         string
	apiURL      string
	frontendURL string
	auth        authConfig
	rateLimiter rateLimiterConfig
	payment     paymentConfig
	redis       redisConfig
	kafka       kafkaConfig
	reconcile   reconcileConfig
}

type authConfig struct {
	basic basicConfig
}

type basicConfig struct {
	user string
	pass string
}

type dbConfig struct {
	addr         string
	maxOpenConns int
	maxIdleTime  time.Duration
}

type rateLimiterConfig struct {
	requestsPerTimeFrame int
	timeFrame            time.Duration
	enabled              bool
}

type paymentConfig struct {
	esewa       payments.EsewaConfig
	khalti      payments.KhaltiConfig
	txnIDSecret string
}

type redisConfig struct {
	addr string
}

type kafkaConfig struct {
	brokers []string
	topic   string
}

type reconcileConfig struct {
	interval time.Duration
	after    time.Duration
	batch    int
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{app.config.frontendURL, "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", idempotency.Header},
		ExposedHeaders:   []string{"X-Idempotency-Hit"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.With(app.BasicAuthMiddleware()).Get("/health", app.healthCheckHandler)
		r.With(app.BasicAuthMiddleware()).Get("/debug/vars", expvar.Handler().ServeHTTP)

		r.Route("/payment", func(r chi.Router) {
			r.Use(app.RateLimiterMiddleware)

			initiate := r.With()
			if app.redis != nil {
				initiate = r.With(idempotency.Middleware(app.redis, app.logger))
			}
			initiate.Post("/initiate-payment", app.initiatePaymentHandler)

			r.Post("/payment-status", app.paymentStatusHandler)
			r.Get("/transaction-id", app.transactionIDHandler)

			// browser hand-offs
			r.Get("/esewa/start", app.esewaStartHandler)
			r.Get("/esewa/return", app.esewaReturnHandler)
			r.Get("/khalti/return", app.khaltiReturnHandler)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(app.BasicAuthMiddleware())
			r.Get("/transactions", app.adminListTransactionsHandler)
			r.Get("/transactions/{transactionID}", app.adminGetTransactionHandler)
		})
	})

	return r
}

func (app *application) run(mux http.Handler) error {
	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Infow("signal caught", "signal", s.String())

		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Infow("server has started", "addr", app.config.addr, "env", app.config.env)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Infow("server has stopped", "addr", app.config.addr, "env", app.config.env)

	return nil
}
