package main

import (
	"context"
	"expvar"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"paybridge/internal/checkout"
	"paybridge/internal/db"
	"paybridge/internal/domain/storage"
	"paybridge/internal/domain/transactions"
	"paybridge/internal/events"
	"paybridge/internal/events/kafka"
	"paybridge/internal/payments"
	"paybridge/internal/ratelimiter"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "1.0.0"

// NewLogger creates a new zap logger with color.
func NewLogger() (*zap.SugaredLogger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)
	core := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), zapcore.InfoLevel)

	return zap.New(core).Sugar(), nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		fmt.Printf("Invalid %s, defaulting to %d\n", key, fallback)
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		fmt.Printf("Invalid %s, defaulting to %t\n", key, fallback)
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil || parsed <= 0 {
		fmt.Printf("Invalid %s, defaulting to %s\n", key, fallback)
		return fallback
	}
	return parsed
}

func loadConfig() config {
	frontendURL := getString("FRONTEND_URL", "http://localhost:5173")
	gatewayTimeout := getDuration("GATEWAY_TIMEOUT", 15*time.Second)

	return config{
		addr:        getString("ADDR", ":8080"),
		env:         getString("ENV", "development"),
		apiURL:      getString("EXTERNAL_URL", "localhost:8080"),
		frontendURL: frontendURL,
		db: dbConfig{
			addr:         getString("DB_ADDR", ""),
			maxOpenConns: getInt("DB_MAX_OPEN_CONNS", 10),
			maxIdleTime:  getDuration("DB_MAX_IDLE_TIME", 15*time.Minute),
		},
		auth: authConfig{
			basic: basicConfig{
				user: os.Getenv("AUTH_BASIC_USER"),
				pass: os.Getenv("AUTH_BASIC_PASS"),
			},
		},
		rateLimiter: rateLimiterConfig{
			requestsPerTimeFrame: getInt("RATELIMITER_REQUESTS_COUNT", 200),
			timeFrame:            5 * time.Second,
			enabled:              getBool("RATE_LIMITER_ENABLED", false),
		},
		payment: paymentConfig{
			esewa: payments.EsewaConfig{
				MerchantCode: getString("ESEWA_MERCHANT_CODE", "EPAYTEST"),
				SecretKey:    getString("ESEWA_SECRET_KEY", ""),
				SuccessURL:   getString("ESEWA_SUCCESS_URL", frontendURL+"/success"),
				FailureURL:   getString("ESEWA_FAILURE_URL", frontendURL+"/failure"),
				FormURL:      getString("ESEWA_FORM_URL", ""),
				StatusURL:    getString("ESEWA_STATUS_URL", ""),
				Timeout:      gatewayTimeout,
			},
			khalti: payments.KhaltiConfig{
				SecretKey:    getString("KHALTI_SECRET_KEY", ""),
				ReturnURL:    getString("KHALTI_RETURN_URL", frontendURL+"/success"),
				WebsiteURL:   getString("KHALTI_WEBSITE_URL", frontendURL),
				IsProduction: getBool("KHALTI_PRODUCTION", false),
				Timeout:      gatewayTimeout,
			},
			txnIDSecret: getString("TXN_ID_SECRET", ""),
		},
		redis: redisConfig{
			addr: getString("REDIS_ADDR", ""),
		},
		kafka: kafkaConfig{
			brokers: splitList(getString("KAFKA_BROKERS", "")),
			topic:   getString("KAFKA_TOPIC", events.TopicPaymentSettled),
		},
		reconcile: reconcileConfig{
			interval: getDuration("RECONCILE_INTERVAL", 10*time.Minute),
			after:    getDuration("RECONCILE_AFTER", 15*time.Minute),
			batch:    50,
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	logger, err := NewLogger()
	if err != nil {
		fmt.Println("Error creating logger:", err)
		return
	}
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Infow("no .env file loaded, using process environment", "err", err)
	}

	cfg := loadConfig()

	// Storage
	var store *storage.Container
	if cfg.db.addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pool, err := db.Open(ctx, db.Config{
			Addr:            cfg.db.addr,
			MaxConns:        int32(cfg.db.maxOpenConns),
			MaxConnIdleTime: cfg.db.maxIdleTime,
		})
		cancel()
		if err != nil {
			logger.Fatal(err)
		}
		defer pool.Close()
		logger.Info("database connection pool established")

		store = storage.NewContainer(pool)
		expvar.Publish("database", expvar.Func(func() any {
			s := pool.Stat()
			return map[string]any{
				"total_conns":    s.TotalConns(),
				"idle_conns":     s.IdleConns(),
				"acquired_conns": s.AcquiredConns(),
			}
		}))
	} else {
		logger.Warn("DB_ADDR not set, transactions are kept in memory")
		store = storage.NewMemoryContainer()
	}

	// Gateways
	gateways := payments.NewManager()
	if cfg.payment.esewa.SecretKey != "" {
		gateways.Register(transactions.GatewayEsewa, payments.NewEsewaAdapter(cfg.payment.esewa))
	} else {
		logger.Warn("ESEWA_SECRET_KEY not set, eSewa is disabled")
	}
	if cfg.payment.khalti.SecretKey != "" {
		gateways.Register(transactions.GatewayKhalti, payments.NewKhaltiAdapter(cfg.payment.khalti))
	} else {
		logger.Warn("KHALTI_SECRET_KEY not set, Khalti is disabled")
	}

	// Events
	var publisher events.Publisher = events.Nop{}
	if len(cfg.kafka.brokers) > 0 {
		kp := kafka.NewPublisher(cfg.kafka.brokers, cfg.kafka.topic, logger)
		defer kp.Close()
		publisher = kp
		logger.Infow("publishing settlement events", "brokers", cfg.kafka.brokers, "topic", cfg.kafka.topic)
	}

	// Idempotency cache
	var rdb *redis.Client
	if cfg.redis.addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.redis.addr})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warnw("redis ping failed, idempotency keys will be served uncached until it recovers", "addr", cfg.redis.addr, "err", err)
		}
	}

	txnSecret := cfg.payment.txnIDSecret
	if txnSecret == "" {
		logger.Warn("TXN_ID_SECRET not set, using a random per-process secret")
		txnSecret = uuid.NewString()
	}

	rateLimiter := ratelimiter.NewFixedWindowLimiter(
		cfg.rateLimiter.requestsPerTimeFrame,
		cfg.rateLimiter.timeFrame,
	)
	defer rateLimiter.Stop()

	app := &application{
		config:      cfg,
		logger:      logger,
		store:       store,
		checkout:    checkout.New(store.Transactions, store.Logs, gateways, publisher, logger),
		txnIDs:      payments.NewIDGenerator(txnSecret),
		rateLimiter: rateLimiter,
		redis:       rdb,
	}

	// Metrics collected http://localhost:8080/api/v1/debug/vars
	expvar.NewString("version").Set(version)
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.reconcilePendingPayments(ctx)

	mux := app.mount()

	if err := app.run(mux); err != nil {
		logger.Fatal(err)
	}
}
