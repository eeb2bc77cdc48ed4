package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakturo/payment-engine/internal/config"
	"github.com/fakturo/payment-engine/internal/extractor"
	"github.com/fakturo/payment-engine/internal/handlers"
	"github.com/fakturo/payment-engine/internal/matching"
	"github.com/fakturo/payment-engine/internal/queue"
	"github.com/fakturo/payment-engine/internal/repository"
	"github.com/fakturo/payment-engine/internal/services"
	xhttp "github.com/fakturo/payment-engine/pkg/http"
	"github.com/fakturo/payment-engine/pkg/logger"
	"github.com/fakturo/payment-engine/pkg/pg"
	"github.com/fakturo/payment-engine/pkg/prom"
	"github.com/fakturo/payment-engine/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 30))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	q, err := queue.New(redisAdap, queue.Config{
		Name:              config.Get().QueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      config.Get().QueueConsumerName,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating queue", "error", err)
	}

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
	}

	accountRepo := repository.NewAccountRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	matchRepo := repository.NewMatchRepository(db)

	engine := matching.NewEngine(matchingConfig())
	ext := buildExtractor()

	// services
	ingestService := services.NewIngestService(
		accountRepo, deliveryRepo, transactionRepo, invoiceRepo, matchRepo,
		db, ext, engine, config.Get().ExtractorKind,
	)
	matchService := services.NewMatchService(transactionRepo, invoiceRepo, matchRepo, db)
	accountService := services.NewAccountService(accountRepo, config.Get().InboundPrefix, config.Get().InboundDomain)

	// v1 handlers
	webhookHandler := handlers.NewWebhookHandler(ingestService, q, config.Get().WebhookAsync)
	matchHandler := handlers.NewMatchHandler(matchService, ingestService)
	accountHandler := handlers.NewAccountHandler(accountService)
	healthHandler := handlers.NewHealthHandler()

	g := s.Router.Group("/api/v1")
	handlers.RegisterWebhookRoutes(g, webhookHandler)
	handlers.RegisterMatchRoutes(g, matchHandler)
	handlers.RegisterAccountRoutes(g, accountHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)
	s.Router.GET("/metrics", prom.MetricsHandler())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func matchingConfig() matching.Config {
	cfg := matching.DefaultConfig()
	if tolerance, err := decimal.NewFromString(config.Get().MatchAmountTolerance); err == nil {
		cfg.AmountTolerance = tolerance
	}
	if v := config.Get().MatchAutoThreshold; v > 0 {
		cfg.AutoThreshold = v
	}
	if v := config.Get().MatchReviewThreshold; v > 0 {
		cfg.ReviewThreshold = v
	}
	if v := config.Get().MatchNameSimThreshold; v > 0 {
		cfg.NameSimilarityThreshold = v
	}
	return cfg
}

func buildExtractor() extractor.Extractor {
	var inner extractor.Extractor
	switch config.Get().ExtractorKind {
	case "openai":
		inner = extractor.NewOpenAIExtractor(
			config.Get().OpenAIAPIKey,
			config.Get().OpenAIModel,
			config.Get().OpenAIBaseURL,
		)
	default:
		inner = extractor.NewRegexExtractor()
	}
	return extractor.NewBounded(inner, config.Get().ExtractorConcurrency, config.Get().ExtractorTimeout)
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
