package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/fakturo/payment-engine/internal/config"
	"github.com/fakturo/payment-engine/internal/extractor"
	"github.com/fakturo/payment-engine/internal/matching"
	"github.com/fakturo/payment-engine/internal/processor"
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

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	accountRepo := repository.NewAccountRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	matchRepo := repository.NewMatchRepository(db)

	engine := matching.NewEngine(matchingConfig())
	ext := buildExtractor()

	ingestService := services.NewIngestService(
		accountRepo, deliveryRepo, transactionRepo, invoiceRepo, matchRepo,
		db, ext, engine, config.Get().ExtractorKind,
	)

	idempotencyService := processor.NewIdempotencyService(redisAdap, processor.DefaultIdempotencyConfig())

	service, err := processor.NewProcessorService(redisAdap)
	if err != nil {
		logger.Error("failed to create the processor", "error", err)
		return
	}
	service.RegisterProcessor(processor.NewDeliveryProcessor(ingestService, idempotencyService))

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go serveMetrics(":9100")

	go func() {
		err := service.Start()
		if err != nil {
			logger.Error("failed to start processor", "error", err)
		}
	}()

	select {
	case <-c:
		service.Stop()
	}
}

func serveMetrics(addr string) {
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Router = xhttp.NewRouter()
	s.Router.GET("/metrics", prom.MetricsHandler())
	if err := s.ListenAndServe(addr); err != nil {
		logger.Error("metrics server stopped", "error", err)
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
