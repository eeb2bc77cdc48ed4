package config

import (
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/fakturo/payment-engine/pkg/logger"
)

var config *Config

// Config holds every env-sourced value used by the engine. Only this struct
// may be used to read configuration; no direct env access elsewhere.
type Config struct {
	AppEnv   string `env:"APP_ENV" default:"dev"`
	AppName  string `env:"APP_NAME" default:"payment_engine"`
	AppDebug bool   `env:"APP_DEBUG" default:"1"`

	HttpListenAddr         string `env:"HTTP_LISTEN_ADDR"`
	HttpServerReadTimeout  int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	// Inbound mailbox provisioning.
	InboundPrefix string `env:"INBOUND_PREFIX" default:"pay"`
	InboundDomain string `env:"INBOUND_DOMAIN" default:"inbox.fakturo.cz"`

	LogLevel []string `env:"LOG_LEVEL"`

	// Webhook gateway. When WebhookAsync is set the webhook endpoint only
	// enqueues the delivery and cmd/processor performs the ingestion.
	WebhookAsync bool `env:"WEBHOOK_ASYNC"`

	QueueName              string        `env:"QUEUE_NAME" default:"deliveries"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP" default:"ingest"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ"`

	// Extraction collaborator.
	ExtractorKind        string        `env:"EXTRACTOR_KIND" default:"regex"`
	ExtractorTimeout     time.Duration `env:"EXTRACTOR_TIMEOUT" default:"20s"`
	ExtractorConcurrency int           `env:"EXTRACTOR_CONCURRENCY" default:"4"`
	OpenAIAPIKey         string        `env:"OPENAI_API_KEY"`
	OpenAIModel          string        `env:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL        string        `env:"OPENAI_BASE_URL"`

	// Matching policy.
	MatchAmountTolerance  string  `env:"MATCH_AMOUNT_TOLERANCE" default:"0"`
	MatchAutoThreshold    float64 `env:"MATCH_AUTO_THRESHOLD" default:"0.8"`
	MatchReviewThreshold  float64 `env:"MATCH_REVIEW_THRESHOLD" default:"0.5"`
	MatchNameSimThreshold float64 `env:"MATCH_NAME_SIMILARITY_THRESHOLD" default:"0.8"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	if _, err = env.UnmarshalFromEnviron(c); err != nil {
		return errors.New("failed to map env variables to Configuration object" + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
