package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fakturo/payment-engine/internal/extractor"
	"github.com/fakturo/payment-engine/internal/handlers"
	"github.com/fakturo/payment-engine/internal/matching"
	"github.com/fakturo/payment-engine/internal/model"
	"github.com/fakturo/payment-engine/internal/processor"
	"github.com/fakturo/payment-engine/internal/queue"
	"github.com/fakturo/payment-engine/internal/repository"
	"github.com/fakturo/payment-engine/internal/services"
	xhttp "github.com/fakturo/payment-engine/pkg/http"
	"github.com/fakturo/payment-engine/pkg/pg"
	"github.com/fakturo/payment-engine/pkg/redis"
)

type TestEnvironment struct {
	DB              *pg.DB
	Redis           *miniredis.Miniredis
	RedisAdapter    redis.RedisAdapter
	Queue           *queue.Queue
	AccountRepo     *repository.AccountRepository
	DeliveryRepo    *repository.DeliveryRepository
	TransactionRepo *repository.TransactionRepository
	InvoiceRepo     *repository.InvoiceRepository
	MatchRepo       *repository.MatchRepository
	IngestService   *services.IngestService
	MatchService    *services.MatchService
	WebhookHandler  *handlers.WebhookHandler
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.AccountEntity{},
		&repository.DeliveryEntity{},
		&repository.TransactionEntity{},
		&repository.InvoiceEntity{},
		&repository.MatchEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Use unique connection name per test to avoid global adapter caching issues
	connName := fmt.Sprintf("e2e-%s-%d", t.Name(), time.Now().UnixNano())
	redisAdapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	q, err := queue.New(redisAdapter, queue.Config{
		Name:              "test:deliveries",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	})
	require.NoError(t, err)

	accountRepo := repository.NewAccountRepository(pgDB)
	deliveryRepo := repository.NewDeliveryRepository(pgDB)
	transactionRepo := repository.NewTransactionRepository(pgDB)
	invoiceRepo := repository.NewInvoiceRepository(pgDB)
	matchRepo := repository.NewMatchRepository(pgDB)

	ingestService := services.NewIngestService(
		accountRepo, deliveryRepo, transactionRepo, invoiceRepo, matchRepo,
		pgDB, extractor.NewRegexExtractor(), matching.NewEngine(matching.DefaultConfig()), "regex",
	)
	matchService := services.NewMatchService(transactionRepo, invoiceRepo, matchRepo, pgDB)
	webhookHandler := handlers.NewWebhookHandler(ingestService, q, false)

	return &TestEnvironment{
		DB:              pgDB,
		Redis:           mr,
		RedisAdapter:    redisAdapter,
		Queue:           q,
		AccountRepo:     accountRepo,
		DeliveryRepo:    deliveryRepo,
		TransactionRepo: transactionRepo,
		InvoiceRepo:     invoiceRepo,
		MatchRepo:       matchRepo,
		IngestService:   ingestService,
		MatchService:    matchService,
		WebhookHandler:  webhookHandler,
	}
}

func (env *TestEnvironment) Cleanup() {
	// Stop queue first (gracefully drain messages)
	if env.Queue != nil {
		_ = env.Queue.Stop(5 * time.Second)
	}
	// Give time for any in-flight operations to complete
	time.Sleep(100 * time.Millisecond)
	// Then close Redis
	if env.Redis != nil {
		env.Redis.Close()
	}
}

func (env *TestEnvironment) seedAccount(ctx context.Context, t *testing.T) {
	t.Helper()
	err := env.DB.Write(ctx).Create(&repository.AccountEntity{
		ID:             1,
		CompanyID:      10,
		Name:           "Hlavní účet",
		AccountNumber:  "123456789/0800",
		InboundAddress: "pay.6789.tok@inbound.fakturo.cz",
		Token:          "tok",
		Active:         true,
	}).Error
	require.NoError(t, err)
}

func (env *TestEnvironment) seedInvoice(ctx context.Context, t *testing.T, id int64, vs, outstanding string) {
	t.Helper()
	out := decimal.RequireFromString(outstanding)
	err := env.DB.Write(ctx).Create(&repository.InvoiceEntity{
		ID:             id,
		InvoiceNumber:  fmt.Sprintf("FV-%s", vs),
		CompanyID:      10,
		VariableSymbol: vs,
		Total:          out,
		Outstanding:    out,
		Currency:       "CZK",
		CustomerName:   "Firma ABC s.r.o.",
		DueDate:        time.Now().AddDate(0, 0, 14),
	}).Error
	require.NoError(t, err)
}

func webhookRequest(body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	// Init wires up the internal fake server so the ctx works as a
	// context.Context outside a real fasthttp server.
	ctx.Init(&fasthttp.Request{}, nil, nil)
	ctx.Request.Header.SetMethod("POST")
	ctx.Request.SetRequestURI("/api/v1/webhooks/email")
	ctx.Request.SetBody(body)
	return ctx
}

func avizoPayload(providerID string) []byte {
	payload, _ := json.Marshal(map[string]string{
		"from":        "noreply@banka.cz",
		"to":          "pay.6789.tok@inbound.fakturo.cz",
		"subject":     "Avízo o přijaté platbě",
		"body":        "Na Vašem účtu byla připsána platba.\n\nČástka: 25 000,00 CZK\nVS: 2025001\nOd: Firma ABC s.r.o.",
		"provider_id": providerID,
	})
	return payload
}

func TestE2E_WebhookAutoMatch(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedAccount(ctx, t)
	env.seedInvoice(ctx, t, 1, "2025001", "25000.00")

	reqCtx := webhookRequest(avizoPayload("msg-1"))
	env.WebhookHandler.ReceiveEmail(reqCtx)
	require.Equal(t, 200, reqCtx.Response.StatusCode())

	var result model.IngestResult
	require.NoError(t, json.Unmarshal(reqCtx.Response.Body(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Matched)

	var invoice repository.InvoiceEntity
	err := env.DB.Read(ctx).First(&invoice, 1).Error
	require.NoError(t, err)
	assert.True(t, invoice.Outstanding.IsZero(), "outstanding = %s", invoice.Outstanding)

	var txn repository.TransactionEntity
	err = env.DB.Read(ctx).Where("variable_symbol = ?", "2025001").First(&txn).Error
	require.NoError(t, err)
	assert.Equal(t, string(model.MatchStatusMatched), txn.Status)
	assert.True(t, txn.Amount.Equal(decimal.RequireFromString("25000.00")))

	var matches []repository.MatchEntity
	err = env.DB.Read(ctx).Find(&matches).Error
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, string(model.DecisionAuto), matches[0].Source)
	assert.False(t, matches[0].Suggestion)
	assert.Equal(t, 1.0, matches[0].Confidence)
	assert.True(t, matches[0].Applied.Equal(decimal.RequireFromString("25000.00")))
}

func TestE2E_DuplicateDeliveryReplay(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedAccount(ctx, t)
	env.seedInvoice(ctx, t, 1, "2025001", "25000.00")

	first := webhookRequest(avizoPayload("msg-1"))
	env.WebhookHandler.ReceiveEmail(first)
	require.Equal(t, 200, first.Response.StatusCode())

	// Provider retries with the same payload; the stored outcome comes back
	// and nothing is booked twice.
	replay := webhookRequest(avizoPayload("msg-1"))
	env.WebhookHandler.ReceiveEmail(replay)
	require.Equal(t, 200, replay.Response.StatusCode())

	var result model.IngestResult
	require.NoError(t, json.Unmarshal(replay.Response.Body(), &result))
	assert.True(t, result.Duplicate)
	assert.Equal(t, 0, result.Processed)

	var matchCount int64
	env.DB.Read(ctx).Model(&repository.MatchEntity{}).Count(&matchCount)
	assert.Equal(t, int64(1), matchCount)

	var deliveryCount int64
	env.DB.Read(ctx).Model(&repository.DeliveryEntity{}).Count(&deliveryCount)
	assert.Equal(t, int64(1), deliveryCount)

	var invoice repository.InvoiceEntity
	require.NoError(t, env.DB.Read(ctx).First(&invoice, 1).Error)
	assert.True(t, invoice.Outstanding.IsZero())
}

func TestE2E_AsyncWebhookThroughQueue(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedAccount(ctx, t)
	env.seedInvoice(ctx, t, 1, "2025001", "25000.00")

	asyncHandler := handlers.NewWebhookHandler(env.IngestService, env.Queue, true)

	reqCtx := webhookRequest(avizoPayload("msg-async-1"))
	asyncHandler.ReceiveEmail(reqCtx)
	require.Equal(t, 202, reqCtx.Response.StatusCode())

	idempotency := processor.NewIdempotencyService(env.RedisAdapter, processor.DefaultIdempotencyConfig())
	deliveryProcessor := processor.NewDeliveryProcessor(env.IngestService, idempotency)

	done := make(chan struct{}, 1)
	err := env.Queue.Consume(func(ctx context.Context, msg *queue.Message) error {
		if err := deliveryProcessor.Process(ctx, msg); err != nil {
			return err
		}
		done <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("queued delivery not processed within timeout")
	}

	var invoice repository.InvoiceEntity
	require.NoError(t, env.DB.Read(ctx).First(&invoice, 1).Error)
	assert.True(t, invoice.Outstanding.IsZero(), "outstanding = %s", invoice.Outstanding)

	var matchCount int64
	env.DB.Read(ctx).Model(&repository.MatchEntity{}).Count(&matchCount)
	assert.Equal(t, int64(1), matchCount)
}

func TestE2E_ManualUnmatchRestoresOutstanding(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedAccount(ctx, t)
	env.seedInvoice(ctx, t, 1, "2025001", "25000.00")

	reqCtx := webhookRequest(avizoPayload("msg-1"))
	env.WebhookHandler.ReceiveEmail(reqCtx)
	require.Equal(t, 200, reqCtx.Response.StatusCode())

	var match repository.MatchEntity
	require.NoError(t, env.DB.Read(ctx).First(&match).Error)

	err := env.MatchService.Unmatch(ctx, match.ID)
	require.NoError(t, err)

	var invoice repository.InvoiceEntity
	require.NoError(t, env.DB.Read(ctx).First(&invoice, 1).Error)
	assert.True(t, invoice.Outstanding.Equal(decimal.RequireFromString("25000.00")))

	var txn repository.TransactionEntity
	require.NoError(t, env.DB.Read(ctx).First(&txn, match.TransactionID).Error)
	assert.Equal(t, string(model.MatchStatusUnmatched), txn.Status)

	var matchCount int64
	env.DB.Read(ctx).Model(&repository.MatchEntity{}).Count(&matchCount)
	assert.Equal(t, int64(0), matchCount)
}
