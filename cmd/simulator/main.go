package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ChatRequest is the OpenAI-compatible completion request the gateway's
// extractor sends when OPENAI_BASE_URL points here.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

// ChatMessage is one prompt message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse mirrors the completion response shape.
type ChatResponse struct {
	Choices []ChatChoice `json:"choices"`
}

// ChatChoice wraps the extracted content.
type ChatChoice struct {
	Message ChatMessage `json:"message"`
}

// ExtractedLine is one payment line in the strict extraction schema.
type ExtractedLine struct {
	Amount              string `json:"amount"`
	Currency            string `json:"currency"`
	Outgoing            bool   `json:"outgoing"`
	CounterpartyName    string `json:"counterparty_name"`
	CounterpartyAccount string `json:"counterparty_account"`
	Reference           string `json:"reference"`
	VariableSymbol      string `json:"variable_symbol"`
	ConstantSymbol      string `json:"constant_symbol"`
	SpecificSymbol      string `json:"specific_symbol"`
	ValueDate           string `json:"value_date"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status      string    `json:"status"`
	SimulatorID string    `json:"simulator_id"`
	Timestamp   time.Time `json:"timestamp"`
	FailureRate float64   `json:"failure_rate"`
}

// MockBank simulates the two external parties the gateway talks to: the
// bank's email provider (it composes avízo notices and posts them to the
// webhook) and an OpenAI-compatible extraction endpoint.
type MockBank struct {
	failureRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	simulatorID string
	rng         *rand.Rand
}

// NewMockBank creates a new mock bank instance
func NewMockBank(failureRate float64, minDelay, maxDelay time.Duration) *MockBank {
	return &MockBank{
		failureRate: failureRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		simulatorID: fmt.Sprintf("MOCK_BANK_%04d", rand.Intn(10000)),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

var (
	simAmountRe = regexp.MustCompile(`(?i)([+-]?\d[\d \x{00a0},.]*)\s*(CZK|EUR|USD)`)
	simVSRe     = regexp.MustCompile(`(?i)\bVS[.:\s]*(\d{1,10})\b`)
	simAcctRe   = regexp.MustCompile(`\b(\d{0,6}-?\d{2,10}/\d{4})\b`)
	simFromRe   = regexp.MustCompile(`(?i)(?:od|from)[:\s]+([^,;\n]+)`)
)

// extract parses the prompt body the way a well-behaved model would: one
// extracted line per amount-bearing paragraph, strict schema, nothing else.
func (m *MockBank) extract(body string) []ExtractedLine {
	var lines []ExtractedLine

	for _, block := range strings.Split(body, "\n\n") {
		am := simAmountRe.FindStringSubmatch(block)
		if am == nil {
			continue
		}

		amount := strings.Map(func(r rune) rune {
			if r == ' ' || r == ' ' {
				return -1
			}
			return r
		}, strings.TrimSpace(am[1]))
		amount = strings.Replace(amount, ",", ".", 1)

		line := ExtractedLine{
			Amount:   amount,
			Currency: strings.ToUpper(am[2]),
		}
		if v := simVSRe.FindStringSubmatch(block); v != nil {
			line.VariableSymbol = v[1]
		}
		if v := simAcctRe.FindStringSubmatch(block); v != nil {
			line.CounterpartyAccount = v[1]
		}
		if v := simFromRe.FindStringSubmatch(block); v != nil {
			line.CounterpartyName = strings.TrimSpace(v[1])
		}
		lines = append(lines, line)
	}

	return lines
}

func (m *MockBank) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockBank) shouldFail() bool {
	return m.rng.Float64() < m.failureRate
}

// composeNotice builds one synthetic Czech bank avízo body plus the
// variable symbol it carries.
func (m *MockBank) composeNotice() (body, vs string) {
	amount := 100 + m.rng.Intn(50000)
	vs = fmt.Sprintf("%07d", 2025000+m.rng.Intn(999))
	names := []string{"Firma ABC s.r.o.", "Novák a syn", "Beta Trade a.s.", "Gama Logistik"}

	body = fmt.Sprintf(
		"Dobrý den,\n\nna Vašem účtu byla připsána platba.\n\nČástka: %d,00 CZK\nVS: %s\nProtiúčet: %d/0%d00\nOd: %s\nDatum: %s\n",
		amount, vs,
		100000000+m.rng.Intn(899999999), 1+m.rng.Intn(8),
		names[m.rng.Intn(len(names))],
		time.Now().Format("2.1.2006"),
	)
	return body, vs
}

// Handler struct holds the mock bank and routes
type Handler struct {
	bank *MockBank
}

func NewHandler(bank *MockBank) *Handler {
	return &Handler{bank: bank}
}

// ChatCompletions serves the extraction endpoint the gateway calls in
// openai extractor mode.
func (h *Handler) ChatCompletions(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"message": "Invalid request", "type": "invalid_request_error"},
		})
		return
	}

	// Simulate model latency
	time.Sleep(h.bank.randomDelay())

	if h.bank.shouldFail() {
		log.Warn().Str("model", req.Model).Msg("Simulating extraction outage")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"message": "The model is overloaded", "type": "server_error"},
		})
		return
	}

	body := ""
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			body = msg.Content
		}
	}

	lines := h.bank.extract(body)
	if lines == nil {
		lines = []ExtractedLine{}
	}
	content, _ := json.Marshal(map[string][]ExtractedLine{"transactions": lines})

	log.Info().
		Str("model", req.Model).
		Int("lines", len(lines)).
		Msg("Extraction request served")

	c.JSON(http.StatusOK, ChatResponse{
		Choices: []ChatChoice{
			{Message: ChatMessage{Role: "assistant", Content: string(content)}},
		},
	})
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		SimulatorID: h.bank.simulatorID,
		Timestamp:   time.Now(),
		FailureRate: h.bank.failureRate,
	})
}

// UpdateConfig allows changing simulator configuration at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		FailureRate *float64 `json:"failure_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.FailureRate != nil {
		if *config.FailureRate >= 0 && *config.FailureRate <= 1.0 {
			h.bank.failureRate = *config.FailureRate
			log.Info().Float64("rate", *config.FailureRate).Msg("Updated failure rate")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Configuration updated",
		"failure_rate": h.bank.failureRate,
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	// Add request logging middleware
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	router.POST("/v1/chat/completions", handler.ChatCompletions)
	router.PUT("/config", handler.UpdateConfig)
	router.GET("/health", handler.HealthCheck)

	return router
}

// sendNotices posts a synthetic avízo to the gateway webhook every interval
// until the context is cancelled.
func sendNotices(ctx context.Context, bank *MockBank, gatewayURL, inboundAddress string, interval time.Duration) {
	client := &http.Client{Timeout: 10 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		body, vs := bank.composeNotice()
		payload, _ := json.Marshal(map[string]string{
			"from":        "noreply@banka.cz",
			"to":          inboundAddress,
			"subject":     "Avízo o přijaté platbě",
			"body":        body,
			"provider_id": fmt.Sprintf("sim-%d", time.Now().UnixNano()),
			"received_at": time.Now().UTC().Format(time.RFC3339),
		})

		resp, err := client.Post(gatewayURL+"/api/v1/webhooks/email", "application/json", bytes.NewReader(payload))
		if err != nil {
			log.Warn().Err(err).Msg("Webhook delivery failed")
			continue
		}
		resp.Body.Close()

		log.Info().
			Str("vs", vs).
			Int("status", resp.StatusCode).
			Msg("Avízo delivered to gateway")
	}
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Get configuration from environment
	port := getEnv("PORT", "8082")
	failureRate := getEnvFloat("FAILURE_RATE", 0)
	minDelay := getEnvDuration("MIN_DELAY", 100*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 1*time.Second)
	gatewayURL := getEnv("GATEWAY_URL", "")
	inboundAddress := getEnv("INBOUND_ADDRESS", "")
	sendInterval := getEnvDuration("SEND_INTERVAL", 0)

	log.Info().
		Str("port", port).
		Float64("failure_rate", failureRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting Mock Bank Simulator")

	bank := NewMockBank(failureRate, minDelay, maxDelay)
	handler := NewHandler(bank)
	router := SetupRouter(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if gatewayURL != "" && inboundAddress != "" && sendInterval > 0 {
		log.Info().
			Str("gateway", gatewayURL).
			Str("inbound", inboundAddress).
			Dur("interval", sendInterval).
			Msg("Avízo sender enabled")
		go sendNotices(ctx, bank, gatewayURL, inboundAddress, sendInterval)
	}

	// Setup HTTP server
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down simulator...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
