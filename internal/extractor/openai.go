package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakturo/payment-engine/internal/model"
	"github.com/fakturo/payment-engine/pkg/logger"
)

const (
	openaiBaseURL      = "https://api.openai.com/v1/chat/completions"
	openaiMaxRetries   = 3
	openaiInitialDelay = 1 * time.Second
)

const extractionPrompt = `You extract bank payment notifications into JSON.
Return ONLY a JSON object of the form:
{"transactions":[{"amount":"1234.56","currency":"CZK","outgoing":false,
"counterparty_name":"","counterparty_account":"","reference":"",
"variable_symbol":"","constant_symbol":"","specific_symbol":"",
"value_date":"2006-01-02"}]}
One entry per payment line in the email. Amounts are decimal strings without
thousand separators. If the email is not a payment notification return
{"transactions":[]}.`

// OpenAIExtractor delegates unstructured-text understanding to an
// OpenAI-compatible chat completion endpoint with a strict output schema.
type OpenAIExtractor struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewOpenAIExtractor(apiKey, model, baseURL string) *OpenAIExtractor {
	if baseURL == "" {
		baseURL = openaiBaseURL
	}
	return &OpenAIExtractor{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat respFormat    `json:"response_format"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type extractedPayload struct {
	Transactions []extractedLine `json:"transactions"`
}

type extractedLine struct {
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

func (e *OpenAIExtractor) Extract(ctx context.Context, body string, hint AccountHint) ([]model.CandidateTransaction, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrUnavailable)
	}

	content, err := e.complete(ctx, body)
	if err != nil {
		return nil, err
	}

	var payload extractedPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		// schema violation from the model is a no-op extraction, not a crash
		logger.Warn("extractor returned unparseable output", "error", err)
		return nil, nil
	}

	candidates := make([]model.CandidateTransaction, 0, len(payload.Transactions))
	for _, line := range payload.Transactions {
		c, ok := line.toCandidate()
		if !ok {
			continue
		}
		candidates = append(candidates, c)
	}

	return Sanitize(candidates, hint), nil
}

func (l extractedLine) toCandidate() (model.CandidateTransaction, bool) {
	var c model.CandidateTransaction

	amount, err := decimal.NewFromString(l.Amount)
	if err != nil {
		return c, false
	}
	if amount.IsNegative() {
		c.Outgoing = true
		amount = amount.Neg()
	} else {
		c.Outgoing = l.Outgoing
	}

	c.Amount = amount
	c.Currency = l.Currency
	c.CounterpartyName = l.CounterpartyName
	c.CounterpartyAccount = l.CounterpartyAccount
	c.Reference = l.Reference
	c.VariableSymbol = l.VariableSymbol
	c.ConstantSymbol = l.ConstantSymbol
	c.SpecificSymbol = l.SpecificSymbol

	if l.ValueDate != "" {
		if d, err := time.Parse("2006-01-02", l.ValueDate); err == nil {
			c.ValueDate = d
		}
	}

	return c, true
}

func (e *OpenAIExtractor) complete(ctx context.Context, body string) (string, error) {
	reqBody := chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: extractionPrompt},
			{Role: "user", Content: body},
		},
		ResponseFormat: respFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	var lastErr error
	delay := openaiInitialDelay

	for attempt := 0; attempt < openaiMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		content, retryable, err := e.completeOnce(ctx, payload)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}

	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (e *OpenAIExtractor) completeOnce(ctx context.Context, payload []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr chatError
		_ = json.Unmarshal(raw, &apiErr)
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retryable, fmt.Errorf("openai status %d: %s", resp.StatusCode, apiErr.Error.Message)
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", false, err
	}
	if len(cr.Choices) == 0 {
		return "", false, fmt.Errorf("openai returned no choices")
	}

	return cr.Choices[0].Message.Content, false, nil
}
