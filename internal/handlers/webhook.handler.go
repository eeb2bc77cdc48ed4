package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"

	"github.com/fakturo/payment-engine/internal/model"
	"github.com/fakturo/payment-engine/internal/queue"
	"github.com/fakturo/payment-engine/internal/services"
	xhttp "github.com/fakturo/payment-engine/pkg/http"
)

type IngestService interface {
	Ingest(ctx context.Context, req model.DeliveryRequest) (*model.IngestResult, error)
	ProcessEmail(ctx context.Context, accountID int64, req model.DeliveryRequest) (*model.IngestResult, error)
	Reprocess(ctx context.Context, deliveryID int64) (*model.IngestResult, error)
	ListDeliveries(ctx context.Context, f model.DeliveryFilter) ([]*model.Delivery, int64, error)
}

// WebhookHandler terminates the email provider's webhook. In async mode the
// payload goes to the queue and the caller gets 202; otherwise the pipeline
// runs inline.
type WebhookHandler struct {
	svc   IngestService
	queue *queue.Queue
	async bool
}

func RegisterWebhookRoutes(e *router.Group, h *WebhookHandler) {
	e.POST("/webhooks/email", h.ReceiveEmail)
	e.POST("/process-email", h.ProcessEmail)
	e.POST("/deliveries/{id}/reprocess", h.ReprocessDelivery)
	e.GET("/deliveries", h.ListDeliveries)
}

func NewWebhookHandler(svc IngestService, q *queue.Queue, async bool) *WebhookHandler {
	return &WebhookHandler{
		svc:   svc,
		queue: q,
		async: async,
	}
}

type emailWebhookRequest struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ProviderID string `json:"provider_id"`
	ReceivedAt string `json:"received_at"`
}

type deliveryListResponse struct {
	Items []*model.Delivery `json:"items"`
	Total int64             `json:"total"`
}

func (h *WebhookHandler) ReceiveEmail(ctx *xhttp.RequestCtx) {
	var req emailWebhookRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	dr := model.DeliveryRequest{
		From:       req.From,
		To:         req.To,
		Subject:    req.Subject,
		Body:       req.Body,
		ProviderID: req.ProviderID,
	}
	if req.ReceivedAt != "" {
		if t, err := parseTime(req.ReceivedAt); err == nil {
			dr.ReceivedAt = t
		}
	}
	if err := dr.Validate(); err != nil {
		writeError(ctx, 400, err.Error())
		return
	}

	if h.async && h.queue != nil {
		if dr.ReceivedAt.IsZero() {
			dr.ReceivedAt = time.Now().UTC()
		}
		if _, err := h.queue.PublishJSON(ctx, dr, nil); err != nil {
			writeError(ctx, 503, "queue unavailable")
			return
		}
		writeJSON(ctx, 202, map[string]any{"accepted": true})
		return
	}

	result, err := h.svc.Ingest(ctx, dr)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, result)
}

type processEmailRequest struct {
	AccountID  int64  `json:"account_id"`
	From       string `json:"from"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ReceivedAt string `json:"received_at"`
}

// ProcessEmail feeds a raw email body through the pipeline for an explicit
// account, bypassing recipient resolution.
func (h *WebhookHandler) ProcessEmail(ctx *xhttp.RequestCtx) {
	var req processEmailRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.AccountID == 0 {
		writeError(ctx, 400, "account_id is required")
		return
	}
	if req.Body == "" {
		writeError(ctx, 400, "body is required")
		return
	}

	dr := model.DeliveryRequest{
		From:    req.From,
		Subject: req.Subject,
		Body:    req.Body,
	}
	if req.ReceivedAt != "" {
		if t, err := parseTime(req.ReceivedAt); err == nil {
			dr.ReceivedAt = t
		}
	}

	result, err := h.svc.ProcessEmail(ctx, req.AccountID, dr)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, result)
}

func (h *WebhookHandler) ReprocessDelivery(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid delivery id")
		return
	}

	result, err := h.svc.Reprocess(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, result)
}

func (h *WebhookHandler) ListDeliveries(ctx *xhttp.RequestCtx) {
	var f model.DeliveryFilter

	if v := query(ctx, "account_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.AccountID = &id
		}
	}
	if v := query(ctx, "status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				f.Statuses = append(f.Statuses, model.DeliveryStatus(part))
			}
		}
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	f.Limit, f.Offset = pagination(ctx)
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.ListDeliveries(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, deliveryListResponse{Items: items, Total: total})
}

/* --------------------------------- Helpers ----------------------------------- */

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(ctx, 404, err.Error())
	case errors.Is(err, services.ErrUnknownAccount):
		writeError(ctx, 404, err.Error())
	case errors.Is(err, services.ErrAmountExceedsOutstanding),
		errors.Is(err, services.ErrAmountExceedsTransaction),
		errors.Is(err, services.ErrCurrencyMismatch):
		writeError(ctx, 422, err.Error())
	case errors.Is(err, services.ErrExtractionFailed):
		writeError(ctx, 502, err.Error())
	default:
		writeError(ctx, 400, err.Error())
	}
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	raw, _ := ctx.UserValue(name).(string)
	return strconv.ParseInt(raw, 10, 64)
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func pagination(ctx *xhttp.RequestCtx) (limit, offset int) {
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			offset = n
		}
	}
	return limit, offset
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
