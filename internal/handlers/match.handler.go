package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/fasthttp/router"
	"github.com/shopspring/decimal"

	"github.com/fakturo/payment-engine/internal/model"
	xhttp "github.com/fakturo/payment-engine/pkg/http"
)

type MatchService interface {
	ManualMatch(ctx context.Context, req model.ManualMatchRequest) (*model.Match, error)
	Unmatch(ctx context.Context, matchID int64) error
	List(ctx context.Context, f model.MatchFilter) ([]*model.Match, int64, error)
	Suggestions(ctx context.Context, f model.MatchFilter) ([]*model.Match, int64, error)
	Stats(ctx context.Context) (*model.Stats, error)
}

type TransactionLister interface {
	ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
}

type MatchHandler struct {
	svc  MatchService
	txns TransactionLister
}

func RegisterMatchRoutes(e *router.Group, h *MatchHandler) {
	e.POST("/matches", h.CreateMatch)
	e.DELETE("/matches/{id}", h.DeleteMatch)
	e.GET("/matches", h.ListMatches)
	e.GET("/matches/suggestions", h.ListSuggestions)
	e.GET("/transactions", h.ListTransactions)
	e.GET("/stats", h.GetStats)
}

func NewMatchHandler(svc MatchService, txns TransactionLister) *MatchHandler {
	return &MatchHandler{
		svc:  svc,
		txns: txns,
	}
}

type createMatchRequest struct {
	TransactionID int64  `json:"transaction_id"`
	InvoiceID     int64  `json:"invoice_id"`
	Amount        string `json:"amount,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
}

type matchListResponse struct {
	Items []*model.Match `json:"items"`
	Total int64          `json:"total"`
}

type transactionListResponse struct {
	Items []*model.Transaction `json:"items"`
	Total int64                `json:"total"`
}

func (h *MatchHandler) CreateMatch(ctx *xhttp.RequestCtx) {
	var req createMatchRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	p := model.ManualMatchRequest{
		TransactionID: req.TransactionID,
		InvoiceID:     req.InvoiceID,
		CreatedBy:     req.CreatedBy,
	}
	if req.Amount != "" {
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(ctx, 400, "invalid amount")
			return
		}
		p.Amount = &amount
	}

	m, err := h.svc.ManualMatch(ctx, p)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, m)
}

func (h *MatchHandler) DeleteMatch(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid match id")
		return
	}

	if err := h.svc.Unmatch(ctx, id); err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, map[string]any{"deleted": true})
}

func (h *MatchHandler) ListMatches(ctx *xhttp.RequestCtx) {
	f := matchFilter(ctx)
	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, matchListResponse{Items: items, Total: total})
}

func (h *MatchHandler) ListSuggestions(ctx *xhttp.RequestCtx) {
	f := matchFilter(ctx)
	items, total, err := h.svc.Suggestions(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, matchListResponse{Items: items, Total: total})
}

func (h *MatchHandler) ListTransactions(ctx *xhttp.RequestCtx) {
	var f model.TransactionFilter

	if v := query(ctx, "account_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.AccountID = &id
		}
	}
	if v := query(ctx, "status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				f.Statuses = append(f.Statuses, model.MatchStatus(part))
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

	items, total, err := h.txns.ListTransactions(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, transactionListResponse{Items: items, Total: total})
}

func (h *MatchHandler) GetStats(ctx *xhttp.RequestCtx) {
	stats, err := h.svc.Stats(ctx)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, stats)
}

func matchFilter(ctx *xhttp.RequestCtx) model.MatchFilter {
	var f model.MatchFilter

	if v := query(ctx, "transaction_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.TransactionID = &id
		}
	}
	if v := query(ctx, "invoice_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.InvoiceID = &id
		}
	}
	if v := query(ctx, "source"); v != "" {
		src := model.DecisionSource(v)
		f.Source = &src
	}
	f.Limit, f.Offset = pagination(ctx)
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	return f
}
