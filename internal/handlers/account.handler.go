package handlers

import (
	"context"
	"strconv"

	"github.com/fasthttp/router"

	"github.com/fakturo/payment-engine/internal/model"
	xhttp "github.com/fakturo/payment-engine/pkg/http"
)

type AccountService interface {
	Create(ctx context.Context, req model.AccountCreateRequest) (*model.Account, error)
	Get(ctx context.Context, id int64) (*model.Account, error)
	List(ctx context.Context, companyID *int64) ([]*model.Account, error)
}

type AccountHandler struct {
	svc AccountService
}

func RegisterAccountRoutes(e *router.Group, h *AccountHandler) {
	e.POST("/accounts", h.CreateAccount)
	e.GET("/accounts", h.ListAccounts)
	e.GET("/accounts/{id}", h.GetAccount)
}

func NewAccountHandler(svc AccountService) *AccountHandler {
	return &AccountHandler{
		svc: svc,
	}
}

type createAccountRequest struct {
	CompanyID     int64  `json:"company_id"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	MatchOutgoing bool   `json:"match_outgoing"`
}

func (h *AccountHandler) CreateAccount(ctx *xhttp.RequestCtx) {
	var req createAccountRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	account, err := h.svc.Create(ctx, model.AccountCreateRequest{
		CompanyID:     req.CompanyID,
		Name:          req.Name,
		AccountNumber: req.AccountNumber,
		MatchOutgoing: req.MatchOutgoing,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, account)
}

func (h *AccountHandler) GetAccount(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid account id")
		return
	}

	account, err := h.svc.Get(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, account)
}

func (h *AccountHandler) ListAccounts(ctx *xhttp.RequestCtx) {
	var companyID *int64
	if v := query(ctx, "company_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			companyID = &id
		}
	}

	accounts, err := h.svc.List(ctx, companyID)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, accounts)
}
