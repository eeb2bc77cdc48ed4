package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fakturo/payment-engine/internal/model"
	"github.com/fakturo/payment-engine/internal/services"
)

type MockMatchService struct {
	mock.Mock
}

func (m *MockMatchService) ManualMatch(ctx context.Context, req model.ManualMatchRequest) (*model.Match, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Match), args.Error(1)
}

func (m *MockMatchService) Unmatch(ctx context.Context, matchID int64) error {
	args := m.Called(ctx, matchID)
	return args.Error(0)
}

func (m *MockMatchService) List(ctx context.Context, f model.MatchFilter) ([]*model.Match, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Match), args.Get(1).(int64), args.Error(2)
}

func (m *MockMatchService) Suggestions(ctx context.Context, f model.MatchFilter) ([]*model.Match, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Match), args.Get(1).(int64), args.Error(2)
}

func (m *MockMatchService) Stats(ctx context.Context) (*model.Stats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Stats), args.Error(1)
}

type MockTransactionLister struct {
	mock.Mock
}

func (m *MockTransactionLister) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Transaction), args.Get(1).(int64), args.Error(2)
}

func TestMatchHandler_CreateMatch(t *testing.T) {
	t.Run("successful manual match", func(t *testing.T) {
		svc := new(MockMatchService)
		handler := NewMatchHandler(svc, new(MockTransactionLister))

		bodyBytes, _ := json.Marshal(createMatchRequest{
			TransactionID: 1,
			InvoiceID:     2,
			Amount:        "250.00",
			CreatedBy:     "ops@fakturo.cz",
		})

		svc.On("ManualMatch", mock.Anything, mock.MatchedBy(func(r model.ManualMatchRequest) bool {
			return r.TransactionID == 1 && r.InvoiceID == 2 &&
				r.Amount != nil && r.Amount.Equal(decimal.RequireFromString("250.00")) &&
				r.CreatedBy == "ops@fakturo.cz"
		})).Return(&model.Match{ID: 9, Source: model.DecisionManual}, nil)

		ctx := setupTestContext("POST", "/matches", bodyBytes)
		handler.CreateMatch(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())

		var response model.Match
		err := json.Unmarshal(ctx.Response.Body(), &response)
		require.NoError(t, err)
		assert.Equal(t, int64(9), response.ID)

		svc.AssertExpectations(t)
	})

	t.Run("omitted amount is passed through as nil", func(t *testing.T) {
		svc := new(MockMatchService)
		handler := NewMatchHandler(svc, new(MockTransactionLister))

		bodyBytes, _ := json.Marshal(createMatchRequest{TransactionID: 1, InvoiceID: 2})

		svc.On("ManualMatch", mock.Anything, mock.MatchedBy(func(r model.ManualMatchRequest) bool {
			return r.Amount == nil
		})).Return(&model.Match{ID: 10}, nil)

		ctx := setupTestContext("POST", "/matches", bodyBytes)
		handler.CreateMatch(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("malformed amount", func(t *testing.T) {
		svc := new(MockMatchService)
		handler := NewMatchHandler(svc, new(MockTransactionLister))

		bodyBytes, _ := json.Marshal(createMatchRequest{TransactionID: 1, InvoiceID: 2, Amount: "abc"})

		ctx := setupTestContext("POST", "/matches", bodyBytes)
		handler.CreateMatch(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "ManualMatch", mock.Anything, mock.Anything)
	})

	t.Run("conservation violation maps to 422", func(t *testing.T) {
		svc := new(MockMatchService)
		handler := NewMatchHandler(svc, new(MockTransactionLister))

		bodyBytes, _ := json.Marshal(createMatchRequest{TransactionID: 1, InvoiceID: 2, Amount: "9999.00"})

		svc.On("ManualMatch", mock.Anything, mock.Anything).
			Return(nil, services.ErrAmountExceedsOutstanding)

		ctx := setupTestContext("POST", "/matches", bodyBytes)
		handler.CreateMatch(ctx)

		assert.Equal(t, 422, ctx.Response.StatusCode())
	})

	t.Run("currency mismatch maps to 422", func(t *testing.T) {
		svc := new(MockMatchService)
		handler := NewMatchHandler(svc, new(MockTransactionLister))

		bodyBytes, _ := json.Marshal(createMatchRequest{TransactionID: 1, InvoiceID: 2})

		svc.On("ManualMatch", mock.Anything, mock.Anything).
			Return(nil, services.ErrCurrencyMismatch)

		ctx := setupTestContext("POST", "/matches", bodyBytes)
		handler.CreateMatch(ctx)

		assert.Equal(t, 422, ctx.Response.StatusCode())
	})
}

func TestMatchHandler_DeleteMatch(t *testing.T) {
	t.Run("successful unmatch", func(t *testing.T) {
		svc := new(MockMatchService)
		handler := NewMatchHandler(svc, new(MockTransactionLister))

		svc.On("Unmatch", mock.Anything, int64(9)).Return(nil)

		ctx := setupTestContext("DELETE", "/matches/9", nil)
		ctx.SetUserValue("id", "9")
		handler.DeleteMatch(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response map[string]bool
		err := json.Unmarshal(ctx.Response.Body(), &response)
		require.NoError(t, err)
		assert.True(t, response["deleted"])
	})

	t.Run("invalid id", func(t *testing.T) {
		svc := new(MockMatchService)
		handler := NewMatchHandler(svc, new(MockTransactionLister))

		ctx := setupTestContext("DELETE", "/matches/oops", nil)
		ctx.SetUserValue("id", "oops")
		handler.DeleteMatch(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "Unmatch", mock.Anything, mock.Anything)
	})
}

func TestMatchHandler_ListSuggestions(t *testing.T) {
	svc := new(MockMatchService)
	handler := NewMatchHandler(svc, new(MockTransactionLister))

	svc.On("Suggestions", mock.Anything, mock.MatchedBy(func(f model.MatchFilter) bool {
		return f.TransactionID != nil && *f.TransactionID == 3
	})).Return([]*model.Match{{ID: 1, Suggestion: true}}, int64(1), nil)

	ctx := setupTestContext("GET", "/matches/suggestions?transaction_id=3", nil)
	handler.ListSuggestions(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var response matchListResponse
	err := json.Unmarshal(ctx.Response.Body(), &response)
	require.NoError(t, err)
	require.Len(t, response.Items, 1)
	assert.True(t, response.Items[0].Suggestion)
}

func TestMatchHandler_ListTransactions(t *testing.T) {
	svc := new(MockMatchService)
	lister := new(MockTransactionLister)
	handler := NewMatchHandler(svc, lister)

	lister.On("ListTransactions", mock.Anything, mock.MatchedBy(func(f model.TransactionFilter) bool {
		return len(f.Statuses) == 2 &&
			f.Statuses[0] == model.MatchStatusUnmatched &&
			f.Statuses[1] == model.MatchStatusPartial
	})).Return([]*model.Transaction{{ID: 1}}, int64(1), nil)

	ctx := setupTestContext("GET", "/transactions?status=unmatched,partially_matched", nil)
	handler.ListTransactions(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	lister.AssertExpectations(t)
}

func TestMatchHandler_GetStats(t *testing.T) {
	svc := new(MockMatchService)
	handler := NewMatchHandler(svc, new(MockTransactionLister))

	svc.On("Stats", mock.Anything).Return(&model.Stats{
		Transactions: 10,
		Matched:      6,
		MatchRate:    0.8,
	}, nil)

	ctx := setupTestContext("GET", "/stats", nil)
	handler.GetStats(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var response model.Stats
	err := json.Unmarshal(ctx.Response.Body(), &response)
	require.NoError(t, err)
	assert.Equal(t, int64(10), response.Transactions)
	assert.InDelta(t, 0.8, response.MatchRate, 1e-9)
}
