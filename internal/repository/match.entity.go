package repository

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/fakturo/payment-engine/internal/model"
)

type MatchEntity struct {
	ID            int64           `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	TransactionID int64           `db:"transaction_id" gorm:"column:transaction_id;not null;index"`
	InvoiceID     int64           `db:"invoice_id"     gorm:"column:invoice_id;not null;index"`
	Applied       decimal.Decimal `db:"applied"        gorm:"column:applied;type:numeric(14,2);not null"`
	Confidence    float64         `db:"confidence"     gorm:"column:confidence;not null"`
	Source        string          `db:"source"         gorm:"column:source;not null;index"`
	Suggestion    bool            `db:"suggestion"     gorm:"column:suggestion;not null;default:false;index"`
	CreatedBy     string          `db:"created_by"     gorm:"column:created_by"`
	Details       datatypes.JSON  `db:"details"        gorm:"column:details"`
	CreatedAt     time.Time       `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
}

func (MatchEntity) TableName() string {
	return "matches"
}

func toMatchEntity(m *model.Match) *MatchEntity {
	if m == nil {
		return nil
	}
	return &MatchEntity{
		ID:            m.ID,
		TransactionID: m.TransactionID,
		InvoiceID:     m.InvoiceID,
		Applied:       m.Applied,
		Confidence:    m.Confidence,
		Source:        string(m.Source),
		Suggestion:    m.Suggestion,
		CreatedBy:     m.CreatedBy,
		Details:       m.Details,
		CreatedAt:     m.CreatedAt,
	}
}

func toMatchModel(e *MatchEntity) *model.Match {
	if e == nil {
		return nil
	}
	return &model.Match{
		ID:            e.ID,
		TransactionID: e.TransactionID,
		InvoiceID:     e.InvoiceID,
		Applied:       e.Applied,
		Confidence:    e.Confidence,
		Source:        model.DecisionSource(e.Source),
		Suggestion:    e.Suggestion,
		CreatedBy:     e.CreatedBy,
		Details:       e.Details,
		CreatedAt:     e.CreatedAt,
	}
}

func toMatchModels(entities []*MatchEntity) []*model.Match {
	if entities == nil {
		return nil
	}
	models := make([]*model.Match, len(entities))
	for i, e := range entities {
		models[i] = toMatchModel(e)
	}
	return models
}
