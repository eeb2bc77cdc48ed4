package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakturo/payment-engine/internal/model"
)

type TransactionEntity struct {
	ID                  int64           `db:"id"                   gorm:"primaryKey;autoIncrement;column:id"`
	AccountID           int64           `db:"account_id"           gorm:"column:account_id;not null;index"`
	DeliveryID          *int64          `db:"delivery_id"          gorm:"column:delivery_id;index"`
	Fingerprint         string          `db:"fingerprint"          gorm:"column:fingerprint;not null;uniqueIndex"`
	Amount              decimal.Decimal `db:"amount"               gorm:"column:amount;type:numeric(14,2);not null"`
	Currency            string          `db:"currency"             gorm:"column:currency;not null"`
	CounterpartyName    string          `db:"counterparty_name"    gorm:"column:counterparty_name"`
	CounterpartyAccount string          `db:"counterparty_account" gorm:"column:counterparty_account"`
	Reference           string          `db:"reference"            gorm:"column:reference"`
	VariableSymbol      string          `db:"variable_symbol"      gorm:"column:variable_symbol;index"`
	ConstantSymbol      string          `db:"constant_symbol"      gorm:"column:constant_symbol"`
	SpecificSymbol      string          `db:"specific_symbol"      gorm:"column:specific_symbol"`
	ValueDate           time.Time       `db:"value_date"           gorm:"column:value_date"`
	Status              string          `db:"status"               gorm:"column:status;not null;index"`
	CreatedAt           time.Time       `db:"created_at"           gorm:"column:created_at;autoCreateTime"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(t *model.Transaction) *TransactionEntity {
	if t == nil {
		return nil
	}
	return &TransactionEntity{
		ID:                  t.ID,
		AccountID:           t.AccountID,
		DeliveryID:          t.DeliveryID,
		Fingerprint:         t.Fingerprint,
		Amount:              t.Amount,
		Currency:            t.Currency,
		CounterpartyName:    t.CounterpartyName,
		CounterpartyAccount: t.CounterpartyAccount,
		Reference:           t.Reference,
		VariableSymbol:      t.VariableSymbol,
		ConstantSymbol:      t.ConstantSymbol,
		SpecificSymbol:      t.SpecificSymbol,
		ValueDate:           t.ValueDate,
		Status:              string(t.Status),
		CreatedAt:           t.CreatedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:                  e.ID,
		AccountID:           e.AccountID,
		DeliveryID:          e.DeliveryID,
		Fingerprint:         e.Fingerprint,
		Amount:              e.Amount,
		Currency:            e.Currency,
		CounterpartyName:    e.CounterpartyName,
		CounterpartyAccount: e.CounterpartyAccount,
		Reference:           e.Reference,
		VariableSymbol:      e.VariableSymbol,
		ConstantSymbol:      e.ConstantSymbol,
		SpecificSymbol:      e.SpecificSymbol,
		ValueDate:           e.ValueDate,
		Status:              model.MatchStatus(e.Status),
		CreatedAt:           e.CreatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
