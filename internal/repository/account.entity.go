package repository

import (
	"time"

	"github.com/fakturo/payment-engine/internal/model"
)

type AccountEntity struct {
	ID             int64     `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	CompanyID      int64     `db:"company_id"      gorm:"column:company_id;not null;index"`
	Name           string    `db:"name"            gorm:"column:name"`
	AccountNumber  string    `db:"account_number"  gorm:"column:account_number;not null"`
	InboundAddress string    `db:"inbound_address" gorm:"column:inbound_address;not null;uniqueIndex"`
	Token          string    `db:"token"           gorm:"column:token;not null"`
	Active         bool      `db:"active"          gorm:"column:active;not null;default:true"`
	MatchOutgoing  bool      `db:"match_outgoing"  gorm:"column:match_outgoing;not null;default:false"`
	CreatedAt      time.Time `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (AccountEntity) TableName() string {
	return "accounts"
}

func toAccountEntity(a *model.Account) *AccountEntity {
	if a == nil {
		return nil
	}
	return &AccountEntity{
		ID:             a.ID,
		CompanyID:      a.CompanyID,
		Name:           a.Name,
		AccountNumber:  a.AccountNumber,
		InboundAddress: a.InboundAddress,
		Token:          a.Token,
		Active:         a.Active,
		MatchOutgoing:  a.MatchOutgoing,
		CreatedAt:      a.CreatedAt,
	}
}

func toAccountModel(e *AccountEntity) *model.Account {
	if e == nil {
		return nil
	}
	return &model.Account{
		ID:             e.ID,
		CompanyID:      e.CompanyID,
		Name:           e.Name,
		AccountNumber:  e.AccountNumber,
		InboundAddress: e.InboundAddress,
		Token:          e.Token,
		Active:         e.Active,
		MatchOutgoing:  e.MatchOutgoing,
		CreatedAt:      e.CreatedAt,
	}
}
