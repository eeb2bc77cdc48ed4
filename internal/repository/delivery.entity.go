package repository

import (
	"time"

	"github.com/fakturo/payment-engine/internal/model"
)

type DeliveryEntity struct {
	ID          int64     `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	AccountID   *int64    `db:"account_id"  gorm:"column:account_id;index"`
	From        string    `db:"sender"      gorm:"column:sender;not null"`
	To          string    `db:"recipient"   gorm:"column:recipient;not null"`
	Subject     string    `db:"subject"     gorm:"column:subject"`
	Body        string    `db:"body"        gorm:"column:body"`
	ProviderID  string    `db:"provider_id" gorm:"column:provider_id"`
	Fingerprint string    `db:"fingerprint" gorm:"column:fingerprint;not null;uniqueIndex"`
	Status      string    `db:"status"      gorm:"column:status;not null;index"`
	Error       string    `db:"error"       gorm:"column:error"`
	Processed   int       `db:"processed"   gorm:"column:processed;not null;default:0"`
	Matched     int       `db:"matched"     gorm:"column:matched;not null;default:0"`
	ReceivedAt  time.Time `db:"received_at" gorm:"column:received_at"`
	CreatedAt   time.Time `db:"created_at"  gorm:"column:created_at;autoCreateTime"`
}

func (DeliveryEntity) TableName() string {
	return "deliveries"
}

func toDeliveryEntity(d *model.Delivery) *DeliveryEntity {
	if d == nil {
		return nil
	}
	return &DeliveryEntity{
		ID:          d.ID,
		AccountID:   d.AccountID,
		From:        d.From,
		To:          d.To,
		Subject:     d.Subject,
		Body:        d.Body,
		ProviderID:  d.ProviderID,
		Fingerprint: d.Fingerprint,
		Status:      string(d.Status),
		Error:       d.Error,
		Processed:   d.Processed,
		Matched:     d.Matched,
		ReceivedAt:  d.ReceivedAt,
		CreatedAt:   d.CreatedAt,
	}
}

func toDeliveryModel(e *DeliveryEntity) *model.Delivery {
	if e == nil {
		return nil
	}
	return &model.Delivery{
		ID:          e.ID,
		AccountID:   e.AccountID,
		From:        e.From,
		To:          e.To,
		Subject:     e.Subject,
		Body:        e.Body,
		ProviderID:  e.ProviderID,
		Fingerprint: e.Fingerprint,
		Status:      model.DeliveryStatus(e.Status),
		Error:       e.Error,
		Processed:   e.Processed,
		Matched:     e.Matched,
		ReceivedAt:  e.ReceivedAt,
		CreatedAt:   e.CreatedAt,
	}
}

func toDeliveryModels(entities []*DeliveryEntity) []*model.Delivery {
	if entities == nil {
		return nil
	}
	models := make([]*model.Delivery, len(entities))
	for i, e := range entities {
		models[i] = toDeliveryModel(e)
	}
	return models
}
