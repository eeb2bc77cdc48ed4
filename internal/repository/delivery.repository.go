package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fakturo/payment-engine/internal/model"
	"github.com/fakturo/payment-engine/pkg/pg"
)

var (
	// ErrDeliveryNotFound is returned when a delivery does not exist.
	ErrDeliveryNotFound = errors.New("delivery not found")
)

type DeliveryRepository struct {
	*pg.DB
}

func NewDeliveryRepository(db *pg.DB) *DeliveryRepository {
	return &DeliveryRepository{
		db,
	}
}

// CreateIfAbsent inserts the delivery unless one with the same fingerprint
// already exists. The unique constraint plus ON CONFLICT DO NOTHING makes
// concurrent replays converge on a single row; the stored row and an isNew
// flag come back either way.
func (r *DeliveryRepository) CreateIfAbsent(ctx context.Context, d *model.Delivery) (*model.Delivery, bool, error) {
	entity := toDeliveryEntity(d)

	res := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			DoNothing: true,
		}).
		Create(entity)
	if res.Error != nil {
		return nil, false, res.Error
	}

	if res.RowsAffected == 0 {
		existing, err := r.GetByFingerprint(ctx, d.Fingerprint)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	return toDeliveryModel(entity), true, nil
}

func (r *DeliveryRepository) Get(ctx context.Context, id int64) (*model.Delivery, error) {
	var entity DeliveryEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	return toDeliveryModel(&entity), nil
}

func (r *DeliveryRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*model.Delivery, error) {
	var entity DeliveryEntity
	err := r.Write(ctx).WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	return toDeliveryModel(&entity), nil
}

// AssignAccount attributes a stored delivery to an account and clears the
// rejection error, so a delivery rejected before the account existed can be
// reprocessed once it does.
func (r *DeliveryRepository) AssignAccount(ctx context.Context, id, accountID int64) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&DeliveryEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"account_id": accountID,
			"error":      "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// UpdateResult records the outcome of processing a delivery.
func (r *DeliveryRepository) UpdateResult(ctx context.Context, id int64, status model.DeliveryStatus, errMsg string, processed, matched int) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&DeliveryEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":    string(status),
			"error":     errMsg,
			"processed": processed,
			"matched":   matched,
		}).Error
}

func (r *DeliveryRepository) List(ctx context.Context, f model.DeliveryFilter) ([]*model.Delivery, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&DeliveryEntity{})

	if f.AccountID != nil {
		q = q.Where("account_id = ?", *f.AccountID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*DeliveryEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toDeliveryModels(entities), total, nil
}
