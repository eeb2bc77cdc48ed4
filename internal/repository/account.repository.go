package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/fakturo/payment-engine/internal/model"
	"github.com/fakturo/payment-engine/pkg/pg"
)

var (
	// ErrAccountNotFound is returned when no account owns the address or id.
	ErrAccountNotFound = errors.New("account not found")
)

type AccountRepository struct {
	*pg.DB
}

func NewAccountRepository(db *pg.DB) *AccountRepository {
	return &AccountRepository{
		db,
	}
}

func (r *AccountRepository) Create(ctx context.Context, a *model.Account) (*model.Account, error) {
	entity := toAccountEntity(a)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toAccountModel(entity), nil
}

func (r *AccountRepository) Get(ctx context.Context, id int64) (*model.Account, error) {
	var entity AccountEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return toAccountModel(&entity), nil
}

// GetByInboundAddress resolves a webhook recipient address to its account.
// Address matching is exact; callers decide what inactive means for them.
func (r *AccountRepository) GetByInboundAddress(ctx context.Context, address string) (*model.Account, error) {
	var entity AccountEntity
	err := r.Read(ctx).WithContext(ctx).Where("inbound_address = ?", address).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return toAccountModel(&entity), nil
}

func (r *AccountRepository) List(ctx context.Context, companyID *int64) ([]*model.Account, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&AccountEntity{})
	if companyID != nil {
		q = q.Where("company_id = ?", *companyID)
	}

	var entities []*AccountEntity
	if err := q.Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}

	accounts := make([]*model.Account, len(entities))
	for i, e := range entities {
		accounts[i] = toAccountModel(e)
	}
	return accounts, nil
}
