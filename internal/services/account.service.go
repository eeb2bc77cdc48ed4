package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/fakturo/payment-engine/internal/model"
	"github.com/fakturo/payment-engine/internal/repository"
	"github.com/fakturo/payment-engine/pkg/logger"
)

// AccountService provisions inbound mailboxes for bank accounts.
type AccountService struct {
	accountRepo AccountRepository
	prefix      string
	domain      string
}

func NewAccountService(accountRepo AccountRepository, prefix, domain string) *AccountService {
	return &AccountService{
		accountRepo: accountRepo,
		prefix:      prefix,
		domain:      domain,
	}
}

// Create provisions an account with a fresh unguessable mailbox token. The
// resulting inbound address is what the bank's notification forwarding
// should be pointed at.
func (s *AccountService) Create(ctx context.Context, req model.AccountCreateRequest) (*model.Account, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	account := &model.Account{
		CompanyID:      req.CompanyID,
		Name:           req.Name,
		AccountNumber:  req.AccountNumber,
		InboundAddress: model.BuildInboundAddress(s.prefix, req.AccountNumber, token, s.domain),
		Token:          token,
		Active:         true,
		MatchOutgoing:  req.MatchOutgoing,
	}

	created, err := s.accountRepo.Create(ctx, account)
	if err != nil {
		return nil, err
	}

	logger.Info("account provisioned", "account_id", created.ID, "inbound_address", created.InboundAddress)
	return created, nil
}

func (s *AccountService) Get(ctx context.Context, id int64) (*model.Account, error) {
	account, err := s.accountRepo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return account, nil
}

func (s *AccountService) List(ctx context.Context, companyID *int64) ([]*model.Account, error) {
	return s.accountRepo.List(ctx, companyID)
}
