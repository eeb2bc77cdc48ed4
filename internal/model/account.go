package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Account is a bank account owned by a company. Every account gets a unique
// inbound mailbox of the form <prefix>.<accountNumberFragment>.<token>@<domain>;
// webhook deliveries are attributed to the account through that address.
type Account struct {
	ID             int64     `json:"id"`
	CompanyID      int64     `json:"company_id"`
	Name           string    `json:"name"`
	AccountNumber  string    `json:"account_number"`
	InboundAddress string    `json:"inbound_address"`
	Token          string    `json:"-"`
	Active         bool      `json:"active"`
	MatchOutgoing  bool      `json:"match_outgoing"`
	CreatedAt      time.Time `json:"created_at"`
}

// AccountCreateRequest is the input for provisioning an account mailbox.
type AccountCreateRequest struct {
	CompanyID     int64
	Name          string
	AccountNumber string
	MatchOutgoing bool
}

func (p AccountCreateRequest) Validate() error {
	if p.CompanyID == 0 {
		return errors.New("company_id is required")
	}
	if p.AccountNumber == "" {
		return errors.New("account_number is required")
	}
	return nil
}

// BuildInboundAddress derives the dedicated mailbox for an account. The
// account-number fragment is the last four digits so the address stays
// recognizable without leaking the full number.
func BuildInboundAddress(prefix, accountNumber, token, domain string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, accountNumber)
	fragment := digits
	if len(digits) > 4 {
		fragment = digits[len(digits)-4:]
	}
	return fmt.Sprintf("%s.%s.%s@%s", prefix, fragment, token, domain)
}
