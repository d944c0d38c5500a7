package accounting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// CreateAccount adds a node to the tenant's chart of accounts.
func (s *Service) CreateAccount(ctx context.Context, input AccountInput) (Account, error) {
	input.Code = strings.TrimSpace(input.Code)
	input.Name = strings.TrimSpace(input.Name)
	if input.TenantID == 0 {
		return Account{}, shared.ErrTenantRequired
	}
	if input.Code == "" || input.Name == "" {
		return Account{}, fmt.Errorf("%w: code and name required", ErrInvalidAccount)
	}
	if !input.Type.Valid() {
		return Account{}, fmt.Errorf("%w: unknown type %q", ErrInvalidAccount, input.Type)
	}
	switch input.NormalBalance {
	case "":
		input.NormalBalance = input.Type.DefaultNormalBalance()
	case NormalBalanceDebit, NormalBalanceCredit:
	default:
		return Account{}, fmt.Errorf("%w: unknown normal balance %q", ErrInvalidAccount, input.NormalBalance)
	}
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.ParentID != nil {
			if _, err := tx.GetAccount(ctx, input.TenantID, *input.ParentID); err != nil {
				if errors.Is(err, ErrAccountNotFound) {
					return fmt.Errorf("%w: parent %d", ErrAccountNotFound, *input.ParentID)
				}
				return err
			}
		}
		var err error
		account, err = tx.InsertAccount(ctx, Account{
			TenantID:      input.TenantID,
			Code:          input.Code,
			Name:          input.Name,
			Type:          input.Type,
			NormalBalance: input.NormalBalance,
			ParentID:      input.ParentID,
			IsActive:      true,
		})
		return err
	})
	if err != nil {
		return Account{}, err
	}
	account.IsLeaf = true
	s.record(ctx, shared.AuditLog{
		TenantID: input.TenantID,
		Action:   "account.create",
		Entity:   "account",
		EntityID: fmt.Sprintf("%d", account.ID),
		Meta:     map[string]any{"code": account.Code},
	})
	return account, nil
}

// SetAccountActive toggles whether the account accepts postings.
func (s *Service) SetAccountActive(ctx context.Context, tenantID, accountID int64, active bool) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetAccountActive(ctx, tenantID, accountID, active)
	})
}

// ListAccounts retrieves the tenant's chart of accounts ordered by code.
func (s *Service) ListAccounts(ctx context.Context, tenantID int64) ([]Account, error) {
	if tenantID == 0 {
		return nil, shared.ErrTenantRequired
	}
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx, tenantID)
		return err
	})
	return accounts, err
}

// SetAccountMapping binds an integration key to a postable account.
func (s *Service) SetAccountMapping(ctx context.Context, mapping AccountMapping) error {
	if mapping.TenantID == 0 || mapping.Module == "" || mapping.Key == "" || mapping.AccountID == 0 {
		return fmt.Errorf("%w: tenant, module, key and account required", ErrInvalidInput)
	}
	mapping.Module = strings.ToUpper(mapping.Module)
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccount(ctx, mapping.TenantID, mapping.AccountID)
		if err != nil {
			return err
		}
		if !account.IsActive || !account.IsLeaf {
			return fmt.Errorf("%w: %s", ErrAccountNotPostable, account.Code)
		}
		return tx.UpsertAccountMapping(ctx, mapping)
	})
}

// GetAccountMapping resolves an account mapping for the specified key.
func (s *Service) GetAccountMapping(ctx context.Context, tenantID int64, module, key string) (AccountMapping, error) {
	if module == "" || key == "" {
		return AccountMapping{}, fmt.Errorf("%w: module and key required", ErrInvalidInput)
	}
	var mapping AccountMapping
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		mapping, err = tx.GetAccountMapping(ctx, tenantID, strings.ToUpper(module), key)
		return err
	})
	return mapping, err
}
