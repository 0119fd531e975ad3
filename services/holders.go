package services

import (
	"context"

	"github.com/Rocket-Rescue-Node/credential-ledger/ledger"
	"github.com/Rocket-Rescue-Node/credential-ledger/models"
	"go.uber.org/zap"
)

// IsIssuer reports whether account may currently issue credentials.
func (s *Service) IsIssuer(ctx context.Context, account models.AccountID) (bool, error) {
	var ok bool
	err := s.ledger.View(ctx, func(tx ledger.Tx) error {
		var err error
		ok, err = tx.Issuers().IsAuthorized(ctx, account)
		return err
	})
	if err != nil {
		s.failed("is_issuer", err, zap.String("account", account.Hex()))
		return false, err
	}
	return ok, nil
}

// GetIssuer returns the registry entry of account, or nil if it may not issue.
func (s *Service) GetIssuer(ctx context.Context, account models.AccountID) (*models.Issuer, error) {
	var issuer *models.Issuer
	err := s.ledger.View(ctx, func(tx ledger.Tx) error {
		var err error
		issuer, err = tx.Issuers().Issuer(ctx, account)
		return err
	})
	if err != nil {
		s.failed("get_issuer", err, zap.String("account", account.Hex()))
		return nil, err
	}
	return issuer, nil
}

// ListIssuers returns every authorized account and how it obtained its authority.
func (s *Service) ListIssuers(ctx context.Context) ([]models.Issuer, error) {
	var issuers []models.Issuer
	err := s.ledger.View(ctx, func(tx ledger.Tx) error {
		var err error
		issuers, err = tx.Issuers().List(ctx)
		return err
	})
	if err != nil {
		s.failed("list_issuers", err)
		return nil, err
	}
	return issuers, nil
}

// GetHolderInfo returns the credentials, revoked ones included, and the audit
// events of a holder, along with its issuer status.
func (s *Service) GetHolderInfo(ctx context.Context, holder models.AccountID) (*models.HolderInfo, error) {
	info := &models.HolderInfo{Holder: holder}
	err := s.ledger.View(ctx, func(tx ledger.Tx) error {
		var err error
		if info.Issuer, err = tx.Issuers().Issuer(ctx, holder); err != nil {
			return err
		}
		if info.Credentials, err = tx.Credentials().List(ctx, holder); err != nil {
			return err
		}
		info.Events, err = tx.Events().List(ctx, holder)
		return err
	})
	if err != nil {
		s.failed("get_holder_info", err, zap.String("holder", holder.Hex()))
		return nil, err
	}

	s.logger.Debug("Retrieved holder info",
		zap.String("holder", holder.Hex()),
		zap.Int("credentials", len(info.Credentials)),
		zap.Int("events", len(info.Events)),
	)
	s.count("retrieved_holder_info")
	return info, nil
}
