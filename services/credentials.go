package services

import (
	"context"
	"errors"

	"github.com/Rocket-Rescue-Node/credential-ledger/ledger"
	"github.com/Rocket-Rescue-Node/credential-ledger/models"
	authz "github.com/Rocket-Rescue-Node/credential-ledger/models/authorization"
	"go.uber.org/zap"
)

// IssueCredential records a valid credential of type t for holder, issued by caller.
// An existing record for (holder, t) is overwritten, whether valid or revoked.
// If t cascades, holder becomes an issuer unless it already is one.
func (s *Service) IssueCredential(ctx context.Context, caller, holder models.AccountID, t models.CredentialType) (*models.Credential, error) {
	fields := []zap.Field{
		zap.String("caller", caller.Hex()),
		zap.String("holder", holder.Hex()),
		zap.String("type", t.String()),
	}
	if err := validateType(t); err != nil {
		s.failed("issue_credential", err, fields...)
		return nil, err
	}

	now := s.now()
	cred := models.Credential{
		Holder:   holder,
		Type:     t,
		Issuer:   caller,
		IssuedAt: now,
		Valid:    true,
	}

	var emitted []models.Event
	err := s.ledger.Update(ctx, func(tx ledger.Tx) error {
		emitted = nil

		if err := requireIssuer(ctx, tx, caller); err != nil {
			return err
		}
		if err := tx.Credentials().Put(ctx, cred); err != nil {
			return err
		}
		emitted = append(emitted, models.Event{
			Kind:      models.CredentialIssued,
			Account:   holder,
			Type:      t,
			Actor:     caller,
			Timestamp: now,
		})

		if s.rules.Effect(t) == authz.GrantIssuerOnValid {
			issuer, err := tx.Issuers().Issuer(ctx, holder)
			if err != nil {
				return err
			}
			// Existing issuers keep their origin and no event is emitted.
			if issuer != nil {
				return appendEvents(ctx, tx, emitted)
			}
			if err := tx.Issuers().Grant(ctx, holder, models.CascadeIssuer); err != nil {
				return err
			}
			emitted = append(emitted, models.Event{
				Kind:      models.IssuerGranted,
				Account:   holder,
				Type:      t,
				Actor:     caller,
				Timestamp: now,
			})
		}

		return appendEvents(ctx, tx, emitted)
	})
	if err != nil {
		s.failed("issue_credential", err, fields...)
		return nil, err
	}

	s.publish(emitted)
	s.logger.Info("Issued credential", append(fields, zap.Int64("timestamp", now.Unix()))...)
	s.count("issue_credential_issued")
	return &cred, nil
}

// RevokeCredential invalidates the credential of type t held by holder. The
// record is kept with its issuer and timestamp. If t cascades, the holder's
// issuer authority is withdrawn unless it was seeded at genesis.
func (s *Service) RevokeCredential(ctx context.Context, caller, holder models.AccountID, t models.CredentialType) (*models.Credential, error) {
	fields := []zap.Field{
		zap.String("caller", caller.Hex()),
		zap.String("holder", holder.Hex()),
		zap.String("type", t.String()),
	}
	if err := validateType(t); err != nil {
		s.failed("revoke_credential", err, fields...)
		return nil, err
	}

	now := s.now()
	var revoked models.Credential
	var emitted []models.Event
	err := s.ledger.Update(ctx, func(tx ledger.Tx) error {
		emitted = nil

		if err := requireIssuer(ctx, tx, caller); err != nil {
			return err
		}
		cred, err := tx.Credentials().Get(ctx, holder, t)
		if errors.Is(err, ledger.ErrCredentialNotFound) {
			return &NotFoundError{"credential not found"}
		}
		if err != nil {
			return err
		}
		if s.revokePolicy == authz.RevokeByOriginalIssuer && cred.Issuer != caller {
			return &UnauthorizedError{"only the original issuer may revoke this credential"}
		}

		if err := tx.Credentials().Invalidate(ctx, holder, t); err != nil {
			return err
		}
		revoked = *cred
		revoked.Valid = false
		emitted = append(emitted, models.Event{
			Kind:      models.CredentialRevoked,
			Account:   holder,
			Type:      t,
			Actor:     caller,
			Timestamp: now,
		})

		if s.rules.Effect(t) == authz.GrantIssuerOnValid {
			issuer, err := tx.Issuers().Issuer(ctx, holder)
			if err != nil {
				return err
			}
			// Genesis issuers keep their authority.
			if issuer != nil && issuer.Origin == models.CascadeIssuer {
				if err := tx.Issuers().Revoke(ctx, holder); err != nil {
					return err
				}
				emitted = append(emitted, models.Event{
					Kind:      models.IssuerRevoked,
					Account:   holder,
					Type:      t,
					Actor:     caller,
					Timestamp: now,
				})
			}
		}

		return appendEvents(ctx, tx, emitted)
	})
	if err != nil {
		s.failed("revoke_credential", err, fields...)
		return nil, err
	}

	s.publish(emitted)
	s.logger.Info("Revoked credential", append(fields, zap.Int64("timestamp", now.Unix()))...)
	s.count("revoke_credential_revoked")
	return &revoked, nil
}

// VerifyCredential succeeds if holder has a valid credential of type t.
// Under IssuerVerification the caller must be an issuer.
func (s *Service) VerifyCredential(ctx context.Context, caller, holder models.AccountID, t models.CredentialType) (*models.Credential, error) {
	fields := []zap.Field{
		zap.String("caller", caller.Hex()),
		zap.String("holder", holder.Hex()),
		zap.String("type", t.String()),
	}
	if err := validateType(t); err != nil {
		s.failed("verify_credential", err, fields...)
		return nil, err
	}

	var verified models.Credential
	err := s.ledger.View(ctx, func(tx ledger.Tx) error {
		if s.verifyPolicy == authz.IssuerVerification {
			if err := requireIssuer(ctx, tx, caller); err != nil {
				return err
			}
		}
		cred, err := tx.Credentials().Get(ctx, holder, t)
		if errors.Is(err, ledger.ErrCredentialNotFound) {
			return &NotFoundError{"credential not found"}
		}
		if err != nil {
			return err
		}
		if !cred.Valid {
			return &InvalidCredentialError{"credential has been revoked"}
		}
		verified = *cred
		return nil
	})
	if err != nil {
		s.failed("verify_credential", err, fields...)
		return nil, err
	}

	s.logger.Debug("Verified credential", fields...)
	s.count("verify_credential_valid")
	return &verified, nil
}

// SeedIssuer grants genesis issuer authority to account. It is the entry point
// for bootstrap configuration and emits no event.
func (s *Service) SeedIssuer(ctx context.Context, account models.AccountID) error {
	err := s.ledger.Update(ctx, func(tx ledger.Tx) error {
		return tx.Issuers().Grant(ctx, account, models.GenesisIssuer)
	})
	if err != nil {
		s.failed("seed_issuer", err, zap.String("account", account.Hex()))
		return err
	}
	s.logger.Info("Seeded genesis issuer", zap.String("account", account.Hex()))
	return nil
}
