// Package ledger stores the issuer registry, the credential records and the
// audit event log. Every mutation runs inside a Ledger.Update unit so that a
// failed call leaves no partial writes behind.
package ledger

import (
	"context"
	"errors"

	"github.com/Rocket-Rescue-Node/credential-ledger/models"
)

var (
	// ErrCredentialNotFound is returned when no record exists for a (holder, type) pair.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrReadOnly is returned by writes attempted inside View.
	ErrReadOnly = errors.New("ledger transaction is read-only")
)

// AuthorityRegistry is the set of accounts currently permitted to issue credentials.
type AuthorityRegistry interface {
	IsAuthorized(ctx context.Context, account models.AccountID) (bool, error)
	// Issuer returns the registry entry for account, or nil if it is not authorized.
	Issuer(ctx context.Context, account models.AccountID) (*models.Issuer, error)
	// Grant is idempotent. A genesis origin is never downgraded to cascade.
	Grant(ctx context.Context, account models.AccountID, origin models.IssuerOrigin) error
	// Revoke is idempotent.
	Revoke(ctx context.Context, account models.AccountID) error
	List(ctx context.Context) ([]models.Issuer, error)
}

// CredentialLedger holds one credential record per (holder, type) pair.
type CredentialLedger interface {
	Exists(ctx context.Context, holder models.AccountID, t models.CredentialType) (bool, error)
	// Get returns ErrCredentialNotFound if no record exists.
	Get(ctx context.Context, holder models.AccountID, t models.CredentialType) (*models.Credential, error)
	// Put inserts or overwrites the record keyed by (cred.Holder, cred.Type).
	Put(ctx context.Context, cred models.Credential) error
	// Invalidate sets Valid to false in place, or returns ErrCredentialNotFound.
	Invalidate(ctx context.Context, holder models.AccountID, t models.CredentialType) error
	// List returns every record of a holder, ordered by type.
	List(ctx context.Context, holder models.AccountID) ([]models.Credential, error)
}

// EventLog is the append-only audit trail of committed operations.
type EventLog interface {
	Append(ctx context.Context, ev models.Event) error
	// List returns the events concerning account, oldest first.
	List(ctx context.Context, account models.AccountID) ([]models.Event, error)
}

// Tx exposes the stores within a single atomic unit.
type Tx interface {
	Issuers() AuthorityRegistry
	Credentials() CredentialLedger
	Events() EventLog
}

type Ledger interface {
	// Update runs fn atomically. If fn returns an error, every write is discarded.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
