package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/Rocket-Rescue-Node/credential-ledger/database"
	"github.com/Rocket-Rescue-Node/credential-ledger/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acct(n int64) models.AccountID {
	return common.BigToAddress(big.NewInt(n))
}

func newSQLite(t *testing.T) Ledger {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	l, err := NewSQLiteLedger(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		l.Close()
		db.Close()
	})
	return l
}

func eachLedger(t *testing.T, fn func(t *testing.T, l Ledger)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryLedger()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLite(t)) })
}

func update(t *testing.T, l Ledger, fn func(ctx context.Context, tx Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.Update(ctx, func(tx Tx) error { return fn(ctx, tx) }))
}

func view(t *testing.T, l Ledger, fn func(ctx context.Context, tx Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.View(ctx, func(tx Tx) error { return fn(ctx, tx) }))
}

func TestAuthorityRegistry(t *testing.T) {
	eachLedger(t, func(t *testing.T, l Ledger) {
		view(t, l, func(ctx context.Context, tx Tx) error {
			ok, err := tx.Issuers().IsAuthorized(ctx, acct(1))
			assert.False(t, ok)
			return err
		})

		update(t, l, func(ctx context.Context, tx Tx) error {
			if err := tx.Issuers().Grant(ctx, acct(1), models.GenesisIssuer); err != nil {
				return err
			}
			// Granting twice is a no-op.
			if err := tx.Issuers().Grant(ctx, acct(1), models.GenesisIssuer); err != nil {
				return err
			}
			// A cascade grant never downgrades a genesis issuer.
			if err := tx.Issuers().Grant(ctx, acct(1), models.CascadeIssuer); err != nil {
				return err
			}
			return tx.Issuers().Grant(ctx, acct(2), models.CascadeIssuer)
		})

		view(t, l, func(ctx context.Context, tx Tx) error {
			issuer, err := tx.Issuers().Issuer(ctx, acct(1))
			require.NoError(t, err)
			require.NotNil(t, issuer)
			assert.Equal(t, models.GenesisIssuer, issuer.Origin)

			issuers, err := tx.Issuers().List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []models.Issuer{
				{Account: acct(1), Origin: models.GenesisIssuer},
				{Account: acct(2), Origin: models.CascadeIssuer},
			}, issuers)
			return nil
		})

		update(t, l, func(ctx context.Context, tx Tx) error {
			if err := tx.Issuers().Revoke(ctx, acct(2)); err != nil {
				return err
			}
			// Revoking twice is a no-op.
			return tx.Issuers().Revoke(ctx, acct(2))
		})

		view(t, l, func(ctx context.Context, tx Tx) error {
			ok, err := tx.Issuers().IsAuthorized(ctx, acct(2))
			assert.False(t, ok)
			issuer, _ := tx.Issuers().Issuer(ctx, acct(2))
			assert.Nil(t, issuer)
			return err
		})
	})
}

func TestCredentialLedger(t *testing.T) {
	eachLedger(t, func(t *testing.T, l Ledger) {
		issuedAt := time.Unix(1700000000, 0)
		cred := models.Credential{
			Holder:   acct(3),
			Type:     models.Conducted,
			Issuer:   acct(1),
			IssuedAt: issuedAt,
			Valid:    true,
		}

		update(t, l, func(ctx context.Context, tx Tx) error {
			err := tx.Credentials().Invalidate(ctx, acct(3), models.Conducted)
			assert.ErrorIs(t, err, ErrCredentialNotFound)
			_, err = tx.Credentials().Get(ctx, acct(3), models.Conducted)
			assert.ErrorIs(t, err, ErrCredentialNotFound)

			if err := tx.Credentials().Put(ctx, cred); err != nil {
				return err
			}
			return tx.Credentials().Put(ctx, models.Credential{
				Holder: acct(3), Type: models.Attended, Issuer: acct(2), IssuedAt: issuedAt, Valid: true,
			})
		})

		update(t, l, func(ctx context.Context, tx Tx) error {
			return tx.Credentials().Invalidate(ctx, acct(3), models.Conducted)
		})

		view(t, l, func(ctx context.Context, tx Tx) error {
			ok, err := tx.Credentials().Exists(ctx, acct(3), models.Conducted)
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = tx.Credentials().Exists(ctx, acct(3), models.Volunteered)
			require.NoError(t, err)
			assert.False(t, ok)

			got, err := tx.Credentials().Get(ctx, acct(3), models.Conducted)
			require.NoError(t, err)
			expected := cred
			expected.Valid = false
			assert.Equal(t, expected, *got)

			creds, err := tx.Credentials().List(ctx, acct(3))
			require.NoError(t, err)
			require.Len(t, creds, 2)
			assert.Equal(t, models.Attended, creds[0].Type)
			assert.Equal(t, models.Conducted, creds[1].Type)
			return nil
		})

		// Put overwrites issuer, timestamp and validity.
		update(t, l, func(ctx context.Context, tx Tx) error {
			return tx.Credentials().Put(ctx, models.Credential{
				Holder: acct(3), Type: models.Conducted, Issuer: acct(2), IssuedAt: issuedAt.Add(time.Hour), Valid: true,
			})
		})
		view(t, l, func(ctx context.Context, tx Tx) error {
			got, err := tx.Credentials().Get(ctx, acct(3), models.Conducted)
			require.NoError(t, err)
			assert.True(t, got.Valid)
			assert.Equal(t, acct(2), got.Issuer)
			assert.Equal(t, issuedAt.Add(time.Hour).Unix(), got.IssuedAt.Unix())
			return nil
		})
	})
}

func TestEventLog(t *testing.T) {
	eachLedger(t, func(t *testing.T, l Ledger) {
		ts := time.Unix(1700000000, 0)
		update(t, l, func(ctx context.Context, tx Tx) error {
			for _, ev := range []models.Event{
				{Kind: models.CredentialIssued, Account: acct(3), Type: models.Conducted, Actor: acct(1), Timestamp: ts},
				{Kind: models.IssuerGranted, Account: acct(3), Type: models.Conducted, Actor: acct(1), Timestamp: ts},
				{Kind: models.CredentialIssued, Account: acct(4), Type: models.Attended, Actor: acct(3), Timestamp: ts},
			} {
				if err := tx.Events().Append(ctx, ev); err != nil {
					return err
				}
			}
			return nil
		})

		view(t, l, func(ctx context.Context, tx Tx) error {
			evs, err := tx.Events().List(ctx, acct(3))
			require.NoError(t, err)
			require.Len(t, evs, 2)
			assert.Equal(t, models.CredentialIssued, evs[0].Kind)
			assert.Equal(t, models.IssuerGranted, evs[1].Kind)
			assert.Equal(t, acct(1), evs[1].Actor)
			return nil
		})
	})
}

func TestUpdateRollsBack(t *testing.T) {
	eachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		update(t, l, func(ctx context.Context, tx Tx) error {
			return tx.Credentials().Put(ctx, models.Credential{
				Holder: acct(3), Type: models.Attended, Issuer: acct(1), IssuedAt: time.Unix(1, 0), Valid: true,
			})
		})

		boom := errors.New("boom")
		err := l.Update(ctx, func(tx Tx) error {
			if err := tx.Issuers().Grant(ctx, acct(3), models.CascadeIssuer); err != nil {
				return err
			}
			if err := tx.Credentials().Invalidate(ctx, acct(3), models.Attended); err != nil {
				return err
			}
			if err := tx.Credentials().Put(ctx, models.Credential{Holder: acct(3), Type: models.Conducted, Issuer: acct(1), Valid: true}); err != nil {
				return err
			}
			if err := tx.Events().Append(ctx, models.Event{Kind: models.IssuerGranted, Account: acct(3)}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		view(t, l, func(ctx context.Context, tx Tx) error {
			ok, err := tx.Issuers().IsAuthorized(ctx, acct(3))
			require.NoError(t, err)
			assert.False(t, ok)

			cred, err := tx.Credentials().Get(ctx, acct(3), models.Attended)
			require.NoError(t, err)
			assert.True(t, cred.Valid)

			ok, err = tx.Credentials().Exists(ctx, acct(3), models.Conducted)
			require.NoError(t, err)
			assert.False(t, ok)

			evs, err := tx.Events().List(ctx, acct(3))
			require.NoError(t, err)
			assert.Empty(t, evs)
			return nil
		})
	})
}

func TestViewIsReadOnly(t *testing.T) {
	eachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		err := l.View(ctx, func(tx Tx) error {
			return tx.Issuers().Grant(ctx, acct(1), models.GenesisIssuer)
		})
		assert.ErrorIs(t, err, ErrReadOnly)

		err = l.View(ctx, func(tx Tx) error {
			return tx.Credentials().Put(ctx, models.Credential{Holder: acct(1)})
		})
		assert.ErrorIs(t, err, ErrReadOnly)
	})
}
