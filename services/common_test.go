package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"testing"
	"time"

	"github.com/Rocket-Rescue-Node/credential-ledger/database"
	"github.com/Rocket-Rescue-Node/credential-ledger/ledger"
	"github.com/Rocket-Rescue-Node/credential-ledger/models"
	"github.com/Rocket-Rescue-Node/rescue-proxy/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var nonMetricChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// acct returns the account with the given numeric address, so tests can refer
// to accounts 1, 2, 3 and so on.
func acct(n int64) models.AccountID {
	return common.BigToAddress(big.NewInt(n))
}

// Create a ledger backed by a private in-memory sqlite database.
func newSQLiteTestLedger(t *testing.T) ledger.Ledger {
	// Each test gets its own named shared-cache database. Plain ":memory:"
	// would give every new connection an empty database.
	name := nonMetricChars.ReplaceAllString(t.Name(), "_")
	db, err := database.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("Could not open database: %v", err)
	}
	l, err := ledger.NewSQLiteLedger(db)
	if err != nil {
		t.Fatalf("Could not create sqlite ledger: %v", err)
	}
	t.Cleanup(func() {
		l.Close()
		db.Close()
	})
	return l
}

// eachLedger runs fn as a subtest against every ledger implementation.
func eachLedger(t *testing.T, fn func(t *testing.T, l ledger.Ledger)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, ledger.NewMemoryLedger())
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, newSQLiteTestLedger(t))
	})
}

// Create and initialize a service on top of l, seeded with genesis issuers 1 and 2.
func setupTestService(t *testing.T, clock clockwork.Clock, l ledger.Ledger, opts ...func(*ServiceConfig)) *Service {
	logger, err := zap.NewDevelopmentConfig().Build()
	if err != nil {
		t.Fatalf("Could not create logger: %v", err)
	}

	config := &ServiceConfig{
		Ledger: l,
		Logger: logger,
		Clock:  clock,
	}
	for _, opt := range opts {
		opt(config)
	}

	_, err = metrics.Init(nonMetricChars.ReplaceAllString(t.Name(), "_"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		metrics.Deinit()
	})

	svc := NewService(config)
	if err := svc.Init(); err != nil {
		t.Fatalf("Could not initialize service: %v", err)
	}
	for _, genesis := range []models.AccountID{acct(1), acct(2)} {
		if err := svc.SeedIssuer(context.Background(), genesis); err != nil {
			t.Fatalf("Could not seed issuer: %v", err)
		}
	}
	return svc
}

func newTestClock() clockwork.FakeClock {
	return clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
}

var errInjected = errors.New("injected failure")

// failingLedger wraps a ledger so that appending an event fails. Every
// mutating call then fails after its state writes, which must be rolled back.
type failingLedger struct {
	ledger.Ledger
}

func (f failingLedger) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return f.Ledger.Update(ctx, func(tx ledger.Tx) error {
		return fn(failingTx{tx})
	})
}

type failingTx struct {
	ledger.Tx
}

func (f failingTx) Events() ledger.EventLog {
	return failingEvents{f.Tx.Events()}
}

type failingEvents struct {
	ledger.EventLog
}

func (failingEvents) Append(context.Context, models.Event) error {
	return errInjected
}
