package api

import (
	"time"

	"github.com/Rocket-Rescue-Node/credential-ledger/ledger"
	"go.uber.org/zap"
)

// The delay between retries of a ledger call that hit a busy database.
// Values are taken from SQLite's default busy handler.
var dbTryDelayMs = []int{1, 2, 5, 10, 15, 20, 25, 25, 25, 50, 50, 100}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// the retry schedule is exhausted. The ledger calls are atomic, so a failed
// attempt leaves nothing behind.
func (ar *apiRouter) withRetry(op string, fn func() error) error {
	var err error
	var try int
	for try = range dbTryDelayMs {
		if err = fn(); err == nil || !ledger.IsBusy(err) {
			return err
		}

		sleepFor := dbTryDelayMs[try]
		ar.logger.Warn("Ledger call failed. Retrying",
			zap.String("op", op),
			zap.Int("try", try),
			zap.Int("retryMs", sleepFor),
			zap.Error(err),
		)
		ar.clock.Sleep(time.Duration(sleepFor) * time.Millisecond)
	}

	ar.logger.Error("Ledger call failed. Giving up.",
		zap.String("op", op),
		zap.Int("tries", try+1),
		zap.Error(err))
	return err
}
