package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Rocket-Rescue-Node/credential-ledger/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mattn/go-sqlite3"
)

// SQLiteLedger persists the ledger in three tables: issuers, credentials and
// ledger_events. Timestamps are stored as unix seconds.
type SQLiteLedger struct {
	db *sql.DB

	isIssuerStmt       *sql.Stmt
	grantIssuerStmt    *sql.Stmt
	revokeIssuerStmt   *sql.Stmt
	listIssuersStmt    *sql.Stmt
	getCredentialStmt  *sql.Stmt
	putCredentialStmt  *sql.Stmt
	invalidateCredStmt *sql.Stmt
	listCredsStmt      *sql.Stmt
	appendEventStmt    *sql.Stmt
	listEventsStmt     *sql.Stmt
}

// NewSQLiteLedger creates the schema, if necessary, and prepares the statements.
func NewSQLiteLedger(db *sql.DB) (*SQLiteLedger, error) {
	l := &SQLiteLedger{db: db}
	if err := l.createTables(); err != nil {
		return nil, err
	}
	if err := l.prepareStatements(); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) createTables() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS issuers (
			account BLOB(20) NOT NULL,
			origin INTEGER CHECK (origin >= 0 AND origin <= 1) NOT NULL,
			PRIMARY KEY (account)
		);
		CREATE TABLE IF NOT EXISTS credentials (
			holder BLOB(20) NOT NULL,
			type INTEGER CHECK (type >= 0) NOT NULL,
			issuer BLOB(20) NOT NULL,
			issued_at INTEGER NOT NULL,
			valid INTEGER CHECK (valid >= 0 AND valid <= 1) NOT NULL,
			PRIMARY KEY (holder, type)
		);
		CREATE TABLE IF NOT EXISTS ledger_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind INTEGER CHECK (kind >= 0 AND kind <= 3) NOT NULL,
			account BLOB(20) NOT NULL,
			type INTEGER NOT NULL,
			actor BLOB(20) NOT NULL,
			timestamp INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS ledger_events_account ON ledger_events (account, id);
	`)
	return err
}

func (l *SQLiteLedger) prepareStatements() error {
	var err error

	if l.isIssuerStmt, err = l.db.Prepare(`
		SELECT origin FROM issuers WHERE account = ? LIMIT 1;
	`); err != nil {
		return err
	}

	// A genesis origin (0) always wins over a cascade origin (1).
	if l.grantIssuerStmt, err = l.db.Prepare(`
		INSERT INTO issuers (account, origin) VALUES (?, ?)
		ON CONFLICT (account) DO UPDATE SET origin = MIN(issuers.origin, excluded.origin);
	`); err != nil {
		return err
	}

	if l.revokeIssuerStmt, err = l.db.Prepare(`
		DELETE FROM issuers WHERE account = ?;
	`); err != nil {
		return err
	}

	if l.listIssuersStmt, err = l.db.Prepare(`
		SELECT account, origin FROM issuers ORDER BY account;
	`); err != nil {
		return err
	}

	if l.getCredentialStmt, err = l.db.Prepare(`
		SELECT issuer, issued_at, valid FROM credentials WHERE holder = ? AND type = ?;
	`); err != nil {
		return err
	}

	if l.putCredentialStmt, err = l.db.Prepare(`
		INSERT INTO credentials (holder, type, issuer, issued_at, valid) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (holder, type) DO UPDATE SET
			issuer = excluded.issuer, issued_at = excluded.issued_at, valid = excluded.valid;
	`); err != nil {
		return err
	}

	if l.invalidateCredStmt, err = l.db.Prepare(`
		UPDATE credentials SET valid = 0 WHERE holder = ? AND type = ?;
	`); err != nil {
		return err
	}

	if l.listCredsStmt, err = l.db.Prepare(`
		SELECT type, issuer, issued_at, valid FROM credentials WHERE holder = ? ORDER BY type;
	`); err != nil {
		return err
	}

	if l.appendEventStmt, err = l.db.Prepare(`
		INSERT INTO ledger_events (kind, account, type, actor, timestamp) VALUES (?, ?, ?, ?, ?);
	`); err != nil {
		return err
	}

	if l.listEventsStmt, err = l.db.Prepare(`
		SELECT kind, type, actor, timestamp FROM ledger_events WHERE account = ? ORDER BY id;
	`); err != nil {
		return err
	}

	return nil
}

func (l *SQLiteLedger) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin database transaction: %w", err)
	}
	defer rollback(tx)

	if err := fn(&sqliteTx{l: l, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (l *SQLiteLedger) View(ctx context.Context, fn func(tx Tx) error) error {
	// The driver runs every transaction on a snapshot and does not enforce
	// ReadOnly. Writes are refused by exec.
	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin database transaction: %w", err)
	}
	defer rollback(tx)

	return fn(&sqliteTx{l: l, tx: tx, readOnly: true})
}

// Close releases the prepared statements. The database itself is owned by the caller.
func (l *SQLiteLedger) Close() error {
	for _, stmt := range []**sql.Stmt{
		&l.isIssuerStmt,
		&l.grantIssuerStmt,
		&l.revokeIssuerStmt,
		&l.listIssuersStmt,
		&l.getCredentialStmt,
		&l.putCredentialStmt,
		&l.invalidateCredStmt,
		&l.listCredsStmt,
		&l.appendEventStmt,
		&l.listEventsStmt,
	} {
		if *stmt == nil {
			continue
		}
		(*stmt).Close()
		*stmt = nil
	}
	return nil
}

// IsBusy reports whether err is a transient SQLite locking error. The call
// that failed left no state behind and may be retried.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrLocked || sqliteErr.Code == sqlite3.ErrBusy
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}

type sqliteTx struct {
	l        *SQLiteLedger
	tx       *sql.Tx
	readOnly bool
}

func (tx *sqliteTx) Issuers() AuthorityRegistry     { return (*sqliteIssuers)(tx) }
func (tx *sqliteTx) Credentials() CredentialLedger { return (*sqliteCredentials)(tx) }
func (tx *sqliteTx) Events() EventLog              { return (*sqliteEvents)(tx) }

// exec runs a write statement bound to the transaction.
func (tx *sqliteTx) exec(ctx context.Context, stmt *sql.Stmt, args ...interface{}) (sql.Result, error) {
	if tx.readOnly {
		return nil, ErrReadOnly
	}
	s := tx.tx.StmtContext(ctx, stmt)
	defer s.Close()
	return s.ExecContext(ctx, args...)
}

type sqliteIssuers sqliteTx

func (s *sqliteIssuers) IsAuthorized(ctx context.Context, account models.AccountID) (bool, error) {
	issuer, err := s.Issuer(ctx, account)
	if err != nil {
		return false, err
	}
	return issuer != nil, nil
}

func (s *sqliteIssuers) Issuer(ctx context.Context, account models.AccountID) (*models.Issuer, error) {
	stmt := s.tx.StmtContext(ctx, s.l.isIssuerStmt)
	defer stmt.Close()

	var origin models.IssuerOrigin
	err := stmt.QueryRowContext(ctx, account.Bytes()).Scan(&origin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query issuer: %w", err)
	}
	return &models.Issuer{Account: account, Origin: origin}, nil
}

func (s *sqliteIssuers) Grant(ctx context.Context, account models.AccountID, origin models.IssuerOrigin) error {
	if _, err := (*sqliteTx)(s).exec(ctx, s.l.grantIssuerStmt, account.Bytes(), origin); err != nil {
		return fmt.Errorf("failed to grant issuer: %w", err)
	}
	return nil
}

func (s *sqliteIssuers) Revoke(ctx context.Context, account models.AccountID) error {
	if _, err := (*sqliteTx)(s).exec(ctx, s.l.revokeIssuerStmt, account.Bytes()); err != nil {
		return fmt.Errorf("failed to revoke issuer: %w", err)
	}
	return nil
}

func (s *sqliteIssuers) List(ctx context.Context) ([]models.Issuer, error) {
	stmt := s.tx.StmtContext(ctx, s.l.listIssuersStmt)
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list issuers: %w", err)
	}
	defer rows.Close()

	issuers := make([]models.Issuer, 0)
	for rows.Next() {
		var account []byte
		var origin models.IssuerOrigin
		if err := rows.Scan(&account, &origin); err != nil {
			return nil, err
		}
		issuers = append(issuers, models.Issuer{Account: common.BytesToAddress(account), Origin: origin})
	}
	return issuers, rows.Err()
}

type sqliteCredentials sqliteTx

func (s *sqliteCredentials) Exists(ctx context.Context, holder models.AccountID, t models.CredentialType) (bool, error) {
	_, err := s.Get(ctx, holder, t)
	if errors.Is(err, ErrCredentialNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteCredentials) Get(ctx context.Context, holder models.AccountID, t models.CredentialType) (*models.Credential, error) {
	stmt := s.tx.StmtContext(ctx, s.l.getCredentialStmt)
	defer stmt.Close()

	var issuer []byte
	var issuedAt int64
	var valid bool
	err := stmt.QueryRowContext(ctx, holder.Bytes(), t).Scan(&issuer, &issuedAt, &valid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}
	return &models.Credential{
		Holder:   holder,
		Type:     t,
		Issuer:   common.BytesToAddress(issuer),
		IssuedAt: time.Unix(issuedAt, 0),
		Valid:    valid,
	}, nil
}

func (s *sqliteCredentials) Put(ctx context.Context, cred models.Credential) error {
	_, err := (*sqliteTx)(s).exec(ctx, s.l.putCredentialStmt,
		cred.Holder.Bytes(), cred.Type, cred.Issuer.Bytes(), cred.IssuedAt.Unix(), cred.Valid)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

func (s *sqliteCredentials) Invalidate(ctx context.Context, holder models.AccountID, t models.CredentialType) error {
	res, err := (*sqliteTx)(s).exec(ctx, s.l.invalidateCredStmt, holder.Bytes(), t)
	if err != nil {
		return fmt.Errorf("failed to invalidate credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func (s *sqliteCredentials) List(ctx context.Context, holder models.AccountID) ([]models.Credential, error) {
	stmt := s.tx.StmtContext(ctx, s.l.listCredsStmt)
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, holder.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []models.Credential
	for rows.Next() {
		var t models.CredentialType
		var issuer []byte
		var issuedAt int64
		var valid bool
		if err := rows.Scan(&t, &issuer, &issuedAt, &valid); err != nil {
			return nil, err
		}
		creds = append(creds, models.Credential{
			Holder:   holder,
			Type:     t,
			Issuer:   common.BytesToAddress(issuer),
			IssuedAt: time.Unix(issuedAt, 0),
			Valid:    valid,
		})
	}
	return creds, rows.Err()
}

type sqliteEvents sqliteTx

func (s *sqliteEvents) Append(ctx context.Context, ev models.Event) error {
	_, err := (*sqliteTx)(s).exec(ctx, s.l.appendEventStmt,
		ev.Kind, ev.Account.Bytes(), ev.Type, ev.Actor.Bytes(), ev.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *sqliteEvents) List(ctx context.Context, account models.AccountID) ([]models.Event, error) {
	stmt := s.tx.StmtContext(ctx, s.l.listEventsStmt)
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, account.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var actor []byte
		var ts int64
		if err := rows.Scan(&ev.Kind, &ev.Type, &actor, &ts); err != nil {
			return nil, err
		}
		ev.Account = account
		ev.Actor = common.BytesToAddress(actor)
		ev.Timestamp = time.Unix(ts, 0)
		events = append(events, ev)
	}
	return events, rows.Err()
}
