package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/Rocket-Rescue-Node/credential-ledger/models"
)

type credentialKey struct {
	holder models.AccountID
	t      models.CredentialType
}

// MemoryLedger keeps all state in maps. Writers are serialized by a lock and
// rolled back through an undo journal when the update function fails.
type MemoryLedger struct {
	lock        sync.RWMutex
	issuers     map[models.AccountID]models.IssuerOrigin
	credentials map[credentialKey]models.Credential
	events      []models.Event
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		issuers:     make(map[models.AccountID]models.IssuerOrigin),
		credentials: make(map[credentialKey]models.Credential),
	}
}

func (l *MemoryLedger) Update(ctx context.Context, fn func(tx Tx) error) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	tx := &memoryTx{l: l}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (l *MemoryLedger) View(ctx context.Context, fn func(tx Tx) error) error {
	l.lock.RLock()
	defer l.lock.RUnlock()

	return fn(&memoryTx{l: l, readOnly: true})
}

func (l *MemoryLedger) Close() error {
	return nil
}

// memoryTx implements every store interface over the parent ledger's maps.
type memoryTx struct {
	l        *MemoryLedger
	readOnly bool
	undo     []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) Issuers() AuthorityRegistry     { return (*memoryIssuers)(tx) }
func (tx *memoryTx) Credentials() CredentialLedger { return (*memoryCredentials)(tx) }
func (tx *memoryTx) Events() EventLog              { return (*memoryEvents)(tx) }

type memoryIssuers memoryTx

func (s *memoryIssuers) IsAuthorized(ctx context.Context, account models.AccountID) (bool, error) {
	_, ok := s.l.issuers[account]
	return ok, nil
}

func (s *memoryIssuers) Issuer(ctx context.Context, account models.AccountID) (*models.Issuer, error) {
	origin, ok := s.l.issuers[account]
	if !ok {
		return nil, nil
	}
	return &models.Issuer{Account: account, Origin: origin}, nil
}

func (s *memoryIssuers) Grant(ctx context.Context, account models.AccountID, origin models.IssuerOrigin) error {
	if s.readOnly {
		return ErrReadOnly
	}
	prev, ok := s.l.issuers[account]
	if ok && prev <= origin {
		return nil
	}
	s.l.issuers[account] = origin
	s.undo = append(s.undo, func() {
		if ok {
			s.l.issuers[account] = prev
		} else {
			delete(s.l.issuers, account)
		}
	})
	return nil
}

func (s *memoryIssuers) Revoke(ctx context.Context, account models.AccountID) error {
	if s.readOnly {
		return ErrReadOnly
	}
	prev, ok := s.l.issuers[account]
	if !ok {
		return nil
	}
	delete(s.l.issuers, account)
	s.undo = append(s.undo, func() {
		s.l.issuers[account] = prev
	})
	return nil
}

func (s *memoryIssuers) List(ctx context.Context) ([]models.Issuer, error) {
	issuers := make([]models.Issuer, 0, len(s.l.issuers))
	for account, origin := range s.l.issuers {
		issuers = append(issuers, models.Issuer{Account: account, Origin: origin})
	}
	sort.Slice(issuers, func(i, j int) bool {
		return issuers[i].Account.Cmp(issuers[j].Account) < 0
	})
	return issuers, nil
}

type memoryCredentials memoryTx

func (s *memoryCredentials) Exists(ctx context.Context, holder models.AccountID, t models.CredentialType) (bool, error) {
	_, ok := s.l.credentials[credentialKey{holder, t}]
	return ok, nil
}

func (s *memoryCredentials) Get(ctx context.Context, holder models.AccountID, t models.CredentialType) (*models.Credential, error) {
	cred, ok := s.l.credentials[credentialKey{holder, t}]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return &cred, nil
}

func (s *memoryCredentials) Put(ctx context.Context, cred models.Credential) error {
	if s.readOnly {
		return ErrReadOnly
	}
	s.set(credentialKey{cred.Holder, cred.Type}, cred)
	return nil
}

func (s *memoryCredentials) Invalidate(ctx context.Context, holder models.AccountID, t models.CredentialType) error {
	if s.readOnly {
		return ErrReadOnly
	}
	key := credentialKey{holder, t}
	cred, ok := s.l.credentials[key]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.Valid = false
	s.set(key, cred)
	return nil
}

func (s *memoryCredentials) set(key credentialKey, cred models.Credential) {
	prev, ok := s.l.credentials[key]
	s.l.credentials[key] = cred
	s.undo = append(s.undo, func() {
		if ok {
			s.l.credentials[key] = prev
		} else {
			delete(s.l.credentials, key)
		}
	})
}

func (s *memoryCredentials) List(ctx context.Context, holder models.AccountID) ([]models.Credential, error) {
	var creds []models.Credential
	for key, cred := range s.l.credentials {
		if key.holder == holder {
			creds = append(creds, cred)
		}
	}
	sort.Slice(creds, func(i, j int) bool {
		return creds[i].Type < creds[j].Type
	})
	return creds, nil
}

type memoryEvents memoryTx

func (s *memoryEvents) Append(ctx context.Context, ev models.Event) error {
	if s.readOnly {
		return ErrReadOnly
	}
	n := len(s.l.events)
	s.l.events = append(s.l.events, ev)
	s.undo = append(s.undo, func() {
		s.l.events = s.l.events[:n]
	})
	return nil
}

func (s *memoryEvents) List(ctx context.Context, account models.AccountID) ([]models.Event, error) {
	var events []models.Event
	for _, ev := range s.l.events {
		if ev.Account == account {
			events = append(events, ev)
		}
	}
	return events, nil
}
