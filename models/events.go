package models

import (
	"fmt"
	"time"
)

type EventKind int

const (
	CredentialIssued EventKind = iota
	CredentialRevoked
	IssuerGranted
	IssuerRevoked
)

func (k EventKind) String() string {
	switch k {
	case CredentialIssued:
		return "CredentialIssued"
	case CredentialRevoked:
		return "CredentialRevoked"
	case IssuerGranted:
		return "IssuerGranted"
	case IssuerRevoked:
		return "IssuerRevoked"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a domain event emitted by a committed ledger operation.
// For credential events Account is the holder and Actor the issuer or revoker.
// For issuer events Account is the affected account and Type/Actor describe
// the credential call that triggered the cascade.
type Event struct {
	Kind      EventKind
	Account   AccountID
	Type      CredentialType
	Actor     AccountID
	Timestamp time.Time
}
