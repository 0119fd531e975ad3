package models

import (
	"fmt"
	"strings"
	"time"
)

type CredentialType uint8

// New types must be appended; the numeric value is persisted.
const (
	Attended CredentialType = iota
	Conducted
	Volunteered
)

var credentialTypeNames = []string{
	Attended:    "Attended",
	Conducted:   "Conducted",
	Volunteered: "Volunteered",
}

// CredentialTypes returns every known credential type in declaration order.
func CredentialTypes() []CredentialType {
	types := make([]CredentialType, len(credentialTypeNames))
	for i := range credentialTypeNames {
		types[i] = CredentialType(i)
	}
	return types
}

func (t CredentialType) Valid() bool {
	return int(t) < len(credentialTypeNames)
}

func (t CredentialType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("CredentialType(%d)", uint8(t))
	}
	return credentialTypeNames[t]
}

// ParseCredentialType is case-insensitive.
func ParseCredentialType(s string) (CredentialType, error) {
	for i, name := range credentialTypeNames {
		if strings.EqualFold(name, s) {
			return CredentialType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown credential type '%s'", s)
}

// Credential is the record stored for a (holder, type) pair.
// Revocation flips Valid and keeps Issuer and IssuedAt for audit.
type Credential struct {
	Holder   AccountID
	Type     CredentialType
	Issuer   AccountID
	IssuedAt time.Time
	Valid    bool
}

type IssuerOrigin int

const (
	// Seeded at genesis, never withdrawn by credential operations.
	GenesisIssuer IssuerOrigin = iota
	// Derived from holding a cascading credential.
	CascadeIssuer
)

func (o IssuerOrigin) String() string {
	switch o {
	case GenesisIssuer:
		return "genesis"
	case CascadeIssuer:
		return "cascade"
	default:
		return fmt.Sprintf("IssuerOrigin(%d)", int(o))
	}
}

// Issuer is an entry of the authority registry.
type Issuer struct {
	Account AccountID
	Origin  IssuerOrigin
}

// HolderInfo summarizes everything the ledger knows about a holder.
type HolderInfo struct {
	Holder      AccountID
	Issuer      *Issuer
	Credentials []Credential
	Events      []Event
}
