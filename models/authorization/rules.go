package authorization

import (
	"fmt"
	"strings"

	"github.com/Rocket-Rescue-Node/credential-ledger/models"
)

// CascadeEffect describes what holding a valid credential of some type does to
// the holder's issuer authority.
type CascadeEffect int

const (
	NoCascade CascadeEffect = iota
	GrantIssuerOnValid
)

// CascadeRules maps credential types to their cascade effect.
// Types without an entry have no effect.
type CascadeRules map[models.CredentialType]CascadeEffect

func DefaultCascadeRules() CascadeRules {
	return CascadeRules{
		models.Conducted: GrantIssuerOnValid,
	}
}

func (r CascadeRules) Effect(t models.CredentialType) CascadeEffect {
	if effect, ok := r[t]; ok {
		return effect
	}
	return NoCascade
}

// RevokePolicy decides which issuers may revoke a credential.
type RevokePolicy int

const (
	// Any currently authorized issuer may revoke any credential.
	RevokeByAnyIssuer RevokePolicy = iota
	// Only the issuer recorded on the credential may revoke it.
	RevokeByOriginalIssuer
)

func ParseRevokePolicy(s string) (RevokePolicy, error) {
	switch strings.ToLower(s) {
	case "any", "":
		return RevokeByAnyIssuer, nil
	case "issuer", "original":
		return RevokeByOriginalIssuer, nil
	}
	return 0, fmt.Errorf("unknown revoke policy '%s'", s)
}

func (p RevokePolicy) String() string {
	if p == RevokeByOriginalIssuer {
		return "issuer"
	}
	return "any"
}

// VerifyPolicy decides who may verify credentials.
type VerifyPolicy int

const (
	// Any authenticated caller may verify.
	OpenVerification VerifyPolicy = iota
	// The caller must itself be an authorized issuer.
	IssuerVerification
)

func ParseVerifyPolicy(s string) (VerifyPolicy, error) {
	switch strings.ToLower(s) {
	case "open", "":
		return OpenVerification, nil
	case "issuer":
		return IssuerVerification, nil
	}
	return 0, fmt.Errorf("unknown verify policy '%s'", s)
}

func (p VerifyPolicy) String() string {
	if p == IssuerVerification {
		return "issuer"
	}
	return "open"
}
