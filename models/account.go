package models

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccountID identifies issuers and holders. It is the address recovered from a signed request.
type AccountID = common.Address

// ParseAccountID parses a 0x-prefixed hex address.
func ParseAccountID(s string) (AccountID, error) {
	if !common.IsHexAddress(s) {
		return AccountID{}, fmt.Errorf("invalid account address '%s'", s)
	}
	return common.HexToAddress(s), nil
}
