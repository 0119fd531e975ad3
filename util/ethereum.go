package util

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/secp256k1"
)

// Wallet is a key pair able to sign ledger requests.
type Wallet struct {
	Address *common.Address
	Key     *ecdsa.PrivateKey
}

// RecoverAddressFromSignature returns the address that signed msg.
// sig must be in the format returned by eth_sign, [R || S || V], with V being
// 27/28 as in the Ethereum Yellow Paper or 0/1 as some wallets produce.
// See https://ethereum.org/en/developers/docs/apis/json-rpc/#eth_sign
func RecoverAddressFromSignature(msg []byte, sig []byte) (*common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return nil, secp256k1.ErrInvalidSignatureLen
	}

	// Work on a copy so the caller's signature is left untouched.
	s := make([]byte, len(sig))
	copy(s, sig)
	switch v := s[crypto.RecoveryIDOffset]; v {
	case 27, 28:
		s[crypto.RecoveryIDOffset] = v - 27
	case 0, 1:
	default:
		return nil, fmt.Errorf("invalid recovery ID: %d", v)
	}

	pubKey, err := crypto.SigToPub(accounts.TextHash(msg), s)
	if err != nil {
		return nil, err
	}
	address := crypto.PubkeyToAddress(*pubKey)
	return &address, nil
}

// NewWallet generates a wallet with a random private key.
func NewWallet() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	address := crypto.PubkeyToAddress(key.PublicKey)
	return &Wallet{
		Address: &address,
		Key:     key,
	}, nil
}

// Sign signs msg with the wallet's private key, in the eth_sign format
// accepted by RecoverAddressFromSignature.
func (w *Wallet) Sign(msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), w.Key)
	if err != nil {
		return nil, err
	}

	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
