package contracts

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyIdentity signs with a local secp256k1 private key
type KeyIdentity struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeyIdentity parses a hex encoded private key, with or without 0x prefix
func NewKeyIdentity(hexKey string) (*KeyIdentity, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewKeyIdentityFromECDSA(key), nil
}

func NewKeyIdentityFromECDSA(key *ecdsa.PrivateKey) *KeyIdentity {
	return &KeyIdentity{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (k *KeyIdentity) Address() string {
	return k.address.Hex()
}

// Sign returns a 65-byte [R || S || V] signature over a 32-byte digest
func (k *KeyIdentity) Sign(_ context.Context, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return crypto.Sign(digest, k.key)
}
