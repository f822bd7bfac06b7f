package exchange

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Environment variables for the signing identity. The private key derives
// the wallet address; an explicit address overrides the derived one (agent
// wallets sign for a master account they do not own).
const (
	EnvPrivateKey    = "HL_PRIVATE_KEY"
	EnvWalletAddress = "HL_WALLET_ADDRESS"
)

// ErrNoSigningKey is surfaced verbatim when a signed operation is requested
// without a key in the environment.
var ErrNoSigningKey = errors.New("no signing key: set HL_PRIVATE_KEY to a hex private key to enable trading")

// Signer produces signatures over action digests and knows the wallet
// address the exchange should attribute them to.
type Signer interface {
	Address() string
	Sign(digest []byte) ([]byte, error)
}

type localSigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// SignerFromEnv derives a signer from HL_PRIVATE_KEY, honoring the
// HL_WALLET_ADDRESS override. Returns ErrNoSigningKey when no key is set.
func SignerFromEnv() (Signer, error) {
	hexKey := os.Getenv(EnvPrivateKey)
	if hexKey == "" {
		return nil, ErrNoSigningKey
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", EnvPrivateKey, err)
	}

	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	if override := os.Getenv(EnvWalletAddress); override != "" {
		address = override
	}
	return &localSigner{key: key, address: address}, nil
}

func (s *localSigner) Address() string { return s.address }

func (s *localSigner) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, s.key)
}

// WalletAddress returns the address signed operations would act for, or ""
// when no identity is configured. Read-only account views accept an explicit
// address argument instead.
func WalletAddress() string {
	if override := os.Getenv(EnvWalletAddress); override != "" {
		return override
	}
	hexKey := os.Getenv(EnvPrivateKey)
	if hexKey == "" {
		return ""
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return ""
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}
