package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds a nym's secp256k1 key pair.
// The nym id is the checksummed hex address derived from the public key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a fresh nym key.
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(privateKey)
}

// FromPrivateKeyHex loads a nym key from hex, with or without 0x prefix.
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(privateKey)
}

func newSigner(privateKey *ecdsa.PrivateKey) (*Signer, error) {
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key to ECDSA")
	}
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
	}, nil
}

// Address returns the 20-byte address behind the nym id.
func (s *Signer) Address() common.Address { return s.address }

// NymID returns the nym identifier used on the wire.
func (s *Signer) NymID() string { return s.address.Hex() }

// PrivateKeyHex returns the private key as hex without 0x prefix.
// Only the wallet store should ever call this.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// Sign signs a 32-byte digest, returning a 65-byte [R || S || V] signature.
func (s *Signer) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	signature, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return signature, nil
}

// SignMessage signs Keccak256(message).
func (s *Signer) SignMessage(message []byte) ([]byte, error) {
	return s.Sign(crypto.Keccak256(message))
}

// RecoverAddress recovers the signing address from a digest and signature.
func RecoverAddress(hash []byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	if len(hash) != 32 {
		return common.Address{}, fmt.Errorf("invalid hash length: %d", len(hash))
	}
	publicKey, err := crypto.SigToPub(hash, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*publicKey), nil
}

// VerifyNym reports whether signature over hash was produced by nymID.
func VerifyNym(nymID string, hash, signature []byte) bool {
	if !common.IsHexAddress(nymID) {
		return false
	}
	addr, err := RecoverAddress(hash, signature)
	if err != nil {
		return false
	}
	return addr == common.HexToAddress(nymID)
}

// VerifyMessage is VerifyNym over Keccak256(message).
func VerifyMessage(nymID string, message, signature []byte) bool {
	return VerifyNym(nymID, crypto.Keccak256(message), signature)
}

// IsNymID reports whether s looks like a nym identifier.
func IsNymID(s string) bool {
	return common.IsHexAddress(s)
}

// NormalizeNymID returns the checksummed form of a nym id.
func NormalizeNymID(s string) string {
	return common.HexToAddress(s).Hex()
}
