package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain separates confirmation signatures between deployments.
type Domain struct {
	Name    string
	Version string
	ChainID *big.Int
}

// DefaultDomain is the domain used by the wallet and the development notary.
func DefaultDomain() Domain {
	return Domain{
		Name:    "otxwallet",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

// PartyConfirmation is what a nym signs when it takes a role in a smart contract.
// AccountsDigest commits to the party's account bindings and closing numbers.
type PartyConfirmation struct {
	ContractID     string
	Party          string
	Nym            common.Address
	ServerID       string
	OpeningNumber  int64
	AccountsDigest string
}

// TypedSigner hashes and signs typed confirmation data.
type TypedSigner struct {
	domain Domain
}

func NewTypedSigner(domain Domain) *TypedSigner {
	return &TypedSigner{domain: domain}
}

func (t *TypedSigner) typedData(pc *PartyConfirmation) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"PartyConfirmation": []apitypes.Type{
				{Name: "contractId", Type: "string"},
				{Name: "party", Type: "string"},
				{Name: "nym", Type: "address"},
				{Name: "serverId", Type: "string"},
				{Name: "openingNumber", Type: "uint256"},
				{Name: "accountsDigest", Type: "string"},
			},
		},
		PrimaryType: "PartyConfirmation",
		Domain: apitypes.TypedDataDomain{
			Name:    t.domain.Name,
			Version: t.domain.Version,
			ChainId: (*math.HexOrDecimal256)(t.domain.ChainID),
		},
		Message: apitypes.TypedDataMessage{
			"contractId":     pc.ContractID,
			"party":          pc.Party,
			"nym":            pc.Nym.Hex(),
			"serverId":       pc.ServerID,
			"openingNumber":  fmt.Sprintf("%d", pc.OpeningNumber),
			"accountsDigest": pc.AccountsDigest,
		},
	}
}

// HashParty returns the digest a party signs.
func (t *TypedSigner) HashParty(pc *PartyConfirmation) ([]byte, error) {
	if pc.OpeningNumber < 0 {
		return nil, fmt.Errorf("negative opening number %d", pc.OpeningNumber)
	}
	td := t.typedData(pc)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash party confirmation: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || messageHash)
	raw := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	return crypto.Keccak256(raw), nil
}

// SignParty signs a party confirmation with the nym's key.
func (t *TypedSigner) SignParty(signer *Signer, pc *PartyConfirmation) ([]byte, error) {
	if signer.Address() != pc.Nym {
		return nil, fmt.Errorf("signer %s is not party nym %s", signer.NymID(), pc.Nym.Hex())
	}
	hash, err := t.HashParty(pc)
	if err != nil {
		return nil, err
	}
	return signer.Sign(hash)
}

// VerifyParty reports whether signature was produced by pc.Nym over pc.
func (t *TypedSigner) VerifyParty(pc *PartyConfirmation, signature []byte) (bool, error) {
	hash, err := t.HashParty(pc)
	if err != nil {
		return false, err
	}
	addr, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return addr == pc.Nym, nil
}
