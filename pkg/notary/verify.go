package notary

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/otxwallet/pkg/crypto"
)

var ErrBadSignature = errors.New("bad request signature")

// VerifyRequest checks that body was signed by the nym named in its header.
func VerifyRequest(body []byte, signatureHex string) (Header, error) {
	var h Header
	if err := json.Unmarshal(body, &h); err != nil {
		return Header{}, fmt.Errorf("decode request header: %w", err)
	}
	if !crypto.IsNymID(h.NymID) {
		return Header{}, fmt.Errorf("%w: invalid nym id %q", ErrBadSignature, h.NymID)
	}
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !crypto.VerifyMessage(h.NymID, body, sig) {
		return Header{}, ErrBadSignature
	}
	return h, nil
}
