package p2p

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/uhyunpark/otxwallet/pkg/crypto"
)

func init() {
	gob.Register(Envelope{})
}

var ErrBadEnvelope = errors.New("bad payment envelope")

// Envelope carries an armored instrument from one nym to another without
// going through the notary's payments inbox.
type Envelope struct {
	ID         string
	Sender     string
	Recipient  string
	ServerID   string
	Instrument string
	SentAt     int64 // unix seconds
	Signature  string
}

// Seal signs a new envelope from signer to recipient.
func Seal(signer *crypto.Signer, recipient, serverID, instrument string, sentAt int64) (Envelope, error) {
	env := Envelope{
		ID:         uuid.NewString(),
		Sender:     signer.NymID(),
		Recipient:  recipient,
		ServerID:   serverID,
		Instrument: instrument,
		SentAt:     sentAt,
	}
	sig, err := signer.SignMessage(env.signingBytes())
	if err != nil {
		return Envelope{}, fmt.Errorf("seal envelope: %w", err)
	}
	env.Signature = hexutil.Encode(sig)
	return env, nil
}

// Verify checks the sender's signature over every other field.
func (e Envelope) Verify() error {
	if e.ID == "" || e.Instrument == "" || !crypto.IsNymID(e.Recipient) {
		return fmt.Errorf("%w: incomplete", ErrBadEnvelope)
	}
	sig, err := hexutil.Decode(e.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if !crypto.VerifyMessage(e.Sender, e.signingBytes(), sig) {
		return fmt.Errorf("%w: signature does not match sender", ErrBadEnvelope)
	}
	return nil
}

func (e Envelope) signingBytes() []byte {
	d := crypto.Digest(
		[]byte(e.ID),
		[]byte(e.Sender),
		[]byte(e.Recipient),
		[]byte(e.ServerID),
		[]byte(e.Instrument),
		[]byte(strconv.FormatInt(e.SentAt, 10)),
	)
	return d[:]
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
