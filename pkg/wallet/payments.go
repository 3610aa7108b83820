package wallet

import (
	"context"
	"fmt"

	"github.com/uhyunpark/otxwallet/pkg/contract"
	"github.com/uhyunpark/otxwallet/pkg/crypto"
	"github.com/uhyunpark/otxwallet/pkg/p2p"
)

const (
	SourceNotary = "notary"
	SourceP2P    = "p2p"
)

// SendInstrument delivers doc to recipientNymID. A contact with a peer
// address gets it over a direct libp2p stream, acknowledged by the
// recipient's wallet; everyone else gets it through the notary's payments
// inbox.
func (w *Wallet) SendInstrument(ctx context.Context, nymID, serverID, recipientNymID string, doc contract.Document) error {
	var peerAddr string
	if c, ok := w.contactFor(recipientNymID); ok {
		peerAddr = c.PeerAddr
	}
	if w.net == nil || peerAddr == "" {
		return w.client.SendPayment(ctx, nymID, serverID, recipientNymID, doc)
	}

	signer, err := w.Signer(nymID)
	if err != nil {
		return err
	}
	text, err := contract.Encode(doc)
	if err != nil {
		return err
	}
	env, err := p2p.Seal(signer, recipientNymID, serverID, text, w.clock.Now().Unix())
	if err != nil {
		return err
	}
	select {
	case err := <-w.net.PayContact(ctx, env, peerAddr):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchPayments moves the nym's notary payments inbox into the local inbox.
func (w *Wallet) FetchPayments(ctx context.Context, nymID string) ([]InboxItem, error) {
	payments, err := w.client.FetchPayments(ctx, nymID, w.serverID)
	if err != nil {
		return nil, err
	}
	out := make([]InboxItem, 0, len(payments))
	for _, p := range payments {
		item := InboxItem{
			ServerID:   w.serverID,
			SenderNym:  p.SenderNym,
			Instrument: p.Instrument,
			Source:     SourceNotary,
			ReceivedAt: p.ReceivedAt,
		}
		if item.Index, err = w.store.AddPayment(nymID, item); err != nil {
			return out, err
		}
		out = append(out, item)
	}
	if len(out) > 0 {
		w.log.Infow("payments_fetched", "nym", crypto.ShortID(nymID), "count", len(out))
	}
	return out, nil
}

// DeliverEnvelope is the libp2p handler: envelopes for local nyms land in
// their inbox.
func (w *Wallet) DeliverEnvelope(ctx context.Context, env p2p.Envelope) error {
	if !w.isLocal(env.Recipient) {
		return p2p.ErrNotLocal
	}
	if _, err := contract.InstrumentType(env.Instrument); err != nil {
		return fmt.Errorf("envelope %s: %w", env.ID, err)
	}
	_, err := w.store.AddPayment(crypto.NormalizeNymID(env.Recipient), InboxItem{
		ServerID:   env.ServerID,
		SenderNym:  env.Sender,
		Instrument: env.Instrument,
		Source:     SourceP2P,
		ReceivedAt: w.clock.Now().Unix(),
	})
	return err
}

func (w *Wallet) Payments(nymID string) ([]InboxItem, error) { return w.store.Payments(nymID) }

func (w *Wallet) Payment(nymID string, index int) (InboxItem, error) {
	return w.store.Payment(nymID, index)
}

func (w *Wallet) RecordBox(nymID string) ([]InboxItem, error) { return w.store.RecordBox(nymID) }

func (w *Wallet) RemovePayment(ctx context.Context, nymID string, index int) error {
	return w.store.RemovePayment(nymID, index)
}

func (w *Wallet) MoveToRecordBox(ctx context.Context, nymID string, index int) error {
	return w.store.MoveToRecordBox(nymID, index)
}
