package p2p

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/otxwallet/pkg/crypto"
)

type inbox struct {
	mu    sync.Mutex
	local string
	got   []Envelope
}

func (b *inbox) handle(_ context.Context, env Envelope) error {
	if env.Recipient != b.local {
		return ErrNotLocal
	}
	b.mu.Lock()
	b.got = append(b.got, env)
	b.mu.Unlock()
	return nil
}

func (b *inbox) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.got)
}

func newNet(t *testing.T, bootstrap ...string) *Libp2pNet {
	t.Helper()
	n, err := NewLibp2pNet(context.Background(), Libp2pConfig{
		ListenAddr: "/ip4/127.0.0.1/tcp/0",
		Bootstrap:  bootstrap,
	})
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func signers(t *testing.T) (*crypto.Signer, *crypto.Signer) {
	t.Helper()
	a, err := crypto.GenerateKey()
	require.NoError(t, err)
	b, err := crypto.GenerateKey()
	require.NoError(t, err)
	return a, b
}

func TestEnvelope_SealVerify(t *testing.T) {
	alice, bob := signers(t)
	env, err := Seal(alice, bob.NymID(), "notary-1", "instrument", 1_700_000_000)
	require.NoError(t, err)
	require.NoError(t, env.Verify())

	tampered := env
	tampered.Instrument = "other"
	assert.ErrorIs(t, tampered.Verify(), ErrBadEnvelope)

	forged := env
	forged.Sender = bob.NymID()
	assert.ErrorIs(t, forged.Verify(), ErrBadEnvelope)

	empty := env
	empty.Instrument = ""
	assert.ErrorIs(t, empty.Verify(), ErrBadEnvelope)
}

func TestPayContact_Direct(t *testing.T) {
	alice, bob := signers(t)
	sender := newNet(t)
	receiver := newNet(t)
	box := &inbox{local: bob.NymID()}
	receiver.SetHandler(box.handle)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	env, err := Seal(alice, bob.NymID(), "notary-1", "cheque", 1)
	require.NoError(t, err)
	require.NoError(t, <-sender.PayContact(ctx, env, receiver.Addrs()[0]))
	assert.Equal(t, 1, box.count())

	require.NoError(t, <-sender.PayContact(ctx, env, receiver.Addrs()[0]), "repeats are acknowledged")
	assert.Equal(t, 1, box.count(), "but delivered once")

	elsewhere, err := Seal(alice, alice.NymID(), "notary-1", "cheque", 1)
	require.NoError(t, err)
	assert.Error(t, <-sender.PayContact(ctx, elsewhere, receiver.Addrs()[0]))

	bad := env
	bad.ID = "forged"
	assert.Error(t, <-sender.PayContact(ctx, bad, receiver.Addrs()[0]))
	assert.Equal(t, 1, box.count())
}

func TestPayContact_Gossip(t *testing.T) {
	alice, bob := signers(t)
	receiver := newNet(t)
	sender := newNet(t, receiver.Addrs()...)
	box := &inbox{local: bob.NymID()}
	receiver.SetHandler(box.handle)

	env, err := Seal(alice, bob.NymID(), "notary-1", "cheque", 1)
	require.NoError(t, err)

	// the mesh forms asynchronously; republishing is harmless since receivers dedupe by id
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := <-sender.PayContact(ctx, env, ""); err != nil {
			return false
		}
		time.Sleep(100 * time.Millisecond)
		return box.count() > 0
	}, 15*time.Second, 200*time.Millisecond)
	assert.Equal(t, 1, box.count())
}
