package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedSigner_PartyRoundTrip(t *testing.T) {
	ts := NewTypedSigner(DefaultDomain())
	alice, _ := GenerateKey()
	bob, _ := GenerateKey()

	pc := &PartyConfirmation{
		ContractID:     "c-1",
		Party:          "buyer",
		Nym:            alice.Address(),
		ServerID:       "srv",
		OpeningNumber:  7,
		AccountsDigest: DigestHex([]byte("acct")),
	}

	sig, err := ts.SignParty(alice, pc)
	require.NoError(t, err)

	ok, err := ts.VerifyParty(pc, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	tampered := *pc
	tampered.OpeningNumber = 8
	ok, err = ts.VerifyParty(&tampered, sig)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ts.SignParty(bob, pc)
	assert.Error(t, err, "only the party nym may sign")
}

func TestTypedSigner_DomainSeparation(t *testing.T) {
	alice, _ := GenerateKey()
	pc := &PartyConfirmation{ContractID: "c", Party: "p", Nym: alice.Address(), ServerID: "s", OpeningNumber: 1}

	d1 := DefaultDomain()
	d2 := DefaultDomain()
	d2.Version = "2"

	h1, err := NewTypedSigner(d1).HashParty(pc)
	require.NoError(t, err)
	h2, err := NewTypedSigner(d2).HashParty(pc)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
