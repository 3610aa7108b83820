package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	require.NoError(t, err)

	assert.NotEqual(t, common.Address{}, signer.Address())
	assert.Len(t, signer.PrivateKeyHex(), 64)
	assert.True(t, IsNymID(signer.NymID()))
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, err := GenerateKey()
	require.NoError(t, err)

	for _, in := range []string{signer1.PrivateKeyHex(), "0x" + signer1.PrivateKeyHex()} {
		signer2, err := FromPrivateKeyHex(in)
		require.NoError(t, err)
		assert.Equal(t, signer1.NymID(), signer2.NymID())
	}

	_, err = FromPrivateKeyHex("zz")
	assert.Error(t, err)
}

func TestSignMessageAndVerify(t *testing.T) {
	signer, _ := GenerateKey()
	other, _ := GenerateKey()

	msg := []byte("cancel offer 42")
	sig, err := signer.SignMessage(msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	assert.True(t, VerifyMessage(signer.NymID(), msg, sig))
	assert.False(t, VerifyMessage(other.NymID(), msg, sig))
	assert.False(t, VerifyMessage(signer.NymID(), []byte("cancel offer 43"), sig))
	assert.False(t, VerifyMessage("not-a-nym", msg, sig))

	addr, err := RecoverAddress(eth_crypto.Keccak256(msg), sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)
}

func TestSign_BadHashLength(t *testing.T) {
	signer, _ := GenerateKey()
	_, err := signer.Sign([]byte("short"))
	assert.Error(t, err)
}

func TestDigest_LengthPrefixed(t *testing.T) {
	assert.NotEqual(t, Digest([]byte("ab"), []byte("c")), Digest([]byte("a"), []byte("bc")))
	assert.Equal(t, Digest([]byte("x")), Digest([]byte("x")))
	assert.Len(t, DigestHex([]byte("x")), 66)
	assert.Equal(t, "short", ShortID("short"))
	assert.Equal(t, "0x123456..cdef", ShortID("0x1234567890abcdef"))
}
