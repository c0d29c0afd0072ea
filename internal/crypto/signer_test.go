package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() OrderPayload {
	return OrderPayload{
		Time:       1756500000000,
		Nonce:      42,
		OrderType:  "MARKET",
		Symbol:     "ETH-PERP",
		IsBuy:      true,
		Size:       "0.7500",
		LimitPrice: "1000.00",
		ReduceOnly: false,
	}
}

func TestNewSigner_DerivesAddress(t *testing.T) {
	s, err := NewSigner(testKeyHex)
	require.NoError(t, err)
	assert.NotEqual(t, "0x0000000000000000000000000000000000000000", s.Address().Hex())

	// 0x prefix is accepted and yields the same key.
	s2, err := NewSigner("0x" + testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), s2.Address())
}

func TestNewSigner_RejectsBadKey(t *testing.T) {
	_, err := NewSigner("zzzz")
	assert.Error(t, err)
}

func TestOrderHash_Deterministic(t *testing.T) {
	a, err := OrderHash(testPayload())
	require.NoError(t, err)
	b, err := OrderHash(testPayload())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	changed := testPayload()
	changed.Size = "0.7501"
	c, err := OrderHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestSignOrder_RecoversToSignerAddress(t *testing.T) {
	s, err := NewSigner(testKeyHex)
	require.NoError(t, err)

	sigHex, err := s.SignOrder(testPayload())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sigHex, "0x"))

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	// Recover against the personal-sign digest with v normalized back to {0,1}.
	hash, err := OrderHash(testPayload())
	require.NoError(t, err)
	recSig := make([]byte, 65)
	copy(recSig, sig)
	recSig[64] -= 27

	pub, err := ethcrypto.SigToPub(personalDigest(hash), recSig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), ethcrypto.PubkeyToAddress(*pub))
}
