package attest

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestCaseHash(t *testing.T) {
	// Keccak-256 of the empty string
	assert.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", CaseHash(""))
	assert.Len(t, CaseHash("any case"), 66)
	assert.True(t, ValidKey(CaseHash("x")))
}

func TestNewSigner(t *testing.T) {
	_, err := NewSigner("")
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = NewSigner("0x1234")
	assert.ErrorIs(t, err, ErrInvalidKey)

	signer, err := NewSigner(testKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signer.Attestor(), "0x"))
	assert.Len(t, signer.Attestor(), 66)
}

func TestSignAndVerify(t *testing.T) {
	signer, err := NewSigner(testKey)
	require.NoError(t, err)
	signer.now = func() time.Time { return time.Unix(1700000000, 0) }
	signer.random = bytes.NewReader(bytes.Repeat([]byte{0xab}, 16))

	payload := Payload{
		CaseHash:    CaseHash("Solar kiosks"),
		Feasibility: 80,
		Innovation:  70,
		Risk:        20,
		FinalScore:  78,
		Summary:     strings.Repeat("s", 200),
	}
	att, err := signer.Sign(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), att.Timestamp)
	assert.Equal(t, strings.Repeat("ab", 16), att.Nonce)
	assert.True(t, Verify(payload, att))

	// only the first 140 characters are covered
	payload.Summary = strings.Repeat("s", 140)
	assert.True(t, Verify(payload, att))

	payload.FinalScore = 79
	assert.False(t, Verify(payload, att))
}

func TestSignRejectsInvalidPayload(t *testing.T) {
	signer, err := NewSigner(testKey)
	require.NoError(t, err)

	_, err = signer.Sign(Payload{CaseHash: "nope"})
	assert.Error(t, err)

	_, err = signer.Sign(Payload{CaseHash: CaseHash("x"), Risk: 101})
	assert.ErrorContains(t, err, "risk")
}
