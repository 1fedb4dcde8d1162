// Copyright (c) 2024 The liftscan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package outscript

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// hexToBytes converts the passed hex string into bytes and will panic if
// there is an error.  This is only provided for the hard-coded constants so
// errors in the source code can be detected.
func hexToBytes(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("invalid hex in source file: " + s)
	}
	return b
}

// repeatByte returns count copies of the passed byte.
func repeatByte(b byte, count int) []byte {
	return bytes.Repeat([]byte{b}, count)
}

// TestClassify ensures the standard output templates and a set of near-miss
// variants classify as expected.
func TestClassify(t *testing.T) {
	t.Parallel()

	p2wpkh := append(hexToBytes("0014"), repeatByte(0xab, 20)...)
	p2wsh := append(hexToBytes("0020"), repeatByte(0xab, 32)...)
	p2tr := append(hexToBytes("5120"), repeatByte(0xab, 32)...)
	p2sh := append(append(hexToBytes("a914"), repeatByte(0xab, 20)...),
		0x87)

	tests := []struct {
		name   string
		script []byte
		class  Class
	}{
		{name: "v0 witness pubkey hash", script: p2wpkh, class: P2WPKH},
		{name: "v0 witness script hash", script: p2wsh, class: P2WSH},
		{name: "script hash", script: p2sh, class: P2SH},
		{name: "v1 taproot", script: p2tr, class: P2TR},
		{
			name:   "empty script",
			script: nil,
			class:  Unrecognized,
		},
		{
			name:   "p2wpkh with trailing byte",
			script: append(p2wpkh[:22:22], 0x00),
			class:  Unrecognized,
		},
		{
			name:   "p2wpkh program one byte short",
			script: p2wpkh[:21],
			class:  Unrecognized,
		},
		{
			name:   "witness v2 program",
			script: append(hexToBytes("5220"), repeatByte(0xab, 32)...),
			class:  Unrecognized,
		},
		{
			name:   "p2sh with wrong final opcode",
			script: append(append(hexToBytes("a914"), repeatByte(0xab, 20)...), 0x88),
			class:  Unrecognized,
		},
		{
			name:   "p2sh with wrong push length",
			script: append(append(hexToBytes("a915"), repeatByte(0xab, 21)...), 0x87),
			class:  Unrecognized,
		},
		{
			name:   "bare checksig script",
			script: append(append([]byte{0x21}, repeatByte(0xab, 33)...), 0xac),
			class:  Unrecognized,
		},
	}

	for _, test := range tests {
		class := Classify(test.script)
		require.Equal(t, test.class, class, test.name)

		// Exactly the script-hash style classes carry an inner script.
		wantInner := class == P2WSH || class == P2SH || class == P2TR
		require.Equal(t, wantInner, class.HasInnerScript(), test.name)
	}
}

// TestClassString ensures the class names match the display strings used in
// reports.
func TestClassString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "unrecognized", Unrecognized.String())
	require.Equal(t, "P2WPKH v0", P2WPKH.String())
	require.Equal(t, "P2WSH v0", P2WSH.String())
	require.Equal(t, "P2SH", P2SH.String())
	require.Equal(t, "P2TR v1", P2TR.String())
	require.Equal(t, "invalid", Class(0xff).String())
}

// TestExtractCommitment ensures the embedded digest and algorithm are
// extracted for the supported templates and that the rest are rejected.
func TestExtractCommitment(t *testing.T) {
	t.Parallel()

	digest32 := repeatByte(0xcd, 32)
	digest20 := repeatByte(0xcd, 20)
	p2wsh := append(hexToBytes("0020"), digest32...)
	p2sh := append(append(hexToBytes("a914"), digest20...), 0x87)

	commitment, err := ExtractCommitment(P2WSH, p2wsh)
	require.NoError(t, err)
	require.Equal(t, AlgoSHA256, commitment.Algo)
	require.Equal(t, digest32, commitment.ExpectedDigest)

	commitment, err = ExtractCommitment(P2SH, p2sh)
	require.NoError(t, err)
	require.Equal(t, AlgoHash160, commitment.Algo)
	require.Equal(t, digest20, commitment.ExpectedDigest)

	// Class does not match the script bytes.
	_, err = ExtractCommitment(P2WSH, p2sh)
	require.Error(t, err)
	_, err = ExtractCommitment(P2SH, p2wsh)
	require.Error(t, err)

	// Classes without a verifiable commitment.
	p2tr := append(hexToBytes("5120"), digest32...)
	_, err = ExtractCommitment(P2TR, p2tr)
	require.ErrorContains(t, err, "unsupported scriptPubKey type")
	_, err = ExtractCommitment(Unrecognized, []byte{0x51})
	require.ErrorContains(t, err, "unsupported scriptPubKey type")
}

// TestVerifyCommitment ensures a matching inner script verifies against both
// supported templates and a single flipped digest byte is caught.
func TestVerifyCommitment(t *testing.T) {
	t.Parallel()

	// OP_1, the simplest spendable inner script.
	inner := []byte{0x51}

	p2wsh := append(hexToBytes("0020"), chainhash.HashB(inner)...)
	require.NoError(t, VerifyCommitment(P2WSH, p2wsh, inner))

	p2sh := append(append(hexToBytes("a914"), btcutil.Hash160(inner)...),
		0x87)
	require.NoError(t, VerifyCommitment(P2SH, p2sh, inner))

	// Flip one bit of each embedded digest.
	badWsh := append([]byte(nil), p2wsh...)
	badWsh[10] ^= 0x01
	err := VerifyCommitment(P2WSH, badWsh, inner)
	require.ErrorContains(t, err, "does not match P2WSH witness program")

	badSh := append([]byte(nil), p2sh...)
	badSh[10] ^= 0x01
	err = VerifyCommitment(P2SH, badSh, inner)
	require.ErrorContains(t, err, "does not match P2SH redeem hash")

	// A different inner script must not verify either.
	err = VerifyCommitment(P2WSH, p2wsh, []byte{0x52})
	require.ErrorContains(t, err, "does not match P2WSH witness program")
}
