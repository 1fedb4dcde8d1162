// Copyright (c) 2024 The liftscan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/liftscan/liftscan/miniscript"
	"github.com/stretchr/testify/require"
)

// testKeyHex returns the hex encoding of a deterministic, valid 33-byte
// compressed public key derived from the passed seed.
func testKeyHex(t *testing.T, seed string) string {
	t.Helper()
	_, pub := btcec.PrivKeyFromBytes(chainhash.HashB([]byte(seed)))
	return hex.EncodeToString(pub.SerializeCompressed())
}

// testScript parses the passed miniscript notation and returns its script
// encoding.
func testScript(t *testing.T, script string) []byte {
	t.Helper()
	node, err := miniscript.Parse(script)
	require.NoError(t, err)
	encoded, err := node.Script()
	require.NoError(t, err)
	return encoded
}

// runLiftscan runs the command pipeline with the passed arguments and returns
// the exit code and output lines.
func runLiftscan(t *testing.T, args ...string) (int, []string) {
	t.Helper()
	var buf bytes.Buffer
	exitCode := liftscanMain(args, &buf)
	output := strings.TrimRight(buf.String(), "\n")
	if output == "" {
		return exitCode, nil
	}
	return exitCode, strings.Split(output, "\n")
}

// TestLiftscanSafe runs the full pipeline on a P2SH output whose redeem
// script is a sane miniscript.
func TestLiftscanSafe(t *testing.T) {
	key := testKeyHex(t, "liftscan main test key 1")
	redeem := testScript(t, fmt.Sprintf("multi(1,%s)", key))
	spk := append(append([]byte{0xa9, 0x14},
		btcutil.Hash160(redeem)...), 0x87)

	exitCode, lines := runLiftscan(t, hex.EncodeToString(spk),
		hex.EncodeToString(redeem))
	require.Equal(t, 0, exitCode)
	require.Len(t, lines, 3)
	require.Equal(t, "LIFTABLE: SAFE", lines[0])
	require.Equal(t, fmt.Sprintf("Miniscript: multi(1,%s)", key),
		lines[1])
	require.Equal(t, fmt.Sprintf("Policy: pk(%s)", key), lines[2])
}

// TestLiftscanUnsafe probes an unrecognized input directly and expects the
// unsafe tier when the script exceeds the ops limit.
func TestLiftscanUnsafe(t *testing.T) {
	subs := make([]string, 0, 69)
	subs = append(subs, fmt.Sprintf("pk(%s)", testKeyHex(t, "ops key 0")))
	for i := 1; i < 69; i++ {
		subs = append(subs, fmt.Sprintf("s:pk(%s)",
			testKeyHex(t, fmt.Sprintf("ops key %d", i))))
	}
	script := testScript(t, fmt.Sprintf("thresh(2,%s)",
		strings.Join(subs, ",")))

	exitCode, lines := runLiftscan(t, hex.EncodeToString(script))
	require.Equal(t, 1, exitCode)
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "LIFTABLE: UNSAFE - "),
		lines[0])
	require.Contains(t, lines[0], "ops")
	require.True(t, strings.HasPrefix(lines[1], "Miniscript (unchecked): "),
		lines[1])
	require.True(t,
		strings.HasPrefix(lines[2], "Policy (from unchecked): "),
		lines[2])
}

// TestLiftscanDecisions covers the pre-probe decision branches: usage
// failures, template classification and commitment verification.
func TestLiftscanDecisions(t *testing.T) {
	key := testKeyHex(t, "liftscan main test key 2")
	redeem := testScript(t, fmt.Sprintf("multi(1,%s)", key))
	p2sh := append(append([]byte{0xa9, 0x14},
		btcutil.Hash160(redeem)...), 0x87)

	badRedeem := append([]byte(nil), redeem...)
	badRedeem[len(badRedeem)-2] ^= 0x01

	trivialInner := []byte{0x51}
	p2wsh := append([]byte{0x00, 0x20}, chainhash.HashB(trivialInner)...)

	p2wpkh := append([]byte{0x00, 0x14}, bytes.Repeat([]byte{0x00}, 20)...)
	p2tr := append([]byte{0x51, 0x20}, bytes.Repeat([]byte{0xab}, 32)...)

	tests := []struct {
		name     string
		args     []string
		exitCode int
		contains string
	}{
		{
			name:     "missing argument",
			args:     nil,
			exitCode: 3,
			contains: "missing hex argument",
		},
		{
			name:     "invalid hex",
			args:     []string{"zz"},
			exitCode: 3,
			contains: "invalid hex -",
		},
		{
			name:     "extra arguments",
			args:     []string{"51", "51", "51"},
			exitCode: 3,
			contains: "unexpected extra arguments",
		},
		{
			name:     "p2wpkh has no inner script",
			args:     []string{hex.EncodeToString(p2wpkh)},
			exitCode: 3,
			contains: "no separate witness script",
		},
		{
			name:     "p2sh without inner argument",
			args:     []string{hex.EncodeToString(p2sh)},
			exitCode: 3,
			contains: "provide inner redeem/witness script hex",
		},
		{
			name:     "p2tr without inner argument",
			args:     []string{hex.EncodeToString(p2tr)},
			exitCode: 3,
			contains: "provide tapscript hex",
		},
		{
			name: "inner script invalid hex",
			args: []string{hex.EncodeToString(p2sh), "zz"},

			exitCode: 3,
			contains: "inner script invalid hex -",
		},
		{
			name: "p2sh commitment mismatch",
			args: []string{
				hex.EncodeToString(p2sh),
				hex.EncodeToString(badRedeem),
			},
			exitCode: 3,
			contains: "does not match P2SH redeem hash",
		},
		{
			name: "p2wsh inner is a bare constant",
			args: []string{
				hex.EncodeToString(p2wsh),
				hex.EncodeToString(trivialInner),
			},
			exitCode: 3,
			contains: "bare constant 1",
		},
	}

	for _, test := range tests {
		exitCode, lines := runLiftscan(t, test.args...)
		require.Equal(t, test.exitCode, exitCode, test.name)
		require.NotEmpty(t, lines, test.name)
		require.True(t,
			strings.HasPrefix(lines[0], "NOT_LIFTABLE: "),
			"%s: %s", test.name, lines[0])
		require.Contains(t, lines[0], test.contains, test.name)
	}
}

// TestLiftscanTapscript ensures a P2TR input probes the supplied tapscript
// without a commitment proof.
func TestLiftscanTapscript(t *testing.T) {
	key := testKeyHex(t, "liftscan main test key 3")
	leaf := testScript(t, fmt.Sprintf("pk(%s)", key))
	p2tr := append([]byte{0x51, 0x20}, bytes.Repeat([]byte{0xab}, 32)...)

	exitCode, lines := runLiftscan(t, hex.EncodeToString(p2tr),
		hex.EncodeToString(leaf))
	require.Equal(t, 0, exitCode)
	require.Equal(t, "LIFTABLE: SAFE", lines[0])
	require.Equal(t, fmt.Sprintf("Miniscript: pk(%s)", key), lines[1])
	require.Equal(t, fmt.Sprintf("Policy: pk(%s)", key), lines[2])
}
