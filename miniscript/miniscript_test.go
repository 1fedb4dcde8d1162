// Copyright (c) 2024 The liftscan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// testKey returns the hex encoding of a deterministic valid compressed
// public key derived from the seed.
func testKey(seed string) string {
	_, pubKey := btcec.PrivKeyFromBytes(chainhash.HashB([]byte(seed)))
	return hex.EncodeToString(pubKey.SerializeCompressed())
}

// testHash returns the hex encoding of a deterministic digest of the given
// length derived from the seed.
func testHash(seed string, length int) string {
	return hex.EncodeToString(chainhash.HashB([]byte(seed))[:length])
}

// TestSplitString tests the splitString function.
func TestSplitString(t *testing.T) {
	separators := func(c rune) bool {
		return c == '(' || c == ')' || c == ','
	}

	testCases := []struct {
		str      string
		expected []string
	}{
		{
			str:      "",
			expected: []string{},
		},
		{
			str:      "0",
			expected: []string{"0"},
		},
		{
			str:      "0)(1(",
			expected: []string{"0", ")", "(", "1", "("},
		},
		{
			str: "or_b(pk(key_1),s:pk(key_2))",
			expected: []string{
				"or_b", "(", "pk", "(", "key_1", ")", ",",
				"s:pk", "(", "key_2", ")", ")",
			},
		},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.expected, splitString(tc.str, separators))
	}
}

// checkMiniscript makes sure the passed miniscript is top level, has the
// expected type and script length, and that the script it renders decodes
// back to the same expression.
func checkMiniscript(miniscript, expectedType string, opCodes int) error {
	node, err := Parse(miniscript)
	if err != nil {
		return err
	}
	if err := node.IsValidTopLevel(); err != nil {
		return err
	}
	sortString := func(s string) string {
		r := []rune(s)
		sort.Slice(r, func(i, j int) bool {
			return r[i] < r[j]
		})
		return string(r)
	}
	if sortString(expectedType) != sortString(node.formattedType()) {
		return fmt.Errorf("expected type %s, got %s",
			sortString(expectedType),
			sortString(node.formattedType()))
	}

	script, err := node.Script()
	if err != nil {
		return err
	}

	if len(script) != node.scriptLen {
		return fmt.Errorf("expected script length %d but got %d for "+
			"script %s", node.scriptLen, len(script),
			node.DrawTree())
	}

	if opCodes != 0 && opCodes != node.maxOpCount() {
		return fmt.Errorf("expected %d opcodes but got %d for "+
			"miniscript %s", opCodes, node.maxOpCount(),
			miniscript)
	}

	decoded, err := Decode(script)
	if err != nil {
		return fmt.Errorf("decoding the script of %s failed: %v",
			miniscript, err)
	}
	reencoded, err := decoded.Script()
	if err != nil {
		return err
	}
	if !strings.EqualFold(hex.EncodeToString(script),
		hex.EncodeToString(reencoded)) {

		return fmt.Errorf("the decoded expression %s renders a "+
			"different script", decoded)
	}

	return nil
}

// TestParse asserts valid miniscripts parse with the expected type and
// invalid ones are rejected.
func TestParse(t *testing.T) {
	t.Parallel()

	k1 := testKey("key-1")
	k2 := testKey("key-2")
	k3 := testKey("key-3")
	h32 := testHash("hash-1", 32)
	h20 := testHash("hash-2", 20)

	valid := []struct {
		miniscript   string
		expectedType string
	}{
		{fmt.Sprintf("pk(%s)", k1), "Bdemnosu"},
		{fmt.Sprintf("pkh(%s)", k1), "Bdemnsu"},
		{fmt.Sprintf("and_v(v:pk(%s),pk(%s))", k1, k2), "Bfmnsu"},
		{fmt.Sprintf("and_b(pk(%s),s:pk(%s))", k1, k2), "Bdemnsu"},
		{fmt.Sprintf("or_b(pk(%s),s:pk(%s))", k1, k2), "Bdemsu"},
		{fmt.Sprintf("or_d(pk(%s),pk(%s))", k1, k2), "Bdemsu"},
		{fmt.Sprintf("or_i(pk(%s),pk(%s))", k1, k2), "Bdemsu"},
		{fmt.Sprintf("andor(pk(%s),older(144),pk(%s))", k1, k2),
			"Bdems"},
		{fmt.Sprintf("and_n(pk(%s),older(144))", k1), "Bdems"},
		{fmt.Sprintf("t:or_c(pk(%s),v:pk(%s))", k1, k2), "Bfmsu"},
		{fmt.Sprintf("thresh(2,pk(%s),s:pk(%s),s:pk(%s))", k1, k2, k3),
			"Bdemsu"},
		{fmt.Sprintf("multi(2,%s,%s)", k1, k2), "Bdemnsu"},
		{fmt.Sprintf("sha256(%s)", h32), "Bdmnou"},
		{fmt.Sprintf("hash160(%s)", h20), "Bdmnou"},
		{fmt.Sprintf("and_v(v:sha256(%s),pk(%s))", h32, k1),
			"Bmnsu"},
		{fmt.Sprintf("j:multi(1,%s)", k1), "Bdmnsu"},
		{"older(144)", "Bfmz"},
		{"after(1000)", "Bfmz"},
		{fmt.Sprintf("uuu:pk(%s)", k1), "Bdmsu"},
	}
	for _, tc := range valid {
		require.NoError(t, checkMiniscript(
			tc.miniscript, tc.expectedType, 0), tc.miniscript)
	}

	invalid := []string{
		"",
		"0(",
		"older(0)",
		"older(2147483648)",
		"unknown(1)",
		fmt.Sprintf("pk(%s", k1),
		fmt.Sprintf("pk(%s))", k1),
		// Wrong key length.
		"pk(00)",
		// Hash must be 32 bytes.
		fmt.Sprintf("sha256(%s)", h20),
		// pk_k expects a key, not a K expression.
		fmt.Sprintf("pk(pk(%s))", k1),
		// The first or_b argument must have the d property.
		fmt.Sprintf("or_b(and_v(v:pk(%s),pk(%s)),s:pk(%s))",
			k1, k2, k3),
		// A W type is required after the first thresh argument.
		fmt.Sprintf("thresh(2,pk(%s),pk(%s))", k1, k2),
		// k out of range.
		fmt.Sprintf("thresh(3,pk(%s),s:pk(%s))", k1, k2),
		fmt.Sprintf("multi(0,%s)", k1),
	}
	for _, miniscript := range invalid {
		_, err := Parse(miniscript)
		require.Error(t, err, miniscript)
	}

	// Valid expressions that are not valid as a top level script: the top
	// level must be type B.
	for _, miniscript := range []string{
		fmt.Sprintf("v:pk(%s)", k1),
		fmt.Sprintf("pk_k(%s)", k1),
	} {
		node, err := Parse(miniscript)
		require.NoError(t, err, miniscript)
		require.Error(t, node.IsValidTopLevel(), miniscript)
	}
}

// TestNotation asserts that parsed expressions render back to their
// canonical notation.
func TestNotation(t *testing.T) {
	t.Parallel()

	k1 := testKey("key-1")
	k2 := testKey("key-2")

	testCases := []struct {
		miniscript string
		expected   string
	}{
		// Already canonical.
		{fmt.Sprintf("pk(%s)", k1), ""},
		{fmt.Sprintf("pkh(%s)", k1), ""},
		{fmt.Sprintf("or_b(pk(%s),s:pk(%s))", k1, k2), ""},
		{fmt.Sprintf("andor(pk(%s),older(144),pk(%s))", k1, k2), ""},
		{fmt.Sprintf("thresh(2,pk(%s),s:pk(%s))", k1, k2), ""},
		{"older(144)", ""},

		// Sugar and wrapper chains normalize.
		{
			fmt.Sprintf("c:pk_k(%s)", k1),
			fmt.Sprintf("pk(%s)", k1),
		},
		{
			fmt.Sprintf("vc:pk_k(%s)", k1),
			fmt.Sprintf("v:pk(%s)", k1),
		},
		{
			fmt.Sprintf("and_n(pk(%s),older(144))", k1),
			fmt.Sprintf("andor(pk(%s),older(144),0)", k1),
		},
		{
			fmt.Sprintf("t:or_c(pk(%s),v:pk(%s))", k1, k2),
			fmt.Sprintf("and_v(or_c(pk(%s),v:pk(%s)),1)", k1, k2),
		},
		{
			fmt.Sprintf("l:pk(%s)", k1),
			fmt.Sprintf("or_i(0,pk(%s))", k1),
		},
	}
	for _, tc := range testCases {
		node, err := Parse(tc.miniscript)
		require.NoError(t, err, tc.miniscript)
		expected := tc.expected
		if expected == "" {
			expected = tc.miniscript
		}
		require.Equal(t, expected, node.String())
	}
}

// TestScriptLimits asserts the standardness script size cap and the
// consensus op count cap.
func TestScriptLimits(t *testing.T) {
	t.Parallel()

	// A threshold with enough signature checks exceeds the consensus op
	// cap while staying under the standardness size cap.
	subs := make([]string, 0, 69)
	subs = append(subs, fmt.Sprintf("pk(%s)", testKey("op-cap-0")))
	for i := 1; i < 69; i++ {
		subs = append(subs, fmt.Sprintf(
			"s:pk(%s)", testKey(fmt.Sprintf("op-cap-%d", i))))
	}
	script := fmt.Sprintf("thresh(2,%s)", strings.Join(subs, ","))

	node, err := Parse(script)
	require.NoError(t, err)
	require.NoError(t, node.IsValidTopLevel())
	require.Greater(t, node.maxOpCount(), maxOpsPerScript)
	err = node.IsSane()
	require.Error(t, err)
	require.Contains(t, err.Error(), "ops")
}
