// Copyright (c) 2024 The liftscan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package outscript

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Class identifies the standard output script template a raw script matches,
// if any.  Classification looks only at lengths and fixed prefix/suffix
// bytes, so it is total and never fails.
type Class byte

const (
	// Unrecognized indicates the script matches none of the standard
	// output templates.  Such a script is assumed to already be a
	// redeem/witness/leaf script rather than an output script.
	Unrecognized Class = iota

	// P2WPKH is a version 0 pay-to-witness-pubkey-hash output.
	P2WPKH

	// P2WSH is a version 0 pay-to-witness-script-hash output.
	P2WSH

	// P2SH is a pay-to-script-hash output.
	P2SH

	// P2TR is a version 1 (taproot) output.
	P2TR
)

// classNames maps each class to a human-readable name.
var classNames = map[Class]string{
	Unrecognized: "unrecognized",
	P2WPKH:       "P2WPKH v0",
	P2WSH:        "P2WSH v0",
	P2SH:         "P2SH",
	P2TR:         "P2TR v1",
}

// String implements the Stringer interface by returning the name of the
// class.
func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "invalid"
}

// HasInnerScript returns true if outputs of this class commit to a separate
// executable script (a redeem script, witness script or tapscript) that must
// be supplied to spend them.
func (c Class) HasInnerScript() bool {
	return c == P2WSH || c == P2SH || c == P2TR
}

// isWitnessPubKeyHashScript returns whether the script is a v0 P2WPKH output:
// OP_0 OP_DATA_20 <20-byte pubkey hash>.
func isWitnessPubKeyHashScript(script []byte) bool {
	return len(script) == 22 && script[0] == 0x00 && script[1] == 0x14
}

// isWitnessScriptHashScript returns whether the script is a v0 P2WSH output:
// OP_0 OP_DATA_32 <32-byte script hash>.
func isWitnessScriptHashScript(script []byte) bool {
	return len(script) == 34 && script[0] == 0x00 && script[1] == 0x20
}

// isScriptHashScript returns whether the script is a P2SH output:
// OP_HASH160 OP_DATA_20 <20-byte script hash> OP_EQUAL.
func isScriptHashScript(script []byte) bool {
	return len(script) == 23 && script[0] == 0xa9 && script[1] == 0x14 &&
		script[22] == 0x87
}

// isTaprootScript returns whether the script is a v1 P2TR output:
// OP_1 OP_DATA_32 <32-byte x-only output key>.
func isTaprootScript(script []byte) bool {
	return len(script) == 34 && script[0] == 0x51 && script[1] == 0x20
}

// Classify returns the class of the passed raw output script.  The template
// predicates are pairwise exclusive by construction (the lengths or prefixes
// differ), so exactly one class is returned for any byte sequence.
func Classify(script []byte) Class {
	switch {
	case isWitnessPubKeyHashScript(script):
		return P2WPKH
	case isWitnessScriptHashScript(script):
		return P2WSH
	case isScriptHashScript(script):
		return P2SH
	case isTaprootScript(script):
		return P2TR
	}
	return Unrecognized
}

// DigestAlgo identifies the digest algorithm an output script template uses
// to commit to its inner script.
type DigestAlgo byte

const (
	// AlgoSHA256 is a single SHA-256 digest (P2WSH).
	AlgoSHA256 DigestAlgo = iota

	// AlgoHash160 is RIPEMD-160 of SHA-256 (P2SH).
	AlgoHash160
)

// Commitment is the digest a template output script embeds for its inner
// script, along with the algorithm that produced it.
type Commitment struct {
	// ExpectedDigest is the digest bytes carried in the output script: 32
	// bytes for AlgoSHA256, 20 bytes for AlgoHash160.
	ExpectedDigest []byte

	// Algo is the digest algorithm the template commits with.
	Algo DigestAlgo
}

// ExtractCommitment returns the inner-script commitment embedded in the
// passed output script.  Only P2WSH and P2SH outputs carry a commitment this
// tool can verify; the taproot commitment requires a control block and merkle
// path and is deliberately not extracted here.
func ExtractCommitment(class Class, script []byte) (*Commitment, error) {
	switch class {
	case P2WSH:
		if !isWitnessScriptHashScript(script) {
			return nil, fmt.Errorf("script is not a valid P2WSH " +
				"output")
		}
		return &Commitment{
			ExpectedDigest: script[2:34],
			Algo:           AlgoSHA256,
		}, nil

	case P2SH:
		if !isScriptHashScript(script) {
			return nil, fmt.Errorf("script is not a valid P2SH " +
				"output")
		}
		return &Commitment{
			ExpectedDigest: script[2:22],
			Algo:           AlgoHash160,
		}, nil
	}

	return nil, fmt.Errorf("unsupported scriptPubKey type for "+
		"inner-script verification (expected P2WSH or P2SH, got %v)",
		class)
}

// VerifyCommitment checks that the candidate inner script hashes to the
// commitment embedded in the passed output script.  The comparison is exact
// byte equality of the full digest; a nil return means the inner script is
// the one the output commits to.
func VerifyCommitment(class Class, script, inner []byte) error {
	commitment, err := ExtractCommitment(class, script)
	if err != nil {
		return err
	}

	switch commitment.Algo {
	case AlgoSHA256:
		digest := chainhash.HashB(inner)
		if !bytes.Equal(commitment.ExpectedDigest, digest) {
			return fmt.Errorf("inner script does not match P2WSH " +
				"witness program (expected sha256(inner))")
		}

	case AlgoHash160:
		digest := btcutil.Hash160(inner)
		if !bytes.Equal(commitment.ExpectedDigest, digest) {
			return fmt.Errorf("inner script does not match P2SH " +
				"redeem hash (expected hash160(inner))")
		}

	default:
		return fmt.Errorf("unknown digest algorithm %d", commitment.Algo)
	}

	return nil
}
