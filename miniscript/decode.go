// Copyright (c) 2024 The liftscan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
)

// scriptToken is a single element of a tokenized script: either a data push,
// in which case data is non-nil, or a plain opcode.
type scriptToken struct {
	op   byte
	data []byte
}

func tokenizeScript(script []byte) ([]scriptToken, error) {
	var tokens []scriptToken
	const scriptVersion = 0
	tokenizer := txscript.MakeScriptTokenizer(scriptVersion, script)
	for tokenizer.Next() {
		token := scriptToken{op: tokenizer.Opcode()}
		if len(tokenizer.Data()) > 0 {
			token.data = tokenizer.Data()
		}
		tokens = append(tokens, token)
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// scriptReader consumes a tokenized script back to front. Miniscript
// fragments put their distinguishing opcode last (CHECKSIG, BOOLAND, ENDIF,
// EQUAL, ...), so decoding walks the script from the tail and recurses into
// the arguments from there.
type scriptReader struct {
	tokens []scriptToken

	// pos is the index of the next token to consume, moving towards the
	// front of the script.
	pos int
}

func newScriptReader(tokens []scriptToken) *scriptReader {
	return &scriptReader{tokens: tokens, pos: len(tokens) - 1}
}

func (r *scriptReader) empty() bool {
	return r.pos < 0
}

func (r *scriptReader) next() (scriptToken, error) {
	if r.empty() {
		return scriptToken{}, errors.New("unexpected start of script")
	}
	token := r.tokens[r.pos]
	r.pos--
	return token, nil
}

// peekAt returns the token n positions before the read position without
// consuming anything. peekAt(0) is the token next() would return.
func (r *scriptReader) peekAt(n int) (scriptToken, bool) {
	if r.pos-n < 0 {
		return scriptToken{}, false
	}
	return r.tokens[r.pos-n], true
}

func (r *scriptReader) peekOp() (byte, bool) {
	token, ok := r.peekAt(0)
	if !ok || token.data != nil {
		return 0, false
	}
	return token.op, true
}

// expectOp consumes the next token and checks that it is the given plain
// opcode.
func (r *scriptReader) expectOp(op byte) error {
	token, err := r.next()
	if err != nil {
		return err
	}
	if token.data != nil || token.op != op {
		return fmt.Errorf("expected opcode 0x%02x", op)
	}
	return nil
}

// readScriptNum consumes a number push. Small integers are encoded as
// OP_0..OP_16, larger ones as minimally encoded little endian data pushes of
// up to maxLen bytes.
func (r *scriptReader) readScriptNum(maxLen int) (int64, error) {
	token, err := r.next()
	if err != nil {
		return 0, err
	}
	if token.data == nil {
		if !txscript.IsSmallInt(token.op) {
			return 0, fmt.Errorf("expected a number, got opcode "+
				"0x%02x", token.op)
		}
		return int64(txscript.AsSmallInt(token.op)), nil
	}
	n, err := txscript.MakeScriptNum(token.data, true, maxLen)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

func newKeyArg(value []byte) *AST {
	return &AST{identifier: hex.EncodeToString(value), value: value}
}

func newNumArg(n int64) *AST {
	return &AST{identifier: strconv.FormatInt(n, 10), num: uint64(n)}
}

func wrap(wrapper string, node *AST) *AST {
	return &AST{identifier: wrapper, args: []*AST{node}}
}

func containsOp(ops []byte, op byte) bool {
	for _, el := range ops {
		if el == op {
			return true
		}
	}
	return false
}

// parseSeq parses expressions until the read position hits the start of the
// script or one of the stop opcodes, combining adjacent expressions with
// and_v. A sequence `[X] [Y]` with no combining opcode is exactly
// `and_v(X,Y)`, and a longer run associates to the right.
func parseSeq(r *scriptReader, stops ...byte) (*AST, error) {
	node, err := parseExpr(r)
	if err != nil {
		return nil, err
	}
	for !r.empty() {
		if op, ok := r.peekOp(); ok && containsOp(stops, op) {
			break
		}
		left, err := parseExpr(r)
		if err != nil {
			return nil, err
		}
		node = &AST{
			identifier: f_and_v,
			args:       []*AST{left, node},
		}
	}
	return node, nil
}

// parseExpr parses a single expression, dispatching on its final token.
func parseExpr(r *scriptReader) (*AST, error) {
	token, err := r.next()
	if err != nil {
		return nil, err
	}

	if token.data != nil {
		if len(token.data) == pubKeyLen {
			return &AST{
				identifier: f_pk_k,
				args:       []*AST{newKeyArg(token.data)},
			}, nil
		}
		return nil, fmt.Errorf("unexpected %d byte data push",
			len(token.data))
	}

	switch token.op {
	case txscript.OP_FALSE:
		return &AST{identifier: f_0}, nil

	case txscript.OP_TRUE:
		return &AST{identifier: f_1}, nil

	case txscript.OP_CHECKSIG:
		node, err := parseExpr(r)
		if err != nil {
			return nil, err
		}
		return wrap(f_wrap_c, node), nil

	case txscript.OP_CHECKSIGVERIFY:
		node, err := parseExpr(r)
		if err != nil {
			return nil, err
		}
		return wrap(f_wrap_v, wrap(f_wrap_c, node)), nil

	case txscript.OP_CHECKMULTISIG:
		return parseMulti(r, false)

	case txscript.OP_CHECKMULTISIGVERIFY:
		return parseMulti(r, true)

	case txscript.OP_CHECKSEQUENCEVERIFY:
		return parseTimelock(r, f_older)

	case txscript.OP_CHECKLOCKTIMEVERIFY:
		return parseTimelock(r, f_after)

	case txscript.OP_VERIFY:
		node, err := parseExpr(r)
		if err != nil {
			return nil, err
		}
		return wrap(f_wrap_v, node), nil

	case txscript.OP_0NOTEQUAL:
		node, err := parseExpr(r)
		if err != nil {
			return nil, err
		}
		return wrap(f_wrap_n, node), nil

	case txscript.OP_FROMALTSTACK:
		node, err := parseSeq(r, txscript.OP_TOALTSTACK)
		if err != nil {
			return nil, err
		}
		if err := r.expectOp(txscript.OP_TOALTSTACK); err != nil {
			return nil, err
		}
		return wrap(f_wrap_a, node), nil

	case txscript.OP_BOOLAND:
		y, err := parseWExpr(r)
		if err != nil {
			return nil, err
		}
		x, err := parseExpr(r)
		if err != nil {
			return nil, err
		}
		return &AST{identifier: f_and_b, args: []*AST{x, y}}, nil

	case txscript.OP_BOOLOR:
		z, err := parseWExpr(r)
		if err != nil {
			return nil, err
		}
		x, err := parseExpr(r)
		if err != nil {
			return nil, err
		}
		return &AST{identifier: f_or_b, args: []*AST{x, z}}, nil

	case txscript.OP_ENDIF:
		return parseConditional(r)

	case txscript.OP_EQUAL:
		return parseEqual(r, false)

	case txscript.OP_EQUALVERIFY:
		return parseEqual(r, true)

	default:
		return nil, fmt.Errorf("unexpected opcode 0x%02x", token.op)
	}
}

// parseWExpr parses an expression at a position where a W type is expected
// (arguments of and_b/or_b/thresh beyond the first). The `s` wrapper puts a
// SWAP in front of the expression; the `a` wrapper is handled by parseExpr
// when it hits FROMALTSTACK.
func parseWExpr(r *scriptReader) (*AST, error) {
	node, err := parseExpr(r)
	if err != nil {
		return nil, err
	}
	if op, ok := r.peekOp(); ok && op == txscript.OP_SWAP {
		_, _ = r.next()
		return wrap(f_wrap_s, node), nil
	}
	return node, nil
}

// parseConditional parses the fragments whose script ends in ENDIF:
//
//	or_i:  IF [X] ELSE [Z] ENDIF
//	andor: [X] NOTIF [Z] ELSE [Y] ENDIF
//	or_c:  [X] NOTIF [Z] ENDIF
//	or_d:  [X] IFDUP NOTIF [Z] ENDIF
//	d:     DUP IF [X] ENDIF
//	j:     SIZE 0NOTEQUAL IF [X] ENDIF
//
// The ENDIF itself has already been consumed.
func parseConditional(r *scriptReader) (*AST, error) {
	first, err := parseSeq(r,
		txscript.OP_ELSE, txscript.OP_IF, txscript.OP_NOTIF)
	if err != nil {
		return nil, err
	}

	op, ok := r.peekOp()
	if !ok {
		return nil, errors.New("unterminated conditional")
	}
	switch op {
	case txscript.OP_ELSE:
		_, _ = r.next()
		second, err := parseSeq(r, txscript.OP_IF, txscript.OP_NOTIF)
		if err != nil {
			return nil, err
		}
		op, ok := r.peekOp()
		if !ok {
			return nil, errors.New("unterminated conditional")
		}
		switch op {
		case txscript.OP_IF:
			_, _ = r.next()
			return &AST{
				identifier: f_or_i,
				args:       []*AST{second, first},
			}, nil

		case txscript.OP_NOTIF:
			_, _ = r.next()
			x, err := parseExpr(r)
			if err != nil {
				return nil, err
			}
			return &AST{
				identifier: f_andor,
				args:       []*AST{x, first, second},
			}, nil
		}
		return nil, errors.New("unterminated conditional")

	case txscript.OP_IF:
		_, _ = r.next()
		op, ok := r.peekOp()
		if !ok {
			return nil, errors.New("unterminated conditional")
		}
		switch op {
		case txscript.OP_DUP:
			_, _ = r.next()
			return wrap(f_wrap_d, first), nil

		case txscript.OP_0NOTEQUAL:
			_, _ = r.next()
			if err := r.expectOp(txscript.OP_SIZE); err != nil {
				return nil, err
			}
			return wrap(f_wrap_j, first), nil
		}
		return nil, errors.New("IF without DUP or SIZE 0NOTEQUAL " +
			"in front")

	case txscript.OP_NOTIF:
		_, _ = r.next()
		identifier := f_or_c
		if op, ok := r.peekOp(); ok && op == txscript.OP_IFDUP {
			_, _ = r.next()
			identifier = f_or_d
		}
		x, err := parseExpr(r)
		if err != nil {
			return nil, err
		}
		return &AST{identifier: identifier, args: []*AST{x, first}}, nil
	}
	return nil, errors.New("unterminated conditional")
}

// parseEqual parses the fragments whose script ends in OP_EQUAL or
// OP_EQUALVERIFY:
//
//	pk_h:   DUP HASH160 <20 byte key hash> EQUALVERIFY
//	hashes: SIZE <32> EQUALVERIFY <HASHOP> <digest> EQUAL
//	thresh: [X1] [W2] ADD ... [Wn] ADD <k> EQUAL
//
// pk_h always ends in EQUALVERIFY; for the others, the EQUALVERIFY form is
// the collapsed `v` wrapper. The EQUAL(VERIFY) itself has already been
// consumed.
func parseEqual(r *scriptReader, verify bool) (*AST, error) {
	token, ok := r.peekAt(0)
	if !ok {
		return nil, errors.New("unexpected start of script")
	}

	if token.data != nil {
		// A 20 byte push preceded by DUP HASH160 is a key hash, any
		// other preceding opcodes mean a hash digest.
		if len(token.data) == keyHashLen {
			hashOp, okHash := r.peekAt(1)
			dupOp, okDup := r.peekAt(2)
			if okHash && okDup && hashOp.data == nil &&
				hashOp.op == txscript.OP_HASH160 &&
				dupOp.data == nil &&
				dupOp.op == txscript.OP_DUP {

				if !verify {
					return nil, errors.New("key hash " +
						"check must use EQUALVERIFY")
				}
				_, _ = r.next()
				_, _ = r.next()
				_, _ = r.next()
				return &AST{
					identifier: f_pk_h,
					args: []*AST{
						newKeyArg(token.data),
					},
				}, nil
			}
		}

		switch len(token.data) {
		case 32, keyHashLen:
			return parseHashFragment(r, verify)
		}

		// Thresholds above 16 are minimally encoded data pushes rather
		// than small int opcodes.
		if len(token.data) <= 4 {
			return parseThresh(r, verify)
		}
		return nil, fmt.Errorf("unexpected %d byte data push before "+
			"EQUAL", len(token.data))
	}

	return parseThresh(r, verify)
}

// parseHashFragment parses the tail of `SIZE <32> EQUALVERIFY <HASHOP>
// <digest> EQUAL(VERIFY)` after the EQUAL(VERIFY). The read position is on
// the digest push.
func parseHashFragment(r *scriptReader, verify bool) (*AST, error) {
	digest, err := r.next()
	if err != nil {
		return nil, err
	}
	hashOp, err := r.next()
	if err != nil {
		return nil, err
	}
	if hashOp.data != nil {
		return nil, errors.New("expected a hash opcode")
	}

	var identifier string
	var digestLen int
	switch hashOp.op {
	case txscript.OP_SHA256:
		identifier, digestLen = f_sha256, 32
	case txscript.OP_HASH256:
		identifier, digestLen = f_hash256, 32
	case txscript.OP_RIPEMD160:
		identifier, digestLen = f_ripemd160, keyHashLen
	case txscript.OP_HASH160:
		identifier, digestLen = f_hash160, keyHashLen
	default:
		return nil, fmt.Errorf("unexpected opcode 0x%02x before "+
			"digest", hashOp.op)
	}
	if len(digest.data) != digestLen {
		return nil, fmt.Errorf("%s digest must be %d bytes, got %d",
			identifier, digestLen, len(digest.data))
	}

	// The preimage size check in front: SIZE <32> EQUALVERIFY.
	if err := r.expectOp(txscript.OP_EQUALVERIFY); err != nil {
		return nil, err
	}
	sizePush, err := r.next()
	if err != nil {
		return nil, err
	}
	if sizePush.data == nil || len(sizePush.data) != 1 ||
		sizePush.data[0] != 32 {

		return nil, errors.New("expected a push of 32 before the " +
			"preimage size check")
	}
	if err := r.expectOp(txscript.OP_SIZE); err != nil {
		return nil, err
	}

	node := &AST{
		identifier: identifier,
		args:       []*AST{newKeyArg(digest.data)},
	}
	if verify {
		return wrap(f_wrap_v, node), nil
	}
	return node, nil
}

// parseThresh parses the tail of `[X1] [W2] ADD ... [Wn] ADD <k>
// EQUAL(VERIFY)` after the EQUAL(VERIFY). The read position is on the
// threshold push.
func parseThresh(r *scriptReader, verify bool) (*AST, error) {
	k, err := r.readScriptNum(4)
	if err != nil {
		return nil, err
	}

	var subs []*AST
	for {
		op, ok := r.peekOp()
		if !ok || op != txscript.OP_ADD {
			break
		}
		_, _ = r.next()
		sub, err := parseWExpr(r)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	firstSub, err := parseExpr(r)
	if err != nil {
		return nil, err
	}
	subs = append(subs, firstSub)

	numSubs := len(subs)
	if k < 1 || k > int64(numSubs) {
		return nil, fmt.Errorf("thresh(k) -> k must 1 ≤ k ≤ n, but "+
			"got: %d", k)
	}

	args := make([]*AST, 0, numSubs+1)
	args = append(args, newNumArg(k))
	for i := numSubs - 1; i >= 0; i-- {
		args = append(args, subs[i])
	}
	node := &AST{identifier: f_thresh, args: args}
	if verify {
		return wrap(f_wrap_v, node), nil
	}
	return node, nil
}

// parseMulti parses the tail of `<k> <key1> ... <keyn> <n>
// OP_CHECKMULTISIG(VERIFY)` after the OP_CHECKMULTISIG(VERIFY).
func parseMulti(r *scriptReader, verify bool) (*AST, error) {
	n, err := r.readScriptNum(4)
	if err != nil {
		return nil, err
	}
	if n < 1 || n > multisigMaxKeys {
		return nil, fmt.Errorf("number of multisig keys must be "+
			"between 1 and %d, got %d", multisigMaxKeys, n)
	}

	keys := make([]*AST, n)
	for i := int(n) - 1; i >= 0; i-- {
		token, err := r.next()
		if err != nil {
			return nil, err
		}
		if len(token.data) != pubKeyLen {
			return nil, fmt.Errorf("multisig key expected to be "+
				"of size %d", pubKeyLen)
		}
		keys[i] = newKeyArg(token.data)
	}

	k, err := r.readScriptNum(4)
	if err != nil {
		return nil, err
	}
	if k < 1 || k > n {
		return nil, fmt.Errorf("multi(k) -> k must 1 ≤ k ≤ n, but "+
			"got: %d", k)
	}

	args := make([]*AST, 0, n+1)
	args = append(args, newNumArg(k))
	args = append(args, keys...)
	node := &AST{identifier: f_multi, args: args}
	if verify {
		return wrap(f_wrap_v, node), nil
	}
	return node, nil
}

// parseTimelock parses the tail of `<n> CHECKSEQUENCEVERIFY` (older) or `<n>
// CHECKLOCKTIMEVERIFY` (after) after the timelock opcode.
func parseTimelock(r *scriptReader, identifier string) (*AST, error) {
	n, err := r.readScriptNum(5)
	if err != nil {
		return nil, err
	}
	if n < 1 || n >= (1<<31) {
		return nil, fmt.Errorf("%s(n) -> n must 1 ≤ n < 2^31, but "+
			"got: %d", identifier, n)
	}
	return &AST{
		identifier: identifier,
		args:       []*AST{newNumArg(n)},
	}, nil
}

// Decode parses a raw witness script into a miniscript AST. The script must
// be the canonical encoding of the decoded expression and the expression must
// type check, but no top level or safety checks are applied; see ParseStrict
// and ParseRelaxed for those.
func Decode(script []byte) (*AST, error) {
	tokens, err := tokenizeScript(script)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errors.New("empty script")
	}
	if len(tokens) == 1 && tokens[0].data == nil {
		// A lone constant is a valid script but carries no spending
		// condition worth analyzing.
		switch tokens[0].op {
		case txscript.OP_FALSE:
			return nil, errors.New(
				"script is the bare constant 0")
		case txscript.OP_TRUE:
			return nil, errors.New(
				"script is the bare constant 1")
		}
	}

	r := newScriptReader(tokens)
	node, err := parseSeq(r)
	if err != nil {
		return nil, err
	}

	transformers := []func(*AST) (*AST, error){
		typeCheck,
		canCollapseVerify,
		malleabilityCheck,
		computeScriptLen,
		computeOpCount,
	}
	for _, transform := range transformers {
		node, err = node.apply(transform)
		if err != nil {
			return nil, err
		}
	}

	// The decoder accepts some scripts that a miniscript compiler would
	// never emit, e.g. a spilled OP_VERIFY after an OP_EQUAL. Requiring
	// the round trip keeps the mapping between scripts and expressions
	// one to one.
	reencoded, err := node.Script()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(reencoded, script) {
		return nil, errors.New("script is not the canonical " +
			"encoding of its miniscript")
	}

	log.Tracef("decoded miniscript %s from script %s:\n%s",
		node, scriptStr(node, false), node.DrawTree())

	return node, nil
}

// ParseRelaxed decodes a raw witness script and checks that it is a valid
// top level miniscript expression. No guarantees are made about the script
// being safe to use: satisfactions may be malleable or may not require a
// signature at all.
func ParseRelaxed(script []byte) (*AST, error) {
	node, err := Decode(script)
	if err != nil {
		return nil, err
	}
	if err := node.IsValidTopLevel(); err != nil {
		return nil, err
	}
	return node, nil
}

// ParseStrict decodes a raw witness script and checks that it is safe to
// use: the expression is a valid top level, every spending path requires a
// signature, a non-malleable satisfaction exists, satisfactions stay within
// the consensus op limit, all keys parse as compressed secp256k1 points and
// no key appears twice.
func ParseStrict(script []byte) (*AST, error) {
	node, err := Decode(script)
	if err != nil {
		return nil, err
	}
	if err := node.IsSane(); err != nil {
		return nil, err
	}
	if err := checkKeys(node); err != nil {
		return nil, err
	}
	return node, nil
}

// checkKeys checks that all keys in the expression parse as compressed
// secp256k1 public keys and that no key (or key hash) appears more than
// once.
func checkKeys(node *AST) error {
	seen := map[string]bool{}
	_, err := node.apply(func(node *AST) (*AST, error) {
		var keyArgs []*AST
		switch node.identifier {
		case f_pk_k, f_pk_h:
			keyArgs = node.args[:1]
		case f_multi:
			keyArgs = node.args[1:]
		default:
			return node, nil
		}
		for _, arg := range keyArgs {
			if seen[arg.identifier] {
				return nil, fmt.Errorf("duplicate key %s",
					arg.identifier)
			}
			seen[arg.identifier] = true

			if len(arg.value) == pubKeyLen {
				if _, err := btcec.ParsePubKey(arg.value); err != nil {
					return nil, fmt.Errorf("invalid "+
						"public key %s: %v",
						arg.identifier, err)
				}
			}
		}
		return node, nil
	})
	return err
}
