// Copyright (c) 2024 The liftscan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package miniscript implements parsing, decoding and semantic analysis of
// miniscript in the Segwitv0 script context.
//
// Two entry points produce a typed AST: Parse consumes miniscript notation
// (used to build fixtures and render scripts), Decode consumes raw script
// bytes.  On top of Decode, ParseStrict and ParseRelaxed implement the two
// analysis tiers: the strict tier only accepts scripts that are safe to
// satisfy (non-malleable, signature-requiring, within consensus resource
// limits), while the relaxed tier accepts any structurally valid script.
package miniscript

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// pubKeyLen is the length of a public key inside P2WSH, which are 33
	// byte compressed public keys.
	pubKeyLen = 33

	// pubKeyDataPushLen is the length of a public key data push in P2WSH,
	// which is 1+33 (1 byte for the VarInt encoding of 33).
	pubKeyDataPushLen = 34

	// maxStandardP2WSHScriptSize is the maximum size in bytes of a
	// standard witnessScript.
	maxStandardP2WSHScriptSize = 3600

	// maxOpsPerScript is the maximum number of non-push operations per
	// script.
	maxOpsPerScript = 201

	// multisigMaxKeys is the maximum number of keys in a multisig.
	multisigMaxKeys = 20

	// keyHashLen is the length of a pk_h key hash (HASH160 output).
	keyHashLen = 20
)

const (
	// All fragment identifiers.

	f_0         = "0"         // 0
	f_1         = "1"         // 1
	f_pk_k      = "pk_k"      // pk_k(key)
	f_pk_h      = "pk_h"      // pk_h(key)
	f_pk        = "pk"        // pk(key) = c:pk_k(key)
	f_pkh       = "pkh"       // pkh(key) = c:pk_h(key)
	f_sha256    = "sha256"    // sha256(h)
	f_ripemd160 = "ripemd160" // ripemd160(h)
	f_hash256   = "hash256"   // hash256(h)
	f_hash160   = "hash160"   // hash160(h)
	f_older     = "older"     // older(n)
	f_after     = "after"     // after(n)
	f_andor     = "andor"     // andor(X,Y,Z)
	f_and_v     = "and_v"     // and_v(X,Y)
	f_and_b     = "and_b"     // and_b(X,Y)
	f_and_n     = "and_n"     // and_n(X,Y) = andor(X,Y,0)
	f_or_b      = "or_b"      // or_b(X,Z)
	f_or_c      = "or_c"      // or_c(X,Z)
	f_or_d      = "or_d"      // or_d(X,Z)
	f_or_i      = "or_i"      // or_i(X,Z)
	f_thresh    = "thresh"    // thresh(k,X1,...,Xn)
	f_multi     = "multi"     // multi(k,key1,...,keyn)
	f_wrap_a    = "a"         // a:X
	f_wrap_s    = "s"         // s:X
	f_wrap_c    = "c"         // c:X
	f_wrap_d    = "d"         // d:X
	f_wrap_v    = "v"         // v:X
	f_wrap_j    = "j"         // j:X
	f_wrap_n    = "n"         // n:X
	f_wrap_t    = "t"         // t:X = and_v(X,1)
	f_wrap_l    = "l"         // l:X = or_i(0,X)
	f_wrap_u    = "u"         // u:X = or_i(X,0)
)

// expandedWrappers are the wrapper identifiers that survive desugaring and
// appear as single-argument nodes in a fully transformed AST.
const expandedWrappers = "ascdvjn"

type basicType string

const (
	typeB basicType = "B"
	typeV basicType = "V"
	typeK basicType = "K"
	typeW basicType = "W"
)

type properties struct {
	// Basic type properties.
	z, o, n, d, u bool

	// Malleability properties.
	// If `m`, a non-malleable satisfaction is guaranteed to exist.
	// The purpose of s/f/e is only to compute `m` and can be disregarded
	// afterward.
	m, s, f, e bool

	// canCollapseVerify enables checking if the rightmost script byte
	// produced by this node is OP_EQUAL, OP_CHECKSIG or OP_CHECKMULTISIG.
	//
	// If so, it can be converted into the VERIFY version if an ancestor is
	// the verify wrapper `v`, i.e. OP_EQUALVERIFY, OP_CHECKSIGVERIFY and
	// OP_CHECKMULTISIGVERIFY instead of using two opcodes, e.g.
	// `OP_EQUAL OP_VERIFY`.
	canCollapseVerify bool
}

func (p properties) String() string {
	s := strings.Builder{}
	if p.z {
		s.WriteRune('z')
	}
	if p.o {
		s.WriteRune('o')
	}
	if p.n {
		s.WriteRune('n')
	}
	if p.d {
		s.WriteRune('d')
	}
	if p.u {
		s.WriteRune('u')
	}
	if p.m {
		s.WriteRune('m')
	}
	if p.s {
		s.WriteRune('s')
	}
	if p.f {
		s.WriteRune('f')
	}
	if p.e {
		s.WriteRune('e')
	}
	return s.String()
}

// AST is the abstract syntax tree representing a miniscript expression.
type AST struct {
	basicType  basicType
	props      properties
	wrappers   string
	identifier string

	// num is the parsed integer for when identifier is expected to be a
	// number, i.e. the first argument of older/after/multi/thresh. This is
	// not used otherwise.
	num uint64

	// For key arguments, this will be the 33 bytes compressed pubkey.
	// For pk_h arguments decoded from raw script, this is the 20 byte key
	// hash (the underlying key is unknown).
	// For hash arguments, this will be the 32 bytes (sha256, hash256) or
	// 20 bytes (ripemd160, hash160) hash.
	value     []byte
	args      []*AST
	scriptLen int
	opCount   ops
}

// formattedType returns the basic type (B, V, K or W) followed by all type
// properties.
func (a *AST) formattedType() string {
	return fmt.Sprintf("%s%s", a.basicType, a.props)
}

func (a *AST) isValid() error {
	if a.scriptLen > maxStandardP2WSHScriptSize {
		return fmt.Errorf("the script size is %v, which is larger "+
			"than the maximum standard P2WSH script size of %v",
			a.scriptLen, maxStandardP2WSHScriptSize)
	}
	return nil
}

// IsValidTopLevel checks whether this node is valid as a script on its own.
func (a *AST) IsValidTopLevel() error {
	if err := a.isValid(); err != nil {
		return err
	}

	// Top-level expression must be of type "B".
	return a.expectBasicType(typeB)
}

// validSatisfactions checks whether successful non-malleable satisfactions
// are guaranteed to be valid and that a satisfaction does not violate the
// maximum op count.
func (a *AST) validSatisfactions() error {
	if err := a.isValid(); err != nil {
		return err
	}
	if a.maxOpCount() > maxOpsPerScript {
		return fmt.Errorf("the script requires a maximum number of %d "+
			"ops, which is larger than the consensus limit of %d",
			a.maxOpCount(), maxOpsPerScript)
	}
	return nil
}

// isSaneSubexpression checks whether the apparent policy of this node matches
// its script semantics. Doesn't guarantee it is a safe script on its own.
func (a *AST) isSaneSubexpression() error {
	if err := a.validSatisfactions(); err != nil {
		return err
	}
	if !a.props.m {
		return errors.New("malleable")
	}
	return nil
}

// IsSane checks whether this node is safe as a script on its own.
func (a *AST) IsSane() error {
	if err := a.IsValidTopLevel(); err != nil {
		return err
	}
	if err := a.isSaneSubexpression(); err != nil {
		return err
	}
	if !a.props.s {
		return errors.New("does not need signature")
	}
	return nil
}

// maxOpCount returns the maximum number of ops needed to satisfy this script
// in a non-malleable way.
func (a *AST) maxOpCount() int {
	return a.opCount.count + a.opCount.sat.value
}

// expectBasicType is a helper function to check that this node has a specific
// type.
func (a *AST) expectBasicType(typ basicType) error {
	if a.basicType != typ {
		return fmt.Errorf("expression `%s` expected to have type %s, "+
			"but is type %s", a.identifier, typ, a.basicType)
	}
	return nil
}

// isWrapper reports whether this node is one of the expanded single-argument
// wrappers (a/s/c/d/v/j/n).
func (a *AST) isWrapper() bool {
	return len(a.identifier) == 1 && len(a.args) == 1 &&
		strings.Contains(expandedWrappers, a.identifier)
}

// String renders the node in canonical miniscript notation.  Chains of
// wrappers are merged into a single prefix (`v(c(X))` prints as `vc:X`) and
// the pk/pkh sugar is applied, so `c:pk_k(key)` prints as `pk(key)`.
func (a *AST) String() string {
	var s strings.Builder
	a.writeNotation(&s)
	return s.String()
}

func (a *AST) writeNotation(s *strings.Builder) {
	// Collect the wrapper prefix, outermost first.
	var wrapperChain []byte
	node := a
	for node.isWrapper() {
		wrapperChain = append(wrapperChain, node.identifier[0])
		node = node.args[0]
	}

	name := node.identifier
	if n := len(wrapperChain); n > 0 && wrapperChain[n-1] == 'c' {
		switch name {
		case f_pk_k:
			name = f_pk
			wrapperChain = wrapperChain[:n-1]
		case f_pk_h:
			name = f_pkh
			wrapperChain = wrapperChain[:n-1]
		}
	}
	if len(wrapperChain) > 0 {
		s.Write(wrapperChain)
		s.WriteRune(':')
	}
	s.WriteString(name)

	if len(node.args) == 0 {
		return
	}
	s.WriteRune('(')
	for i, arg := range node.args {
		if i > 0 {
			s.WriteRune(',')
		}
		if len(arg.args) == 0 && arg.basicType == "" {
			// Leaf argument: a number, key or hash value.
			s.WriteString(arg.identifier)
			continue
		}
		arg.writeNotation(s)
	}
	s.WriteRune(')')
}

func (a *AST) drawTree(w io.Writer, indent string) {
	if a.wrappers != "" {
		_, _ = fmt.Fprintf(w, "%s:", a.wrappers)
	}
	_, _ = fmt.Fprint(w, a.identifier)
	typ := a.formattedType()
	if a.props.canCollapseVerify {
		typ += "v"
	}
	if typ != "" {
		_, _ = fmt.Fprintf(w, " [%s]", typ)
	}
	if a.value != nil {
		h := hex.EncodeToString(a.value)
		if h != a.identifier {
			_, _ = fmt.Fprintf(w, " [%x]", a.value)
		}
	}
	_, _ = fmt.Fprintln(w)
	for i, arg := range a.args {
		mark := ""
		delim := ""
		if i == len(a.args)-1 {
			mark = "└──"
		} else {
			mark = "├──"
			delim = "|"
		}
		_, _ = fmt.Fprintf(w, "%s%s", indent, mark)
		padLen := len([]rune(arg.identifier)) + len([]rune(mark)) -
			1 - len(delim)
		padding := strings.Repeat(" ", padLen)
		arg.drawTree(w, indent+delim+padding)
	}
}

// DrawTree renders the AST with one node per line for debugging.
func (a *AST) DrawTree() string {
	var b strings.Builder
	a.drawTree(&b, "")
	return b.String()
}

func (a *AST) apply(f func(*AST) (*AST, error)) (*AST, error) {
	for i, arg := range a.args {
		// We don't recurse into arguments which are not miniscript
		// subexpressions themselves:
		// key/hash values and the numeric arguments of
		// older/after/multi/thresh.
		switch a.identifier {
		case f_pk_k, f_pk_h, f_pk, f_pkh,
			f_sha256, f_hash256, f_ripemd160, f_hash160,
			f_older, f_after, f_multi:

			// None of the arguments of these functions are
			// miniscript subexpressions - they are concrete
			// values or numbers.
			continue

		case f_thresh:
			// First argument is a number. The other arguments are
			// subexpressions, which we want to visit, so only skip
			// the first argument.
			if i == 0 {
				continue
			}
		}

		newArg, err := arg.apply(f)
		if err != nil {
			return nil, err
		}
		a.args[i] = newArg
	}
	return f(a)
}

type stack struct {
	elements []*AST
}

func (s *stack) push(element *AST) {
	s.elements = append(s.elements, element)
}

func (s *stack) pop() *AST {
	if len(s.elements) == 0 {
		return nil
	}
	top := s.elements[len(s.elements)-1]
	s.elements = s.elements[:len(s.elements)-1]
	return top
}

func (s *stack) top() *AST {
	if len(s.elements) == 0 {
		return nil
	}
	return s.elements[len(s.elements)-1]
}

func (s *stack) size() int {
	return len(s.elements)
}
