// Copyright (c) 2024 The liftscan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"errors"
	"fmt"
	"strings"
)

// PolicyType enumerates the node types of a semantic policy.
type PolicyType string

const (
	// PolicyUnsatisfiable can never be satisfied.
	PolicyUnsatisfiable PolicyType = "unsatisfiable"

	// PolicyTrivial is satisfied by the empty witness.
	PolicyTrivial PolicyType = "trivial"

	// PolicyKey requires a signature for a public key.
	PolicyKey PolicyType = "key"

	// PolicyAfter requires an absolute locktime.
	PolicyAfter PolicyType = "after"

	// PolicyOlder requires a relative locktime.
	PolicyOlder PolicyType = "older"

	// PolicySha256, PolicyHash256, PolicyRipemd160 and PolicyHash160
	// require revealing a preimage of the given digest.
	PolicySha256    PolicyType = "sha256"
	PolicyHash256   PolicyType = "hash256"
	PolicyRipemd160 PolicyType = "ripemd160"
	PolicyHash160   PolicyType = "hash160"

	// PolicyThresh requires k of the sub-policies to be satisfied.
	PolicyThresh PolicyType = "thresh"
)

// Policy is the semantic spending policy of a miniscript expression: the
// conditions under which the script can be satisfied, with all of the
// malleability protections, timing of stack elements and other script level
// artifacts abstracted away. Lifting to a policy loses information by design,
// so a policy cannot be compiled back into a script.
type Policy struct {
	Type PolicyType

	// Key is the public key for PolicyKey nodes.
	Key []byte

	// LockTime is the consensus locktime value for PolicyAfter and
	// PolicyOlder nodes.
	LockTime uint64

	// Hash is the digest for the hash policy nodes.
	Hash []byte

	// K is the threshold for PolicyThresh nodes. K == len(Subs) is a
	// conjunction, K == 1 a disjunction.
	K int

	// Subs are the sub-policies of PolicyThresh nodes.
	Subs []*Policy
}

func policyThresh(k int, subs ...*Policy) *Policy {
	return &Policy{Type: PolicyThresh, K: k, Subs: subs}
}

// Lift abstracts the expression into its semantic spending policy.
//
// Lifting fails for expressions containing a raw key hash (a pk_h decoded
// from a script reveals only the HASH160 of the key), as a policy must be in
// terms of actual keys.
func (a *AST) Lift() (*Policy, error) {
	switch a.identifier {
	case f_0:
		return &Policy{Type: PolicyUnsatisfiable}, nil

	case f_1:
		return &Policy{Type: PolicyTrivial}, nil

	case f_pk_k, f_pk_h:
		key := a.args[0].value
		if len(key) != pubKeyLen {
			return nil, errors.New("raw key hashes cannot be " +
				"lifted")
		}
		return &Policy{Type: PolicyKey, Key: key}, nil

	case f_older:
		return &Policy{
			Type:     PolicyOlder,
			LockTime: a.args[0].num,
		}, nil

	case f_after:
		return &Policy{
			Type:     PolicyAfter,
			LockTime: a.args[0].num,
		}, nil

	case f_sha256, f_hash256, f_ripemd160, f_hash160:
		policyType := map[string]PolicyType{
			f_sha256:    PolicySha256,
			f_hash256:   PolicyHash256,
			f_ripemd160: PolicyRipemd160,
			f_hash160:   PolicyHash160,
		}[a.identifier]
		return &Policy{Type: policyType, Hash: a.args[0].value}, nil

	case f_andor:
		// andor(X,Y,Z) = or(and(X,Y),Z).
		x, err := a.args[0].Lift()
		if err != nil {
			return nil, err
		}
		y, err := a.args[1].Lift()
		if err != nil {
			return nil, err
		}
		z, err := a.args[2].Lift()
		if err != nil {
			return nil, err
		}
		return policyThresh(1, policyThresh(2, x, y), z), nil

	case f_and_v, f_and_b:
		x, err := a.args[0].Lift()
		if err != nil {
			return nil, err
		}
		y, err := a.args[1].Lift()
		if err != nil {
			return nil, err
		}
		return policyThresh(2, x, y), nil

	case f_or_b, f_or_c, f_or_d, f_or_i:
		x, err := a.args[0].Lift()
		if err != nil {
			return nil, err
		}
		z, err := a.args[1].Lift()
		if err != nil {
			return nil, err
		}
		return policyThresh(1, x, z), nil

	case f_thresh:
		subs := make([]*Policy, 0, len(a.args)-1)
		for _, arg := range a.args[1:] {
			sub, err := arg.Lift()
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
		return policyThresh(int(a.args[0].num), subs...), nil

	case f_multi:
		subs := make([]*Policy, 0, len(a.args)-1)
		for _, arg := range a.args[1:] {
			subs = append(subs, &Policy{
				Type: PolicyKey,
				Key:  arg.value,
			})
		}
		return policyThresh(int(a.args[0].num), subs...), nil

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_d, f_wrap_v, f_wrap_j,
		f_wrap_n:

		// Wrappers only adjust the script level plumbing.
		return a.args[0].Lift()

	default:
		return nil, fmt.Errorf("cannot lift %s", a.identifier)
	}
}

// Normalized flattens directly nested conjunctions and disjunctions and
// collapses thresholds over a single sub-policy. The policy semantics are
// unchanged.
func (p *Policy) Normalized() *Policy {
	if p.Type != PolicyThresh {
		return p
	}
	if len(p.Subs) == 1 {
		return p.Subs[0].Normalized()
	}

	subs := make([]*Policy, 0, len(p.Subs))
	isAnd := p.K == len(p.Subs)
	isOr := p.K == 1
	for _, sub := range p.Subs {
		sub = sub.Normalized()
		if sub.Type == PolicyThresh {
			subIsAnd := sub.K == len(sub.Subs)
			subIsOr := sub.K == 1
			if (isAnd && subIsAnd) || (isOr && subIsOr) {
				subs = append(subs, sub.Subs...)
				continue
			}
		}
		subs = append(subs, sub)
	}

	k := p.K
	if isAnd {
		k = len(subs)
	}
	if len(subs) == 1 {
		return subs[0]
	}
	return policyThresh(k, subs...)
}

// String renders the policy. Thresholds requiring all sub-policies render as
// and(...), thresholds requiring one render as or(...), anything in between
// as thresh(k,...).
func (p *Policy) String() string {
	switch p.Type {
	case PolicyUnsatisfiable:
		return "UNSATISFIABLE"

	case PolicyTrivial:
		return "TRIVIAL"

	case PolicyKey:
		return fmt.Sprintf("pk(%x)", p.Key)

	case PolicyAfter:
		return fmt.Sprintf("after(%d)", p.LockTime)

	case PolicyOlder:
		return fmt.Sprintf("older(%d)", p.LockTime)

	case PolicySha256, PolicyHash256, PolicyRipemd160, PolicyHash160:
		return fmt.Sprintf("%s(%x)", p.Type, p.Hash)

	case PolicyThresh:
		subs := make([]string, 0, len(p.Subs))
		for _, sub := range p.Subs {
			subs = append(subs, sub.String())
		}
		switch {
		case p.K == len(p.Subs):
			return fmt.Sprintf("and(%s)",
				strings.Join(subs, ","))
		case p.K == 1:
			return fmt.Sprintf("or(%s)",
				strings.Join(subs, ","))
		default:
			return fmt.Sprintf("thresh(%d,%s)", p.K,
				strings.Join(subs, ","))
		}

	default:
		return "<unknown policy>"
	}
}
