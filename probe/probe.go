// Copyright (c) 2024 The liftscan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package probe determines whether an executable script is liftable: whether
// it is expressible in miniscript and therefore can be abstracted into a
// semantic spending policy. The probe runs two parsing tiers against the
// script and maps the results into one of three outcomes, which the report
// layer turns into output lines and a process exit code.
package probe

import (
	"fmt"
)

// ParsedScript is a script accepted by one of the engine's parsing tiers.
// Its String method renders the canonical miniscript notation.
type ParsedScript interface {
	fmt.Stringer
}

// Engine is the script analysis engine the prober runs against.
type Engine interface {
	// ParseStrict parses a raw script, accepting only scripts that are
	// safe to use: non-malleable, requiring a signature on every path
	// and within consensus resource limits.
	ParseStrict(script []byte) (ParsedScript, error)

	// ParseRelaxed parses a raw script, accepting any structurally valid
	// miniscript regardless of whether it is safe to use.
	ParseRelaxed(script []byte) (ParsedScript, error)

	// Lift abstracts a parsed script into its semantic spending policy.
	Lift(script ParsedScript) (fmt.Stringer, error)
}

// Kind is the three-way liftability classification of a script.
type Kind byte

const (
	// SafeLiftable means the script passed the strict parsing tier.
	SafeLiftable Kind = iota

	// UnsafeLiftable means the script failed the strict tier but passed
	// the relaxed one: it is valid miniscript, but satisfactions may be
	// malleable or may not require a signature.
	UnsafeLiftable

	// NotParseable means both tiers rejected the script.
	NotParseable
)

// Outcome is the result of probing a single script.
type Outcome struct {
	// Kind is the liftability classification.
	Kind Kind

	// Script is the parsed script for SafeLiftable and UnsafeLiftable
	// outcomes, nil otherwise.
	Script ParsedScript

	// Policy is the lifted policy of Script, nil if not parsed or if the
	// lift failed.
	Policy fmt.Stringer

	// PolicyErr is the lift failure for outcomes where Script is set but
	// Policy is not. A failed lift does not change the outcome kind.
	PolicyErr error

	// StrictErr is the strict tier rejection for UnsafeLiftable
	// outcomes.
	StrictErr error

	// ParseErr is the relaxed tier rejection for NotParseable outcomes.
	ParseErr error
}

// Probe classifies the liftability of the passed script. The strict tier
// runs first; its rejection reason is preserved when falling back to the
// relaxed tier so the caller can report why the script is considered unsafe.
func Probe(engine Engine, script []byte) *Outcome {
	parsed, strictErr := engine.ParseStrict(script)
	if strictErr == nil {
		log.Debugf("script of %d bytes passed the strict tier",
			len(script))
		outcome := &Outcome{Kind: SafeLiftable, Script: parsed}
		outcome.Policy, outcome.PolicyErr = engine.Lift(parsed)
		return outcome
	}

	parsed, relaxedErr := engine.ParseRelaxed(script)
	if relaxedErr == nil {
		log.Debugf("script of %d bytes rejected by the strict tier "+
			"(%v) but passed the relaxed tier", len(script),
			strictErr)
		outcome := &Outcome{
			Kind:      UnsafeLiftable,
			Script:    parsed,
			StrictErr: strictErr,
		}
		outcome.Policy, outcome.PolicyErr = engine.Lift(parsed)
		return outcome
	}

	log.Debugf("script of %d bytes rejected by both tiers: %v",
		len(script), relaxedErr)
	return &Outcome{Kind: NotParseable, ParseErr: relaxedErr}
}
