// Copyright (c) 2024 The liftscan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package probe

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// stringer is a trivial ParsedScript/policy implementation for the fake
// engine.
type stringer string

func (s stringer) String() string {
	return string(s)
}

// fakeEngine scripts the engine responses and records which tiers ran.
type fakeEngine struct {
	strictErr  error
	relaxedErr error
	liftErr    error

	strictCalls  int
	relaxedCalls int
	liftCalls    int
}

func (e *fakeEngine) ParseStrict(script []byte) (ParsedScript, error) {
	e.strictCalls++
	if e.strictErr != nil {
		return nil, e.strictErr
	}
	return stringer("strict"), nil
}

func (e *fakeEngine) ParseRelaxed(script []byte) (ParsedScript, error) {
	e.relaxedCalls++
	if e.relaxedErr != nil {
		return nil, e.relaxedErr
	}
	return stringer("relaxed"), nil
}

func (e *fakeEngine) Lift(script ParsedScript) (fmt.Stringer, error) {
	e.liftCalls++
	if e.liftErr != nil {
		return nil, e.liftErr
	}
	return stringer("policy"), nil
}

// TestProbeSafe asserts a strict tier success short-circuits: the relaxed
// tier never runs.
func TestProbeSafe(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	outcome := Probe(engine, []byte{0x51})

	require.Equal(t, SafeLiftable, outcome.Kind)
	require.Equal(t, "strict", outcome.Script.String())
	require.Equal(t, "policy", outcome.Policy.String())
	require.NoError(t, outcome.PolicyErr)
	require.Equal(t, 1, engine.strictCalls)
	require.Equal(t, 0, engine.relaxedCalls)

	report := outcome.Report()
	require.Equal(t, ExitSafe, report.ExitCode)
	require.Equal(t, []string{
		"LIFTABLE: SAFE",
		"Miniscript: strict",
		"Policy: policy",
	}, report.Lines)
}

// TestProbeUnsafe asserts the relaxed fallback preserves the strict
// rejection reason.
func TestProbeUnsafe(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{strictErr: errors.New("malleable")}
	outcome := Probe(engine, []byte{0x51})

	require.Equal(t, UnsafeLiftable, outcome.Kind)
	require.Equal(t, "relaxed", outcome.Script.String())
	require.EqualError(t, outcome.StrictErr, "malleable")
	require.Equal(t, 1, engine.strictCalls)
	require.Equal(t, 1, engine.relaxedCalls)

	report := outcome.Report()
	require.Equal(t, ExitUnsafe, report.ExitCode)
	require.Equal(t, []string{
		"LIFTABLE: UNSAFE - malleable",
		"Miniscript (unchecked): relaxed",
		"Policy (from unchecked): policy",
	}, report.Lines)
}

// TestProbeNotParseable asserts the relaxed rejection is reported when both
// tiers fail.
func TestProbeNotParseable(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		strictErr:  errors.New("strict reason"),
		relaxedErr: errors.New("relaxed reason"),
	}
	outcome := Probe(engine, []byte{0x51})

	require.Equal(t, NotParseable, outcome.Kind)
	require.Nil(t, outcome.Script)
	require.EqualError(t, outcome.ParseErr, "relaxed reason")
	require.Equal(t, 0, engine.liftCalls)

	report := outcome.Report()
	require.Equal(t, ExitFailure, report.ExitCode)
	require.Equal(t, []string{
		"NOT_LIFTABLE: relaxed reason",
	}, report.Lines)
}

// TestProbeLiftError asserts a failed lift is reported inline and does not
// change the outcome kind or exit code.
func TestProbeLiftError(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{liftErr: errors.New("raw key hashes")}
	outcome := Probe(engine, []byte{0x51})

	require.Equal(t, SafeLiftable, outcome.Kind)
	require.Nil(t, outcome.Policy)
	require.EqualError(t, outcome.PolicyErr, "raw key hashes")

	report := outcome.Report()
	require.Equal(t, ExitSafe, report.ExitCode)
	require.Equal(t, "Policy: <error: raw key hashes>", report.Lines[2])
}

// TestFailureReport asserts pre-probe failures format as NOT_LIFTABLE lines
// with the failure exit code.
func TestFailureReport(t *testing.T) {
	t.Parallel()

	report := NewFailureReport("invalid hex - %v", errors.New("boom"))
	require.Equal(t, ExitFailure, report.ExitCode)
	require.Equal(t, []string{
		"NOT_LIFTABLE: invalid hex - boom",
	}, report.Lines)
}
