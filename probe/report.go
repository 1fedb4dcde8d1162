// Copyright (c) 2024 The liftscan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package probe

import (
	"fmt"
)

// Exit codes of the liftability report. Downstream tooling branches on
// these, so they are part of the interface.
const (
	// ExitSafe is returned for SafeLiftable outcomes.
	ExitSafe = 0

	// ExitUnsafe is returned for UnsafeLiftable outcomes.
	ExitUnsafe = 1

	// ExitFailure is returned for NotParseable outcomes and for every
	// failure before the probe runs (usage, hex decoding, commitment
	// mismatches).
	ExitFailure = 3
)

// Report is the printable form of an outcome: the exact output lines and the
// process exit code.
type Report struct {
	Lines    []string
	ExitCode int
}

// policyLine renders the policy part of a report, falling back to an inline
// error placeholder if the lift failed.
func policyLine(label string, outcome *Outcome) string {
	if outcome.PolicyErr != nil {
		return fmt.Sprintf("%s: <error: %v>", label, outcome.PolicyErr)
	}
	return fmt.Sprintf("%s: %s", label, outcome.Policy)
}

// Report maps the outcome to its output lines and exit code.
func (o *Outcome) Report() *Report {
	switch o.Kind {
	case SafeLiftable:
		return &Report{
			Lines: []string{
				"LIFTABLE: SAFE",
				fmt.Sprintf("Miniscript: %s", o.Script),
				policyLine("Policy", o),
			},
			ExitCode: ExitSafe,
		}

	case UnsafeLiftable:
		return &Report{
			Lines: []string{
				fmt.Sprintf("LIFTABLE: UNSAFE - %v",
					o.StrictErr),
				fmt.Sprintf("Miniscript (unchecked): %s",
					o.Script),
				policyLine("Policy (from unchecked)", o),
			},
			ExitCode: ExitUnsafe,
		}

	default:
		return &Report{
			Lines: []string{
				fmt.Sprintf("NOT_LIFTABLE: %v", o.ParseErr),
			},
			ExitCode: ExitFailure,
		}
	}
}

// NewFailureReport builds the report for failures that happen before the
// probe could run: usage errors, invalid hex and commitment mismatches.
func NewFailureReport(format string, args ...interface{}) *Report {
	return &Report{
		Lines: []string{
			"NOT_LIFTABLE: " + fmt.Sprintf(format, args...),
		},
		ExitCode: ExitFailure,
	}
}
