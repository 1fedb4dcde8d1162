// Copyright (c) 2024 The liftscan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/liftscan/liftscan/miniscript"
	"github.com/liftscan/liftscan/outscript"
	"github.com/liftscan/liftscan/probe"
)

// scriptEngine adapts the miniscript package to the probe.Engine interface.
type scriptEngine struct{}

func (scriptEngine) ParseStrict(script []byte) (probe.ParsedScript, error) {
	node, err := miniscript.ParseStrict(script)
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (scriptEngine) ParseRelaxed(script []byte) (probe.ParsedScript, error) {
	node, err := miniscript.ParseRelaxed(script)
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (scriptEngine) Lift(script probe.ParsedScript) (fmt.Stringer, error) {
	node, ok := script.(*miniscript.AST)
	if !ok {
		return nil, fmt.Errorf("not a miniscript expression: %T",
			script)
	}
	policy, err := node.Lift()
	if err != nil {
		return nil, err
	}
	return policy.Normalized(), nil
}

// printReport writes the report lines to w and returns the report's exit
// code.
func printReport(w io.Writer, report *probe.Report) int {
	for _, line := range report.Lines {
		fmt.Fprintln(w, line)
	}
	return report.ExitCode
}

// analyzeScript maps the command line input to the script the prober should
// run on, applying the template classification and, where the template
// commits to an inner script, the commitment verification.  A non-nil report
// means the analysis stopped before the probe could run.
func analyzeScript(script []byte, innerHex string) ([]byte, *probe.Report) {
	class := outscript.Classify(script)
	if class == outscript.Unrecognized {
		// Not a recognized output template: treat the input as an
		// already-executable redeem/witness script.
		log.Debugf("input is not a template output script, probing "+
			"%d bytes directly", len(script))
		return script, nil
	}

	if !class.HasInnerScript() {
		// The witness program is a key hash, there is no separate
		// script to analyze.
		return nil, probe.NewFailureReport("input is a scriptPubKey "+
			"(%v); it commits to a public key hash and has no "+
			"separate witness script", class)
	}

	if innerHex == "" {
		if class == outscript.P2TR {
			return nil, probe.NewFailureReport("input is a "+
				"scriptPubKey (%v); provide tapscript hex as "+
				"second argument (commitment verification "+
				"unimplemented)", class)
		}
		return nil, probe.NewFailureReport("input is a scriptPubKey "+
			"(%v); provide inner redeem/witness script hex as "+
			"second argument", class)
	}

	inner, err := hex.DecodeString(innerHex)
	if err != nil {
		return nil, probe.NewFailureReport(
			"inner script invalid hex - %v", err)
	}

	if class == outscript.P2TR {
		// The taproot commitment can only be checked with a control
		// block and merkle path, so the tapscript is probed without a
		// commitment proof.
		log.Debugf("probing tapscript without commitment verification")
		return inner, nil
	}

	if err := outscript.VerifyCommitment(class, script, inner); err != nil {
		return nil, probe.NewFailureReport("%v", err)
	}
	log.Debugf("inner script of %d bytes matches the %v commitment",
		len(inner), class)

	return inner, nil
}

// liftscanMain is the real main function for liftscan.  It is factored out of
// main so the whole decision pipeline can be exercised without spawning a
// process, and returns the process exit code instead of calling os.Exit at
// each leaf.
func liftscanMain(args []string, w io.Writer) int {
	cfg, remainingArgs, err := loadConfig(args)
	if err != nil {
		return probe.ExitFailure
	}

	setLogLevels(cfg.DebugLevel)
	if cfg.LogFile != "" {
		if err := initLogRotator(cfg.LogFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return probe.ExitFailure
		}
	}

	if len(remainingArgs) > 0 {
		return printReport(w, probe.NewFailureReport(
			"unexpected extra arguments"))
	}
	if cfg.Args.Script == "" {
		return printReport(w, probe.NewFailureReport(
			"missing hex argument"))
	}

	script, err := hex.DecodeString(cfg.Args.Script)
	if err != nil {
		return printReport(w, probe.NewFailureReport(
			"invalid hex - %v", err))
	}

	target, failure := analyzeScript(script, cfg.Args.Inner)
	if failure != nil {
		return printReport(w, failure)
	}

	outcome := probe.Probe(scriptEngine{}, target)
	return printReport(w, outcome.Report())
}

func main() {
	exitCode := liftscanMain(os.Args[1:], os.Stdout)
	if logRotator != nil {
		logRotator.Close()
	}
	os.Exit(exitCode)
}
