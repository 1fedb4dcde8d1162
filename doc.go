// Copyright (c) 2024 The liftscan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
liftscan reports whether a Bitcoin script is liftable to a semantic spending
policy.

The input is a hex encoded script.  If it matches one of the standard output
templates (P2WPKH, P2WSH, P2SH or P2TR), a second hex argument supplies the
inner redeem/witness script, which is verified against the hash commitment
embedded in the output script where the template allows it.  The executable
script is then parsed as miniscript in two tiers: a strict tier that only
accepts scripts that are safe to satisfy, and a relaxed fallback that accepts
any structurally valid miniscript.

The outcome is printed to standard output and encoded in the exit code:

	0  LIFTABLE: SAFE      the strict tier accepted the script
	1  LIFTABLE: UNSAFE    only the relaxed tier accepted the script
	3  NOT_LIFTABLE        anything else, including usage and hex errors

Usage:

	liftscan [-d level] [--logfile path] scripthex [innerhex]

Use the -h flag for a detailed list of options.
*/
package main
