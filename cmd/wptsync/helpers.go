// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import "flag"

// flagArgs returns the non-flag arguments left over after a subcommand's ParseFunc has run.
func flagArgs() []string {
	return flag.Args()
}
