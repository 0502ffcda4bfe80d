// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Command wptsync mirrors the web-platform-tests subtree of a gecko source tree into pull
// requests against the upstream web-platform-tests repository, tracking each originating bug
// through to a merged, landed PR.
package main

import (
	"log"

	"github.com/mozilla/wptsync/subcmd"
)

const description = `
wptsync watches a tracked subtree of a gecko source checkout for commits, mirrors them onto a
side branch in the upstream web-platform-tests repository, opens or updates a pull request for
each originating bug, and lands that PR once the gecko commits reach the canonical branch. Run a
subcommand with -h for details.
`

var subcommands []subcmd.Option

func main() {
	if err := subcmd.Run("wptsync", description, subcommands); err != nil {
		log.Fatal(err)
	}
}
