// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package commit

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	firstLineBugPrefixRE = regexp.MustCompile(`(?i)^bug\s*\d+\s*[-:]?\s*`)
	reviewerTrailerRE    = regexp.MustCompile(`(?im)^\s*r[=:].*$`)
	bugzillaTrailerRE    = regexp.MustCompile(`(?im)^\s*bugzilla[-\s]?url\s*:.*$`)
)

// FilterMessage rewrites a gecko commit message for upstream: strip the bug prefix from the
// first line, strip reviewer
// and bugzilla-url trailers, and return the rewritten message body on its own (metadata is
// assembled and appended separately by the replay engine, once it knows the values).
func FilterMessage(message string) (rewritten string) {
	lines := strings.SplitN(message, "\n", 2)
	lines[0] = firstLineBugPrefixRE.ReplaceAllString(lines[0], "")
	body := strings.Join(lines, "\n")
	body = reviewerTrailerRE.ReplaceAllString(body, "")
	body = bugzillaTrailerRE.ReplaceAllString(body, "")
	return strings.TrimRight(body, "\n") + "\n"
}

// AppendMetadata appends the upstream trailer block (a blank line, then one "Key: Value" line
// per entry, in a stable order) to message.
func AppendMetadata(message string, geckoCommit, integrationBranch, bugzillaURL string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(message, "\n"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s: %s\n", MetaGeckoCommit, geckoCommit)
	fmt.Fprintf(&b, "%s: %s\n", MetaGeckoIntegrationBranch, integrationBranch)
	if bugzillaURL != "" {
		fmt.Fprintf(&b, "%s: %s\n", MetaBugzillaURL, bugzillaURL)
	}
	return b.String()
}

// ParseMetadata reads the trailer block appended by AppendMetadata back out of an upstream
// commit message.
func ParseMetadata(message string) map[string]string {
	meta := map[string]string{}
	for _, line := range strings.Split(message, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		switch key {
		case MetaGeckoCommit, MetaGeckoIntegrationBranch, MetaBugzillaURL:
			meta[key] = strings.TrimSpace(value)
		}
	}
	return meta
}
