// Package filter implements the file-path matching rules the Event
// Processor applies: extension allowlisting and glob-style exclude
// patterns, both case-insensitive and separator-normalized per
// spec.md §4.3.
//
// Matching is hand-rolled over the standard library rather than reaching
// for a third-party glob package: the only pattern-ish dependency in the
// retrieval pack, github.com/lithammer/fuzzysearch, computes approximate
// string distance for fuzzy search — it has no deterministic wildcard
// matcher and would change which paths match under load, which is not
// acceptable for a security-relevant exclude list. See DESIGN.md.
package filter

import (
	"strings"

	"golang.org/x/text/cases"
)

var fold = cases.Fold()

// normalize lowercases (Unicode-aware) and rewrites forward slashes to
// backslashes so that "C:/x/y.TXT" and "c:\\x\\y.txt" compare equal, per
// spec.md §8's round-trip example.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "/", `\`)
	return fold.String(s)
}

// MatchPattern reports whether path matches glob, where '*' matches any
// sequence (including empty) and '?' matches exactly one character.
// Matching is whole-string, case-insensitive, and separator-normalized.
func MatchPattern(path, glob string) bool {
	return matchGlob(normalize(glob), normalize(path))
}

// matchGlob is a classic iterative wildcard matcher (the same algorithm
// shells use for '*'/'?' globbing), with backtracking on '*'.
func matchGlob(pattern, s string) bool {
	var pIdx, sIdx int
	starIdx, sMatch := -1, 0

	for sIdx < len(s) {
		if pIdx < len(pattern) && (pattern[pIdx] == '?' || pattern[pIdx] == s[sIdx]) {
			pIdx++
			sIdx++
		} else if pIdx < len(pattern) && pattern[pIdx] == '*' {
			starIdx = pIdx
			sMatch = sIdx
			pIdx++
		} else if starIdx != -1 {
			pIdx = starIdx + 1
			sMatch++
			sIdx = sMatch
		} else {
			return false
		}
	}
	for pIdx < len(pattern) && pattern[pIdx] == '*' {
		pIdx++
	}
	return pIdx == len(pattern)
}

// MatchAny reports whether path matches any of globs.
func MatchAny(path string, globs []string) bool {
	for _, g := range globs {
		if MatchPattern(path, g) {
			return true
		}
	}
	return false
}

// testMarkers implements the allowlist escape of spec.md §4.3/§9: paths
// containing one of these markers anywhere (as a file or directory name,
// or part of one) pass through an otherwise-exclusive blocklist.
// This is flagged in spec.md §9 as an open product decision; DESIGN.md
// records the decision taken here (kept, because spec.md §8 scenario 6
// makes it an observable, tested contract).
var testMarkers = []string{"ProcTailTest", "__proctail_test__"}

// IsTestArtifact reports whether path should bypass the exclude-pattern
// blocklist because it names a self-test fixture.
func IsTestArtifact(path string) bool {
	n := normalize(path)
	for _, m := range testMarkers {
		if strings.Contains(n, normalize(m)) {
			return true
		}
	}
	return false
}

// ExtensionAllowed reports whether path's extension is present in
// allowlist. An empty allowlist means "allow all" per spec.md §4.3.
func ExtensionAllowed(path string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	ext := extensionOf(path)
	for _, a := range allowlist {
		if fold.String(strings.TrimPrefix(a, ".")) == fold.String(strings.TrimPrefix(ext, ".")) {
			return true
		}
	}
	return false
}

func extensionOf(path string) string {
	i := strings.LastIndexAny(path, `\/.`)
	if i < 0 || path[i] != '.' {
		return ""
	}
	return path[i+1:]
}
