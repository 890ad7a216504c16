// Package diffview compares two line-oriented texts, renders the result as a
// self-contained HTML page and shows it in the default browser.
package diffview

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Opcode tags from difflib
const (
	tagEqual   = 'e'
	tagReplace = 'r'
	tagDelete  = 'd'
	tagInsert  = 'i'
)

// SplitLines splits text on line endings. A trailing line ending does not
// produce an empty last line.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// HasDifferences reports whether a unified diff of left and right would
// contain at least one hunk.
func HasDifferences(left, right []string) bool {
	for _, op := range difflib.NewMatcher(left, right).GetOpCodes() {
		if op.Tag != tagEqual {
			return true
		}
	}
	return false
}

// UnifiedDiff renders a plain-text unified diff with three lines of context.
// It returns "" when the inputs are equal.
func UnifiedDiff(leftTitle string, left []string, rightTitle string, right []string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        withEOL(left),
		B:        withEOL(right),
		FromFile: leftTitle,
		ToFile:   rightTitle,
		Context:  3,
	})
}

func withEOL(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}
