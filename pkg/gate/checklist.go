// Package gate implements the merge gate, completion gate, and the
// checklist/evidence scanning they both depend on (§4.4, §4.5).
package gate

import (
	"regexp"
	"strings"
)

// ChecklistSummary is the result of scanning an issue description for
// checkboxed acceptance-criteria lines.
type ChecklistSummary struct {
	Total     int
	Checked   int
	Unchecked int
	// Rewritten is desc with every checklist item marked checked; only
	// meaningful when Total > 0.
	Rewritten string
}

// SummarizeChecklist scans desc line by line, skipping lines inside fenced
// code blocks (``` or ~~~, tracked by a running open/close count), counts
// lines matching checklistItemPattern, and returns desc with every item's
// box marked checked (Rewritten; only meaningful when Total > 0).
func SummarizeChecklist(desc string) ChecklistSummary {
	lines := strings.Split(desc, "\n")
	var summary ChecklistSummary
	inFence := false

	for i, line := range lines {
		if isFenceDelimiter(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		loc := checklistBoxPattern.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		summary.Total++
		boxStart, boxEnd := loc[2], loc[3]
		if line[boxStart:boxEnd] == "x" || line[boxStart:boxEnd] == "X" {
			summary.Checked++
		} else {
			summary.Unchecked++
			lines[i] = line[:boxStart] + "x" + line[boxEnd:]
		}
	}

	summary.Rewritten = strings.Join(lines, "\n")
	return summary
}

func isFenceDelimiter(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

// checklistBoxPattern captures the single character inside the box, so a
// rewrite can replace just that character rather than scanning the line for
// unrelated bracket pairs.
var checklistBoxPattern = regexp.MustCompile(`^\s*(?:[-*]|\d+\.)\s+\[( |x|X)\]\s+.*$`)
