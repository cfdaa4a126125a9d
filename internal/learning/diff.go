// Package learning turns the user's reactions to drafts into guideline
// updates: edits are diffed against the original draft and reduced to
// short style patterns, and feedback phrases are matched against known
// triggers.
package learning

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Change kinds.
const (
	Addition     = "addition"
	Deletion     = "deletion"
	Modification = "modification"
)

// Change is one line-level difference. Original is empty for additions
// and Edited is empty for deletions.
type Change struct {
	Type     string `json:"type"`
	Original string `json:"original,omitempty"`
	Edited   string `json:"edited,omitempty"`
}

// Analysis describes how an edited text differs from the original.
type Analysis struct {
	Original    string   `json:"original"`
	Edited      string   `json:"edited"`
	Changes     []Change `json:"changes"`
	Summary     string   `json:"summary"`
	Unified     string   `json:"unified,omitempty"`
	Significant bool     `json:"significant"`
}

// Analyze diffs original against edited line by line.
func Analyze(original, edited string) *Analysis {
	a := &Analysis{Original: original, Edited: edited}
	if strings.TrimSpace(original) == strings.TrimSpace(edited) {
		a.Summary = "No changes made"
		return a
	}

	from, to := difflib.SplitLines(original), difflib.SplitLines(edited)
	a.Changes = changes(from, to)
	a.Summary = summarize(a.Changes)
	a.Significant = significant(a.Changes, original, edited)
	a.Unified, _ = difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        from,
		B:        to,
		FromFile: "draft",
		ToFile:   "edited",
		Context:  1,
	})
	return a
}

// changes pairs replaced lines as modifications; surplus lines on
// either side become deletions or additions.
func changes(from, to []string) []Change {
	var out []Change
	for _, op := range difflib.NewMatcher(from, to).GetOpCodes() {
		switch op.Tag {
		case 'd':
			for _, l := range from[op.I1:op.I2] {
				out = append(out, Change{Type: Deletion, Original: strings.TrimSpace(l)})
			}
		case 'i':
			for _, l := range to[op.J1:op.J2] {
				out = append(out, Change{Type: Addition, Edited: strings.TrimSpace(l)})
			}
		case 'r':
			i, j := op.I1, op.J1
			for ; i < op.I2 && j < op.J2; i, j = i+1, j+1 {
				out = append(out, Change{
					Type:     Modification,
					Original: strings.TrimSpace(from[i]),
					Edited:   strings.TrimSpace(to[j]),
				})
			}
			for ; i < op.I2; i++ {
				out = append(out, Change{Type: Deletion, Original: strings.TrimSpace(from[i])})
			}
			for ; j < op.J2; j++ {
				out = append(out, Change{Type: Addition, Edited: strings.TrimSpace(to[j])})
			}
		}
	}
	return out
}

func count(changes []Change, kind string) int {
	n := 0
	for _, c := range changes {
		if c.Type == kind {
			n++
		}
	}
	return n
}

func summarize(changes []Change) string {
	if len(changes) == 0 {
		return "No changes detected"
	}

	var parts []string
	if n := count(changes, Addition); n > 0 {
		parts = append(parts, fmt.Sprintf("%d addition(s)", n))
	}
	if n := count(changes, Deletion); n > 0 {
		parts = append(parts, fmt.Sprintf("%d deletion(s)", n))
	}
	mods := count(changes, Modification)
	if mods > 0 {
		parts = append(parts, fmt.Sprintf("%d modification(s)", mods))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Changes: %s.", strings.Join(parts, ", "))
	if mods > 0 {
		sb.WriteString("\n\nKey modifications:\n")
		for _, c := range changes {
			if c.Type == Modification {
				fmt.Fprintf(&sb, "  - Changed %q to %q\n", clip(c.Original, 50), clip(c.Edited, 50))
			}
		}
	}
	return sb.String()
}

// significant reports whether the edit is worth learning from. Short
// texts always are; otherwise the change must touch more than 5% of the
// text, modify more than two lines, or move more than 100 characters.
func significant(changes []Change, original, edited string) bool {
	if len(changes) == 0 {
		return false
	}
	if len(original) < 50 {
		return true
	}

	total := 0
	for _, c := range changes {
		total += len(c.Original) + len(c.Edited)
	}
	ratio := float64(total) / float64(max(len(original), len(edited)))

	return ratio > 0.05 || count(changes, Modification) > 2 || total > 100
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
