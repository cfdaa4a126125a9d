package learning

import "strings"

var (
	informalWords = []string{"hey", "hi", "thanks", "gonna", "wanna", "yeah"}
	formalWords   = []string{"hello", "dear", "thank you", "going to", "want to", "yes"}

	wordSwaps = []struct{ formal, plain string }{
		{"utilize", "use"},
		{"assist", "help"},
		{"regarding", "about"},
		{"commence", "start"},
		{"terminate", "end"},
	}

	feedbackTriggers = []struct {
		trigger string
		pattern string
		quote   bool
	}{
		{"too formal", "User prefers less formal language", false},
		{"too casual", "User prefers more formal language", false},
		{"too long", "User prefers shorter, more concise responses", false},
		{"too short", "User prefers more detailed responses", false},
		{"too wordy", "User prefers concise language", false},
		{"not enough detail", "User prefers more thorough explanations", false},
		{"wrong tone", "Pay attention to tone matching the context", false},
		{"don't use", "", true},
		{"prefer", "", true},
		{"always", "", true},
		{"never", "", true},
	}
)

// ExtractPatterns derives style patterns from modifications: tone
// shifts, length changes, and known word swaps. Duplicates are dropped;
// order follows first appearance.
func ExtractPatterns(changes []Change) []string {
	var out []string
	seen := map[string]bool{}
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, c := range changes {
		if c.Type != Modification {
			continue
		}
		switch {
		case moreFormal(c.Original, c.Edited):
			add("User prefers more formal language")
		case moreFormal(c.Edited, c.Original):
			add("User prefers less formal/more casual language")
		}

		switch {
		case float64(len(c.Edited)) < float64(len(c.Original))*0.7:
			add("User prefers shorter, more concise text")
		case float64(len(c.Edited)) > float64(len(c.Original))*1.3:
			add("User prefers more detailed/expanded text")
		}

		for _, p := range wordPreferences(c.Original, c.Edited) {
			add(p)
		}
	}
	return out
}

func moreFormal(original, edited string) bool {
	o, e := strings.ToLower(original), strings.ToLower(edited)
	for _, w := range informalWords {
		if strings.Contains(o, w) && !strings.Contains(e, w) {
			return true
		}
	}
	for _, w := range formalWords {
		if !strings.Contains(o, w) && strings.Contains(e, w) {
			return true
		}
	}
	return false
}

func wordPreferences(original, edited string) []string {
	o, e := strings.ToLower(original), strings.ToLower(edited)
	var out []string
	for _, s := range wordSwaps {
		switch {
		case strings.Contains(o, s.formal) && strings.Contains(e, s.plain):
			out = append(out, "User prefers '"+s.plain+"' over '"+s.formal+"'")
		case strings.Contains(o, s.plain) && strings.Contains(e, s.formal):
			out = append(out, "User prefers '"+s.formal+"' over '"+s.plain+"'")
		}
	}
	return out
}

// PatternsFromFeedback matches free-form feedback against known trigger
// phrases. Stated rules ("always", "never", "prefer", "don't use") are
// kept verbatim, clipped to 100 characters.
func PatternsFromFeedback(feedback string) []string {
	lower := strings.ToLower(feedback)
	var out []string
	quoted := false
	for _, t := range feedbackTriggers {
		if !strings.Contains(lower, t.trigger) {
			continue
		}
		if t.quote {
			if !quoted {
				out = append(out, "User feedback: "+clip(strings.TrimSpace(feedback), 100))
				quoted = true
			}
			continue
		}
		out = append(out, t.pattern)
	}
	return out
}
