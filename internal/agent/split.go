package agent

import "strings"

// SplitMessage breaks text into chunks of at most limit runes for
// transports with a message size limit. It splits on line boundaries
// and only cuts inside a line that is longer than limit on its own.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var (
		chunks  []string
		current []rune
	)
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, string(current))
			current = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		r := []rune(line)
		for len(r) > limit {
			flush()
			chunks = append(chunks, string(r[:limit]))
			r = r[limit:]
		}
		sep := 0
		if len(current) > 0 {
			sep = 1
		}
		if len(current)+sep+len(r) > limit {
			flush()
			sep = 0
		}
		if sep == 1 {
			current = append(current, '\n')
		}
		current = append(current, r...)
	}
	flush()
	return chunks
}
