package agent

import (
	"encoding/json"
	"strings"
)

// Kind classifies a parsed model response.
type Kind string

// Response kinds.
const (
	KindThought Kind = "thought"
	KindAction  Kind = "action"
	KindFinal   Kind = "final_answer"
	KindDraft   Kind = "draft_for_approval"
)

// ParsedResponse is one model reply, classified. Content carries the
// final answer or draft text; ActionName and ActionInput are set only
// for KindAction. Any kind may carry a Focus line.
type ParsedResponse struct {
	Kind        Kind
	Thought     string
	ActionName  string
	ActionInput map[string]any
	Content     string
	Focus       string
}

type markerKind int

const (
	markerFinal markerKind = iota
	markerDraft
	markerAction
	markerInput
	markerThought
	markerFocus
)

// markers are matched longest first so ACTION_INPUT: never reads as
// ACTION:.
var markers = []struct {
	kind markerKind
	text string
}{
	{markerDraft, "DRAFT_FOR_APPROVAL:"},
	{markerInput, "ACTION_INPUT:"},
	{markerFinal, "FINAL_ANSWER:"},
	{markerThought, "THOUGHT:"},
	{markerAction, "ACTION:"},
	{markerFocus, "FOCUS:"},
}

// token is a marker occurrence. start is the marker's offset, end the
// offset just past its colon.
type token struct {
	kind       markerKind
	start, end int
}

// lex finds every marker, wherever it occurs. Emphasis wrapped around a
// marker (as in "**ACTION:** x") belongs to the marker.
func lex(text string) []token {
	var toks []token
	prev := 0
	for i := 0; i < len(text); i++ {
		for _, m := range markers {
			if !strings.HasPrefix(text[i:], m.text) {
				continue
			}
			start := i
			for start > prev && (text[start-1] == '*' || text[start-1] == '_') {
				start--
			}
			if start > 0 && !isSpace(text[start-1]) {
				start = i
			}
			end := i + len(m.text)
			if e := end + emphasisRun(text[end:]); e == len(text) || isSpace(text[e]) {
				end = e
			}
			toks = append(toks, token{kind: m.kind, start: start, end: end})
			prev = end
			i = end - 1
			break
		}
	}
	return toks
}

func emphasisRun(s string) int {
	n := 0
	for n < len(s) && (s[n] == '*' || s[n] == '_') {
		n++
	}
	return n
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z'
}

// scan is the lexed form of one reply.
type scan struct {
	text string
	toks []token
}

func (s scan) first(kind markerKind, from int) (int, bool) {
	for i, t := range s.toks {
		if t.kind == kind && t.start >= from {
			return i, true
		}
	}
	return 0, false
}

// body returns the text after token i up to the next marker.
func (s scan) body(i int) string {
	end := len(s.text)
	if i+1 < len(s.toks) {
		end = s.toks[i+1].start
	}
	return strings.TrimSpace(s.text[s.toks[i].end:end])
}

// focus returns the last non-empty FOCUS line.
func (s scan) focus() string {
	var out string
	for i, t := range s.toks {
		if t.kind != markerFocus {
			continue
		}
		end := s.lineEnd(i)
		if v := strings.TrimRight(strings.TrimSpace(s.text[t.end:end]), " \t.!?,;:"); v != "" {
			out = v
		}
	}
	return out
}

// lineEnd is where a FOCUS value ends: the end of its line or the next
// marker, whichever comes first.
func (s scan) lineEnd(i int) int {
	end := len(s.text)
	if nl := strings.IndexByte(s.text[s.toks[i].end:], '\n'); nl >= 0 {
		end = s.toks[i].end + nl
	}
	if i+1 < len(s.toks) && s.toks[i+1].start < end {
		end = s.toks[i+1].start
	}
	return end
}

// tail returns everything after token i with FOCUS lines cut out.
func (s scan) tail(i int) string {
	return s.strip(s.toks[i].end, i+1)
}

// strip returns text[pos:] without the FOCUS lines among toks[from:].
func (s scan) strip(pos, from int) string {
	var sb strings.Builder
	for j := from; j < len(s.toks); j++ {
		t := s.toks[j]
		if t.kind != markerFocus {
			continue
		}
		cut, end := t.start, s.lineEnd(j)
		// A focus line of its own goes entirely, newline included.
		if ls := strings.LastIndexByte(s.text[:t.start], '\n') + 1; ls >= pos && strings.TrimSpace(s.text[ls:t.start]) == "" {
			cut = ls
			if end < len(s.text) && s.text[end] == '\n' {
				end++
			}
		}
		sb.WriteString(s.text[pos:cut])
		pos = end
	}
	sb.WriteString(s.text[pos:])
	return strings.TrimSpace(sb.String())
}

// ParseResponse classifies a model reply. It never fails: text without
// a recognisable marker is a thought.
func ParseResponse(text string) *ParsedResponse {
	s := scan{text: text, toks: lex(text)}
	out := &ParsedResponse{Focus: s.focus()}

	if i, ok := s.first(markerFinal, 0); ok {
		out.Kind = KindFinal
		out.Content = s.tail(i)
		out.Thought = s.thoughtBefore(s.toks[i].start)
		return out
	}
	if i, ok := s.first(markerDraft, 0); ok {
		out.Kind = KindDraft
		out.Content = s.tail(i)
		out.Thought = s.thoughtBefore(s.toks[i].start)
		return out
	}
	if i, ok := s.first(markerAction, 0); ok {
		out.Thought = s.thoughtBefore(len(text))
		name := actionName(text[s.toks[i].end:])
		if name == "" {
			out.Kind = KindThought
			if out.Thought == "" {
				out.Thought = s.withoutFocus()
			}
			return out
		}
		out.Kind = KindAction
		out.ActionName = name
		out.ActionInput = map[string]any{}
		j, ok := s.first(markerInput, s.toks[i].end)
		if !ok {
			j, ok = s.first(markerInput, 0)
		}
		if ok {
			out.ActionInput = decodeInput(s.body(j))
		}
		return out
	}
	out.Kind = KindThought
	if i, ok := s.first(markerThought, 0); ok {
		out.Thought = s.body(i)
		return out
	}
	out.Thought = s.withoutFocus()
	return out
}

// thoughtBefore returns the first THOUGHT body that starts before limit.
func (s scan) thoughtBefore(limit int) string {
	if i, ok := s.first(markerThought, 0); ok && s.toks[i].start < limit {
		return s.body(i)
	}
	return ""
}

func (s scan) withoutFocus() string {
	return s.strip(0, 0)
}

// actionName reads the identifier following ACTION:. Surrounding
// brackets, backticks and asterisks are tolerated.
func actionName(rest string) string {
	rest = strings.TrimLeft(rest, " \t[`*_")
	end := 0
	for end < len(rest) {
		c := rest[end]
		if isWordByte(c) || c == '-' || c == '.' {
			end++
			continue
		}
		break
	}
	return strings.TrimRight(rest[:end], "._")
}

// decodeInput decodes an ACTION_INPUT body as a JSON object. Anything
// else is passed through as raw_input.
func decodeInput(raw string) map[string]any {
	body := stripFence(raw)
	var v any
	if err := json.Unmarshal([]byte(body), &v); err == nil {
		if obj, ok := v.(map[string]any); ok {
			return obj
		}
	}
	return map[string]any{"raw_input": raw}
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
