// Package htmltext reduces HTML documents and message bodies to readable
// plain text for the model.
package htmltext

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// hidden elements contribute no text. The title inside head is picked
// up separately.
var hidden = set(atom.Script, atom.Style, atom.Noscript, atom.Iframe, atom.Svg, atom.Head)

var blocks = set(
	atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
	atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
	atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table, atom.Tr,
	atom.Dl, atom.Dd, atom.Dt, atom.Figure, atom.Figcaption,
	atom.Details, atom.Summary, atom.Hr,
)

var htmlMarkers = []string{"<!doctype html", "<html", "<body", "<div", "<p>", "<p ", "<table", "<h1"}

func set(atoms ...atom.Atom) map[atom.Atom]bool {
	m := make(map[atom.Atom]bool, len(atoms))
	for _, a := range atoms {
		m[a] = true
	}
	return m
}

// Extract parses raw and returns its title and visible text. Block
// elements start a new paragraph; <li> and <br> end a line.
func Extract(raw string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", tokens(raw)
	}
	var r renderer
	r.node(doc)
	return strings.TrimSpace(r.title), squeeze(r.out.String())
}

// Text is Extract without the title.
func Text(raw string) string {
	_, text := Extract(raw)
	return text
}

// LooksLikeHTML reports whether s opens like an HTML document or
// fragment. Only the first 512 bytes are inspected.
func LooksLikeHTML(s string) bool {
	head := strings.ToLower(strings.TrimSpace(s))
	head = head[:min(len(head), 512)]
	for _, m := range htmlMarkers {
		if strings.Contains(head, m) {
			return true
		}
	}
	return false
}

type renderer struct {
	out   strings.Builder
	title string
}

func (r *renderer) node(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			r.out.WriteString(t + " ")
		}
		return
	case html.ElementNode:
		if n.DataAtom == atom.Title && r.title == "" {
			r.title = inner(n)
		}
		if hidden[n.DataAtom] {
			// The title may still be inside.
			r.scanTitle(n)
			return
		}
		if blocks[n.DataAtom] && r.out.Len() > 0 {
			r.out.WriteString("\n\n")
		}
		if n.DataAtom == atom.Li {
			r.out.WriteString("- ")
		}
	}

	for c := range n.ChildNodes() {
		r.node(c)
	}

	if n.DataAtom == atom.Br || n.DataAtom == atom.Li {
		r.out.WriteByte('\n')
	}
}

func (r *renderer) scanTitle(n *html.Node) {
	if r.title != "" {
		return
	}
	for d := range n.Descendants() {
		if d.Type == html.ElementNode && d.DataAtom == atom.Title {
			r.title = inner(d)
			return
		}
	}
}

func inner(n *html.Node) string {
	var b strings.Builder
	for d := range n.Descendants() {
		if d.Type == html.TextNode {
			b.WriteString(d.Data)
		}
	}
	return b.String()
}

// squeeze collapses spaces within each line and keeps at most one blank
// line in a row.
func squeeze(s string) string {
	var lines []string
	blank := false
	for line := range strings.SplitSeq(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" && blank {
			continue
		}
		blank = line == ""
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// tokens is the fallback when the parser gives up: every text token,
// nothing else.
func tokens(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return squeeze(b.String())
		case html.TextToken:
			b.Write(z.Text())
			b.WriteByte(' ')
		}
	}
}
