package reader

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultPreviewLength is the collapsed preview limit in runes.
const DefaultPreviewLength = 200

const ellipsis = "..."

// Preview returns the first line of text cut to limit runes, followed by an
// ellipsis.
func Preview(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultPreviewLength
	}
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSuffix(line, "\r")
	if r := []rune(line); len(r) > limit {
		line = string(r[:limit])
	}
	return line + ellipsis
}

// Paragraphs returns the non-blank lines of text in order. Lines keep their
// indentation; only a trailing carriage return is removed.
func Paragraphs(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, strings.TrimSuffix(line, "\r"))
		}
	}
	return out
}

// Render returns what the reading view shows for text: the preview when
// collapsed, every paragraph when expanded.
func Render(text string, expanded bool, limit int) []string {
	if expanded {
		return Paragraphs(text)
	}
	return []string{Preview(text, limit)}
}

var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Figcaption: true, atom.Figure: true, atom.Footer: true, atom.H1: true,
	atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true,
	atom.H6: true, atom.Header: true, atom.Hr: true, atom.Li: true,
	atom.Main: true, atom.Nav: true, atom.Ol: true, atom.P: true,
	atom.Pre: true, atom.Section: true, atom.Table: true, atom.Tr: true,
	atom.Ul: true,
}

// LooksLikeHTML reports whether s contains at least one known HTML tag.
func LooksLikeHTML(s string) bool {
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) != 0 {
				return true
			}
		}
	}
}

// FlattenHTML turns chapter markup into plain text with one line per block
// element. Scripts, styles and the document head are dropped.
func FlattenHTML(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}

	var out, line strings.Builder
	flush := func() {
		if t := strings.Join(strings.Fields(line.String()), " "); t != "" {
			out.WriteString(t)
			out.WriteByte('\n')
		}
		line.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			line.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Head, atom.Script, atom.Style:
				return
			case atom.Br:
				flush()
				return
			}
		}
		block := n.Type == html.ElementNode && blockElements[n.DataAtom]
		if block {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			flush()
		}
	}
	walk(doc)
	flush()
	return strings.TrimSuffix(out.String(), "\n")
}
