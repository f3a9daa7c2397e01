package chatapps

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
)

// markdown is the shared parser. Parse state lives in a per-call context,
// so one instance serves all goroutines.
var markdown = goldmark.New()

// PlainText flattens assistant markdown into plain text for platforms that
// render chat messages verbatim. Inline emphasis collapses to its text,
// list items keep a dash bullet, link targets ride along in parentheses
// and code blocks keep their raw lines. Raw HTML is dropped.
func PlainText(source string) string {
	src := []byte(source)
	doc := markdown.Parser().Parse(gtext.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if !entering {
				break
			}
			b.Write(node.Segment.Value(src))
			if node.HardLineBreak() {
				b.WriteByte('\n')
			} else if node.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.URL(src))
			}
		case *ast.Link:
			if !entering {
				if dest := string(node.Destination); strings.HasPrefix(dest, "http") {
					b.WriteString(" (")
					b.WriteString(dest)
					b.WriteByte(')')
				}
			}
		case *ast.FencedCodeBlock:
			if entering {
				writeCodeLines(&b, node.Lines(), src)
			}
		case *ast.CodeBlock:
			if entering {
				writeCodeLines(&b, node.Lines(), src)
			}
		case *ast.ListItem:
			if entering {
				ensureNewline(&b)
				b.WriteString("- ")
			}
		case *ast.List:
			if !entering {
				b.WriteByte('\n')
			}
		case *ast.Paragraph, *ast.Heading:
			if !entering {
				b.WriteString("\n\n")
			}
		case *ast.TextBlock:
			if !entering {
				ensureNewline(&b)
			}
		case *ast.ThematicBreak:
			if !entering {
				b.WriteString("\n\n")
			}
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	out := b.String()
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(out)
}

func writeCodeLines(b *strings.Builder, lines *gtext.Segments, src []byte) {
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	b.WriteByte('\n')
}

func ensureNewline(b *strings.Builder) {
	if s := b.String(); s != "" && !strings.HasSuffix(s, "\n") {
		b.WriteByte('\n')
	}
}
