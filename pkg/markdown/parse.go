package markdown

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
)

// Parser converts markdown source into an event stream.
type Parser struct {
	md goldmark.Markdown
}

// NewParser creates a Parser with GitHub-flavoured extensions enabled. Raw
// HTML in the document is passed through, as notebooks are local files.
func NewParser() *Parser {
	return &Parser{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
	}
}

// Parse parses source and flattens the resulting tree into events.
func (p *Parser) Parse(source []byte) ([]Event, error) {
	doc := p.md.Parser().Parse(text.NewReader(source))

	var events []Event
	for c := doc.FirstChild(); c != nil; c = c.NextSibling() {
		var err error
		events, err = p.emit(events, source, c)
		if err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (p *Parser) emit(events []Event, source []byte, n ast.Node) ([]Event, error) {
	switch node := n.(type) {
	case *ast.FencedCodeBlock:
		info := ""
		if node.Info != nil {
			info = string(node.Info.Segment.Value(source))
		}
		return appendCode(events, source, CodeStart(info), node), nil

	case *ast.CodeBlock:
		return appendCode(events, source, CodeStart(""), node), nil

	case *ast.Blockquote:
		if containsCode(n) {
			return p.emitContainer(events, source, StartEvent(TagBlockQuote), n)
		}

	case *ast.List:
		if containsCode(n) {
			start := StartEvent(TagList)
			start.Ordered = node.IsOrdered()
			start.Start = node.Start
			return p.emitContainer(events, source, start, n)
		}

	case *ast.ListItem:
		if containsCode(n) {
			return p.emitContainer(events, source, StartEvent(TagListItem), n)
		}
	}

	var buf bytes.Buffer
	if err := p.md.Renderer().Render(&buf, source, n); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", n.Kind(), err)
	}
	return append(events, HTMLEvent(buf.String())), nil
}

func (p *Parser) emitContainer(events []Event, source []byte, start Event, n ast.Node) ([]Event, error) {
	events = append(events, start)
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		var err error
		events, err = p.emit(events, source, c)
		if err != nil {
			return nil, err
		}
	}
	end := EndEvent(start.Tag)
	end.Ordered = start.Ordered
	return append(events, end), nil
}

// appendCode emits a code block as Start, one Text per source line, End.
func appendCode(events []Event, source []byte, start Event, n ast.Node) []Event {
	events = append(events, start)
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		events = append(events, TextEvent(string(seg.Value(source))))
	}
	return append(events, EndEvent(TagCodeBlock))
}

func containsCode(n ast.Node) bool {
	found := false
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}
