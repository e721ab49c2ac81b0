package mailer

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// Call-to-action button syntax for email templates:
//
//	[!button|Verify email](https://example.com/verify)
//
// renders as an anchor with class "btn" so the layout's styles can shape
// it. Anything that does not match the full syntax falls through to the
// regular markdown parsers.
const buttonMarker = "[!button|"

type buttonNode struct {
	ast.BaseInline
	url   []byte
	label []byte
}

var kindButton = ast.NewNodeKind("Button")

func (n *buttonNode) Kind() ast.NodeKind {
	return kindButton
}

func (n *buttonNode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, nil, nil)
}

type buttonParser struct{}

func (buttonParser) Trigger() []byte {
	return []byte{'['}
}

func (buttonParser) Parse(_ ast.Node, block text.Reader, _ parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if !bytes.HasPrefix(line, []byte(buttonMarker)) {
		return nil
	}

	labelEnd := bytes.IndexByte(line[len(buttonMarker):], ']')
	if labelEnd == -1 {
		return nil
	}
	labelEnd += len(buttonMarker)
	if labelEnd+1 >= len(line) || line[labelEnd+1] != '(' {
		return nil
	}

	urlEnd := bytes.IndexByte(line[labelEnd+2:], ')')
	if urlEnd == -1 {
		return nil
	}
	urlEnd += labelEnd + 2

	node := &buttonNode{
		label: line[len(buttonMarker):labelEnd],
		url:   line[labelEnd+2 : urlEnd],
	}
	block.Advance(urlEnd + 1)
	return node
}

type buttonRenderer struct{}

func (r buttonRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(kindButton, r.render)
}

func (buttonRenderer) render(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*buttonNode)
	_, _ = w.WriteString(`<a href="`)
	_, _ = w.Write(util.EscapeHTML(n.url))
	_, _ = w.WriteString(`" class="btn">`)
	_, _ = w.Write(util.EscapeHTML(n.label))
	_, _ = w.WriteString(`</a>`)
	return ast.WalkContinue, nil
}

type buttonExtension struct{}

func (buttonExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithInlineParsers(
		util.Prioritized(buttonParser{}, 50),
	))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(buttonRenderer{}, 50),
	))
}
