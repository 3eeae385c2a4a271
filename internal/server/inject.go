package server

import (
	"bytes"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ReloadScriptPath is where the live-reload client is served.
const ReloadScriptPath = "/__stagehand/runtime/reload.js"

// InjectReloadScript appends a script tag loading src as the last child of
// the document body. Documents without a body get one.
func InjectReloadScript(doc []byte, src string) ([]byte, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	body := findElement(root, atom.Body)
	if body == nil {
		htmlNode := findElement(root, atom.Html)
		if htmlNode == nil {
			return nil, fmt.Errorf("document has no html element")
		}
		body = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
		htmlNode.AppendChild(body)
	}

	if hasScript(body, src) {
		return doc, nil
	}

	body.AppendChild(&html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
		Attr: []html.Attribute{
			{Key: "src", Val: src},
			{Key: "defer"},
		},
	})

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, fmt.Errorf("render HTML: %w", err)
	}
	return buf.Bytes(), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func hasScript(n *html.Node, src string) bool {
	if n.Type == html.ElementNode && n.DataAtom == atom.Script {
		for _, attr := range n.Attr {
			if attr.Key == "src" && attr.Val == src {
				return true
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasScript(c, src) {
			return true
		}
	}
	return false
}
