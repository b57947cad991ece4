package collaborators

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/mattercertis/crawlcore/crawl"
)

// HTMLParser implements Parser by walking the DOM with golang.org/x/net/html.
// The crawled site's markup isn't part of this module's contract (spec.md
// §6 leaves HTML shape unspecified), so this parser follows two
// conventions, both attribute names configurable: a list page's product
// anchors carry an href plus a natural-key attribute, and a detail page's
// fields are elements carrying a field-name attribute whose text content
// is the value.
type HTMLParser struct {
	NaturalKeyAttr string
	FieldAttr      string
}

// NewHTMLParser builds a parser using "data-natural-key" and "data-field"
// as the two convention attributes.
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{NaturalKeyAttr: "data-natural-key", FieldAttr: "data-field"}
}

func (p *HTMLParser) ParseList(ctx context.Context, body string) ([]ProductURL, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("collaborators: parse list html: %w", err)
	}

	var out []ProductURL
	walkNodes(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "a" {
			return
		}
		var href, key string
		for _, a := range n.Attr {
			switch a.Key {
			case "href":
				href = a.Val
			case p.NaturalKeyAttr:
				key = a.Val
			}
		}
		if href != "" && key != "" {
			out = append(out, ProductURL{URL: href, NaturalKey: key})
		}
	})

	if len(out) == 0 {
		return nil, fmt.Errorf("collaborators: no product anchors found (expected href + %s)", p.NaturalKeyAttr)
	}
	return out, nil
}

func (p *HTMLParser) ParseDetail(ctx context.Context, body string) (*crawl.ProductRecord, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("collaborators: parse detail html: %w", err)
	}

	fields := make(map[string]string)
	var naturalKey string
	walkNodes(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		for _, a := range n.Attr {
			switch a.Key {
			case p.FieldAttr:
				fields[a.Val] = textContent(n)
			case p.NaturalKeyAttr:
				naturalKey = a.Val
			}
		}
	})

	if naturalKey == "" {
		return nil, fmt.Errorf("collaborators: detail page missing %s", p.NaturalKeyAttr)
	}
	return &crawl.ProductRecord{NaturalKey: naturalKey, Fields: fields}, nil
}

func walkNodes(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkNodes(c, visit)
	}
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walkNodes(n, func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
	})
	return strings.TrimSpace(sb.String())
}
