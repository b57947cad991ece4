package collaborators

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// HTTPSiteAnalyzer implements SiteAnalyzer by fetching the listing's first
// page and reading two attributes off its root pagination element — the
// same attribute-convention approach HTMLParser uses, since the crawled
// site's markup is outside this module's contract.
type HTTPSiteAnalyzer struct {
	Fetcher            Fetcher
	ListURL            string
	TotalPagesAttr     string
	LastPageCountAttr  string
}

func NewHTTPSiteAnalyzer(fetcher Fetcher, listURL string) *HTTPSiteAnalyzer {
	return &HTTPSiteAnalyzer{
		Fetcher:           fetcher,
		ListURL:           listURL,
		TotalPagesAttr:    "data-total-pages",
		LastPageCountAttr: "data-products-on-last-page",
	}
}

func (a *HTTPSiteAnalyzer) Probe(ctx context.Context) (SiteProbe, error) {
	body, err := a.Fetcher.Get(ctx, a.ListURL)
	if err != nil {
		return SiteProbe{}, fmt.Errorf("collaborators: probe site: %w", err)
	}

	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return SiteProbe{}, fmt.Errorf("collaborators: parse probe html: %w", err)
	}

	var totalPages, lastPageCount int
	var found bool
	walkNodes(doc, func(n *html.Node) {
		if found || n.Type != html.ElementNode {
			return
		}
		var tp, lp string
		for _, attr := range n.Attr {
			switch attr.Key {
			case a.TotalPagesAttr:
				tp = attr.Val
			case a.LastPageCountAttr:
				lp = attr.Val
			}
		}
		if tp == "" {
			return
		}
		totalPages, err = strconv.Atoi(tp)
		if err != nil {
			return
		}
		lastPageCount, _ = strconv.Atoi(lp)
		found = true
	})

	if !found {
		return SiteProbe{}, fmt.Errorf("collaborators: probe page missing %s", a.TotalPagesAttr)
	}
	return SiteProbe{TotalPagesOnSite: totalPages, ProductsOnLastPage: lastPageCount}, nil
}
