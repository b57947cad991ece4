package collaborators

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLParser_ParseList_FindsAnchorsWithNaturalKey(t *testing.T) {
	html := `<html><body>
		<a href="/p/1" data-natural-key="sku-1">One</a>
		<a href="/p/2" data-natural-key="sku-2">Two</a>
		<a href="/other">skip me</a>
	</body></html>`

	p := NewHTMLParser()
	urls, err := p.ParseList(context.Background(), html)
	require.NoError(t, err)
	require.Len(t, urls, 2)
	assert.Equal(t, ProductURL{URL: "/p/1", NaturalKey: "sku-1"}, urls[0])
	assert.Equal(t, ProductURL{URL: "/p/2", NaturalKey: "sku-2"}, urls[1])
}

func TestHTMLParser_ParseList_ErrorsWhenNoAnchorsMatch(t *testing.T) {
	p := NewHTMLParser()
	_, err := p.ParseList(context.Background(), `<html><body><a href="/x">no key</a></body></html>`)
	assert.Error(t, err)
}

func TestHTMLParser_ParseDetail_CollectsFieldsByAttribute(t *testing.T) {
	html := `<html><body data-natural-key="sku-1">
		<span data-field="name">Widget</span>
		<span data-field="price"> 19.99 </span>
	</body></html>`

	p := NewHTMLParser()
	rec, err := p.ParseDetail(context.Background(), html)
	require.NoError(t, err)
	assert.Equal(t, "sku-1", rec.NaturalKey)
	assert.Equal(t, "Widget", rec.Fields["name"])
	assert.Equal(t, "19.99", rec.Fields["price"])
}

func TestHTMLParser_ParseDetail_ErrorsWhenNaturalKeyMissing(t *testing.T) {
	p := NewHTMLParser()
	_, err := p.ParseDetail(context.Background(), `<html><body><span data-field="name">Widget</span></body></html>`)
	assert.Error(t, err)
}
