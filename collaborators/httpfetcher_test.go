package collaborators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_GetReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(nil)
	body, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", body)
}

func TestHTTPFetcher_NonSuccessStatusIsHTTPFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(nil)
	_, err := f.Get(context.Background(), srv.URL)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FetchHTTP, fe.Kind)
	assert.Equal(t, 404, fe.StatusCode)
}

func TestHTTPSiteAnalyzer_ProbeReadsPaginationAttributes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div data-total-pages="120" data-products-on-last-page="7"></div></body></html>`))
	}))
	defer srv.Close()

	analyzer := NewHTTPSiteAnalyzer(NewHTTPFetcher(nil), srv.URL)
	probe, err := analyzer.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, probe.TotalPagesOnSite)
	assert.Equal(t, 7, probe.ProductsOnLastPage)
}

func TestHTTPSiteAnalyzer_ProbeErrorsWhenAttributeMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>no pagination here</body></html>`))
	}))
	defer srv.Close()

	analyzer := NewHTTPSiteAnalyzer(NewHTTPFetcher(nil), srv.URL)
	_, err := analyzer.Probe(context.Background())
	assert.Error(t, err)
}
