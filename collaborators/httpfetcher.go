package collaborators

import (
	"context"
	"io"
	"net/http"

	"github.com/mattercertis/crawlcore/telemetry"
)

// HTTPFetcher implements Fetcher over a real HTTP client. It uses the
// shared telemetry package's traced client (otelhttp-wrapped transport)
// so every fetch is a child span of whatever span is live on ctx,
// matching the teacher's own "every outbound call goes through a traced
// client" convention.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds a fetcher. A nil client defaults to
// telemetry.NewTracedHTTPClient(nil).
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = telemetry.NewTracedHTTPClient(nil)
	}
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Get(ctx context.Context, url string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultHTTPTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{Kind: FetchNetwork, URL: url, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		kind := FetchNetwork
		if ctx.Err() != nil {
			kind = FetchTimeout
		}
		return "", &FetchError{Kind: kind, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &FetchError{Kind: FetchHTTP, StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &FetchError{Kind: FetchNetwork, URL: url, Err: err}
	}
	return string(body), nil
}
