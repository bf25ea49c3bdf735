package dom

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voicenav/pkg/page"
)

var _ page.Driver = (*Driver)(nil)

// DriverOption configures a [Driver].
type DriverOption func(*Driver)

// WithHTTPClient sets the client used to fetch pages.
func WithHTTPClient(c *http.Client) DriverOption {
	return func(d *Driver) { d.client = c }
}

// WithPage registers a static page served for url without any network
// access.
func WithPage(url, markup string) DriverOption {
	return func(d *Driver) { d.pages[url] = markup }
}

// WithDocumentOptions applies opts to every document the driver opens.
func WithDocumentOptions(opts ...Option) DriverOption {
	return func(d *Driver) { d.docOpts = append(d.docOpts, opts...) }
}

// Driver opens in-memory documents, fetching HTML over HTTP when needed.
type Driver struct {
	client  *http.Client
	docOpts []Option

	mu    sync.RWMutex
	pages map[string]string
}

// NewDriver creates a Driver.
func NewDriver(opts ...DriverOption) *Driver {
	d := &Driver{
		client: &http.Client{Timeout: 15 * time.Second},
		pages:  make(map[string]string),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open implements [page.Driver].
func (d *Driver) Open(ctx context.Context, url string) (page.Document, error) {
	if url == "" {
		url = "about:blank"
	}
	rc, err := d.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	opts := append([]Option{WithURL(url), WithLoader(d.fetch)}, d.docOpts...)
	doc, err := Parse(rc, opts...)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Close implements [page.Driver].
func (d *Driver) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

func (d *Driver) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	d.mu.RLock()
	markup, ok := d.pages[url]
	d.mu.RUnlock()
	if ok {
		return io.NopCloser(strings.NewReader(markup)), nil
	}
	if !fetchable(url) {
		return io.NopCloser(strings.NewReader("")), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dom: build request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dom: fetch %q: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("dom: fetch %q: unexpected status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}
