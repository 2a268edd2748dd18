package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/itswale/api-utils/internal/pagecheck"
)

const maxDocumentBytes = 10 << 20

var (
	// ErrScreenshotUnsupported is returned by static pages, which never render.
	ErrScreenshotUnsupported = errors.New("screenshots require the chrome driver")

	errNotLoaded = errors.New("page not loaded")
)

// Static fetches the document over plain HTTP and queries the parsed HTML.
// Scripts are not executed.
type Static struct {
	base *http.Transport
}

// NewStatic returns a Static driver whose pages clone base for their own
// connection pool.
func NewStatic(base *http.Transport) *Static {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport)
	}
	return &Static{base: base}
}

// Open returns a page with its own transport and no cookie jar.
func (s *Static) Open(ctx context.Context) (pagecheck.Page, error) {
	tr := s.base.Clone()
	return &staticPage{
		transport: tr,
		client:    &http.Client{Transport: tr},
	}, nil
}

type staticPage struct {
	transport *http.Transport
	client    *http.Client
	doc       *goquery.Document
}

func (p *staticPage) Navigate(ctx context.Context, url string) (*pagecheck.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	p.doc = doc
	return &pagecheck.Response{StatusCode: resp.StatusCode}, nil
}

func (p *staticPage) Title(ctx context.Context) (string, error) {
	if p.doc == nil {
		return "", errNotLoaded
	}
	return strings.TrimSpace(p.doc.Find("title").First().Text()), nil
}

func (p *staticPage) Count(ctx context.Context, selector string) (int, error) {
	if p.doc == nil {
		return 0, errNotLoaded
	}
	// goquery matches nothing for a selector it cannot compile.
	return p.doc.Find(selector).Length(), nil
}

func (p *staticPage) ContainsText(ctx context.Context, text string) (bool, error) {
	if p.doc == nil {
		return false, errNotLoaded
	}
	found := false
	p.doc.Find("*").Contents().EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if goquery.NodeName(s) == "#text" && strings.Contains(s.Text(), text) {
			found = true
			return false
		}
		return true
	})
	return found, nil
}

func (p *staticPage) MissingAltCount(ctx context.Context) (int, error) {
	if p.doc == nil {
		return 0, errNotLoaded
	}
	missing := 0
	p.doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if alt, ok := s.Attr("alt"); !ok || alt == "" {
			missing++
		}
	})
	return missing, nil
}

func (p *staticPage) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, ErrScreenshotUnsupported
}

func (p *staticPage) Close() error {
	p.transport.CloseIdleConnections()
	p.doc = nil
	return nil
}
