package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/itswale/api-utils/internal/pagecheck"
)

// Chrome drives headless Chrome through the DevTools protocol. Each Open
// starts a dedicated browser (or a dedicated tab when RemoteURL is set).
type Chrome struct {
	execPath  string
	remoteURL string
	headful   bool
	logger    *zap.Logger
}

func newChrome(opts Options, logger *zap.Logger) *Chrome {
	return &Chrome{
		execPath:  opts.ExecPath,
		remoteURL: opts.RemoteURL,
		headful:   opts.Headful,
		logger:    logger,
	}
}

// Open launches the browser and returns a blank page.
func (c *Chrome) Open(ctx context.Context) (pagecheck.Page, error) {
	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if c.remoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), c.remoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", !c.headful))
		if c.execPath != "" {
			opts = append(opts, chromedp.ExecPath(c.execPath))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	sugar := c.logger.Sugar()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)
	p := &chromePage{ctx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc}

	// The first Run starts the browser. It must use the tab context itself:
	// cancelling a derived context here would kill the browser.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()
	select {
	case err := <-started:
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("launching chrome: %w", err)
		}
	case <-ctx.Done():
		_ = p.Close()
		return nil, fmt.Errorf("launching chrome: %w", ctx.Err())
	}
	return p, nil
}

type chromePage struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// bind derives a context from the tab that also honours ctx's deadline and
// cancellation.
func (p *chromePage) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	var runCtx context.Context
	var cancel context.CancelFunc
	if dl, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(p.ctx, dl)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) Navigate(ctx context.Context, url string) (*pagecheck.Response, error) {
	runCtx, done := p.bind(ctx)
	defer done()

	var mu sync.Mutex
	documents := make(map[cdp.FrameID]int64)
	domReady := make(chan struct{}, 1)

	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if e.Type != network.ResourceTypeDocument || e.Response == nil {
				return
			}
			mu.Lock()
			documents[e.FrameID] = e.Response.Status
			mu.Unlock()
		case *page.EventDomContentEventFired:
			select {
			case domReady <- struct{}{}:
			default:
			}
		}
	})

	var nav page.NavigateReturns
	err := chromedp.Run(runCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &nav)
		}),
	)
	if err != nil {
		return nil, err
	}
	if nav.ErrorText != "" {
		return nil, fmt.Errorf("page load error %s", nav.ErrorText)
	}

	select {
	case <-domReady:
	case <-runCtx.Done():
		return nil, runCtx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	status, ok := documents[nav.FrameID]
	if !ok {
		return nil, nil
	}
	return &pagecheck.Response{StatusCode: int(status)}, nil
}

func (p *chromePage) Title(ctx context.Context) (string, error) {
	runCtx, done := p.bind(ctx)
	defer done()

	var title string
	if err := chromedp.Run(runCtx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("reading title: %w", err)
	}
	return title, nil
}

const countScript = `(() => {
	try {
		return document.querySelectorAll(%s).length;
	} catch (e) {
		return 0;
	}
})()`

func (p *chromePage) Count(ctx context.Context, selector string) (int, error) {
	lit, err := json.Marshal(selector)
	if err != nil {
		return 0, err
	}
	var n int
	if err := p.evaluate(ctx, fmt.Sprintf(countScript, lit), &n); err != nil {
		return 0, fmt.Errorf("querying %q: %w", selector, err)
	}
	return n, nil
}

const containsTextScript = `(() => {
	const needle = %s;
	const walker = document.createTreeWalker(document.documentElement || document, NodeFilter.SHOW_TEXT);
	while (walker.nextNode()) {
		if (walker.currentNode.nodeValue.includes(needle)) {
			return true;
		}
	}
	return false;
})()`

func (p *chromePage) ContainsText(ctx context.Context, text string) (bool, error) {
	lit, err := json.Marshal(text)
	if err != nil {
		return false, err
	}
	var found bool
	if err := p.evaluate(ctx, fmt.Sprintf(containsTextScript, lit), &found); err != nil {
		return false, fmt.Errorf("searching text: %w", err)
	}
	return found, nil
}

const missingAltScript = `Array.from(document.querySelectorAll("img")).filter(img => !img.getAttribute("alt")).length`

func (p *chromePage) MissingAltCount(ctx context.Context) (int, error) {
	var n int
	if err := p.evaluate(ctx, missingAltScript, &n); err != nil {
		return 0, fmt.Errorf("auditing alt text: %w", err)
	}
	return n, nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	runCtx, done := p.bind(ctx)
	defer done()

	var buf []byte
	// Quality 100 produces a PNG.
	if err := chromedp.Run(runCtx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}

func (p *chromePage) evaluate(ctx context.Context, expr string, res interface{}) error {
	runCtx, done := p.bind(ctx)
	defer done()
	return chromedp.Run(runCtx, chromedp.Evaluate(expr, res))
}

// Close shuts the tab and the browser it was started in.
func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancelTab()
	p.cancelAlloc()
	return err
}
