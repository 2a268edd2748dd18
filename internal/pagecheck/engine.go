// Package pagecheck loads a webpage once and runs a requested set of
// independent checks against the loaded document.
package pagecheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/itswale/api-utils/internal/apperr"
)

const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultSlowThreshold     = 5 * time.Second
)

const (
	msgTimeout     = "The site took too long to load. Check the URL or try again later."
	msgUnreachable = "Couldn't connect to the site. Make sure the URL is correct and the site is online."
	msgGeneric     = "Something went wrong: %s. Try a different URL or reset the test."
)

// Runner runs page checks. *Engine and cache wrappers implement it.
type Runner interface {
	Run(ctx context.Context, req Request) ResultSet
}

// Engine runs checks through a Driver.
type Engine struct {
	driver            Driver
	navigationTimeout time.Duration
	slowThreshold     time.Duration
	now               func() time.Time
	logger            *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNavigationTimeout bounds the initial navigation.
func WithNavigationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.navigationTimeout = d
		}
	}
}

// WithSlowThreshold sets the load time at which load_time becomes a warning.
func WithSlowThreshold(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.slowThreshold = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine. Pass nil logger to discard logs.
func New(driver Driver, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		driver:            driver,
		navigationTimeout: DefaultNavigationTimeout,
		slowThreshold:     DefaultSlowThreshold,
		now:               time.Now,
		logger:            logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run opens a fresh page, navigates to req.URL and evaluates the requested
// checks. It never returns a partially populated result set.
func (e *Engine) Run(ctx context.Context, req Request) ResultSet {
	if req.URL == "" {
		return failed(apperr.InvalidInput, fmt.Sprintf(msgGeneric, "no URL given"))
	}

	page, err := e.driver.Open(ctx)
	if err != nil {
		e.logger.Error("opening page", zap.String("url", req.URL), zap.Error(err))
		return navigationFailure(err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			e.logger.Warn("closing page", zap.String("url", req.URL), zap.Error(err))
		}
	}()

	start := e.now()
	navCtx, cancel := context.WithTimeout(ctx, e.navigationTimeout)
	resp, err := page.Navigate(navCtx, req.URL)
	cancel()
	if err != nil {
		e.logger.Info("navigation failed", zap.String("url", req.URL), zap.Error(err))
		return navigationFailure(err)
	}
	loadTime := e.now().Sub(start)

	outcomes := make(map[Kind]Outcome, len(req.Checks))
	for _, k := range AllKinds {
		if !req.Has(k) {
			continue
		}
		o, ok, err := e.evaluate(ctx, page, k, req, resp, loadTime)
		if err != nil {
			e.logger.Warn("check failed", zap.String("url", req.URL), zap.String("check", string(k)), zap.Error(err))
			return failed(apperr.Unclassified, fmt.Sprintf(msgGeneric, err.Error()))
		}
		if ok {
			outcomes[k] = o
		}
	}

	e.logger.Debug("checks complete",
		zap.String("url", req.URL),
		zap.Int("outcomes", len(outcomes)),
		zap.Duration("elapsed", e.now().Sub(start)),
	)
	return ResultSet{Outcomes: outcomes}
}

func navigationFailure(err error) ResultSet {
	switch kind := apperr.Classify(err); kind {
	case apperr.Timeout:
		return failed(kind, msgTimeout)
	case apperr.Unreachable:
		return failed(kind, msgUnreachable)
	default:
		return failed(kind, fmt.Sprintf(msgGeneric, err.Error()))
	}
}

// evaluate runs one check. ok is false when the check is skipped because its
// auxiliary parameter is empty.
func (e *Engine) evaluate(ctx context.Context, page Page, k Kind, req Request, resp *Response, loadTime time.Duration) (Outcome, bool, error) {
	switch k {
	case KindTitle:
		title, err := page.Title(ctx)
		if err != nil {
			return Outcome{}, false, err
		}
		if title == "" {
			title = "No title found"
		}
		return Outcome{Kind: k, Severity: SeveritySuccess, Detail: title}, true, nil

	case KindStatus:
		sev, detail := ClassifyStatus(resp)
		return Outcome{Kind: k, Severity: sev, Detail: detail}, true, nil

	case KindHeader, KindFooter:
		n, err := page.Count(ctx, string(k))
		if err != nil {
			return Outcome{}, false, err
		}
		return landmarkOutcome(k, n), true, nil

	case KindLinks:
		return e.countOutcome(ctx, page, k, "a", "link")
	case KindImages:
		return e.countOutcome(ctx, page, k, "img", "image")
	case KindForms:
		return e.countOutcome(ctx, page, k, "form", "form")

	case KindText:
		if req.SearchText == "" {
			return Outcome{}, false, nil
		}
		found, err := page.ContainsText(ctx, req.SearchText)
		if err != nil {
			return Outcome{}, false, err
		}
		if found {
			return Outcome{Kind: k, Severity: SeveritySuccess, Detail: fmt.Sprintf("Text '%s' found", req.SearchText)}, true, nil
		}
		return Outcome{Kind: k, Severity: SeverityError, Detail: fmt.Sprintf("Text '%s' not found", req.SearchText)}, true, nil

	case KindLoadTime:
		return LoadTimeOutcome(loadTime, e.slowThreshold), true, nil

	case KindCustom:
		if req.CustomSelector == "" {
			return Outcome{}, false, nil
		}
		n, err := page.Count(ctx, req.CustomSelector)
		if err != nil {
			return Outcome{}, false, err
		}
		if n > 0 {
			return Outcome{Kind: k, Severity: SeveritySuccess, Detail: fmt.Sprintf("Element '%s' found", req.CustomSelector)}, true, nil
		}
		return Outcome{Kind: k, Severity: SeverityError, Detail: fmt.Sprintf("Element '%s' not found", req.CustomSelector)}, true, nil

	case KindScreenshot:
		img, err := page.Screenshot(ctx)
		if err != nil {
			return Outcome{}, false, err
		}
		return Outcome{Kind: k, Severity: SeveritySuccess, Image: img}, true, nil

	case KindAccessibility:
		missing, err := page.MissingAltCount(ctx)
		if err != nil {
			return Outcome{}, false, err
		}
		if missing == 0 {
			return Outcome{Kind: k, Severity: SeveritySuccess, Detail: "All images have alt text"}, true, nil
		}
		return Outcome{Kind: k, Severity: SeverityWarning, Detail: fmt.Sprintf("%d image(s) missing alt text", missing)}, true, nil
	}
	return Outcome{}, false, errors.New("unsupported check " + string(k))
}

func (e *Engine) countOutcome(ctx context.Context, page Page, k Kind, selector, noun string) (Outcome, bool, error) {
	n, err := page.Count(ctx, selector)
	if err != nil {
		return Outcome{}, false, err
	}
	if n == 0 {
		return Outcome{Kind: k, Severity: SeverityWarning, Detail: fmt.Sprintf("No %ss found", noun)}, true, nil
	}
	return Outcome{Kind: k, Severity: SeveritySuccess, Detail: fmt.Sprintf("%d %s(s) found", n, noun)}, true, nil
}

func landmarkOutcome(k Kind, n int) Outcome {
	if n > 0 {
		return Outcome{Kind: k, Severity: SeveritySuccess, Detail: k.Label() + " found"}
	}
	return Outcome{Kind: k, Severity: SeverityError, Detail: "No " + string(k) + " found"}
}
