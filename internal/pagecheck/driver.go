package pagecheck

import "context"

// Driver opens isolated pages. Every call to Open must return a page that
// shares no state with any other page.
type Driver interface {
	Open(ctx context.Context) (Page, error)
}

// Response is the main document response observed during navigation.
type Response struct {
	StatusCode int
}

// Page is a single loaded document. Queries never mutate the page or trigger
// navigation. Count treats a malformed selector as matching nothing.
type Page interface {
	// Navigate loads url and returns once the DOM has been parsed. A nil
	// Response with a nil error means no response object was observed.
	Navigate(ctx context.Context, url string) (*Response, error)
	Title(ctx context.Context) (string, error)
	Count(ctx context.Context, selector string) (int, error)
	ContainsText(ctx context.Context, text string) (bool, error)
	MissingAltCount(ctx context.Context) (int, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}
