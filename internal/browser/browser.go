// Package browser provides the page drivers used by the check engine.
package browser

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/itswale/api-utils/internal/pagecheck"
)

const (
	DriverChrome = "chrome"
	DriverStatic = "static"
)

// Options selects and configures a driver.
type Options struct {
	Driver    string
	ExecPath  string
	RemoteURL string
	Headful   bool
}

// New returns the driver named by opts.Driver. An empty name selects chrome.
func New(opts Options, logger *zap.Logger) (pagecheck.Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch opts.Driver {
	case "", DriverChrome:
		return newChrome(opts, logger), nil
	case DriverStatic:
		return NewStatic(http.DefaultTransport.(*http.Transport)), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", opts.Driver)
	}
}
