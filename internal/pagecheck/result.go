package pagecheck

import (
	"fmt"

	"github.com/itswale/api-utils/internal/apperr"
)

// Severity classifies how significant an outcome is.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Request describes one engine invocation.
type Request struct {
	URL            string `json:"url"`
	Checks         []Kind `json:"checks"`
	SearchText     string `json:"search_text,omitempty"`
	CustomSelector string `json:"custom_selector,omitempty"`
}

// Has reports whether k was requested.
func (r Request) Has(k Kind) bool {
	for _, c := range r.Checks {
		if c == k {
			return true
		}
	}
	return false
}

// Outcome is the result of one check. Image is only set for screenshots.
type Outcome struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail,omitempty"`
	Image    []byte   `json:"image,omitempty"`
}

// ResultSet holds either one outcome per evaluated check or a single
// navigation error, never both.
type ResultSet struct {
	Outcomes        map[Kind]Outcome `json:"outcomes,omitempty"`
	NavigationError string           `json:"navigation_error,omitempty"`
	Fault           apperr.Kind      `json:"fault,omitempty"`
}

func failed(kind apperr.Kind, msg string) ResultSet {
	return ResultSet{NavigationError: msg, Fault: kind}
}

// Failed reports whether the page could not be loaded or evaluated.
func (rs ResultSet) Failed() bool {
	return rs.NavigationError != ""
}

// Passed reports whether the page loaded and no outcome has error severity.
func (rs ResultSet) Passed() bool {
	if rs.Failed() {
		return false
	}
	for _, o := range rs.Outcomes {
		if o.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Ordered returns the outcomes in evaluation order.
func (rs ResultSet) Ordered() []Outcome {
	out := make([]Outcome, 0, len(rs.Outcomes))
	for _, k := range AllKinds {
		if o, ok := rs.Outcomes[k]; ok {
			out = append(out, o)
		}
	}
	return out
}

// Summary is a one-line description used for run history.
func (rs ResultSet) Summary() string {
	if rs.Failed() {
		return rs.NavigationError
	}
	counts := map[Severity]int{}
	for _, o := range rs.Outcomes {
		counts[o.Severity]++
	}
	return fmt.Sprintf("%d passed, %d warnings, %d errors",
		counts[SeveritySuccess], counts[SeverityWarning], counts[SeverityError])
}
