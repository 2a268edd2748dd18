// Package report turns prober and page check results into display lines
// with remediation hints, for the HTTP API and the terminal.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/itswale/api-utils/internal/pagecheck"
	"github.com/itswale/api-utils/internal/prober"
)

const (
	// NavigationHint accompanies a page that could not be loaded.
	NavigationHint = "Check the URL, ensure it's a valid webpage, or reset the test."
	// APIHint accompanies a failed API request.
	APIHint = "Check the URL, ensure it's valid, or reset the test."

	screenshotCaption = "Page Screenshot"
)

// Line is one displayed check result. Hint is set for errors and warnings.
type Line struct {
	Check    pagecheck.Kind     `json:"check"`
	Label    string             `json:"label"`
	Severity pagecheck.Severity `json:"severity"`
	Detail   string             `json:"detail"`
	Hint     string             `json:"hint,omitempty"`
	Image    []byte             `json:"image,omitempty"`
}

// Hint returns the remediation text for a failed check.
func Hint(k pagecheck.Kind) string {
	name := strings.ReplaceAll(string(k), "_", " ")
	return fmt.Sprintf("The %s check failed. Verify the webpage has a %s or try a different URL.", name, name)
}

// WarningHint returns the remediation text for a check that passed with a
// warning.
func WarningHint(k pagecheck.Kind) string {
	switch k {
	case pagecheck.KindStatus:
		return "The site answered with an unexpected status. Confirm the URL points at a live page."
	case pagecheck.KindLoadTime:
		return "The page loaded slowly. Try again later or check the site's performance."
	case pagecheck.KindAccessibility:
		return "Add alt text to every image so screen readers can describe it."
	case pagecheck.KindLinks, pagecheck.KindImages, pagecheck.KindForms:
		return fmt.Sprintf("No %s were found on the page. Confirm this is the page you meant to test.", k)
	default:
		name := strings.ReplaceAll(string(k), "_", " ")
		return fmt.Sprintf("The %s check needs attention. Review the webpage or try a different URL.", name)
	}
}

// Lines lists the outcomes of rs in evaluation order. A failed set yields no
// lines.
func Lines(rs pagecheck.ResultSet) []Line {
	ordered := rs.Ordered()
	lines := make([]Line, 0, len(ordered))
	for _, o := range ordered {
		l := Line{
			Check:    o.Kind,
			Label:    o.Kind.Label(),
			Severity: o.Severity,
			Detail:   o.Detail,
			Image:    o.Image,
		}
		if o.Kind == pagecheck.KindScreenshot && l.Detail == "" {
			l.Detail = screenshotCaption
		}
		switch o.Severity {
		case pagecheck.SeverityError:
			l.Hint = Hint(o.Kind)
		case pagecheck.SeverityWarning:
			l.Hint = WarningHint(o.Kind)
		}
		lines = append(lines, l)
	}
	return lines
}

// WritePage renders rs as coloured text. Screenshot bytes are not written.
func WritePage(w io.Writer, rs pagecheck.ResultSet) {
	ok := color.New(color.FgGreen).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()
	info := color.New(color.FgCyan).SprintFunc()

	if rs.Failed() {
		fmt.Fprintln(w, fail(rs.NavigationError))
		fmt.Fprintf(w, "%s %s\n", info("What to do:"), NavigationHint)
		return
	}

	for _, l := range Lines(rs) {
		text := fmt.Sprintf("%s: %s", l.Label, l.Detail)
		switch l.Severity {
		case pagecheck.SeveritySuccess:
			fmt.Fprintln(w, ok(text))
		case pagecheck.SeverityWarning:
			fmt.Fprintln(w, warn(text))
		default:
			fmt.Fprintln(w, fail(text))
		}
		if l.Hint != "" {
			fmt.Fprintf(w, "%s %s\n", info("What to do:"), l.Hint)
		}
	}
	fmt.Fprintln(w, rs.Summary())
}

// WriteAPI renders a probe result, or the user-facing message for err.
func WriteAPI(w io.Writer, res *prober.Result, err error) error {
	fail := color.New(color.FgRed).SprintFunc()
	info := color.New(color.FgCyan).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	if err != nil {
		fmt.Fprintln(w, fail(prober.Message(err)))
		fmt.Fprintf(w, "%s %s\n", info("What to do:"), APIHint)
		return nil
	}

	status := fmt.Sprint(res.StatusCode)
	if !res.Passed() {
		status = fail(status)
	}
	fmt.Fprintf(w, "%s: %s\n", bold("Status Code"), status)
	fmt.Fprintf(w, "%s: %.2f seconds\n", bold("Response Time"), res.ElapsedSeconds)

	body, err := json.MarshalIndent(res.Data, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting response body: %w", err)
	}
	_, err = fmt.Fprintln(w, string(body))
	return err
}
