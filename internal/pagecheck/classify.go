package pagecheck

import (
	"fmt"
	"net/http"
	"time"
)

// ClassifyStatus maps the navigation response onto a severity and detail.
func ClassifyStatus(resp *Response) (Severity, string) {
	if resp == nil {
		return SeverityError, "Failed to load site"
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return SeveritySuccess, "Site is live (200 OK)"
	case http.StatusNotFound:
		return SeverityError, "Site not found (404)"
	case http.StatusServiceUnavailable:
		return SeverityError, "Service unavailable (503)"
	default:
		return SeverityWarning, fmt.Sprintf("Site returned status %d", resp.StatusCode)
	}
}

// LoadTimeOutcome reports elapsed as a success when it is under threshold.
func LoadTimeOutcome(elapsed, threshold time.Duration) Outcome {
	detail := fmt.Sprintf("Loaded in %.2f seconds", elapsed.Seconds())
	if elapsed < threshold {
		return Outcome{Kind: KindLoadTime, Severity: SeveritySuccess, Detail: detail}
	}
	return Outcome{Kind: KindLoadTime, Severity: SeverityWarning, Detail: detail + " (slow)"}
}
