package report_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itswale/api-utils/internal/apperr"
	"github.com/itswale/api-utils/internal/pagecheck"
	"github.com/itswale/api-utils/internal/prober"
	"github.com/itswale/api-utils/internal/report"
)

func init() {
	color.NoColor = true
}

func sampleSet() pagecheck.ResultSet {
	return pagecheck.ResultSet{Outcomes: map[pagecheck.Kind]pagecheck.Outcome{
		pagecheck.KindScreenshot: {Kind: pagecheck.KindScreenshot, Severity: pagecheck.SeveritySuccess, Image: []byte("png")},
		pagecheck.KindLinks:      {Kind: pagecheck.KindLinks, Severity: pagecheck.SeverityWarning, Detail: "No links found"},
		pagecheck.KindTitle:      {Kind: pagecheck.KindTitle, Severity: pagecheck.SeveritySuccess, Detail: "Home"},
		pagecheck.KindLoadTime:   {Kind: pagecheck.KindLoadTime, Severity: pagecheck.SeverityError, Detail: "broken"},
	}}
}

func TestLines_OrderAndHints(t *testing.T) {
	lines := report.Lines(sampleSet())
	require.Len(t, lines, 4)

	assert.Equal(t, pagecheck.KindTitle, lines[0].Check)
	assert.Equal(t, pagecheck.KindLinks, lines[1].Check)
	assert.Equal(t, pagecheck.KindLoadTime, lines[2].Check)
	assert.Equal(t, pagecheck.KindScreenshot, lines[3].Check)

	assert.Empty(t, lines[0].Hint)
	assert.Equal(t, "No links were found on the page. Confirm this is the page you meant to test.", lines[1].Hint)
	assert.Equal(t, "The load time check failed. Verify the webpage has a load time or try a different URL.", lines[2].Hint)
	assert.Equal(t, "Load time", lines[2].Label)
	assert.Equal(t, "Page Screenshot", lines[3].Detail)
	assert.Equal(t, []byte("png"), lines[3].Image)
}

func TestWarningHint(t *testing.T) {
	tests := []struct {
		kind pagecheck.Kind
		want string
	}{
		{pagecheck.KindStatus, "The site answered with an unexpected status. Confirm the URL points at a live page."},
		{pagecheck.KindLoadTime, "The page loaded slowly. Try again later or check the site's performance."},
		{pagecheck.KindAccessibility, "Add alt text to every image so screen readers can describe it."},
		{pagecheck.KindImages, "No images were found on the page. Confirm this is the page you meant to test."},
		{pagecheck.KindForms, "No forms were found on the page. Confirm this is the page you meant to test."},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, report.WarningHint(tt.kind))
		})
	}
}

func TestLines_FailedSet(t *testing.T) {
	assert.Empty(t, report.Lines(pagecheck.ResultSet{NavigationError: "down"}))
}

func TestWritePage(t *testing.T) {
	var buf bytes.Buffer
	report.WritePage(&buf, sampleSet())

	want := "Title: Home\n" +
		"Links: No links found\n" +
		"What to do: No links were found on the page. Confirm this is the page you meant to test.\n" +
		"Load time: broken\n" +
		"What to do: The load time check failed. Verify the webpage has a load time or try a different URL.\n" +
		"Screenshot: Page Screenshot\n" +
		"2 passed, 1 warnings, 1 errors\n"
	assert.Equal(t, want, buf.String())
}

func TestWritePage_NavigationError(t *testing.T) {
	var buf bytes.Buffer
	report.WritePage(&buf, pagecheck.ResultSet{NavigationError: "Couldn't connect to the site.", Fault: apperr.Unreachable})

	assert.Equal(t, "Couldn't connect to the site.\nWhat to do: "+report.NavigationHint+"\n", buf.String())
}

func TestWriteAPI(t *testing.T) {
	var buf bytes.Buffer
	err := report.WriteAPI(&buf, &prober.Result{StatusCode: 201, ElapsedSeconds: 0.25, Data: map[string]any{"id": 1}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Status Code: 201\nResponse Time: 0.25 seconds\n{\n  \"id\": 1\n}\n", buf.String())
}

func TestWriteAPI_Error(t *testing.T) {
	var buf bytes.Buffer
	err := report.WriteAPI(&buf, nil, apperr.New(apperr.Timeout, "sending request", errors.New("deadline")))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "The API took too long to respond.")
	assert.Contains(t, buf.String(), report.APIHint)
}
