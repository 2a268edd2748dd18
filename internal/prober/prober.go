// Package prober sends a single HTTP request to an API endpoint and reports
// its status, latency and decoded JSON body.
package prober

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/itswale/api-utils/internal/apperr"
)

const (
	DefaultTimeout = 10 * time.Second

	// NoJSONResponse stands in for a body that is empty or not JSON.
	NoJSONResponse = "No JSON response"

	maxBodyBytes = 10 << 20

	opHeaders = "parsing headers"
	opBody    = "parsing body"
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// Request is one API call. Headers is a JSON object encoded as a string.
type Request struct {
	Method  string `json:"method"`
	URL     string `json:"url"`
	Headers string `json:"headers,omitempty"`
	Body    string `json:"body,omitempty"`
}

// Result is the outcome of a successful round trip.
type Result struct {
	StatusCode     int     `json:"status_code"`
	ElapsedSeconds float64 `json:"response_time"`
	Data           any     `json:"data"`
}

// Passed reports whether the endpoint answered without a client or server error.
func (r *Result) Passed() bool {
	return r != nil && r.StatusCode < http.StatusBadRequest
}

// Prober issues API requests with a fixed timeout.
type Prober struct {
	client *http.Client
	logger *zap.Logger
}

// New creates a Prober. A non-positive timeout selects DefaultTimeout.
// Pass nil logger to discard logs.
func New(timeout time.Duration, logger *zap.Logger) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Probe validates req, sends it once and decodes the response. Input errors
// are reported before any network activity.
func (p *Prober) Probe(ctx context.Context, req Request) (*Result, error) {
	httpReq, err := build(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		p.logger.Info("api request failed",
			zap.String("method", httpReq.Method),
			zap.String("url", req.URL),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, apperr.Wrap("sending request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperr.Wrap("reading response", err)
	}

	p.logger.Info("api request",
		zap.String("method", httpReq.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed),
	)

	return &Result{
		StatusCode:     resp.StatusCode,
		ElapsedSeconds: elapsed.Seconds(),
		Data:           decodeBody(raw),
	}, nil
}

func build(ctx context.Context, req Request) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return nil, apperr.New(apperr.InvalidInput, "validating request", fmt.Errorf("unsupported method %q", req.Method))
	}
	if strings.TrimSpace(req.URL) == "" {
		return nil, apperr.New(apperr.InvalidInput, "validating request", errors.New("endpoint URL is required"))
	}

	headers, err := ParseHeaders(req.Headers)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if method == http.MethodPost || method == http.MethodPut {
		if isJSON(headers) && strings.TrimSpace(req.Body) != "" && !json.Valid([]byte(req.Body)) {
			return nil, apperr.New(apperr.InvalidInput, opBody, errors.New("body is not valid JSON"))
		}
		body = bytes.NewBufferString(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, apperr.New(apperr.InvalidInput, "creating request", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// ParseHeaders decodes a JSON object of header names to values. An empty
// string yields no headers; non-string values are formatted with fmt.
func ParseHeaders(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, apperr.New(apperr.InvalidInput, opHeaders, err)
	}
	headers := make(map[string]string, len(obj))
	for k, v := range obj {
		switch vv := v.(type) {
		case string:
			headers[k] = vv
		case nil:
			headers[k] = ""
		default:
			headers[k] = fmt.Sprint(vv)
		}
	}
	return headers, nil
}

func isJSON(headers map[string]string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") {
			return strings.Contains(strings.ToLower(v), "json")
		}
	}
	return false
}

func decodeBody(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return NoJSONResponse
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return NoJSONResponse
	}
	return v
}

// Message turns a Probe error into the text shown to the user.
func Message(err error) string {
	switch apperr.Classify(err) {
	case apperr.Timeout:
		return "The API took too long to respond. Check the URL or try again later."
	case apperr.Unreachable:
		return "Couldn't connect to the API. Make sure the URL is correct and the server is online."
	case apperr.InvalidInput:
		var ae *apperr.Error
		if errors.As(err, &ae) && (ae.Op == opHeaders || ae.Op == opBody) {
			return "The headers or body isn't valid JSON. Check your input and try again."
		}
		return fmt.Sprintf("The request is invalid: %v. Check your input and try again.", err)
	default:
		return fmt.Sprintf("Something went wrong: %v. Reset the test or try a different URL.", err)
	}
}
