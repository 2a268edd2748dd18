package alert

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/itswale/api-utils/internal/replay"
)

const (
	statusPassing = "passing"
	statusFailing = "failing"
)

// Alerter sends webhook notifications when a saved test flips between
// passing and failing.
type Alerter struct {
	webhookURL string
	cooldown   time.Duration
	client     *http.Client
	lastAlert  map[string]time.Time
	mu         sync.Mutex
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// New creates a new Alerter. Pass nil logger to discard logs.
func New(webhookURL string, cooldown time.Duration, logger *zap.Logger) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerter{
		webhookURL: webhookURL,
		cooldown:   cooldown,
		client:     &http.Client{Timeout: 10 * time.Second},
		lastAlert:  make(map[string]time.Time),
		logger:     logger,
	}
}

type webhookPayload struct {
	TestID         string `json:"test_id"`
	Test           string `json:"test"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status"`
	Summary        string `json:"summary"`
	DurationMs     int64  `json:"duration_ms"`
	RanAt          string `json:"ran_at"`
	Source         string `json:"source"`
}

func statusOf(passed bool) string {
	if passed {
		return statusPassing
	}
	return statusFailing
}

// Notify sends a webhook if the verdict changed and the test's cooldown has
// elapsed. Its signature matches replay.Replayer.SetOnResult.
func (a *Alerter) Notify(o replay.Outcome, prevPassed *bool) {
	// First run of a test: nothing to compare against.
	if prevPassed == nil {
		return
	}
	if o.Run.Passed == *prevPassed {
		return
	}

	a.mu.Lock()
	last, exists := a.lastAlert[o.Test.ID]
	if exists && time.Since(last) < a.cooldown {
		a.mu.Unlock()
		a.logger.Info("alert suppressed by cooldown", zap.String("test", o.Test.Name))
		return
	}
	a.lastAlert[o.Test.ID] = time.Now()
	a.mu.Unlock()

	// Send asynchronously so Notify doesn't block the replay loop.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.send(o, statusOf(*prevPassed))
	}()
}

// Wait blocks until in-flight webhooks have been sent.
func (a *Alerter) Wait() {
	a.wg.Wait()
}

func (a *Alerter) send(o replay.Outcome, prevStatus string) {
	payload := webhookPayload{
		TestID:         o.Test.ID,
		Test:           o.Test.Name,
		Kind:           string(o.Test.Kind),
		Status:         statusOf(o.Run.Passed),
		PreviousStatus: prevStatus,
		Summary:        o.Run.Summary,
		DurationMs:     o.Run.DurationMs,
		RanAt:          o.Run.RanAt.UTC().Format(time.RFC3339),
		Source:         "api-utils",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("marshaling webhook payload", zap.String("test", o.Test.Name), zap.Error(err))
		return
	}

	resp, err := a.client.Post(a.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		a.logger.Error("sending webhook",
			zap.String("test", o.Test.Name),
			zap.String("url", a.webhookURL),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		a.logger.Warn("webhook returned non-2xx status",
			zap.String("test", o.Test.Name),
			zap.Int("status", resp.StatusCode),
		)
	}
}
