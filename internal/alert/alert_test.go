package alert_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/itswale/api-utils/internal/alert"
	"github.com/itswale/api-utils/internal/replay"
	"github.com/itswale/api-utils/internal/storage"
)

func boolPtr(b bool) *bool {
	return &b
}

func makeOutcome(testID string, passed bool) replay.Outcome {
	return replay.Outcome{
		Test: storage.SavedTest{ID: testID, Name: "Test 1 UI", Kind: storage.KindUI},
		Run: storage.Run{
			TestID:     testID,
			Passed:     passed,
			Summary:    "1 passed, 0 warnings, 0 errors",
			DurationMs: 120,
			RanAt:      time.Now().UTC(),
		},
	}
}

func countingServer(t *testing.T, count *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(count, 1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAlerter_PassingToFailing(t *testing.T) {
	var callCount int32
	srv := countingServer(t, &callCount)

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeOutcome("t1", false), boolPtr(true))
	a.Wait()

	if atomic.LoadInt32(&callCount) != 1 {
		t.Errorf("expected 1 webhook call for passing→failing, got %d", atomic.LoadInt32(&callCount))
	}
}

func TestAlerter_FailingToPassing(t *testing.T) {
	var callCount int32
	srv := countingServer(t, &callCount)

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeOutcome("t1", true), boolPtr(false))
	a.Wait()

	if atomic.LoadInt32(&callCount) != 1 {
		t.Errorf("expected 1 webhook call for failing→passing, got %d", atomic.LoadInt32(&callCount))
	}
}

func TestAlerter_SameVerdict_NoWebhook(t *testing.T) {
	var callCount int32
	srv := countingServer(t, &callCount)

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeOutcome("t1", true), boolPtr(true))
	a.Notify(makeOutcome("t1", false), boolPtr(false))
	a.Wait()

	if atomic.LoadInt32(&callCount) != 0 {
		t.Errorf("expected 0 webhook calls for an unchanged verdict, got %d", atomic.LoadInt32(&callCount))
	}
}

func TestAlerter_FirstRun_NoWebhook(t *testing.T) {
	var callCount int32
	srv := countingServer(t, &callCount)

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeOutcome("t1", false), nil)
	a.Wait()

	if atomic.LoadInt32(&callCount) != 0 {
		t.Errorf("expected 0 webhook calls for first run, got %d", atomic.LoadInt32(&callCount))
	}
}

func TestAlerter_Cooldown_SuppressesAlerts(t *testing.T) {
	var callCount int32
	srv := countingServer(t, &callCount)

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeOutcome("t1", false), boolPtr(true))
	a.Notify(makeOutcome("t1", true), boolPtr(false))
	a.Wait()

	if atomic.LoadInt32(&callCount) != 1 {
		t.Errorf("expected 1 webhook call (cooldown suppressed second), got %d", atomic.LoadInt32(&callCount))
	}
}

func TestAlerter_Cooldown_PerTest(t *testing.T) {
	var callCount int32
	srv := countingServer(t, &callCount)

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeOutcome("t1", false), boolPtr(true))
	a.Notify(makeOutcome("t2", false), boolPtr(true))
	a.Wait()

	if atomic.LoadInt32(&callCount) != 2 {
		t.Errorf("expected 2 webhook calls (one per test), got %d", atomic.LoadInt32(&callCount))
	}
}

func TestAlerter_WebhookPayload(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeOutcome("t1", false), boolPtr(true))
	a.Wait()

	if payload["test_id"] != "t1" {
		t.Errorf("expected test_id 't1', got %v", payload["test_id"])
	}
	if payload["test"] != "Test 1 UI" {
		t.Errorf("expected test 'Test 1 UI', got %v", payload["test"])
	}
	if payload["status"] != "failing" {
		t.Errorf("expected status 'failing', got %v", payload["status"])
	}
	if payload["previous_status"] != "passing" {
		t.Errorf("expected previous_status 'passing', got %v", payload["previous_status"])
	}
	if payload["duration_ms"] != 120.0 {
		t.Errorf("expected duration_ms 120, got %v", payload["duration_ms"])
	}
	if payload["source"] != "api-utils" {
		t.Errorf("expected source 'api-utils', got %v", payload["source"])
	}
}

func TestAlerter_HTTPError_DoesNotCrash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := alert.New(srv.URL, time.Hour, nil)
	// Should not panic even on HTTP error
	a.Notify(makeOutcome("t1", false), boolPtr(true))
	a.Wait()
}
