package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveAPIRequestLabels(t *testing.T) {
	ObserveAPIRequest("metrics-test-repo", 200)
	ObserveAPIRequest("metrics-test-repo", 0)
	ObserveAPIRequest("metrics-test-repo", 0)

	if val := testutil.ToFloat64(apiRequestsTotal.WithLabelValues("metrics-test-repo", "200")); val != 1 {
		t.Errorf("expected 1 request with code 200, got %f", val)
	}
	if val := testutil.ToFloat64(apiRequestsTotal.WithLabelValues("metrics-test-repo", "error")); val != 2 {
		t.Errorf("expected 2 transport errors, got %f", val)
	}
}

func TestCountersAndGauges(t *testing.T) {
	ObserveRetry("metrics-test-retry")
	ObserveWarning("metrics-test-warning")
	ObserveRecord("metrics-test-outcome")

	if val := testutil.ToFloat64(apiRetriesTotal.WithLabelValues("metrics-test-retry")); val != 1 {
		t.Errorf("expected 1 retry, got %f", val)
	}
	if val := testutil.ToFloat64(warningsTotal.WithLabelValues("metrics-test-warning")); val != 1 {
		t.Errorf("expected 1 warning, got %f", val)
	}
	if val := testutil.ToFloat64(recordsTotal.WithLabelValues("metrics-test-outcome")); val != 1 {
		t.Errorf("expected 1 record, got %f", val)
	}

	before := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	if val := testutil.ToFloat64(activeWorkers); val != before+1 {
		t.Errorf("expected gauge %f, got %f", before+1, val)
	}
	DecActiveWorkers()
	if val := testutil.ToFloat64(activeWorkers); val != before {
		t.Errorf("expected gauge %f, got %f", before, val)
	}
}

func TestHistogramsObserve(t *testing.T) {
	ObserveQuotaWait(2 * time.Second)
	ObserveRateLimitDelay(50 * time.Millisecond)

	if val := testutil.CollectAndCount(quotaWaitSeconds); val != 1 {
		t.Errorf("expected quota histogram to be collected, got %d", val)
	}
	if val := testutil.CollectAndCount(rateLimitDelaySeconds); val != 1 {
		t.Errorf("expected delay histogram to be collected, got %d", val)
	}
}

func TestPushDisabledWithoutURL(t *testing.T) {
	if err := Push(context.Background(), "", "reposync"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
}

func TestPushSendsToGateway(t *testing.T) {
	var hits atomic.Int32
	var path atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	if err := Push(context.Background(), ts.URL, "reposync"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 push, got %d", hits.Load())
	}
	if got, _ := path.Load().(string); !strings.HasSuffix(got, "/metrics/job/reposync") {
		t.Fatalf("unexpected push path %q", got)
	}
}

func TestPushReportsGatewayErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	if err := Push(context.Background(), ts.URL, "reposync"); err == nil {
		t.Fatal("expected push error")
	}
}
