package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	// Recording helpers must not panic after Init.
	CountRows("census", "loaded", 10)
	CountRows("census", "loaded", 0)
	CountRun("census", "succeeded")
	ObserveCollection("census", 2*time.Second)
	CountUpstreamRequest("bls", 200)
	CountDedupCheckFailure("dfi")
	CountSampleFallback("places")
	WorkerStarted()
	WorkerFinished()
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	CountRows("sba", "loaded", 3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatal("expected scrape output")
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	Init()

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 passthrough, got %d", rr.Code)
	}
}
