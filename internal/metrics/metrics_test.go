package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if resolutionsTotal == nil || cacheLookupsTotal == nil || candidatesTotal == nil ||
		semanticVerdictsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	ObserveCacheLookup(true)
	if got := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")); got != before+1 {
		t.Errorf("cache hit counter = %f, want %f", got, before+1)
	}

	beforeRes := testutil.ToFloat64(resolutionsTotal.WithLabelValues("not_found", "none"))
	ObserveResolution("not_found", "", 2*time.Second)
	if got := testutil.ToFloat64(resolutionsTotal.WithLabelValues("not_found", "none")); got != beforeRes+1 {
		t.Errorf("resolution counter = %f, want %f", got, beforeRes+1)
	}

	ObserveCandidate("bing-images", "rejected_structural")
	if got := testutil.ToFloat64(candidatesTotal.WithLabelValues("bing-images", "rejected_structural")); got < 1 {
		t.Errorf("candidate counter = %f, want >= 1", got)
	}

	ObserveRetry("download")
	ObserveSemanticVerdict("approved")
	ObserveSourceSearch("google-images", "empty")
	IncImageWorkers()
	DecImageWorkers()
	if got := testutil.ToFloat64(imageWorkersBusy); got != 0 {
		t.Errorf("busy workers = %f, want 0", got)
	}
}
