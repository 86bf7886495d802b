package datadog

import (
	"context"
	"errors"
	"net/http"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"ingest/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

// newTestBackend builds a backend with a fake submitter, a fixed clock and
// a ticker that never fires, so tests control every Flush().
func newTestBackend(t *testing.T, sub *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:    "testjob",
		FlushEvery: time.Hour,
		now:        func() time.Time { return time.Unix(1700000000, 0) },
		newTicker:  func(d time.Duration) *time.Ticker { return time.NewTicker(time.Hour) },
		submitter:  sub,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	t.Cleanup(func() {
		select {
		case <-b.stopCh:
		default:
			_ = b.Close()
		}
	})
	return b
}

// TestResolveEnvTag verifies environment-tag precedence and defaults.
//
// Edge cases:
//   - ENV wins over DD_ENV.
//   - Whitespace-only env vars are ignored.
//   - If neither is set, "env:unknown" is returned.
func TestResolveEnvTag(t *testing.T) {
	oldENV := os.Getenv("ENV")
	oldDDENV := os.Getenv("DD_ENV")
	t.Cleanup(func() {
		_ = os.Setenv("ENV", oldENV)
		_ = os.Setenv("DD_ENV", oldDDENV)
	})

	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_ = os.Setenv("ENV", tc.env)
			_ = os.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

// TestWrapInitErr verifies error wrapping behavior.
func TestWrapInitErr(t *testing.T) {
	if got := wrapInitErr(nil); got != nil {
		t.Fatalf("wrapInitErr(nil)=%v, want nil", got)
	}

	in := errors.New("boom")
	got := wrapInitErr(in)
	if got == nil || !strings.Contains(got.Error(), "datadog metrics init:") {
		t.Fatalf("wrapInitErr prefix missing: %v", got)
	}
	if !errors.Is(got, in) {
		t.Fatalf("wrapInitErr did not wrap original error: got=%v", got)
	}
}

// TestStageStatusKeyRoundTrip verifies key encoding/decoding.
func TestStageStatusKeyRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		stage  string
		status string
	}{
		{name: "normal", stage: "validate", status: "ok"},
		{name: "empty_stage", stage: "", status: "ok"},
		{name: "empty_status", stage: "import", status: ""},
		{name: "both_empty", stage: "", status: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			k := stageStatusKey(tc.stage, tc.status)
			stage, status := splitStageStatusKey(k)
			if stage != tc.stage || status != tc.status {
				t.Fatalf("roundtrip (%q,%q) -> (%q,%q)", tc.stage, tc.status, stage, status)
			}
		})
	}

	// A key without the separator decodes with an unknown status.
	stage, status := splitStageStatusKey("bare")
	if stage != "bare" || status != "unknown" {
		t.Fatalf("bare key -> (%q,%q)", stage, status)
	}
}

// TestPercentileNearestRank verifies the rank math on a known sample set.
func TestPercentileNearestRank(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	sort.Float64s(s)

	tests := []struct {
		p    float64
		want float64
	}{
		{0.0, 1}, {0.50, 6}, {0.90, 9}, {1.0, 10},
	}
	for _, tc := range tests {
		if got := percentileNearestRank(s, tc.p); got != tc.want {
			t.Fatalf("p%.0f=%v, want %v", tc.p*100, got, tc.want)
		}
	}
	if got := percentileNearestRank(nil, 0.5); got != 0 {
		t.Fatalf("empty samples: got %v, want 0", got)
	}
}

// TestParseTagsCSV verifies trimming and empty handling.
func TestParseTagsCSV(t *testing.T) {
	if got := ParseTagsCSV(""); got != nil {
		t.Fatalf("empty input: got %v", got)
	}
	got := ParseTagsCSV(" env:prod , service:ingest ,, ")
	want := []string{"env:prod", "service:ingest"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// TestBackendFlush verifies the full record-then-flush path: metric
// renaming, tags, percentile gauges and buffer reset.
func TestBackendFlush(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter(metrics.MetricStageTotal, 1, metrics.Labels{"stage": "validate", "status": "ok"})
	b.IncCounter(metrics.MetricRowsTotal, 42, metrics.Labels{"kind": "inserted"})
	b.IncCounter(metrics.MetricChunksTotal, 3, nil)
	b.IncCounter(metrics.MetricSessionsTotal, 1, metrics.Labels{"status": "completed"})
	b.ObserveHistogram(metrics.MetricStageDurationSeconds, 1.5, metrics.Labels{"stage": "validate", "status": "ok"})
	b.IncCounter("something_else", 1, nil) // ignored

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	payload, ok := sub.last()
	if !ok {
		t.Fatalf("no payload submitted")
	}

	byMetric := map[string]datadogV2.MetricSeries{}
	for _, s := range payload.Series {
		byMetric[s.Metric] = s
	}

	stage, ok := byMetric["ingest.stage.total"]
	if !ok {
		t.Fatalf("missing ingest.stage.total in %v", byMetric)
	}
	joined := strings.Join(stage.Tags, ",")
	for _, tag := range []string{"job:testjob", "stage:validate", "status:ok"} {
		if !strings.Contains(joined, tag) {
			t.Fatalf("stage tags missing %q: %v", tag, stage.Tags)
		}
	}

	rows, ok := byMetric["ingest.rows.total"]
	if !ok || *rows.Points[0].Value != 42 {
		t.Fatalf("rows series = %+v", rows)
	}
	if _, ok := byMetric["ingest.chunks.total"]; !ok {
		t.Fatalf("missing chunks series")
	}
	if _, ok := byMetric["ingest.sessions.total"]; !ok {
		t.Fatalf("missing sessions series")
	}
	for _, p := range []string{".p50", ".p90", ".p95", ".p99", ".max", ".samples"} {
		if _, ok := byMetric["ingest.stage.duration_seconds"+p]; !ok {
			t.Fatalf("missing duration percentile %s", p)
		}
	}
	if _, ok := byMetric["something_else"]; ok {
		t.Fatalf("unknown metric should be dropped")
	}

	// Buffers were reset: a second flush submits nothing.
	n := sub.count()
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if sub.count() != n {
		t.Fatalf("empty flush should not submit")
	}
}

// TestBackendClose verifies Close performs a final flush of buffered data.
func TestBackendClose(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter(metrics.MetricRowsTotal, 1, metrics.Labels{"kind": "inserted"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sub.count() != 1 {
		t.Fatalf("Close should flush once, got %d", sub.count())
	}
}

// TestBackendIgnoresNonPositive verifies guard clauses on deltas and
// negative histogram values.
func TestBackendIgnoresNonPositive(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter(metrics.MetricRowsTotal, 0, metrics.Labels{"kind": "inserted"})
	b.IncCounter(metrics.MetricRowsTotal, -5, metrics.Labels{"kind": "inserted"})
	b.ObserveHistogram(metrics.MetricStageDurationSeconds, -1, metrics.Labels{"stage": "x", "status": "ok"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if sub.count() != 0 {
		t.Fatalf("nothing should have been buffered")
	}
}
