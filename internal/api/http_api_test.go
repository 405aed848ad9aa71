package api

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tally/internal/coord"
	"tally/internal/coord/memory"
	"tally/internal/counter"
	"tally/internal/limits"
	"tally/internal/testutil"
)

var testDay = time.Date(2017, time.January, 9, 12, 0, 0, 0, time.Local)

// newTestServer serves the API over a sync counter and a limit manager
// sharing one in-memory coordination service.
func newTestServer(t testing.TB) *httptest.Server {
	t.Helper()
	svc := memory.New()
	store := counter.NewCoordStore(svc, coord.RetryNTimes{Attempts: 10, Sleep: time.Microsecond})
	engine := counter.NewEngine(store, counter.EngineOptions{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	counters := counter.New(engine, counter.PathPolicy{
		Root:       "/tally/counters",
		NodePrefix: "api_call_atomic_counter_zookeeper_",
		Now:        testutil.NewFakeClock(testDay).Now,
	}, counter.Options{})
	manager := limits.NewManager(svc, limits.Options{
		Root:         "/tally/limits",
		RearmInitial: time.Millisecond,
		RearmMax:     5 * time.Millisecond,
	})
	srv := httptest.NewServer(NewHandler(Config{Counters: counters, Limits: manager}))
	t.Cleanup(func() {
		srv.Close()
		_ = manager.Close()
	})
	return srv
}

func doRequestJSON(t *testing.T, method, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	ctx := testutil.Context(t, 2*time.Second)
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("parse response %s: %v", body, err)
	}
	return out
}

func expectError(t *testing.T, resp *http.Response, body []byte, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected %d, got %d: %s", status, resp.StatusCode, body)
	}
	if got := decode[errorResponse](t, body).Error; got != code {
		t.Fatalf("expected %q, got %q", code, got)
	}
}

func countValue(t *testing.T, url string) int64 {
	t.Helper()
	resp, body := doRequestJSON(t, http.MethodGet, url, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("count %s: status %d: %s", url, resp.StatusCode, body)
	}
	return decode[countResponse](t, body).Value
}

// TestHTTP_RecordAndCountWithDimensions verifies success counts fan out per dimension.
func TestHTTP_RecordAndCountWithDimensions(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doRequestJSON(t, http.MethodPost, srv.URL+"/v1/counters/response_success",
		[]byte(`{"category":"1","delta":3,"product":"9"}`))
	if resp.StatusCode != http.StatusOK || !decode[recordResponse](t, body).OK {
		t.Fatalf("record failed: %d %s", resp.StatusCode, body)
	}
	base := srv.URL + "/v1/counters/response_success/1?day=20170109"
	if got := countValue(t, base); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := countValue(t, base+"&product=9"); got != 3 {
		t.Fatalf("expected product count 3, got %d", got)
	}
	if got := countValue(t, base+"&tv=2"); got != -1 {
		t.Fatalf("expected -1 for unwritten tv count, got %d", got)
	}
}

// TestHTTP_RecordDefaultsDeltaAndToday verifies an omitted delta counts one
// and an omitted day reads today.
func TestHTTP_RecordDefaultsDeltaAndToday(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 2; i++ {
		resp, body := doRequestJSON(t, http.MethodPost, srv.URL+"/v1/counters/no-response", []byte(`{"category":"4"}`))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("record failed: %d %s", resp.StatusCode, body)
		}
	}
	resp, body := doRequestJSON(t, http.MethodGet, srv.URL+"/v1/counters/no_response/4", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("count failed: %d %s", resp.StatusCode, body)
	}
	parsed := decode[countResponse](t, body)
	if parsed.Value != 2 || parsed.Day != "20170109" || parsed.Kind != counter.NoResponse {
		t.Fatalf("unexpected count response %+v", parsed)
	}
}

// TestHTTP_RecordValidationErrors verifies malformed record requests are rejected.
func TestHTTP_RecordValidationErrors(t *testing.T) {
	srv := newTestServer(t)
	cases := []struct {
		name   string
		kind   string
		body   string
		status int
		code   string
	}{
		{name: "unknown_kind", kind: "timeout", body: `{"category":"1"}`, status: http.StatusNotFound, code: "unknown_kind"},
		{name: "bad_json", kind: "exception", body: `{"category":`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown_field", kind: "exception", body: `{"category":"1","count":2}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "dimension_on_exception", kind: "exception", body: `{"category":"1","product":"2"}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "blank_category", kind: "beyond", body: `{"category":" "}`, status: http.StatusBadRequest, code: "invalid_category"},
		{name: "separator_in_category", kind: "response_success", body: `{"category":"1_p_7"}`, status: http.StatusBadRequest, code: "invalid_category"},
		{name: "separator_in_product", kind: "response_success", body: `{"category":"1","product":"7_t_9"}`, status: http.StatusBadRequest, code: "invalid_category"},
	}
	for _, tc := range cases {
		resp, body := doRequestJSON(t, http.MethodPost, srv.URL+"/v1/counters/"+tc.kind, []byte(tc.body))
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, resp.StatusCode)
		}
		if got := decode[errorResponse](t, body).Error; got != tc.code {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.code, got)
		}
	}
}

// TestHTTP_CountValidationErrors verifies malformed reads are rejected.
func TestHTTP_CountValidationErrors(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doRequestJSON(t, http.MethodGet, srv.URL+"/v1/counters/exception/1?day=2017-01-09", nil)
	expectError(t, resp, body, http.StatusBadRequest, "invalid_day")

	resp, body = doRequestJSON(t, http.MethodGet, srv.URL+"/v1/counters/response_success/1?product=1&tv=2", nil)
	expectError(t, resp, body, http.StatusBadRequest, "invalid_request")

	resp, body = doRequestJSON(t, http.MethodGet, srv.URL+"/v1/counters/nope/1", nil)
	expectError(t, resp, body, http.StatusNotFound, "unknown_kind")
}

// TestHTTP_LimitUnknownIsUnbounded verifies unconfigured categories report no limit.
func TestHTTP_LimitUnknownIsUnbounded(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doRequestJSON(t, http.MethodGet, srv.URL+"/v1/limits/nowhere", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	parsed := decode[limitResponse](t, body)
	if !parsed.Unbounded || parsed.Limit != math.MaxInt64 {
		t.Fatalf("unexpected limit response %+v", parsed)
	}

	resp, body = doRequestJSON(t, http.MethodGet, srv.URL+"/v1/limits", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := decode[limitsResponse](t, body).Limits; got == nil || len(got) != 0 {
		t.Fatalf("expected empty limit list, got %v", got)
	}
}

// TestHTTP_PutLimitIsEventuallyVisible verifies writes arrive through the watch.
func TestHTTP_PutLimitIsEventuallyVisible(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doRequestJSON(t, http.MethodPut, srv.URL+"/v1/limits/7", []byte(`{"limit":50}`))
	if resp.StatusCode != http.StatusOK || !decode[putLimitResponse](t, body).OK {
		t.Fatalf("put failed: %d %s", resp.StatusCode, body)
	}
	testutil.Eventually(t, 2*time.Second, testutil.DefaultInterval, func() bool {
		_, body := doRequestJSON(t, http.MethodGet, srv.URL+"/v1/limits/7", nil)
		return decode[limitResponse](t, body).Limit == 50
	}, "limit 7 never became 50")

	_, body = doRequestJSON(t, http.MethodGet, srv.URL+"/v1/limits", nil)
	entries := decode[limitsResponse](t, body).Limits
	if len(entries) != 1 || entries[0] != (limits.Entry{Category: "7", Limit: 50}) {
		t.Fatalf("unexpected limits %+v", entries)
	}
}

// TestHTTP_PutLimitValidationErrors verifies malformed limit writes are rejected.
func TestHTTP_PutLimitValidationErrors(t *testing.T) {
	srv := newTestServer(t)
	for _, payload := range []string{`{}`, `{"limit":-1}`, `{"limit":"ten"}`, `{"limit":1,"extra":true}`} {
		resp, body := doRequestJSON(t, http.MethodPut, srv.URL+"/v1/limits/7", []byte(payload))
		expectError(t, resp, body, http.StatusBadRequest, "invalid_request")
	}
}

// TestHTTP_MethodNotAllowed verifies unsupported methods are refused.
func TestHTTP_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doRequestJSON(t, http.MethodDelete, srv.URL+"/v1/limits/7", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

// TestHTTP_MissingDependencies verifies an unwired handler reports backend errors.
func TestHTTP_MissingDependencies(t *testing.T) {
	srv := httptest.NewServer(NewHandler(Config{}))
	defer srv.Close()
	resp, body := doRequestJSON(t, http.MethodGet, srv.URL+"/v1/limits", nil)
	expectError(t, resp, body, http.StatusInternalServerError, "backend_error")
	resp, body = doRequestJSON(t, http.MethodPost, srv.URL+"/v1/counters/beyond", []byte(`{"category":"1"}`))
	expectError(t, resp, body, http.StatusInternalServerError, "backend_error")
}
