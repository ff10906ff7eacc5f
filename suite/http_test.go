package suite

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/audit"
	"github.com/hazyhaar/visreg/guard"
)

func post(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHTTP_CheckFlow(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.suite.Handler(HTTPConfig{}))
	defer srv.Close()

	body := `{"url":"https://example.com/","name":"home"}`
	resp := post(t, srv, "/api/check", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Trace-ID") == "" || resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("shield middleware not applied")
	}
	first := decode[Report](t, resp)
	if first.Status != artifact.StatusPending {
		t.Fatalf("first = %+v", first)
	}

	f.ctl.set(withBox(solid(32, 32, white), image.Rect(0, 0, 8, 8), red))
	second := decode[Report](t, post(t, srv, "/api/check", body))
	if second.Status != artifact.StatusFailed || second.Diff == nil {
		t.Fatalf("second = %+v", second)
	}

	resp = get(t, srv, "/api/diffs/"+second.Diff.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get diff status = %d", resp.StatusCode)
	}
	if d := decode[artifact.VisualDiff](t, resp); d.Metrics.ChangedPixels != 64 {
		t.Errorf("archived diff changed = %d", d.Metrics.ChangedPixels)
	}

	resp = post(t, srv, "/api/baselines/home/approve", `{"screenshot_id":"`+second.ScreenshotID+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d", resp.StatusCode)
	}
	third := decode[Report](t, post(t, srv, "/api/check", body))
	if third.Status != artifact.StatusPassed {
		t.Errorf("after approve = %s", third.Status)
	}

	hist := decode[[]map[string]any](t, get(t, srv, "/api/baselines/home/history?limit=10"))
	if len(hist) != 2 {
		t.Errorf("history = %d entries, want 2", len(hist))
	}
}

func TestHTTP_Errors(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.suite.Handler(HTTPConfig{MaxBody: 1024}))
	defer srv.Close()

	cases := []struct {
		name   string
		resp   func() *http.Response
		status int
	}{
		{"malformed body", func() *http.Response { return post(t, srv, "/api/check", "{") }, http.StatusBadRequest},
		{"missing name", func() *http.Response { return post(t, srv, "/api/check", `{"url":"https://example.com/"}`) }, http.StatusBadRequest},
		{"unknown screenshot", func() *http.Response { return get(t, srv, "/api/screenshots/nope") }, http.StatusNotFound},
		{"unknown diff", func() *http.Response { return get(t, srv, "/api/diffs/nope") }, http.StatusNotFound},
		{"approve without id", func() *http.Response { return post(t, srv, "/api/baselines/x/approve", `{}`) }, http.StatusBadRequest},
		{"responsive without viewports", func() *http.Response { return post(t, srv, "/api/responsive", `{"url":"https://example.com/"}`) }, http.StatusBadRequest},
		{"bad limit", func() *http.Response { return get(t, srv, "/api/baselines/x/history?limit=-1") }, http.StatusBadRequest},
		{"body too large", func() *http.Response {
			return post(t, srv, "/api/capture", `{"url":"`+strings.Repeat("a", 2048)+`"}`)
		}, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.resp().StatusCode; got != tc.status {
				t.Errorf("status = %d, want %d", got, tc.status)
			}
		})
	}
}

func TestHTTP_CaptureEnvelope(t *testing.T) {
	// WHAT: a rejected capture is a 200 carrying the failure envelope.
	// WHY: clients branch on result.success, not on transport status.
	f := newFixture(t)
	srv := httptest.NewServer(f.suite.Handler(HTTPConfig{}))
	defer srv.Close()

	res := decode[artifact.CaptureResult](t, post(t, srv, "/api/capture", `{"url":"ftp://example.com/"}`))
	if res.Success || res.Error == nil || res.Error.Code != artifact.CodeInvalidURL {
		t.Fatalf("result = %+v", res)
	}

	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(map[string]any{
		"url":       "https://example.com/",
		"name":      "grid",
		"viewports": []artifact.Viewport{{Width: 320, Height: 480}, {Width: 0, Height: 480}},
	})
	results := decode[[]artifact.CaptureResult](t, post(t, srv, "/api/responsive", buf.String()))
	if len(results) != 2 || !results[0].Success || results[1].Success {
		t.Fatalf("responsive = %+v", results)
	}
	if results[0].Screenshot.Name != "grid" {
		t.Errorf("name = %q", results[0].Screenshot.Name)
	}

	health := decode[map[string]any](t, get(t, srv, "/health"))
	if health["status"] != "ok" || health["browser"] != true {
		t.Errorf("health = %v", health)
	}
}

func TestHTTP_GuardAndAudit(t *testing.T) {
	// WHAT: guarded targets and names are rejected with 400 and every call
	// lands in the audit log, rejected ones included.
	// WHY: the server is reachable by anyone who can reach its port.
	f := newFixture(t)
	f.suite.guard = guard.New(guard.WithResolver(func(context.Context, string) ([]string, error) {
		return []string{"93.184.216.34"}, nil
	}))
	al := audit.NewSQLiteLogger(f.store.DB)
	if err := al.Init(); err != nil {
		t.Fatal(err)
	}
	f.suite.audit = al
	srv := httptest.NewServer(f.suite.Handler(HTTPConfig{}))
	defer srv.Close()

	cases := []struct {
		body string
		want int
	}{
		{`{"url":"http://127.0.0.1:6060/debug","name":"home"}`, http.StatusBadRequest},
		{`{"url":"https://example.com/","name":"../etc"}`, http.StatusBadRequest},
		{`{"url":"https://example.com/","name":"shop/cart"}`, http.StatusOK},
	}
	for _, c := range cases {
		if resp := post(t, srv, "/api/check", c.body); resp.StatusCode != c.want {
			t.Errorf("%s: status = %d, want %d", c.body, resp.StatusCode, c.want)
		}
	}
	al.Close()

	var total, failed int
	f.store.DB.QueryRow(`SELECT COUNT(*), SUM(status = 'error') FROM audit_log WHERE action = 'visreg_check' AND transport = 'http'`).Scan(&total, &failed)
	if total != 3 || failed != 2 {
		t.Fatalf("audit rows = %d (errors %d), want 3 (2)", total, failed)
	}
}
