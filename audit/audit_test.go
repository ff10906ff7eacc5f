package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/visreg/dbopen"
	"github.com/hazyhaar/visreg/kit"
	_ "modernc.org/sqlite"
)

func testLogger(t *testing.T) (*SQLiteLogger, func(q string, args ...any) int) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	l := NewSQLiteLogger(db)
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	count := func(q string, args ...any) int {
		var n int
		if err := db.QueryRow(q, args...).Scan(&n); err != nil {
			t.Fatalf("count: %v", err)
		}
		return n
	}
	return l, count
}

func TestLog_FillsDefaults(t *testing.T) {
	l, count := testLogger(t)
	defer l.Close()

	e := &Entry{Action: "visreg_capture", Parameters: `{"url":"https://example.com"}`}
	if err := l.Log(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(e.EntryID, "aud_") || e.Timestamp == 0 {
		t.Errorf("defaults not filled: %+v", e)
	}
	if e.Status != "success" || e.Transport != "http" {
		t.Errorf("status=%q transport=%q", e.Status, e.Transport)
	}
	if n := count(`SELECT COUNT(*) FROM audit_log WHERE entry_id = ?`, e.EntryID); n != 1 {
		t.Errorf("rows = %d", n)
	}

	failed := &Entry{Action: "visreg_check", Error: "boom"}
	l.Log(context.Background(), failed)
	if failed.Status != "error" {
		t.Errorf("status for error entry = %q", failed.Status)
	}
}

func TestLog_TruncatesParameters(t *testing.T) {
	l, _ := testLogger(t)
	defer l.Close()
	e := &Entry{Action: "visreg_compare", Parameters: strings.Repeat("x", maxParams*2)}
	l.Log(context.Background(), e)
	if len(e.Parameters) != maxParams {
		t.Errorf("parameters = %d bytes", len(e.Parameters))
	}
}

func TestLog_TruncatesOnRuneBoundary(t *testing.T) {
	l, _ := testLogger(t)
	defer l.Close()
	// "é" is two bytes: the cap falls inside the last one.
	e := &Entry{Action: "visreg_check", Parameters: strings.Repeat("x", maxParams-1) + strings.Repeat("é", 4)}
	l.Log(context.Background(), e)
	if !utf8.ValidString(e.Parameters) {
		t.Fatalf("parameters end in a split rune: %q", e.Parameters[len(e.Parameters)-4:])
	}
	if len(e.Parameters) != maxParams-1 {
		t.Errorf("parameters = %d bytes, want %d", len(e.Parameters), maxParams-1)
	}
}

func TestLogAsync_AfterClose(t *testing.T) {
	// WHAT: a handler still running after shutdown logs its call.
	// WHY: server shutdown can time out while requests are in flight.
	l, count := testLogger(t)
	l.Close()
	l.LogAsync(&Entry{Action: "late"})
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if n := count(`SELECT COUNT(*) FROM audit_log WHERE action = 'late'`); n != 0 {
		t.Errorf("rows = %d, want 0", n)
	}
}

func TestLogAsync_BatchFlush(t *testing.T) {
	// WHAT: async entries beyond one batch all land, and Close flushes.
	// WHY: the HTTP path never blocks on audit writes.
	l, count := testLogger(t)
	for i := 0; i < 50; i++ {
		l.LogAsync(&Entry{Action: "batch"})
	}
	time.Sleep(2 * flushInterval)
	l.LogAsync(&Entry{Action: "batch"})
	l.Close()

	if n := count(`SELECT COUNT(*) FROM audit_log WHERE action = 'batch'`); n != 51 {
		t.Fatalf("rows = %d, want 51", n)
	}
}

func TestMiddleware(t *testing.T) {
	l, count := testLogger(t)

	ok := Middleware(l, "visreg_approve")(func(ctx context.Context, req any) (any, error) {
		return "done", nil
	})
	errFail := errors.New("no such screenshot")
	bad := Middleware(l, "visreg_get_diff")(func(ctx context.Context, req any) (any, error) {
		return nil, errFail
	})

	ctx := kit.WithTraceID(kit.WithTransport(context.Background(), "mcp"), "t-1")
	if resp, err := ok(ctx, map[string]string{"screenshot_id": "shot_1"}); err != nil || resp != "done" {
		t.Fatalf("ok: %v %v", resp, err)
	}
	if _, err := bad(context.Background(), nil); !errors.Is(err, errFail) {
		t.Fatalf("bad: %v", err)
	}
	l.Close()

	if n := count(`SELECT COUNT(*) FROM audit_log
		WHERE action = 'visreg_approve' AND transport = 'mcp' AND trace_id = 't-1'
		AND status = 'success' AND parameters LIKE '%shot_1%'`); n != 1 {
		t.Errorf("approve row missing")
	}
	if n := count(`SELECT COUNT(*) FROM audit_log
		WHERE action = 'visreg_get_diff' AND status = 'error' AND error_message = 'no such screenshot'`); n != 1 {
		t.Errorf("error row missing")
	}
}
