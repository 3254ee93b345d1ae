package db

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// captureHandler records log records for assertion in tests.
type captureHandler struct {
	mu    sync.Mutex
	level slog.Level
	recs  []map[string]slog.Value
}

func (h *captureHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := map[string]slog.Value{"msg": slog.StringValue(r.Message)}
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value
		return true
	})
	h.recs = append(h.recs, m)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) sqlRecords() []map[string]slog.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []map[string]slog.Value
	for _, m := range h.recs {
		if m["msg"].String() == "sql" {
			out = append(out, m)
		}
	}
	return out
}

func openMemory(t *testing.T, h *captureHandler) *sql.DB {
	t.Helper()
	db := sql.OpenDB(NewLoggingConnector(":memory:", slog.New(h)))
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoggingConnector_LogsExecWithArgs(t *testing.T) {
	h := &captureHandler{level: slog.LevelDebug}
	db := openMemory(t, h)

	if _, err := db.Exec(`CREATE TABLE t (id INTEGER, name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO t (id, name) VALUES (?, ?)`, 1, nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	recs := h.sqlRecords()
	if len(recs) != 2 {
		t.Fatalf("sql records = %d, want 2", len(recs))
	}
	got := recs[1]
	if got["op"].String() != "exec" {
		t.Errorf("op = %q, want exec", got["op"].String())
	}
	if got["sql"].String() != `INSERT INTO t (id, name) VALUES (?, ?)` {
		t.Errorf("sql = %q", got["sql"].String())
	}
	args, ok := got["args"].Any().([]string)
	if !ok || len(args) != 2 || args[0] != "1" || args[1] != "NULL" {
		t.Errorf("args = %v", got["args"].Any())
	}
}

func TestLoggingConnector_LogsQueryAndErrors(t *testing.T) {
	h := &captureHandler{level: slog.LevelDebug}
	db := openMemory(t, h)

	var one int
	if err := db.QueryRow(`SELECT 1`).Scan(&one); err != nil || one != 1 {
		t.Fatalf("select 1 = %d, %v", one, err)
	}
	if _, err := db.Exec(`INSERT INTO missing VALUES (1)`); err == nil {
		t.Fatal("expected error for missing table")
	}

	recs := h.sqlRecords()
	if len(recs) != 2 {
		t.Fatalf("sql records = %d, want 2", len(recs))
	}
	if recs[0]["op"].String() != "query" {
		t.Errorf("op = %q, want query", recs[0]["op"].String())
	}
	if _, ok := recs[1]["error"]; !ok {
		t.Error("failed exec logged without error attribute")
	}
}

func TestLoggingConnector_QuietAboveDebug(t *testing.T) {
	h := &captureHandler{level: slog.LevelInfo}
	db := openMemory(t, h)

	if _, err := db.Exec(`CREATE TABLE t (id INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if n := len(h.sqlRecords()); n != 0 {
		t.Fatalf("sql records at info level = %d, want 0", n)
	}
}

func TestNewLoggingConnector_NilLogger(t *testing.T) {
	c := NewLoggingConnector(":memory:", nil)
	if c.(*loggingConnector).logger == nil {
		t.Fatal("logger not defaulted")
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")

	db, err := Open(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = Close(db) }()

	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if strings.ToLower(mode) != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		in     string
		prefix string
	}{
		{in: ":memory:", prefix: "file::memory:?"},
		{in: "file:/data/app.db", prefix: "file:/data/app.db?_foreign_keys=on"},
		{in: "file:/data/app.db?cache=shared", prefix: "file:/data/app.db?cache=shared&_foreign_keys=on"},
		{in: "journal.db", prefix: "file:journal.db?"},
	}
	for _, tt := range tests {
		got, err := buildDSN(tt.in)
		if err != nil {
			t.Fatalf("buildDSN(%q): %v", tt.in, err)
		}
		if !strings.HasPrefix(got, tt.prefix) {
			t.Errorf("buildDSN(%q) = %q, want prefix %q", tt.in, got, tt.prefix)
		}
	}
}

func TestClose_Nil(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Fatalf("Close(nil) = %v", err)
	}
}
