package safety

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func Test_AuditLogger_Log_Cases(t *testing.T) {
	tests := []struct {
		name     string
		entry    AuditEntry
		validate func(t *testing.T, parsed map[string]any)
	}{
		{
			name: "full entry",
			entry: AuditEntry{
				Timestamp: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
				Tool:      "ups_variable",
				UPS:       "rack",
				Params:    map[string]any{"name": "rack", "variable": "battery.charge"},
				Result:    "ok",
				Duration:  150 * time.Millisecond,
			},
			validate: func(t *testing.T, parsed map[string]any) {
				t.Helper()
				if parsed["tool"] != "ups_variable" {
					t.Errorf("tool = %v, want ups_variable", parsed["tool"])
				}
				if parsed["ups"] != "rack" {
					t.Errorf("ups = %v, want rack", parsed["ups"])
				}
				if parsed["duration_ns"] != float64(150*time.Millisecond) {
					t.Errorf("duration_ns = %v, want %d", parsed["duration_ns"], 150*time.Millisecond)
				}
			},
		},
		{
			name: "entry without ups omits the field",
			entry: AuditEntry{
				Timestamp: time.Now(),
				Tool:      "ups_list",
				Result:    "error: connection refused",
			},
			validate: func(t *testing.T, parsed map[string]any) {
				t.Helper()
				if _, ok := parsed["ups"]; ok {
					t.Errorf("expected ups to be omitted, got %v", parsed["ups"])
				}
				if parsed["params"] != nil {
					t.Errorf("params = %v, want null", parsed["params"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewAuditLogger(&buf)
			if logger == nil {
				t.Fatal("NewAuditLogger() returned nil")
			}

			if err := logger.Log(tt.entry); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			out := buf.String()
			if !strings.HasSuffix(out, "\n") {
				t.Errorf("output %q is not newline terminated", out)
			}
			var parsed map[string]any
			if err := json.Unmarshal([]byte(out), &parsed); err != nil {
				t.Fatalf("output is not valid JSON: %v\noutput: %s", err, out)
			}
			tt.validate(t, parsed)
		})
	}
}

func Test_AuditLogger_Log_MultipleEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAuditLogger(&buf)

	for _, tool := range []string{"ups_list", "ups_status", "ups_commands"} {
		if err := logger.Log(AuditEntry{Timestamp: time.Now(), Tool: tool, Result: "ok"}); err != nil {
			t.Fatalf("Log(%s): %v", tool, err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 JSON lines, got %d\noutput:\n%s", len(lines), buf.String())
	}
	for i, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Errorf("line %d is not valid JSON: %s", i, line)
		}
	}
}

func Test_AuditLogger_NilWriter(t *testing.T) {
	if logger := NewAuditLogger(nil); logger != nil {
		t.Fatalf("NewAuditLogger(nil) = %v, want nil", logger)
	}

	var logger *AuditLogger
	if err := logger.Log(AuditEntry{Tool: "ups_list"}); !errors.Is(err, ErrNilWriter) {
		t.Errorf("Log() on nil logger = %v, want ErrNilWriter", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on nil logger = %v, want nil", err)
	}
}

func Test_OpenAuditLog_AppendsAndCloses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	for i := 0; i < 2; i++ {
		logger, err := OpenAuditLog(path)
		if err != nil {
			t.Fatalf("OpenAuditLog: %v", err)
		}
		if err := logger.Log(AuditEntry{Timestamp: time.Now(), Tool: "ups_status", Result: "ok"}); err != nil {
			t.Fatalf("Log: %v", err)
		}
		if err := logger.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := logger.Log(AuditEntry{Tool: "ups_status"}); !errors.Is(err, ErrNilWriter) {
			t.Errorf("Log after Close = %v, want ErrNilWriter", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("audit log has %d lines, want 2", n)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}
}

func Test_OpenAuditLog_BadPath(t *testing.T) {
	_, err := OpenAuditLog(filepath.Join(t.TempDir(), "missing", "audit.log"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
