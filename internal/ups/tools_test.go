package ups

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jamesprial/nut-mcp/internal/nut"
	"github.com/jamesprial/nut-mcp/internal/safety"
	"github.com/jamesprial/nut-mcp/internal/tools"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// mockUPSMonitor implements UPSMonitor for tool handler tests.
type mockUPSMonitor struct {
	listDevicesFunc  func(ctx context.Context) ([]Summary, error)
	getDevicesFunc   func(ctx context.Context) ([]UPSDevice, error)
	getDeviceFunc    func(ctx context.Context, name string) (*UPSDevice, error)
	getVariablesFunc func(ctx context.Context, name string) ([]nut.Variable, error)
	getVariableFunc  func(ctx context.Context, name, key string) (string, error)
	getCommandsFunc  func(ctx context.Context, name string) ([]string, error)
}

func (m *mockUPSMonitor) ListDevices(ctx context.Context) ([]Summary, error) {
	return m.listDevicesFunc(ctx)
}

func (m *mockUPSMonitor) GetDevices(ctx context.Context) ([]UPSDevice, error) {
	return m.getDevicesFunc(ctx)
}

func (m *mockUPSMonitor) GetDevice(ctx context.Context, name string) (*UPSDevice, error) {
	return m.getDeviceFunc(ctx, name)
}

func (m *mockUPSMonitor) GetVariables(ctx context.Context, name string) ([]nut.Variable, error) {
	return m.getVariablesFunc(ctx, name)
}

func (m *mockUPSMonitor) GetVariable(ctx context.Context, name, key string) (string, error) {
	return m.getVariableFunc(ctx, name, key)
}

func (m *mockUPSMonitor) GetCommands(ctx context.Context, name string) ([]string, error) {
	return m.getCommandsFunc(ctx, name)
}

var _ UPSMonitor = (*mockUPSMonitor)(nil)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// newCallToolRequest builds an mcp.CallToolRequest with the given name and arguments map.
func newCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// extractResultText extracts the text string from a CallToolResult, assuming
// the first content entry is TextContent.
func extractResultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("result is nil")
	}
	if len(result.Content) == 0 {
		t.Fatal("result has no content entries")
	}
	tc, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		t.Fatalf("first content entry is not TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func newTestAuditLogger(t *testing.T) (*safety.AuditLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return safety.NewAuditLogger(&buf), &buf
}

func float64Ptr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

// findTool returns the handler registered under name.
func findTool(t *testing.T, regs []tools.Registration, name string) tools.Registration {
	t.Helper()
	for _, r := range regs {
		if r.Tool.Name == name {
			return r
		}
	}
	t.Fatalf("tool %q not registered", name)
	return tools.Registration{}
}

func sampleDevices() []UPSDevice {
	return []UPSDevice{
		{
			Name:        "rack",
			Description: "Server rack",
			Model:       "Smart-UPS 1500",
			Status:      "OL",
			Battery:     &Battery{Charge: float64Ptr(95.5), Runtime: intPtr(3600)},
			Power:       &PowerInfo{InputVoltage: float64Ptr(120.1), OutputVoltage: float64Ptr(119.8), Load: float64Ptr(45.2)},
		},
		{Name: "desk", Description: "Desk UPS", Status: "OB"},
	}
}

// ---------------------------------------------------------------------------
// Registration tests
// ---------------------------------------------------------------------------

func Test_UPSTools_Registrations(t *testing.T) {
	regs := UPSTools(&mockUPSMonitor{}, nil, nil)

	wantRequired := map[string][]string{
		"ups_list":      nil,
		"ups_status":    nil,
		"ups_variables": {"name"},
		"ups_variable":  {"name", "variable"},
		"ups_commands":  {"name"},
	}
	if len(regs) != len(wantRequired) {
		t.Fatalf("UPSTools() returned %d registrations, want %d", len(regs), len(wantRequired))
	}

	for name, required := range wantRequired {
		t.Run(name, func(t *testing.T) {
			r := findTool(t, regs, name)
			if r.Handler == nil {
				t.Error("tool handler is nil")
			}
			if strings.Join(r.Tool.InputSchema.Required, ",") != strings.Join(required, ",") {
				t.Errorf("required = %v, want %v", r.Tool.InputSchema.Required, required)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func Test_UPSStatusHandler_Cases(t *testing.T) {
	tests := []struct {
		name          string
		args          map[string]any
		filter        *safety.Filter
		mon           *mockUPSMonitor
		wantResultErr bool
		wantContains  string
		wantMissing   string
	}{
		{
			name: "all devices",
			mon: &mockUPSMonitor{getDevicesFunc: func(ctx context.Context) ([]UPSDevice, error) {
				return sampleDevices(), nil
			}},
			wantContains: "Server rack",
		},
		{
			name:   "denylisted devices are hidden",
			filter: safety.NewFilter(nil, []string{"desk"}),
			mon: &mockUPSMonitor{getDevicesFunc: func(ctx context.Context) ([]UPSDevice, error) {
				return sampleDevices(), nil
			}},
			wantContains: "rack",
			wantMissing:  "Desk UPS",
		},
		{
			name: "empty list returns empty JSON array",
			mon: &mockUPSMonitor{getDevicesFunc: func(ctx context.Context) ([]UPSDevice, error) {
				return []UPSDevice{}, nil
			}},
			wantContains: "[]",
		},
		{
			name: "single device by name",
			args: map[string]any{"name": "rack"},
			mon: &mockUPSMonitor{getDeviceFunc: func(ctx context.Context, name string) (*UPSDevice, error) {
				d := sampleDevices()[0]
				return &d, nil
			}},
			wantContains: "inputVoltage",
		},
		{
			name:          "single device denied",
			args:          map[string]any{"name": "desk"},
			filter:        safety.NewFilter([]string{"rack"}, nil),
			mon:           &mockUPSMonitor{},
			wantResultErr: true,
			wantContains:  "not allowed",
		},
		{
			name: "monitor error returns error result",
			mon: &mockUPSMonitor{getDevicesFunc: func(ctx context.Context) ([]UPSDevice, error) {
				return nil, errors.New("get ups devices: connection refused")
			}},
			wantResultErr: true,
			wantContains:  "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit, _ := newTestAuditLogger(t)
			handler := findTool(t, UPSTools(tt.mon, tt.filter, audit), "ups_status").Handler

			result, err := handler(context.Background(), newCallToolRequest("ups_status", tt.args))

			// Handler should NEVER return a Go error.
			if err != nil {
				t.Fatalf("handler returned non-nil error: %v, want nil", err)
			}
			text := extractResultText(t, result)

			if tt.wantResultErr && !strings.HasPrefix(text, "error: ") {
				t.Errorf("result text = %q, want error prefix", text)
			}
			if result.IsError != tt.wantResultErr {
				t.Errorf("IsError = %v, want %v", result.IsError, tt.wantResultErr)
			}
			if !tt.wantResultErr && !json.Valid([]byte(text)) {
				t.Errorf("result text is not valid JSON: %q", text)
			}
			if tt.wantContains != "" && !strings.Contains(text, tt.wantContains) {
				t.Errorf("result text = %q, want it to contain %q", text, tt.wantContains)
			}
			if tt.wantMissing != "" && strings.Contains(text, tt.wantMissing) {
				t.Errorf("result text = %q, want it to omit %q", text, tt.wantMissing)
			}
		})
	}
}

func Test_UPSListHandler_FiltersNames(t *testing.T) {
	mon := &mockUPSMonitor{listDevicesFunc: func(ctx context.Context) ([]Summary, error) {
		return []Summary{{Name: "rack", Description: "Server rack"}, {Name: "lab-1", Description: "Lab"}}, nil
	}}
	handler := findTool(t, UPSTools(mon, safety.NewFilter([]string{"lab-*"}, nil), nil), "ups_list").Handler

	result, err := handler(context.Background(), newCallToolRequest("ups_list", nil))
	if err != nil {
		t.Fatalf("handler returned non-nil error: %v", err)
	}

	var got []Summary
	if err := json.Unmarshal([]byte(extractResultText(t, result)), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Name != "lab-1" {
		t.Errorf("got %+v, want only lab-1", got)
	}
}

func Test_UPSVariableHandler_Cases(t *testing.T) {
	tests := []struct {
		name          string
		getVariable   func(ctx context.Context, name, key string) (string, error)
		wantResultErr bool
		wantContains  string
	}{
		{
			name: "value returned as name/value pair",
			getVariable: func(ctx context.Context, name, key string) (string, error) {
				if name != "rack" || key != "battery.charge" {
					return "", errors.New("unexpected arguments")
				}
				return "95.5", nil
			},
			wantContains: `"value": "95.5"`,
		},
		{
			name: "classified error is surfaced",
			getVariable: func(ctx context.Context, name, key string) (string, error) {
				return "", errors.New("nut variable error: Variable not supported by UPS (VAR-NOT-SUPPORTED)")
			},
			wantResultErr: true,
			wantContains:  "VAR-NOT-SUPPORTED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := &mockUPSMonitor{getVariableFunc: tt.getVariable}
			handler := findTool(t, UPSTools(mon, nil, nil), "ups_variable").Handler
			req := newCallToolRequest("ups_variable", map[string]any{"name": "rack", "variable": "battery.charge"})

			result, err := handler(context.Background(), req)
			if err != nil {
				t.Fatalf("handler returned non-nil error: %v", err)
			}
			text := extractResultText(t, result)
			if tt.wantResultErr != strings.HasPrefix(text, "error: ") {
				t.Errorf("result text = %q, wantResultErr %v", text, tt.wantResultErr)
			}
			if !strings.Contains(text, tt.wantContains) {
				t.Errorf("result text = %q, want it to contain %q", text, tt.wantContains)
			}
		})
	}
}

func Test_UPSVariablesAndCommandsHandlers(t *testing.T) {
	mon := &mockUPSMonitor{
		getVariablesFunc: func(ctx context.Context, name string) ([]nut.Variable, error) {
			return []nut.Variable{{Name: "ups.status", Value: "OL"}}, nil
		},
		getCommandsFunc: func(ctx context.Context, name string) ([]string, error) {
			return []string{"beeper.mute"}, nil
		},
	}
	regs := UPSTools(mon, safety.NewFilter(nil, []string{"desk"}), nil)
	ctx := context.Background()

	tests := []struct {
		tool         string
		ups          string
		wantContains string
	}{
		{tool: "ups_variables", ups: "rack", wantContains: `"ups.status"`},
		{tool: "ups_commands", ups: "rack", wantContains: "beeper.mute"},
		{tool: "ups_variables", ups: "desk", wantContains: "not allowed"},
		{tool: "ups_commands", ups: "desk", wantContains: "not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.tool+"/"+tt.ups, func(t *testing.T) {
			handler := findTool(t, regs, tt.tool).Handler
			result, err := handler(ctx, newCallToolRequest(tt.tool, map[string]any{"name": tt.ups}))
			if err != nil {
				t.Fatalf("handler returned non-nil error: %v", err)
			}
			if text := extractResultText(t, result); !strings.Contains(text, tt.wantContains) {
				t.Errorf("result text = %q, want it to contain %q", text, tt.wantContains)
			}
		})
	}
}

func Test_UPSStatusHandler_AuditLogging(t *testing.T) {
	mon := &mockUPSMonitor{
		getDevicesFunc: func(ctx context.Context) ([]UPSDevice, error) {
			return sampleDevices(), nil
		},
	}
	audit, buf := newTestAuditLogger(t)
	handler := findTool(t, UPSTools(mon, nil, audit), "ups_status").Handler

	if _, err := handler(context.Background(), newCallToolRequest("ups_status", nil)); err != nil {
		t.Fatalf("handler returned non-nil error: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("audit log is not a JSON line: %v; %q", err, buf.String())
	}
	if entry["tool"] != "ups_status" {
		t.Errorf("tool = %v, want ups_status", entry["tool"])
	}
	if entry["result"] != "ok" {
		t.Errorf("result = %v, want ok", entry["result"])
	}
}

// ---------------------------------------------------------------------------
// JSON shape tests
// ---------------------------------------------------------------------------

func Test_UPSDevice_JSONWithNilFields(t *testing.T) {
	data, err := json.Marshal(UPSDevice{Name: "desk", Status: "OB"})
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}

	jsonStr := string(data)
	for _, want := range []string{`"battery":null`, `"power":null`} {
		if !strings.Contains(jsonStr, want) {
			t.Errorf("expected JSON to contain %s, got %s", want, jsonStr)
		}
	}
	if strings.Contains(jsonStr, "serial") {
		t.Errorf("expected empty serial to be omitted, got %s", jsonStr)
	}
}

// ---------------------------------------------------------------------------
// Benchmarks
// ---------------------------------------------------------------------------

func Benchmark_UPSStatusHandler_HappyPath(b *testing.B) {
	devices := sampleDevices()
	mon := &mockUPSMonitor{
		getDevicesFunc: func(ctx context.Context) ([]UPSDevice, error) {
			return devices, nil
		},
	}

	handler := UPSTools(mon, nil, nil)[1].Handler
	req := newCallToolRequest("ups_status", nil)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = handler(ctx, req)
	}
}
