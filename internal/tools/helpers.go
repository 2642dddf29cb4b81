// Package tools registers MCP tools and provides the result and audit helpers
// shared by their handlers.
package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jamesprial/nut-mcp/internal/nut"
	"github.com/jamesprial/nut-mcp/internal/safety"
)

// Call describes one tool invocation for auditing. The zero Audit disables
// audit logging.
type Call struct {
	Audit  *safety.AuditLogger
	Tool   string
	Params map[string]any
	Start  time.Time
}

// NewCall starts timing an invocation of tool.
func NewCall(audit *safety.AuditLogger, tool string, params map[string]any) Call {
	return Call{Audit: audit, Tool: tool, Params: params, Start: time.Now()}
}

// OK audits a successful call and returns v as JSON.
func (c Call) OK(v any) *mcp.CallToolResult {
	LogAudit(c.Audit, c.Tool, c.Params, "ok", c.Start)
	return JSONResult(v)
}

// Fail audits err and returns it as an error result. Errors classified by
// the nut package are audited as "error[<kind>]: ...".
func (c Call) Fail(err error) *mcp.CallToolResult {
	result := "error: " + err.Error()
	if kind, ok := nut.KindOf(err); ok {
		result = fmt.Sprintf("error[%s]: %s", kind, err.Error())
	}
	LogAudit(c.Audit, c.Tool, c.Params, result, c.Start)
	return ErrorResult(err.Error())
}

// Denied audits a call rejected by the UPS filter.
func (c Call) Denied(ups string) *mcp.CallToolResult {
	LogAudit(c.Audit, c.Tool, c.Params, "denied", c.Start)
	return ErrorResult(fmt.Sprintf("access to UPS %q is not allowed", ups))
}

// JSONResult marshals v to indented JSON and returns an mcp.CallToolResult.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("error marshaling result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// ErrorResult returns a tool result flagged IsError whose text is
// "error: <msg>".
func ErrorResult(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultError("error: " + msg)
}

// LogAudit logs a tool invocation to the audit logger, silently ignoring a nil
// logger. A string "name" parameter is recorded as the entry's UPS.
func LogAudit(audit *safety.AuditLogger, toolName string, params map[string]any, result string, start time.Time) {
	if audit == nil {
		return
	}
	ups, _ := params["name"].(string)
	_ = audit.Log(safety.AuditEntry{
		Timestamp: start,
		Tool:      toolName,
		UPS:       ups,
		Params:    params,
		Result:    result,
		Duration:  time.Since(start),
	})
}
