package ups

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/lo"

	"github.com/jamesprial/nut-mcp/internal/nut"
	"github.com/jamesprial/nut-mcp/internal/safety"
	"github.com/jamesprial/nut-mcp/internal/tools"
)

const (
	toolNameUPSList      = "ups_list"
	toolNameUPSStatus    = "ups_status"
	toolNameUPSVariables = "ups_variables"
	toolNameUPSVariable  = "ups_variable"
	toolNameUPSCommands  = "ups_commands"
)

// UPSTools returns a slice of tool registrations for UPS monitoring.
// All tools are read-only; no destructive operations are provided.
func UPSTools(mon UPSMonitor, filter *safety.Filter, audit *safety.AuditLogger) []tools.Registration {
	return []tools.Registration{
		upsList(mon, filter, audit),
		upsStatus(mon, filter, audit),
		upsVariables(mon, filter, audit),
		upsVariable(mon, filter, audit),
		upsCommands(mon, filter, audit),
	}
}

func upsList(mon UPSMonitor, filter *safety.Filter, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool(toolNameUPSList,
		mcp.WithDescription("List the UPS devices known to the NUT server with their descriptions."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		call := tools.NewCall(audit, toolNameUPSList, map[string]any{})

		list, err := mon.ListDevices(ctx)
		if err != nil {
			return call.Fail(err), nil
		}

		list = lo.Filter(list, func(s Summary, _ int) bool { return filter.IsAllowed(s.Name) })
		return call.OK(list), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func upsStatus(mon UPSMonitor, filter *safety.Filter, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool(toolNameUPSStatus,
		mcp.WithDescription("Show UPS status, battery levels, and power information. Returns every UPS unless a name is given."),
		mcp.WithString("name",
			mcp.Description("UPS name as configured in upsd (optional)"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := req.GetString("name", "")
		call := tools.NewCall(audit, toolNameUPSStatus, map[string]any{"name": name})

		if name != "" {
			if !filter.IsAllowed(name) {
				return call.Denied(name), nil
			}
			device, err := mon.GetDevice(ctx, name)
			if err != nil {
				return call.Fail(err), nil
			}
			return call.OK(device), nil
		}

		devices, err := mon.GetDevices(ctx)
		if err != nil {
			return call.Fail(err), nil
		}

		devices = lo.Filter(devices, func(d UPSDevice, _ int) bool { return filter.IsAllowed(d.Name) })
		return call.OK(devices), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func upsVariables(mon UPSMonitor, filter *safety.Filter, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool(toolNameUPSVariables,
		mcp.WithDescription("List every variable a UPS reports, as name/value pairs."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("UPS name as configured in upsd"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := req.GetString("name", "")
		call := tools.NewCall(audit, toolNameUPSVariables, map[string]any{"name": name})

		if !filter.IsAllowed(name) {
			return call.Denied(name), nil
		}

		vars, err := mon.GetVariables(ctx, name)
		if err != nil {
			return call.Fail(err), nil
		}

		return call.OK(vars), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func upsVariable(mon UPSMonitor, filter *safety.Filter, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool(toolNameUPSVariable,
		mcp.WithDescription("Read a single UPS variable, e.g. battery.charge or ups.status."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("UPS name as configured in upsd"),
		),
		mcp.WithString("variable",
			mcp.Required(),
			mcp.Description("Variable name, e.g. battery.charge"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := req.GetString("name", "")
		key := req.GetString("variable", "")
		call := tools.NewCall(audit, toolNameUPSVariable, map[string]any{"name": name, "variable": key})

		if !filter.IsAllowed(name) {
			return call.Denied(name), nil
		}

		value, err := mon.GetVariable(ctx, name, key)
		if err != nil {
			return call.Fail(err), nil
		}

		return call.OK(nut.Variable{Name: key, Value: value}), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func upsCommands(mon UPSMonitor, filter *safety.Filter, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool(toolNameUPSCommands,
		mcp.WithDescription("List the instant commands a UPS supports. Commands are listed only, never run."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("UPS name as configured in upsd"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := req.GetString("name", "")
		call := tools.NewCall(audit, toolNameUPSCommands, map[string]any{"name": name})

		if !filter.IsAllowed(name) {
			return call.Denied(name), nil
		}

		cmds, err := mon.GetCommands(ctx, name)
		if err != nil {
			return call.Fail(err), nil
		}

		return call.OK(cmds), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}
