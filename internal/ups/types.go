// Package ups provides types and interfaces for UPS monitoring over the
// Network UPS Tools protocol.
package ups

import (
	"context"

	"github.com/jamesprial/nut-mcp/internal/nut"
)

// Variables read into a UPSDevice in addition to the ones nut.UPS exposes.
const (
	varDeviceModel   = "device.model"
	varUPSSerial     = "ups.serial"
	varInputVoltage  = "input.voltage"
	varOutputVoltage = "output.voltage"
)

// Summary is one entry of the server's UPS list.
type Summary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UPSDevice is a point-in-time snapshot of a single UPS.
type UPSDevice struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Model       string     `json:"model"`
	Serial      string     `json:"serial,omitempty"`
	Status      string     `json:"status"`
	Battery     *Battery   `json:"battery"`
	Power       *PowerInfo `json:"power"`
	// Error is set when the UPS is listed but its variables could not be read.
	Error string `json:"error,omitempty"`
}

// Battery contains battery charge and runtime information.
type Battery struct {
	Charge  *float64 `json:"charge"`
	Runtime *int     `json:"runtime"` // seconds
}

// PowerInfo contains power input/output and load information.
type PowerInfo struct {
	InputVoltage  *float64 `json:"inputVoltage"`
	OutputVoltage *float64 `json:"outputVoltage"`
	Load          *float64 `json:"load"`
}

// UPSMonitor defines the interface for UPS monitoring operations.
type UPSMonitor interface {
	ListDevices(ctx context.Context) ([]Summary, error)
	GetDevices(ctx context.Context) ([]UPSDevice, error)
	GetDevice(ctx context.Context, name string) (*UPSDevice, error)
	GetVariables(ctx context.Context, name string) ([]nut.Variable, error)
	GetVariable(ctx context.Context, name, key string) (string, error)
	GetCommands(ctx context.Context, name string) ([]string, error)
}
