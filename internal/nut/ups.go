package nut

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/samber/lo"
)

// Well-known variable names read by UPS.
const (
	VarBatteryCharge  = "battery.charge"
	VarBatteryRuntime = "battery.runtime"
	VarUPSLoad        = "ups.load"
	VarUPSModel       = "ups.model"
	VarUPSStatus      = "ups.status"
	VarDeviceSerial   = "device.serial"
)

// Querier is the capability a UPS needs from its owner. *Session implements
// it; anything richer that wraps a Session can too.
type Querier interface {
	Query(ctx context.Context, query ...string) ([]string, error)
	QueryList(ctx context.Context, query ...string) (*List, error)
}

// Variable is one name/value pair from LIST VAR.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// UPS is a read-only view of one device known to the server. It borrows its
// Querier and never connects or disconnects it.
type UPS struct {
	q           Querier
	name        string
	description string
}

// NewUPS returns a UPS bound to q.
func NewUPS(q Querier, name, description string) *UPS {
	return &UPS{q: q, name: name, description: description}
}

// Name returns the UPS name as configured in upsd.
func (u *UPS) Name() string { return u.name }

// Description returns the UPS description as reported by the server.
func (u *UPS) Description() string { return u.description }

// Charge returns battery.charge in percent.
func (u *UPS) Charge(ctx context.Context) (float64, error) {
	return getVariableFloat(ctx, u.q, u.name, VarBatteryCharge)
}

// Load returns ups.load in percent.
func (u *UPS) Load(ctx context.Context) (float64, error) {
	return getVariableFloat(ctx, u.q, u.name, VarUPSLoad)
}

// Runtime returns battery.runtime.
func (u *UPS) Runtime(ctx context.Context) (time.Duration, error) {
	secs, err := getVariableFloat(ctx, u.q, u.name, VarBatteryRuntime)
	if err != nil {
		return 0, err
	}
	return time.Duration(math.Round(secs * float64(time.Second))), nil
}

// Status returns the raw ups.status flags, e.g. "OL CHRG".
func (u *UPS) Status(ctx context.Context) (string, error) {
	return getVariable(ctx, u.q, u.name, VarUPSStatus)
}

// Model returns ups.model.
func (u *UPS) Model(ctx context.Context) (string, error) {
	return getVariable(ctx, u.q, u.name, VarUPSModel)
}

// Serial returns device.serial.
func (u *UPS) Serial(ctx context.Context) (string, error) {
	return getVariable(ctx, u.q, u.name, VarDeviceSerial)
}

// Variable returns the value of an arbitrary variable.
func (u *UPS) Variable(ctx context.Context, key string) (string, error) {
	return getVariable(ctx, u.q, u.name, key)
}

// Variables returns every variable of the UPS.
func (u *UPS) Variables(ctx context.Context) ([]Variable, error) {
	return listVariables(ctx, u.q, u.name)
}

// Commands returns the instant commands supported by the UPS.
func (u *UPS) Commands(ctx context.Context) ([]string, error) {
	return listCommands(ctx, u.q, u.name)
}

func getVariable(ctx context.Context, q Querier, upsName, key string) (string, error) {
	answer, err := q.Query(ctx, "VAR", upsName, key)
	if err != nil {
		return "", err
	}
	return answer[3], nil
}

func getVariableFloat(ctx context.Context, q Querier, upsName, key string) (float64, error) {
	raw, err := getVariable(ctx, q, upsName, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, localError(KindClient, CodeParse, fmt.Errorf("variable %s of %s is not numeric: %w", key, upsName, err))
	}
	return v, nil
}

func listVariables(ctx context.Context, q Querier, upsName string) ([]Variable, error) {
	rows, err := queryRows(ctx, q, "VAR", upsName)
	if err != nil {
		return nil, err
	}
	// Rows are "VAR <ups> <name> <value>".
	return lo.FilterMap(rows, func(row []string, _ int) (Variable, bool) {
		if len(row) < 4 {
			return Variable{}, false
		}
		return Variable{Name: row[2], Value: row[3]}, true
	}), nil
}

func listCommands(ctx context.Context, q Querier, upsName string) ([]string, error) {
	rows, err := queryRows(ctx, q, "CMD", upsName)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row []string, _ int) string {
		return row[2]
	}), nil
}

func listUPS(ctx context.Context, q Querier) ([]*UPS, error) {
	rows, err := queryRows(ctx, q, "UPS")
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(rows, func(row []string, _ int) (*UPS, bool) {
		if len(row) < 3 {
			return nil, false
		}
		return NewUPS(q, row[1], row[2]), true
	}), nil
}

func queryRows(ctx context.Context, q Querier, query ...string) ([][]string, error) {
	l, err := q.QueryList(ctx, query...)
	if err != nil {
		return nil, err
	}
	return collect(l)
}
