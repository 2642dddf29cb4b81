package ups

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jamesprial/nut-mcp/internal/nut"
)

// Compile-time interface check.
var _ UPSMonitor = (*NUTUPSMonitor)(nil)

// MonitorConfig configures a NUTUPSMonitor.
type MonitorConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// Dialer overrides the session's default TCP dialer.
	Dialer nut.Dialer
	// Timeout bounds dialing and each round trip.
	Timeout time.Duration
	// RetryAttempts is how many times a request is retried after the
	// connection to upsd is lost. Zero disables retries.
	RetryAttempts uint64
	// RetryInterval is the first backoff delay. Defaults to 250ms.
	RetryInterval time.Duration
	Logger        *zap.Logger
}

// NUTUPSMonitor implements UPSMonitor over a single upsd connection. Requests
// are serialized; the connection is opened lazily and reopened after it is
// lost.
type NUTUPSMonitor struct {
	cfg    MonitorConfig
	logger *zap.Logger

	mu      sync.Mutex
	session *nut.Session

	group singleflight.Group
}

// NewNUTUPSMonitor returns a monitor for the upsd at cfg.Host:cfg.Port. No
// connection is made until the first request.
func NewNUTUPSMonitor(cfg MonitorConfig) *NUTUPSMonitor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 250 * time.Millisecond
	}
	return &NUTUPSMonitor{
		cfg:    cfg,
		logger: cfg.Logger.Named("ups"),
	}
}

// Close logs out and releases the connection, if any.
func (m *NUTUPSMonitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	return err
}

// ListDevices returns the name and description of every UPS upsd knows.
func (m *NUTUPSMonitor) ListDevices(ctx context.Context) ([]Summary, error) {
	var out []Summary
	err := m.do(ctx, "list ups devices", func(s *nut.Session) error {
		list, err := s.ListUPS(ctx)
		if err != nil {
			return err
		}
		out = lo.Map(list, func(u *nut.UPS, _ int) Summary {
			return Summary{Name: u.Name(), Description: u.Description()}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetDevices returns a snapshot of every UPS. Concurrent callers share one
// in-flight request, which runs detached from any single caller's
// cancellation; each caller still returns as soon as its own ctx is done.
func (m *NUTUPSMonitor) GetDevices(ctx context.Context) ([]UPSDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get ups devices: %w", err)
	}
	ch := m.group.DoChan("devices", func() (any, error) {
		return m.devices(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]UPSDevice), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("get ups devices: %w", ctx.Err())
	}
}

// devices reads every UPS. An empty (non-nil) slice is returned when upsd
// reports no devices. A UPS whose variables cannot be read is still listed,
// with the failure in its Error field.
func (m *NUTUPSMonitor) devices(ctx context.Context) ([]UPSDevice, error) {
	var out []UPSDevice
	err := m.do(ctx, "get ups devices", func(s *nut.Session) error {
		list, err := s.ListUPS(ctx)
		if err != nil {
			return err
		}
		out = make([]UPSDevice, 0, len(list))
		for _, u := range list {
			d, err := snapshot(ctx, u)
			if errors.Is(err, nut.ErrConnection) {
				return err
			}
			if err != nil {
				m.logger.Warn("ups snapshot failed", zap.String("ups", u.Name()), zap.Error(err))
				d = UPSDevice{Name: u.Name(), Description: u.Description(), Error: err.Error()}
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetDevice returns a snapshot of one UPS.
func (m *NUTUPSMonitor) GetDevice(ctx context.Context, name string) (*UPSDevice, error) {
	var out UPSDevice
	err := m.do(ctx, "get ups device", func(s *nut.Session) error {
		u, err := s.GetUPS(ctx, name)
		if err != nil {
			return err
		}
		out, err = snapshot(ctx, u)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVariables returns every variable of the named UPS.
func (m *NUTUPSMonitor) GetVariables(ctx context.Context, name string) ([]nut.Variable, error) {
	var out []nut.Variable
	err := m.do(ctx, "get ups variables", func(s *nut.Session) error {
		var err error
		out, err = nut.NewUPS(s, name, "").Variables(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetVariable returns a single variable of the named UPS.
func (m *NUTUPSMonitor) GetVariable(ctx context.Context, name, key string) (string, error) {
	var out string
	err := m.do(ctx, "get ups variable", func(s *nut.Session) error {
		var err error
		out, err = nut.NewUPS(s, name, "").Variable(ctx, key)
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// GetCommands returns the instant commands the named UPS supports.
func (m *NUTUPSMonitor) GetCommands(ctx context.Context, name string) ([]string, error) {
	var out []string
	err := m.do(ctx, "get ups commands", func(s *nut.Session) error {
		var err error
		out, err = nut.NewUPS(s, name, "").Commands(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// do runs fn against a connected session. Connection errors drop the session
// and are retried with exponential backoff; every other error is returned as
// is.
func (m *NUTUPSMonitor) do(ctx context.Context, op string, fn func(*nut.Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.cfg.RetryInterval
	eb.MaxInterval = 8 * m.cfg.RetryInterval
	eb.MaxElapsedTime = 0
	eb.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, m.cfg.RetryAttempts), ctx)

	attempt := func() error {
		s, err := m.connect(ctx)
		if err == nil {
			err = fn(s)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, nut.ErrConnection) {
			return backoff.Permanent(err)
		}
		m.reset()
		return err
	}
	notify := func(err error, wait time.Duration) {
		m.logger.Warn("nut request failed, retrying",
			zap.String("op", op), zap.Duration("backoff", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(attempt, b, notify); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// connect returns the current session, dialing and authenticating a new one
// when needed. Callers hold m.mu.
func (m *NUTUPSMonitor) connect(ctx context.Context) (*nut.Session, error) {
	if m.session != nil && m.session.Connected() {
		return m.session, nil
	}

	opts := []nut.Option{nut.WithLogger(m.logger)}
	if m.cfg.Dialer != nil {
		opts = append(opts, nut.WithDialer(m.cfg.Dialer))
	}
	if m.cfg.Timeout > 0 {
		opts = append(opts, nut.WithTimeout(m.cfg.Timeout))
	}
	s := nut.New(m.cfg.Host, m.cfg.Port, opts...)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	if m.cfg.Username != "" {
		if err := s.Authenticate(ctx, m.cfg.Username, m.cfg.Password); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	m.logger.Info("connected to upsd", zap.String("addr", s.Addr()))
	m.session = s
	return s, nil
}

func (m *NUTUPSMonitor) reset() {
	if m.session == nil {
		return
	}
	_ = m.session.Close()
	m.session = nil
}

// snapshot reads every variable of u in one LIST round trip and projects the
// well-known ones into a UPSDevice. Variables the UPS does not report, or
// reports in a non-numeric form, are left nil.
func snapshot(ctx context.Context, u *nut.UPS) (UPSDevice, error) {
	vars, err := u.Variables(ctx)
	if err != nil {
		return UPSDevice{}, err
	}
	values := lo.SliceToMap(vars, func(v nut.Variable) (string, string) {
		return v.Name, v.Value
	})

	d := UPSDevice{
		Name:        u.Name(),
		Description: u.Description(),
		Model:       lo.CoalesceOrEmpty(values[nut.VarUPSModel], values[varDeviceModel]),
		Serial:      lo.CoalesceOrEmpty(values[nut.VarDeviceSerial], values[varUPSSerial]),
		Status:      values[nut.VarUPSStatus],
	}

	charge := floatValue(values, nut.VarBatteryCharge)
	runtime := intValue(values, nut.VarBatteryRuntime)
	if charge != nil || runtime != nil {
		d.Battery = &Battery{Charge: charge, Runtime: runtime}
	}

	in := floatValue(values, varInputVoltage)
	out := floatValue(values, varOutputVoltage)
	load := floatValue(values, nut.VarUPSLoad)
	if in != nil || out != nil || load != nil {
		d.Power = &PowerInfo{InputVoltage: in, OutputVoltage: out, Load: load}
	}
	return d, nil
}

func floatValue(values map[string]string, key string) *float64 {
	raw, ok := values[key]
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &f
}

func intValue(values map[string]string, key string) *int {
	f := floatValue(values, key)
	if f == nil {
		return nil
	}
	return lo.ToPtr(int(*f))
}
