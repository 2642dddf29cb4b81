package nut

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 3493
)

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces the default TCPDialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) {
		s.dialer = d
	}
}

// WithLogger sets the logger that receives lifecycle and diagnostic events.
// The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeout sets the dial and per round trip timeout of the default dialer.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.timeout = d
	}
}

// Session is a client connection to one upsd endpoint.
//
// A Session is not safe for concurrent use; callers sharing one across
// goroutines must serialize access themselves. Every UPS obtained from a
// Session borrows it and must not be used after the Session is closed.
type Session struct {
	host    string
	port    int
	timeout time.Duration
	dialer  Dialer
	logger  *zap.Logger

	conn Conn
	list *List
}

var _ Querier = (*Session)(nil)

// New returns an unconnected Session for host:port. An empty host means
// DefaultHost and a non-positive port means DefaultPort.
func New(host string, port int, opts ...Option) *Session {
	if host == "" {
		host = DefaultHost
	}
	if port <= 0 {
		port = DefaultPort
	}
	s := &Session{
		host:    host,
		port:    port,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.dialer == nil {
		s.dialer = &TCPDialer{Timeout: s.timeout, Logger: s.logger}
	}
	s.logger = s.logger.With(zap.String("addr", s.Addr()))
	s.logger.Debug("nut session created")
	return s
}

// Host returns the server host name.
func (s *Session) Host() string { return s.host }

// Port returns the server port.
func (s *Session) Port() int { return s.port }

// Addr returns host:port.
func (s *Session) Addr() string { return net.JoinHostPort(s.host, strconv.Itoa(s.port)) }

// Connected reports whether the session holds an open connection.
func (s *Session) Connected() bool { return s.conn != nil }

// Connect opens the connection. Calling Connect on a connected session fails
// with ErrAlreadyConnected and leaves the existing connection in place.
func (s *Session) Connect(ctx context.Context) error {
	if s.conn != nil {
		return localError(KindClient, CodeInvalidArg, ErrAlreadyConnected)
	}
	conn, err := s.dialer.Dial(ctx, s.host, s.port)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		s.logger.Debug("nut connect failed", zap.Error(err))
		return connectError(err)
	}
	s.conn = conn
	s.logger.Debug("nut session connected")
	return nil
}

// connectError classifies a dial failure as a connection error. Errors of
// another kind, such as an unparseable STARTTLS reply, are rewrapped so that
// only their cause is kept and they no longer match their original kind.
func connectError(err error) error {
	var e *Error
	if !errors.As(err, &e) {
		return newError(CodeConnFailure, err)
	}
	if e.Kind == KindConnection {
		return err
	}
	cause := errors.New(e.Code.String())
	if e.Err != nil {
		cause = fmt.Errorf("%s: %w", e.Code, e.Err)
	}
	return newError(CodeConnFailure, cause)
}

// Close logs out and releases the connection. It is safe to call more than
// once.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	if s.list != nil {
		s.list.done = true
		s.list = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Send(ctx, []string{"LOGOUT"}); err == nil {
		_, _ = conn.Receive(ctx)
	}
	err := conn.Close()
	s.logger.Debug("nut session closed")
	return err
}

// ready checks that a new request may be issued.
func (s *Session) ready() error {
	if s.conn == nil {
		return localError(KindConnection, CodeUnknown, ErrNotConnected)
	}
	if s.list != nil {
		return localError(KindClient, CodeInvalidArg, ErrListInProgress)
	}
	return nil
}

// roundTrip sends one request line and reads one answer line. "ERR" answers
// are returned as classified errors. A transport failure releases the
// connection.
func (s *Session) roundTrip(ctx context.Context, request []string) ([]string, error) {
	if err := s.conn.Send(ctx, request); err != nil {
		s.drop(err)
		return nil, err
	}
	return s.receive(ctx)
}

func (s *Session) receive(ctx context.Context) ([]string, error) {
	answer, err := s.conn.Receive(ctx)
	if err != nil {
		s.drop(err)
		return nil, err
	}
	if len(answer) > 0 && answer[0] == "ERR" {
		return nil, serverError(answer)
	}
	return answer, nil
}

// drop releases the connection after a connection-level failure.
func (s *Session) drop(err error) {
	if k, _ := KindOf(err); k != KindConnection || s.conn == nil {
		return
	}
	s.logger.Debug("nut connection lost", zap.Error(err))
	_ = s.conn.Close()
	s.conn = nil
	s.list = nil
}

// Query sends "GET <query>" and returns the answer, which always has exactly
// len(query)+1 tokens and starts with query.
func (s *Session) Query(ctx context.Context, query ...string) ([]string, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	answer, err := s.roundTrip(ctx, append([]string{"GET"}, query...))
	if err != nil {
		return nil, err
	}
	if len(answer) != len(query)+1 {
		return nil, localError(KindClient, CodeInvResp,
			fmt.Errorf("unexpected response length: got %d tokens, want %d", len(answer), len(query)+1))
	}
	if !hasPrefix(answer, query) {
		return nil, localError(KindClient, CodeProtocol, fmt.Errorf("response %q does not echo query %q", answer, query))
	}
	return answer, nil
}

// QueryList sends "LIST <query>" and returns an iterator over the rows. The
// session accepts no other request until the List is drained or closed.
func (s *Session) QueryList(ctx context.Context, query ...string) (*List, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	answer, err := s.roundTrip(ctx, append([]string{"LIST"}, query...))
	if err != nil {
		return nil, err
	}
	if len(answer) < 2 || answer[0] != "BEGIN" || answer[1] != "LIST" || !hasPrefix(answer[2:], query) {
		return nil, localError(KindClient, CodeProtocol, fmt.Errorf("unexpected list start %q", answer))
	}
	l := &List{s: s, ctx: ctx, query: append([]string(nil), query...)}
	s.list = l
	return l, nil
}

// Authenticate sends USERNAME and PASSWORD. Both must be acknowledged.
func (s *Session) Authenticate(ctx context.Context, username, password string) error {
	if err := s.ready(); err != nil {
		return err
	}
	for _, req := range [][]string{{"USERNAME", username}, {"PASSWORD", password}} {
		if err := validateQuery(req); err != nil {
			return err
		}
		answer, err := s.roundTrip(ctx, req)
		if err != nil {
			return err
		}
		if len(answer) == 0 || answer[0] != "OK" {
			return localError(KindAuthentication, CodeInvResp, fmt.Errorf("%s not acknowledged: %q", req[0], answer))
		}
	}
	s.logger.Debug("nut session authenticated", zap.String("username", username))
	return nil
}

// GetVariable returns the value of one variable of upsName.
func (s *Session) GetVariable(ctx context.Context, upsName, key string) (string, error) {
	return getVariable(ctx, s, upsName, key)
}

// GetVariableFloat returns a variable parsed as a float64.
func (s *Session) GetVariableFloat(ctx context.Context, upsName, key string) (float64, error) {
	return getVariableFloat(ctx, s, upsName, key)
}

// ListVariables returns every variable reported for upsName.
func (s *Session) ListVariables(ctx context.Context, upsName string) ([]Variable, error) {
	return listVariables(ctx, s, upsName)
}

// ListCommands returns the instant command names supported by upsName.
func (s *Session) ListCommands(ctx context.Context, upsName string) ([]string, error) {
	return listCommands(ctx, s, upsName)
}

// ListUPS returns every UPS the server knows.
func (s *Session) ListUPS(ctx context.Context) ([]*UPS, error) {
	return listUPS(ctx, s)
}

// GetUPS looks up one UPS by name.
func (s *Session) GetUPS(ctx context.Context, name string) (*UPS, error) {
	answer, err := s.Query(ctx, "UPSDESC", name)
	if err != nil {
		return nil, err
	}
	return NewUPS(s, name, answer[2]), nil
}
