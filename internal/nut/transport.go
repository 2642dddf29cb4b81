package nut

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MaxLineLength bounds a single response line.
const MaxLineLength = 64 * 1024

// DefaultTimeout applies to dialing and to each round trip when the context
// carries no deadline.
const DefaultTimeout = 10 * time.Second

// Conn is one open protocol connection.
type Conn interface {
	Send(ctx context.Context, tokens []string) error
	Receive(ctx context.Context) ([]string, error)
	Close() error
}

// Dialer opens protocol connections.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Conn, error)
}

// TLSMode selects how a TCPDialer negotiates transport encryption.
type TLSMode int

const (
	// TLSTry sends STARTTLS and falls back to plaintext if the server
	// declines.
	TLSTry TLSMode = iota
	// TLSRequire fails the dial if the server declines STARTTLS.
	TLSRequire
	// TLSDisable never sends STARTTLS.
	TLSDisable
)

// String returns the config name of the mode.
func (m TLSMode) String() string {
	switch m {
	case TLSRequire:
		return "require"
	case TLSDisable:
		return "disable"
	default:
		return "try"
	}
}

// ParseTLSMode parses "try", "require" or "disable". Empty means TLSTry.
func ParseTLSMode(s string) (TLSMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "try":
		return TLSTry, nil
	case "require", "required":
		return TLSRequire, nil
	case "disable", "disabled", "off":
		return TLSDisable, nil
	default:
		return TLSTry, fmt.Errorf("unknown tls mode %q", s)
	}
}

// TCPDialer dials upsd over TCP.
type TCPDialer struct {
	Timeout time.Duration
	TLSMode TLSMode
	// TLSConfig is cloned per dial. When nil, certificates are not verified,
	// matching upsmon's default of CERTVERIFY 0.
	TLSConfig *tls.Config
	Logger    *zap.Logger
}

var _ Dialer = (*TCPDialer)(nil)

// Dial connects to host:port and negotiates STARTTLS according to TLSMode.
func (d *TCPDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nd := net.Dialer{Timeout: timeout}
	raw, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return nil, newError(CodeNoSuchHost, err)
		}
		return nil, newError(CodeConnFailure, err)
	}

	c := newLineConn(raw, timeout)
	if d.TLSMode == TLSDisable {
		return c, nil
	}

	if err := c.Send(ctx, []string{"STARTTLS"}); err != nil {
		_ = c.Close()
		return nil, err
	}
	reply, err := c.Receive(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if len(reply) < 2 || reply[0] != "OK" || reply[1] != "STARTTLS" {
		if d.TLSMode == TLSRequire {
			_ = c.Close()
			return nil, localError(KindConnection, CodeSSLFail, fmt.Errorf("server declined STARTTLS: %s", strings.Join(reply, " ")))
		}
		logger.Debug("STARTTLS declined, continuing in plaintext",
			zap.String("addr", addr), zap.Strings("reply", reply))
		return c, nil
	}

	cfg := d.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // CERTVERIFY 0
	} else {
		cfg = cfg.Clone()
	}
	if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		cfg.ServerName = host
	}

	tlsConn := tls.Client(raw, cfg)
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		_ = raw.Close()
		return nil, newError(CodeSSLErr, err)
	}
	logger.Debug("STARTTLS negotiated", zap.String("addr", addr))
	return newLineConn(tlsConn, timeout), nil
}

// lineConn frames tokens as newline terminated lines.
type lineConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	timeout time.Duration
}

func newLineConn(conn net.Conn, timeout time.Duration) *lineConn {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), MaxLineLength)
	return &lineConn{conn: conn, scanner: sc, timeout: timeout}
}

// deadline applies the context deadline, or the default timeout, to the
// socket and interrupts blocked I/O when ctx is cancelled.
func (c *lineConn) deadline(ctx context.Context) (stop func() bool) {
	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Now().Add(c.timeout)
	}
	_ = c.conn.SetDeadline(dl)
	return context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
}

func (c *lineConn) Send(ctx context.Context, tokens []string) error {
	stop := c.deadline(ctx)
	defer stop()

	if _, err := io.WriteString(c.conn, FormatLine(tokens)+"\n"); err != nil {
		return newError(CodeSendFailure, contextErr(ctx, err))
	}
	return nil
}

func (c *lineConn) Receive(ctx context.Context) ([]string, error) {
	stop := c.deadline(ctx)
	defer stop()

	if !c.scanner.Scan() {
		err := c.scanner.Err()
		switch {
		case err == nil:
			return nil, newError(CodeSrvDisc, io.EOF)
		case errors.Is(err, bufio.ErrTooLong):
			return nil, localError(KindConnection, CodeRecvFailure, err)
		default:
			return nil, newError(CodeRecvFailure, contextErr(ctx, err))
		}
	}
	tokens, err := ParseLine(c.scanner.Text())
	if err != nil {
		return nil, newError(CodeParse, err)
	}
	return tokens, nil
}

func (c *lineConn) Close() error {
	return c.conn.Close()
}

// contextErr prefers the context's error when it caused the I/O failure.
func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}
