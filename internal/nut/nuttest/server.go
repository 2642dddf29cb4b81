// Package nuttest provides an in-process upsd stand-in for tests.
package nuttest

import (
	"bufio"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/jamesprial/nut-mcp/internal/nut"
)

// Device is one UPS served by a Server.
type Device struct {
	Name        string
	Description string
	Vars        map[string]string
	Commands    []string
}

// Server answers the read-only subset of the NUT protocol over TCP on
// 127.0.0.1. It is safe for concurrent use.
type Server struct {
	Host string
	Port int

	ln net.Listener
	wg sync.WaitGroup

	mu        sync.Mutex
	devices   []Device
	overrides map[string][]string
	extraRows map[string][]string
	hangups   map[string]bool
	users     map[string]string
	requests  []string
	conns     int
	open      map[net.Conn]struct{}
}

// NewServer starts a Server and stops it when the test ends.
func NewServer(t testing.TB, devices ...Device) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("nuttest: listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	s := &Server{
		Host:      "127.0.0.1",
		Port:      addr.Port,
		ln:        ln,
		devices:   devices,
		overrides: map[string][]string{},
		extraRows: map[string][]string{},
		hangups:   map[string]bool{},
		users:     map[string]string{},
		open:      map[net.Conn]struct{}{},
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// SetResponse makes the server answer request with the given raw lines.
// request is the request line as sent, e.g. "GET VAR ups1 battery.charge".
func (s *Server) SetResponse(request string, lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[request] = lines
}

// HangUpOn makes the server close the connection instead of answering
// request.
func (s *Server) HangUpOn(request string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hangups[request] = true
}

// AddListRow inserts a raw line after the regular rows of a LIST answer.
// list is the LIST argument, e.g. "UPS" or "VAR ups1".
func (s *Server) AddListRow(list, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraRows[list] = append(s.extraRows[list], line)
}

// AddUser requires USERNAME/PASSWORD to match before answering requests.
func (s *Server) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = password
}

// Requests returns every request line received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Connections returns the number of accepted connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// Close stops accepting connections, drops open ones and waits for the
// accept loop to exit.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for c := range s.open {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		s.open[c] = struct{}{}
		s.mu.Unlock()
		go s.handle(c)
	}
}

type connState struct {
	username string
	password string
	authed   bool
}

func (s *Server) handle(c net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.open, c)
		s.mu.Unlock()
		_ = c.Close()
	}()
	sc := bufio.NewScanner(c)
	w := bufio.NewWriter(c)
	var st connState
	for sc.Scan() {
		line := sc.Text()
		s.mu.Lock()
		s.requests = append(s.requests, line)
		s.mu.Unlock()

		tokens, err := nut.ParseLine(line)
		if err != nil || len(tokens) == 0 {
			writeLines(w, "ERR UNKNOWN-COMMAND")
			continue
		}
		out, closeAfter := s.respond(&st, line, tokens)
		writeLines(w, out...)
		if closeAfter {
			return
		}
	}
}

func writeLines(w *bufio.Writer, lines ...string) {
	for _, l := range lines {
		_, _ = w.WriteString(l + "\n")
	}
	_ = w.Flush()
}

func (s *Server) respond(st *connState, line string, tokens []string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hangups[line] {
		return nil, true
	}
	if o, ok := s.overrides[line]; ok {
		return o, false
	}

	switch tokens[0] {
	case "STARTTLS":
		return []string{"ERR FEATURE-NOT-CONFIGURED"}, false
	case "LOGOUT":
		return []string{"OK Goodbye"}, true
	case "USERNAME":
		if len(tokens) < 2 {
			return []string{"ERR INVALID-ARGUMENT"}, false
		}
		if st.username != "" {
			return []string{"ERR ALREADY-SET-USERNAME"}, false
		}
		st.username = tokens[1]
		return []string{"OK"}, false
	case "PASSWORD":
		if len(tokens) < 2 {
			return []string{"ERR INVALID-ARGUMENT"}, false
		}
		if st.password != "" {
			return []string{"ERR ALREADY-SET-PASSWORD"}, false
		}
		if st.username == "" {
			return []string{"ERR USERNAME-REQUIRED"}, false
		}
		st.password = tokens[1]
		if want, ok := s.users[st.username]; !ok || want != st.password {
			return []string{"ERR ACCESS-DENIED"}, false
		}
		st.authed = true
		return []string{"OK"}, false
	}

	if len(s.users) > 0 && !st.authed {
		return []string{"ERR ACCESS-DENIED"}, false
	}

	switch tokens[0] {
	case "GET":
		return s.get(tokens[1:]), false
	case "LIST":
		return s.list(tokens[1:]), false
	default:
		return []string{"ERR UNKNOWN-COMMAND"}, false
	}
}

func (s *Server) device(name string) (Device, bool) {
	for _, d := range s.devices {
		if d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}

func (s *Server) get(args []string) []string {
	if len(args) < 2 {
		return []string{"ERR INVALID-ARGUMENT"}
	}
	d, ok := s.device(args[1])
	if !ok {
		return []string{"ERR UNKNOWN-UPS"}
	}
	switch args[0] {
	case "UPSDESC":
		return []string{nut.FormatLine([]string{"UPSDESC", d.Name, d.Description})}
	case "VAR":
		if len(args) < 3 {
			return []string{"ERR INVALID-ARGUMENT"}
		}
		v, ok := d.Vars[args[2]]
		if !ok {
			return []string{"ERR VAR-NOT-SUPPORTED"}
		}
		return []string{nut.FormatLine([]string{"VAR", d.Name, args[2], v})}
	case "NUMLOGINS":
		return []string{nut.FormatLine([]string{"NUMLOGINS", d.Name, strconv.Itoa(0)})}
	default:
		return []string{"ERR INVALID-ARGUMENT"}
	}
}

func (s *Server) list(args []string) []string {
	if len(args) == 0 {
		return []string{"ERR INVALID-ARGUMENT"}
	}
	key := strings.Join(args, " ")
	var rows []string
	switch args[0] {
	case "UPS":
		for _, d := range s.devices {
			rows = append(rows, nut.FormatLine([]string{"UPS", d.Name, d.Description}))
		}
	case "VAR", "CMD":
		if len(args) < 2 {
			return []string{"ERR INVALID-ARGUMENT"}
		}
		d, ok := s.device(args[1])
		if !ok {
			return []string{"ERR UNKNOWN-UPS"}
		}
		if args[0] == "VAR" {
			names := make([]string, 0, len(d.Vars))
			for n := range d.Vars {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				rows = append(rows, nut.FormatLine([]string{"VAR", d.Name, n, d.Vars[n]}))
			}
		} else {
			for _, c := range d.Commands {
				rows = append(rows, nut.FormatLine([]string{"CMD", d.Name, c}))
			}
		}
	default:
		return []string{"ERR INVALID-LIST-TYPE"}
	}
	rows = append(rows, s.extraRows[key]...)

	out := make([]string, 0, len(rows)+2)
	out = append(out, "BEGIN LIST "+key)
	out = append(out, rows...)
	out = append(out, "END LIST "+key)
	return out
}
