package nut

import (
	"errors"
	"fmt"
)

// Kind is the category of a NUT error. The set is closed.
type Kind int

const (
	// KindProtocol is the catch-all for codes outside the taxonomy table.
	KindProtocol Kind = iota
	KindConnection
	KindAuthentication
	KindVariable
	KindCommand
	KindClient
	KindUPS
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindAuthentication:
		return "authentication"
	case KindVariable:
		return "variable"
	case KindCommand:
		return "command"
	case KindClient:
		return "client"
	case KindUPS:
		return "ups"
	default:
		return "protocol"
	}
}

// Code is a numeric error code using libupsclient's UPSCLI_ERR_* numbering.
type Code int

const (
	CodeUnknown      Code = 0
	CodeVarNotSupp   Code = 1
	CodeNoSuchHost   Code = 2
	CodeInvResp      Code = 3
	CodeUnknownUPS   Code = 4
	CodeInvListType  Code = 5
	CodeAccessDenied Code = 6
	CodePwdRequired  Code = 7
	CodePwdIncorrect Code = 8
	CodeMissingArg   Code = 9
	CodeDataStale    Code = 10
	CodeVarUnknown   Code = 11
	CodeLoginTwice   Code = 12
	CodePwdSetTwice  Code = 13
	CodeUnknownType  Code = 14
	CodeUnknownVar   Code = 15
	CodeVarReadOnly  Code = 16
	CodeTooLong      Code = 17
	CodeInvalidValue Code = 18
	CodeSetFailed    Code = 19
	CodeUnkInstCmd   Code = 20
	CodeCmdFailed    Code = 21
	CodeCmdNotSupp   Code = 22
	CodeInvUsername  Code = 23
	CodeUserSetTwice Code = 24
	CodeUnkCommand   Code = 25
	CodeInvalidArg   Code = 26
	CodeSendFailure  Code = 27
	CodeRecvFailure  Code = 28
	CodeSockFailure  Code = 29
	CodeBindFailure  Code = 30
	CodeConnFailure  Code = 31
	CodeWrite        Code = 32
	CodeRead         Code = 33
	CodeInvPassword  Code = 34
	CodeUserRequired Code = 35
	CodeSSLFail      Code = 36
	CodeSSLErr       Code = 37
	CodeSrvDisc      Code = 38
	CodeDrvNotConn   Code = 39
	CodeNoMem        Code = 40
	CodeParse        Code = 41
	CodeProtocol     Code = 42
)

// codeKinds is the taxonomy table. Codes absent from it classify as
// KindProtocol. UNKNOWNTYPE is 14 and UNKNOWNVAR is 15 in libupsclient, so
// 15 belongs to KindVariable only.
var codeKinds = map[Code]Kind{
	CodeNoSuchHost:  KindConnection,
	CodeSendFailure: KindConnection,
	CodeRecvFailure: KindConnection,
	CodeSockFailure: KindConnection,
	CodeBindFailure: KindConnection,
	CodeConnFailure: KindConnection,
	CodeWrite:       KindConnection,
	CodeRead:        KindConnection,
	CodeSSLFail:     KindConnection,
	CodeSSLErr:      KindConnection,
	CodeSrvDisc:     KindConnection,
	CodeDrvNotConn:  KindConnection,

	CodeAccessDenied: KindAuthentication,
	CodePwdRequired:  KindAuthentication,
	CodePwdIncorrect: KindAuthentication,
	CodeLoginTwice:   KindAuthentication,
	CodePwdSetTwice:  KindAuthentication,
	CodeInvUsername:  KindAuthentication,
	CodeUserSetTwice: KindAuthentication,
	CodeInvPassword:  KindAuthentication,
	CodeUserRequired: KindAuthentication,

	CodeVarNotSupp:   KindVariable,
	CodeVarUnknown:   KindVariable,
	CodeUnknownVar:   KindVariable,
	CodeVarReadOnly:  KindVariable,
	CodeInvalidValue: KindVariable,

	CodeUnkInstCmd: KindCommand,
	CodeCmdFailed:  KindCommand,
	CodeCmdNotSupp: KindCommand,
	CodeUnkCommand: KindCommand,

	CodeInvResp:     KindClient,
	CodeMissingArg:  KindClient,
	CodeUnknownType: KindClient,
	CodeTooLong:     KindClient,
	CodeInvalidArg:  KindClient,
	CodeNoMem:       KindClient,
	CodeParse:       KindClient,
	CodeProtocol:    KindClient,

	CodeUnknownUPS: KindUPS,
	CodeDataStale:  KindUPS,
	CodeSetFailed:  KindUPS,
}

// Classify maps a code to its Kind. It is total: unknown codes yield
// KindProtocol.
func Classify(code Code) Kind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return KindProtocol
}

var codeMessages = map[Code]string{
	CodeUnknown:      "Unknown error",
	CodeVarNotSupp:   "Variable not supported by UPS",
	CodeNoSuchHost:   "No such host",
	CodeInvResp:      "Invalid response from server",
	CodeUnknownUPS:   "Unknown UPS",
	CodeInvListType:  "Invalid list type",
	CodeAccessDenied: "Access denied",
	CodePwdRequired:  "Password required",
	CodePwdIncorrect: "Password incorrect",
	CodeMissingArg:   "Missing argument",
	CodeDataStale:    "Data stale",
	CodeVarUnknown:   "Variable unknown",
	CodeLoginTwice:   "Already logged in",
	CodePwdSetTwice:  "Already set password",
	CodeUnknownType:  "Unknown variable type",
	CodeUnknownVar:   "Unknown variable",
	CodeVarReadOnly:  "Read-only variable",
	CodeTooLong:      "New value is too long",
	CodeInvalidValue: "Invalid value for variable",
	CodeSetFailed:    "Set command failed",
	CodeUnkInstCmd:   "Unknown instant command",
	CodeCmdFailed:    "Instant command failed",
	CodeCmdNotSupp:   "Instant command not supported",
	CodeInvUsername:  "Invalid username",
	CodeUserSetTwice: "Already set username",
	CodeUnkCommand:   "Unknown command",
	CodeInvalidArg:   "Invalid argument",
	CodeSendFailure:  "Send failure",
	CodeRecvFailure:  "Receive failure",
	CodeSockFailure:  "socket failure",
	CodeBindFailure:  "bind failure",
	CodeConnFailure:  "Connection failure",
	CodeWrite:        "Write error",
	CodeRead:         "Read error",
	CodeInvPassword:  "Invalid password",
	CodeUserRequired: "Username required",
	CodeSSLFail:      "SSL is not available",
	CodeSSLErr:       "SSL error",
	CodeSrvDisc:      "Server disconnected",
	CodeDrvNotConn:   "Driver not connected",
	CodeNoMem:        "Memory allocation failure",
	CodeParse:        "Parse failure",
	CodeProtocol:     "Protocol error",
}

// String returns the libupsclient description of the code.
func (c Code) String() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown error %d", int(c))
}

// wireCodes maps the names upsd sends after "ERR" to codes.
var wireCodes = map[string]Code{
	"VAR-NOT-SUPPORTED":    CodeVarNotSupp,
	"UNKNOWN-UPS":          CodeUnknownUPS,
	"INVALID-LIST-TYPE":    CodeInvListType,
	"ACCESS-DENIED":        CodeAccessDenied,
	"PASSWORD-REQUIRED":    CodePwdRequired,
	"PASSWORD-INCORRECT":   CodePwdIncorrect,
	"MISSING-ARGUMENT":     CodeMissingArg,
	"DATA-STALE":           CodeDataStale,
	"VAR-UNKNOWN":          CodeVarUnknown,
	"ALREADY-LOGGED-IN":    CodeLoginTwice,
	"ALREADY-SET-PASSWORD": CodePwdSetTwice,
	"UNKNOWN-TYPE":         CodeUnknownType,
	"UNKNOWN-VAR":          CodeUnknownVar,
	"READONLY":             CodeVarReadOnly,
	"TOO-LONG":             CodeTooLong,
	"INVALID-VALUE":        CodeInvalidValue,
	"SET-FAILED":           CodeSetFailed,
	"UNKNOWN-INSTCMD":      CodeUnkInstCmd,
	"INSTCMD-FAILED":       CodeCmdFailed,
	"CMD-NOT-SUPPORTED":    CodeCmdNotSupp,
	"INVALID-USERNAME":     CodeInvUsername,
	"ALREADY-SET-USERNAME": CodeUserSetTwice,
	"UNKNOWN-COMMAND":      CodeUnkCommand,
	"INVALID-ARGUMENT":     CodeInvalidArg,
	"INVALID-PASSWORD":     CodeInvPassword,
	"USERNAME-REQUIRED":    CodeUserRequired,
	"DRIVER-NOT-CONNECTED": CodeDrvNotConn,
}

// CodeForName returns the code for an upsd error name, or CodeUnknown.
func CodeForName(name string) Code {
	if c, ok := wireCodes[name]; ok {
		return c
	}
	return CodeUnknown
}

// Kind sentinels. A *Error matches the sentinel of its kind under errors.Is.
var (
	ErrProtocol       = errors.New("nut: protocol error")
	ErrConnection     = errors.New("nut: connection error")
	ErrAuthentication = errors.New("nut: authentication error")
	ErrVariable       = errors.New("nut: variable error")
	ErrCommand        = errors.New("nut: command error")
	ErrClient         = errors.New("nut: client error")
	ErrUPS            = errors.New("nut: ups error")
)

// Local failure causes, wrapped inside a *Error.
var (
	ErrNotConnected     = errors.New("session not connected")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrListInProgress   = errors.New("list in progress")
)

func (k Kind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindAuthentication:
		return ErrAuthentication
	case KindVariable:
		return ErrVariable
	case KindCommand:
		return ErrCommand
	case KindClient:
		return ErrClient
	case KindUPS:
		return ErrUPS
	default:
		return ErrProtocol
	}
}

// Error is a classified NUT failure.
type Error struct {
	Kind Kind
	Code Code
	// Message is the human readable description.
	Message string
	// Raw is the error name sent by the server, if any.
	Raw string
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Raw != "" {
		msg += " (" + e.Raw + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "nut " + e.Kind.String() + " error: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// newError builds an Error whose kind is derived from code.
func newError(code Code, err error) *Error {
	return &Error{Kind: Classify(code), Code: code, Message: code.String(), Err: err}
}

// serverError classifies an "ERR <name> [detail]" answer.
func serverError(tokens []string) *Error {
	name := ""
	if len(tokens) > 1 {
		name = tokens[1]
	}
	code := CodeForName(name)
	e := newError(code, nil)
	e.Raw = name
	if code == CodeUnknown && name != "" {
		e.Message = "server error"
	}
	return e
}

// localError builds an Error with an explicit kind for failures that never
// reached the server.
func localError(kind Kind, code Code, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: code.String(), Err: err}
}

// KindOf returns the kind of err, or KindProtocol and false if err is not a
// *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindProtocol, false
}
