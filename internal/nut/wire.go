package nut

import (
	"errors"
	"strings"
)

var (
	errUnterminatedQuote = errors.New("unterminated quoted string")
	errDanglingEscape    = errors.New("dangling escape character")
)

// ParseLine splits one protocol line into tokens. Tokens are separated by
// spaces or tabs; a double-quoted token may contain whitespace, and inside
// quotes a backslash escapes the next character.
func ParseLine(line string) ([]string, error) {
	line = strings.TrimRight(line, "\r\n")

	var (
		tokens  []string
		cur     strings.Builder
		inToken bool
		quoted  bool
		escaped bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
			inToken = true
		case c == '"':
			if quoted {
				quoted = false
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
				continue
			}
			if inToken {
				cur.WriteByte(c)
				continue
			}
			quoted = true
			inToken = true
		case (c == ' ' || c == '\t') && !quoted:
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteByte(c)
			inToken = true
		}
	}
	if escaped {
		return nil, errDanglingEscape
	}
	if quoted {
		return nil, errUnterminatedQuote
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

// FormatLine joins tokens into one protocol line without the trailing
// newline, quoting tokens that are empty or contain whitespace, quotes or
// backslashes.
func FormatLine(tokens []string) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		if t != "" && !strings.ContainsAny(t, " \t\"\\") {
			b.WriteString(t)
			continue
		}
		b.WriteByte('"')
		for j := 0; j < len(t); j++ {
			if t[j] == '"' || t[j] == '\\' {
				b.WriteByte('\\')
			}
			b.WriteByte(t[j])
		}
		b.WriteByte('"')
	}
	return b.String()
}

// validateQuery rejects tokens that cannot be sent as a single request.
func validateQuery(tokens []string) error {
	if len(tokens) == 0 {
		return localError(KindClient, CodeMissingArg, errors.New("empty query"))
	}
	for _, t := range tokens {
		if t == "" {
			return localError(KindClient, CodeInvalidArg, errors.New("empty query token"))
		}
		if strings.ContainsAny(t, "\r\n") {
			return localError(KindClient, CodeInvalidArg, errors.New("query token contains a line break"))
		}
	}
	return nil
}

// hasPrefix reports whether answer starts with every token of query.
func hasPrefix(answer, query []string) bool {
	if len(answer) < len(query) {
		return false
	}
	for i, q := range query {
		if answer[i] != q {
			return false
		}
	}
	return true
}
