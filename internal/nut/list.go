package nut

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"
)

// List iterates the rows of one LIST answer. It is lazy, finite and cannot be
// restarted. Use it like bufio.Scanner:
//
//	l, err := s.QueryList(ctx, "VAR", "ups1")
//	if err != nil {
//		return err
//	}
//	defer l.Close()
//	for l.Next() {
//		row := l.Answer()
//	}
//	return l.Err()
type List struct {
	s     *Session
	ctx   context.Context
	query []string
	cur   []string
	err   error
	done  bool
}

// Next advances to the next well-formed row. Rows shorter than the query plus
// one token, or not echoing the query, are skipped.
func (l *List) Next() bool {
	if l.done {
		return false
	}
	for {
		answer, err := l.s.receive(l.ctx)
		if err != nil {
			l.finish(err)
			return false
		}
		if isListEnd(answer, l.query) {
			l.finish(nil)
			return false
		}
		if len(answer) < len(l.query)+1 || !hasPrefix(answer, l.query) {
			l.s.logger.Debug("skipping list row",
				zap.Strings("query", l.query), zap.Strings("row", answer))
			continue
		}
		l.cur = answer
		return true
	}
}

// Answer returns the current row.
func (l *List) Answer() []string { return l.cur }

// Err returns the error that ended iteration, if any.
func (l *List) Err() error { return l.err }

// Close drains any remaining rows so the session can accept new requests.
func (l *List) Close() error {
	for l.Next() {
	}
	return l.err
}

// All returns the remaining rows as a single-use sequence. Iteration stops
// after yielding a non-nil error.
func (l *List) All() iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		for l.Next() {
			if !yield(l.Answer(), nil) {
				return
			}
		}
		if l.err != nil {
			yield(nil, l.err)
		}
	}
}

func (l *List) finish(err error) {
	l.done = true
	l.cur = nil
	l.err = err
	if l.s.list == l {
		l.s.list = nil
	}
}

func isListEnd(answer, query []string) bool {
	return len(answer) >= 2 && answer[0] == "END" && answer[1] == "LIST" && hasPrefix(answer[2:], query)
}

// collect drains a list into memory.
func collect(l *List) ([][]string, error) {
	var rows [][]string
	for l.Next() {
		rows = append(rows, l.Answer())
	}
	if err := l.Err(); err != nil {
		return nil, fmt.Errorf("list %v: %w", l.query, err)
	}
	return rows, nil
}
