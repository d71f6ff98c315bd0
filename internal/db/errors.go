package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/lib/pq"
)

// Kind classifies a database failure by how the caller should react to it.
type Kind int

const (
	// KindTerminal failures will not go away by retrying: bad credentials,
	// schema mismatch, programming errors and anything unrecognised.
	KindTerminal Kind = iota
	// KindRetryable failures are transient: timeouts, dropped connections,
	// server restarts, serialization conflicts.
	KindRetryable
	// KindConstraint is a violated unique, foreign key or check constraint.
	KindConstraint
	// KindNotFound means the addressed row does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindConstraint:
		return "constraint"
	case KindNotFound:
		return "not_found"
	default:
		return "terminal"
	}
}

// Error is a classified database error.
type Error struct {
	Kind Kind
	Op   string
	// Code is the SQLSTATE when the server reported one.
	Code string
	// Constraint names the violated constraint for KindConstraint.
	Constraint string
	Err        error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s database error (%s): %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s database error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err and attaches op. It returns nil for a nil err and leaves
// an already classified error untouched.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	e := &Error{Op: op, Kind: Classify(err), Err: err}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		e.Code = string(pqErr.Code)
		e.Constraint = pqErr.Constraint
	}
	return e
}

// KindOf returns the classification of err, classifying it on the fly when it
// was not produced by Wrap.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return Classify(err)
}

// IsRetryable reports whether err is worth one more attempt.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindRetryable
}

// IsConstraint reports whether err is a constraint violation.
func IsConstraint(err error) bool {
	return err != nil && KindOf(err) == KindConstraint
}

// Classify maps a raw driver or network error to a Kind.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return KindNotFound
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return KindRetryable
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyCode(pqErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindRetryable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindRetryable
	}
	return KindTerminal
}

func classifyCode(code pq.ErrorCode) Kind {
	switch code {
	case "57014", // query_canceled, raised by statement_timeout
		"57P01", "57P02", "57P03", // admin/crash shutdown, cannot connect now
		"53300",          // too_many_connections
		"40001", "40P01": // serialization_failure, deadlock_detected
		return KindRetryable
	case "28P01", "28000", // invalid password, invalid authorization
		"3D000",                   // unknown database
		"42P01", "42703", "42883": // undefined table, column, function
		return KindTerminal
	}
	switch code.Class() {
	case "08": // connection exception
		return KindRetryable
	case "23": // integrity constraint violation
		return KindConstraint
	}
	return KindTerminal
}
