// Package errs defines the error taxonomy shared by the ingestion and aggregation paths.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrGeometry   = errors.New("geometry operation error")
	ErrStorage    = errors.New("storage error")
)

// Error carries the failing operation and the entity it was acting on.
type Error struct {
	Kind   error
	Op     string
	Entity string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	if e.Entity != "" {
		fmt.Fprintf(&b, " [%s]", e.Entity)
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	switch {
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	case e.Kind != nil:
		b.WriteString(e.Kind.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func E(kind error, op, entity string, err error) error {
	return &Error{Kind: kind, Op: op, Entity: entity, Err: err}
}

// Errorf builds an *Error of the given kind with a formatted cause.
func Errorf(kind error, op, entity, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Entity: entity, Err: fmt.Errorf(format, args...)}
}

// HTTPStatus maps the taxonomy onto response codes; unknown errors are 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to a client.
func PublicMessage(err error) string {
	if HTTPStatus(err) >= http.StatusInternalServerError {
		return http.StatusText(http.StatusInternalServerError)
	}
	return err.Error()
}
