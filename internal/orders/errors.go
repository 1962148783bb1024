package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned (wrapped) by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

type Kind string

const (
	KindValidation  Kind = "validation"
	KindPersistence Kind = "persistence"
	KindNotFound    Kind = "not_found"
)

// Error is the stable error shape surfaced by the services.
// Fields maps request paths (e.g. "items.1.quantity") to messages.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s: %s", k, e.Fields[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, k Kind) bool { return KindOf(err) == k }

func Validation(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

func persistence(op string, err error) *Error {
	msg := op + " failed"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = op + " timed out"
	}
	return &Error{Kind: KindPersistence, Message: msg, Err: err}
}

func notFound(what, id string, err error) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", what, id), Err: err}
}

// classifyRead maps a store read error onto not-found or persistence.
func classifyRead(op, what, id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return notFound(what, id, err)
	}
	return persistence(op, err)
}

// fieldErrors keeps the first message reported per field.
type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, ok := f[field]; !ok {
		f[field] = msg
	}
}
