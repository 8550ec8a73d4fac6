// Package odataerr defines the error taxonomy shared by every stage of the
// request pipeline.
//
// An error has a Kind (syntax, semantic or runtime), a message key and the
// ordered arguments of the message. The human readable text is produced from
// a message catalog so that callers can render it in the request locale.
// A missing resource is not an error; see the NotFound flag on results.
package odataerr

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
)

// Kind classifies an error by the stage that detected it.
type Kind int

const (
	// KindUnknown is reported for errors that did not originate in this package.
	KindUnknown Kind = iota
	// KindSyntax marks malformed or unresolvable request paths and options.
	KindSyntax
	// KindSemantic marks requests that are well formed but inconsistent with the schema.
	// Schema build failures (unmapped types, unsupported relationships) are reported
	// with this kind as well.
	KindSemantic
	// KindRuntime marks failures of the persistence backend or of result conversion.
	KindRuntime
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindSemantic:
		return "semantic"
	case KindRuntime:
		return "runtime"
	default:
		return "unknown"
	}
}

// Error is the error type returned by the query pipeline.
type Error struct {
	Kind  Kind
	Key   Key
	Args  []any
	Cause error
}

// Error renders the message in English.
func (e *Error) Error() string {
	msg := e.Localize(language.English)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the backend error a runtime error was created from.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same kind and key.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Key == e.Key
}

// WithCause attaches the underlying error and returns e.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// Localize renders the message for the given locale, falling back to English
// when the catalog has no translation.
func (e *Error) Localize(tag language.Tag) string {
	return render(tag, e.Key, e.Args)
}

// Syntax creates an error for a malformed request.
func Syntax(key Key, args ...any) *Error {
	return &Error{Kind: KindSyntax, Key: key, Args: args}
}

// Semantic creates an error for a request or model that is inconsistent with the schema.
func Semantic(key Key, args ...any) *Error {
	return &Error{Kind: KindSemantic, Key: key, Args: args}
}

// Runtime creates an error wrapping a backend failure.
func Runtime(cause error, key Key, args ...any) *Error {
	return &Error{Kind: KindRuntime, Key: key, Args: args, Cause: cause}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}
