package odata

import (
	"github.com/nlstn/go-odata-persist/internal/odataerr"
	"github.com/nlstn/go-odata-persist/internal/reqctx"
)

// Error is the error type returned by request processing. Kind separates
// malformed requests (Syntax), requests inconsistent with the schema
// (Semantic) and backend failures (Runtime).
type Error = odataerr.Error

// IsSyntaxError reports whether err is a malformed request.
func IsSyntaxError(err error) bool {
	return odataerr.KindOf(err) == odataerr.KindSyntax
}

// IsSemanticError reports whether err is a well-formed request that does not
// fit the schema, or a model the schema cannot be built from.
func IsSemanticError(err error) bool {
	return odataerr.KindOf(err) == odataerr.KindSemantic
}

// IsRuntimeError reports whether err is a backend failure.
func IsRuntimeError(err error) bool {
	return odataerr.KindOf(err) == odataerr.KindRuntime
}

// ErrorKind returns "syntax", "semantic" or "runtime" for errors returned by
// the service, and "unknown" otherwise.
func ErrorKind(err error) string {
	return odataerr.KindOf(err).String()
}

// LocalizedMessage renders err for an Accept-Language style locale. Errors
// not created by the service render as err.Error().
func LocalizedMessage(err error, locale string) string {
	if err == nil {
		return ""
	}
	if e, ok := odataerr.As(err); ok {
		return e.Localize(reqctx.ParseLocale(locale))
	}
	return err.Error()
}
