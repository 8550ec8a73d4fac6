// Package reqctx carries request-scoped values through context.Context.
package reqctx

import (
	"context"
	"strings"

	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// Context keys for request-scoped values
type contextKey string

const (
	baseURIKey contextKey = "odata_base_uri"
	localeKey  contextKey = "odata_locale"
	sessionKey contextKey = "odata_session_db"
)

// WithBaseURI stores the service root URI used to build entity URIs. A
// trailing slash is added when missing.
func WithBaseURI(ctx context.Context, base string) context.Context {
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return context.WithValue(ctx, baseURIKey, base)
}

// BaseURI returns the service root URI, or "" when none was stored.
func BaseURI(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if base, ok := ctx.Value(baseURIKey).(string); ok {
		return base
	}
	return ""
}

// WithLocale stores the locale error messages are rendered in.
func WithLocale(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, localeKey, tag)
}

// Locale returns the request locale, defaulting to English.
func Locale(ctx context.Context) language.Tag {
	if ctx == nil {
		return language.English
	}
	if tag, ok := ctx.Value(localeKey).(language.Tag); ok {
		return tag
	}
	return language.English
}

// ParseLocale parses an Accept-Language style value and returns the first
// tag, or English when the value is empty or malformed.
func ParseLocale(value string) language.Tag {
	if value == "" {
		return language.English
	}
	tags, _, err := language.ParseAcceptLanguage(value)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	return tags[0]
}

// WithSession attaches the GORM handle of the active persistence session so
// hooks can read through it.
func WithSession(ctx context.Context, db *gorm.DB) context.Context {
	return context.WithValue(ctx, sessionKey, db)
}

// Session returns the GORM handle of the active persistence session.
func Session(ctx context.Context) (*gorm.DB, bool) {
	if ctx == nil {
		return nil, false
	}
	db, ok := ctx.Value(sessionKey).(*gorm.DB)
	if !ok || db == nil {
		return nil, false
	}
	return db, true
}
