package odata

import (
	"context"

	"gorm.io/gorm"

	"github.com/nlstn/go-odata-persist/internal/reqctx"
)

// SessionFromContext returns the persistence session of the request being
// processed. Read hooks and function import handlers can use it to run
// additional queries on the same session.
//
// The second result is false outside request processing, and for before-read
// hooks, which run before the session is opened.
func SessionFromContext(ctx context.Context) (*gorm.DB, bool) {
	return reqctx.Session(ctx)
}
