// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *session.Session
	// Set by: middleware.SessionLoader (pkg/middleware/auth.go)
	// Required by: all authenticated endpoints, CSRF validation
	SessionKey Key = "session"

	// CategoryKey contains *catalog.Category
	// Set by: middleware.RequireCategory (pkg/middleware/guards.go)
	CategoryKey Key = "category"

	// SubcategoryKey contains *catalog.Subcategory
	// Set by: middleware.RequireSubcategory (pkg/middleware/guards.go)
	SubcategoryKey Key = "subcategory"

	// ItemKey contains *catalog.Item
	// Set by: middleware.RequireItem (pkg/middleware/guards.go)
	ItemKey Key = "item"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: logger, tracing
	RequestIDKey Key = "request_id"
)

// WithSession adds the request session to the context
func WithSession(ctx context.Context, sess interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, sess)
}

// WithCategory adds a resolved category to the context
func WithCategory(ctx context.Context, c interface{}) context.Context {
	return context.WithValue(ctx, CategoryKey, c)
}

// WithSubcategory adds a resolved subcategory to the context
func WithSubcategory(ctx context.Context, s interface{}) context.Context {
	return context.WithValue(ctx, SubcategoryKey, s)
}

// WithItem adds a resolved item to the context
func WithItem(ctx context.Context, i interface{}) context.Context {
	return context.WithValue(ctx, ItemKey, i)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
