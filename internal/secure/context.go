package secure

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	firmIDContextKey contextKey = iota
	rawBodyContextKey
)

// WithFirmID scopes the request to a firm.
func WithFirmID(ctx context.Context, firmID uuid.UUID) context.Context {
	return context.WithValue(ctx, firmIDContextKey, firmID)
}

// FirmIDFromContext returns the firm set by the firm filter. Handlers use it
// to scope their queries.
func FirmIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	firmID, ok := ctx.Value(firmIDContextKey).(uuid.UUID)
	return firmID, ok
}

// RawBodyFromContext returns the request body captured before signature
// verification.
func RawBodyFromContext(ctx context.Context) ([]byte, bool) {
	body, ok := ctx.Value(rawBodyContextKey).([]byte)
	return body, ok
}
