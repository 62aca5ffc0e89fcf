package userctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID snowflake.ID
	Email  string
}

// identityKey is the request context key for the caller identity.
type identityKey struct{}

// WithIdentity stores the caller identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller identity from context, if set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}

	value := ctx.Value(identityKey{})
	if value != nil {
		if id, ok := value.(Identity); ok && id.UserID != 0 {
			return id, true
		}
	}

	raw := ctx.Value("user_id")
	if raw == nil {
		return Identity{}, false
	}
	switch typed := raw.(type) {
	case int64:
		return Identity{UserID: snowflake.ID(typed)}, true
	case snowflake.ID:
		return Identity{UserID: typed}, true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return Identity{UserID: parsed}, true
		}
	}
	return Identity{}, false
}
