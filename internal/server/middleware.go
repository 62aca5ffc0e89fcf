package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sabihub/tokenledger/internal/userctx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	headerRequestID = "X-Request-ID"
)

// apiCredential pairs a caller identity with the bcrypt hash of its bearer
// token. Raw tokens are never stored.
type apiCredential struct {
	identity userctx.Identity
	hash     []byte
}

// parseAPICredentials parses "user_id:email=hash" entries from config.
func parseAPICredentials(entries []string, logger *zap.Logger) []apiCredential {
	creds := make([]apiCredential, 0, len(entries))
	for _, entry := range entries {
		subject, hash, ok := strings.Cut(entry, "=")
		if !ok {
			logger.Warn("skipping malformed api token entry")
			continue
		}
		idPart, email, _ := strings.Cut(subject, ":")
		userID, err := snowflake.ParseString(strings.TrimSpace(idPart))
		if err != nil {
			logger.Warn("skipping api token entry with invalid user id", zap.Error(err))
			continue
		}
		creds = append(creds, apiCredential{
			identity: userctx.Identity{UserID: userID, Email: strings.TrimSpace(email)},
			hash:     []byte(strings.TrimSpace(hash)),
		})
	}
	return creds
}

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(headerRequestID))
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(headerRequestID, rid)
		c.Set("request_id", rid)
		c.Next()
	}
}

func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		token, ok := strings.CutPrefix(raw, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		for _, cred := range s.credentials {
			if bcrypt.CompareHashAndPassword(cred.hash, []byte(token)) == nil {
				ctx := userctx.WithIdentity(c.Request.Context(), cred.identity)
				c.Request = c.Request.WithContext(ctx)
				c.Set("user_id", cred.identity.UserID.String())
				c.Next()
				return
			}
		}

		AbortWithError(c, ErrUnauthorized)
	}
}
