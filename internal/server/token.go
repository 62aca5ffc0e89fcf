package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	tokendomain "github.com/sabihub/tokenledger/internal/token/domain"
)

func (s *Server) GetTokenBalance(c *gin.Context) {
	balance, err := s.tokensvc.GetBalance(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":          balance,
		"available_tokens": balance.AvailableTokens(),
	})
}

func (s *Server) AuthorizeTokens(c *gin.Context) {
	var req tokendomain.AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	authorization, err := s.tokensvc.Authorize(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, authorization)
}

func (s *Server) ConsumeTokens(c *gin.Context) {
	var req tokendomain.ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if feature := strings.TrimSpace(req.Feature); feature != "" {
		c.Set("feature", feature)
	}

	if s.consumeLimiter.Enabled() {
		allowed, err := s.consumeLimiter.AllowUser(c.Request.Context(), c.GetString("user_id"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !allowed {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
	}

	resp, err := s.tokensvc.Consume(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) CreditTokens(c *gin.Context) {
	var req tokendomain.CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.tokensvc.Credit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListTokenTransactions(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	transactions, err := s.tokensvc.ListTransactions(c.Request.Context(), tokendomain.ListTransactionsRequest{Limit: limit})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}
