package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"switchboard/internal/cache"
	"switchboard/internal/conversation"
	"switchboard/internal/oauth"
	"switchboard/internal/plugin"
	"switchboard/internal/runtime"
	"switchboard/pkg/logging"
)

// requestLogger logs each request with latency and a request id.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.Request.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()

		status := c.Writer.Status()
		msg := "%s %s status=%d latency=%s request_id=%s"
		args := []interface{}{c.Request.Method, c.Request.URL.Path, status, time.Since(start), requestID}
		switch {
		case status >= 500:
			logging.Warn("Server", msg, args...)
		case status >= 400:
			logging.Info("Server", msg, args...)
		default:
			logging.Debug("Server", msg, args...)
		}
	}
}

// requireNonce enforces the replay guard when one is configured.
func (s *Server) requireNonce(c *gin.Context) {
	if s.opts.Replay == nil {
		c.Next()
		return
	}
	fresh, err := s.opts.Replay.ConsumeNonce(c.Request.Context(), c.GetHeader(NonceHeader))
	if err == nil {
		c.Next()
		return
	}
	if errors.Is(err, cache.ErrRejected) {
		c.Header(NonceHeader, fresh)
		respondError(c, http.StatusUnauthorized, "request rejected")
		c.Abort()
		return
	}
	logging.Error("Server", err, "Nonce check failed")
	respondError(c, http.StatusServiceUnavailable, "temporarily unavailable")
	c.Abort()
}

func (s *Server) issueNonce(c *gin.Context) {
	nonce, err := s.opts.Replay.IssueNonce(c.Request.Context())
	if err != nil {
		logging.Error("Server", err, "Failed to issue nonce")
		respondError(c, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	c.Header(NonceHeader, nonce)
	c.JSON(http.StatusOK, gin.H{"nonce": nonce})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// respondServiceError maps component errors to HTTP statuses. Unknown
// errors are logged and reported as a generic 500.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, plugin.ErrInstanceNotFound),
		errors.Is(err, plugin.ErrManifestNotFound),
		errors.Is(err, conversation.ErrNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, oauth.ErrOAuthNotSupported),
		errors.Is(err, oauth.ErrNotConnected),
		errors.Is(err, conversation.ErrAssigneeRequired),
		errors.Is(err, conversation.ErrContentRequired),
		errors.Is(err, conversation.ErrInvalidReleaseMode):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrConversationClosed),
		errors.Is(err, conversation.ErrNotTakenOver),
		errors.Is(err, conversation.ErrMessageDelivered),
		errors.Is(err, conversation.ErrNotPendingReview),
		errors.Is(err, runtime.ErrNotEnabled),
		errors.Is(err, runtime.ErrNotRunning):
		respondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, oauth.ErrClientNotConfigured),
		errors.Is(err, runtime.ErrUnsupportedTransport):
		respondError(c, http.StatusServiceUnavailable, err.Error())
	default:
		logging.Error("Server", err, "Request %s %s failed", c.Request.Method, c.Request.URL.Path)
		respondError(c, http.StatusInternalServerError, "internal error")
	}
}

func userID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(UserHeader))
}
