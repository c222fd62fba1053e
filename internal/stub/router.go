// Package stub is a scriptable stand-in for the image processing service.
//
// It speaks the same upload protocol as the real service but, instead of
// parsing the image, requests the byte ranges listed in a Script and then
// answers with the script's final status.
package stub

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lgulliver/ncchup/pkg/types"
	"github.com/rs/zerolog/log"
)

// maxBodySize caps request bodies accepted by the stub
const maxBodySize = 64 << 20

// HTTPStatus maps a reply to the HTTP status code the real service uses for it
func HTTPStatus(status types.Status) int {
	switch status {
	case types.StatusAppendNeeded, types.StatusFinished, types.StatusDone:
		return http.StatusOK
	case types.StatusAlreadyFinished, types.StatusUnexpectedLength,
		types.StatusUnexpectedFormat, types.StatusVerificationFailed:
		return http.StatusBadRequest
	case types.StatusBusy:
		return http.StatusServiceUnavailable
	case types.StatusConflict:
		return http.StatusConflict
	case types.StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NewRouter wires the upload endpoints to a session manager
func NewRouter(sm *SessionManager) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"service":  "ncch-stub",
			"sessions": sm.Count(),
			"time":     time.Now().UTC(),
		})
	})

	router.POST(types.PostPath, handlePost(sm))
	router.POST("/append_ncch/:session_id", handleAppend(sm))

	return router
}

func handlePost(sm *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
		if err != nil {
			log.Error().Err(err).Msg("failed to read header block")
			respond(c, types.Terminal(types.StatusInternalServerError, ""))
			return
		}
		respond(c, sm.StartUpload(c.Request.Context(), body))
	}
}

func handleAppend(sm *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := types.SessionID(c.Param("session_id"))
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
		if err != nil {
			log.Error().Err(err).Str("session_id", string(sessionID)).Msg("failed to read chunk")
			respond(c, types.Terminal(types.StatusInternalServerError, ""))
			return
		}
		respond(c, sm.AppendChunk(c.Request.Context(), sessionID, body))
	}
}

func respond(c *gin.Context, resp *types.ServerResponse) {
	c.JSON(HTTPStatus(resp.Status), resp)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)

		c.Next()

		log.Debug().
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status_code", c.Writer.Status()).
			Dur("duration", time.Since(startTime)).
			Msg("request handled")
	}
}
