package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brushcast/brushcast/internal/config"
	"github.com/brushcast/brushcast/internal/slogging"
	"github.com/brushcast/brushcast/pipeline"
	"github.com/brushcast/brushcast/wire"
)

// Server wires the session registry into the HTTP surface.
type Server struct {
	cfg           *config.Config
	sessions      *SessionManager
	codec         wire.Codec
	maxFrameBytes int64
}

// NewServer builds the API server around a pipeline collaborator.
func NewServer(cfg *config.Config, pipe pipeline.Pipeline, metrics *Metrics) *Server {
	return &Server{
		cfg:           cfg,
		sessions:      NewSessionManager(cfg.Session, cfg.WebSocket, pipe, metrics),
		codec:         wire.Codec{MaxMetadataBytes: cfg.WebSocket.MaxFrameBytes},
		maxFrameBytes: int64(cfg.WebSocket.MaxFrameBytes),
	}
}

// Sessions exposes the registry, mainly for tests and shutdown.
func (srv *Server) Sessions() *SessionManager {
	return srv.sessions
}

// RegisterHandlers registers the session API routes with the router.
func (srv *Server) RegisterHandlers(r *gin.Engine) {
	grp := r.Group("/api/:mode")
	grp.Use(srv.modeMiddleware())

	grp.POST("/sessions", srv.CreateSession)
	grp.GET("/sessions/:id", srv.GetSession)
	grp.DELETE("/sessions/:id", srv.DeleteSession)
	grp.GET("/sessions/:id/queue", srv.GetSessionQueue)
	grp.GET("/sessions/:id/ws", srv.HandleWS)
	grp.GET("/sessions/:id/stream", srv.StreamSession)
	grp.GET("/queue", srv.GetGlobalQueue)
	grp.GET("/settings", srv.GetSettings)
}

func (srv *Server) modeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := ParseMode(c.Param("mode")); !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown mode '" + c.Param("mode") + "'"})
			return
		}
		c.Next()
	}
}

// CreateSession mints a session id and registers its queue and consumer.
// POST /api/{mode}/sessions
func (srv *Server) CreateSession(c *gin.Context) {
	mode, _ := ParseMode(c.Param("mode"))

	session, err := srv.sessions.Create(mode, "")
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"message":    "Session created",
	})
}

// GetSession reports connection and queue status.
// GET /api/{mode}/sessions/{id}
func (srv *Server) GetSession(c *gin.Context) {
	session, ok := srv.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":   session.ID,
		"is_connected": session.IsConnected(),
		"state":        session.State().String(),
		"queue_size":   session.Queue().Len(),
	})
}

// DeleteSession closes and unregisters a session.
// DELETE /api/{mode}/sessions/{id}
func (srv *Server) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := srv.sessions.Delete(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted", "session_id": id})
}

// GetSessionQueue exposes queue depth as a backpressure signal for the
// producer.
// GET /api/{mode}/sessions/{id}/queue
func (srv *Server) GetSessionQueue(c *gin.Context) {
	depth := 0
	if session, ok := srv.sessions.Get(c.Param("id")); ok {
		depth = session.Queue().Len()
	}
	c.JSON(http.StatusOK, gin.H{"queue_size": depth})
}

// GetGlobalQueue reports how many sessions are live for the mode.
// GET /api/{mode}/queue
func (srv *Server) GetGlobalQueue(c *gin.Context) {
	mode, _ := ParseMode(c.Param("mode"))
	c.JSON(http.StatusOK, gin.H{"queue_size": srv.sessions.Count(mode)})
}

// GetSettings returns the parameter defaults the UI needs.
// GET /api/{mode}/settings
func (srv *Server) GetSettings(c *gin.Context) {
	mode, _ := ParseMode(c.Param("mode"))
	c.JSON(http.StatusOK, gin.H{
		"mode":            string(mode),
		"drain_policy":    DrainPolicyFor(mode).String(),
		"max_sessions":    srv.cfg.Session.MaxSessions,
		"max_frame_bytes": srv.cfg.WebSocket.MaxFrameBytes,
		"similarity": gin.H{
			"enabled":         srv.cfg.Session.Similarity.Enabled,
			"threshold":       srv.cfg.Session.Similarity.Threshold,
			"max_skip_frames": srv.cfg.Session.Similarity.MaxSkipFrames,
		},
		"input_params": wire.GenerationParams{
			Prompt:   "",
			Steps:    4,
			CFGScale: 1.2,
			Denoise:  0.5,
			Width:    512,
			Height:   512,
		},
	})
}

// StreamSession streams generated frames as MJPEG multipart.
// GET /api/{mode}/sessions/{id}/stream
func (srv *Server) StreamSession(c *gin.Context) {
	session, ok := srv.lookup(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace;boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	frameCount := 0

	for {
		select {
		case img := <-session.Results():
			if _, err := fmt.Fprintf(c.Writer,
				"--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(img)); err != nil {
				return
			}
			if _, err := c.Writer.Write(img); err != nil {
				return
			}
			if _, err := c.Writer.Write([]byte("\r\n")); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
			frameCount++
			if frameCount%100 == 0 {
				slogging.Get().Debug("session %s streamed %d frames", session.ID, frameCount)
			}
		case <-session.Done():
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (srv *Server) lookup(c *gin.Context) (*Session, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return nil, false
	}
	session, ok := srv.sessions.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return session, true
}
