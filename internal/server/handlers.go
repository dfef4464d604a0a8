package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"genesis/internal/deploy"
	genesiserrors "genesis/internal/errors"
	"genesis/internal/orchestrator"
)

// apiSender is the sender id for dispatches made on behalf of HTTP clients.
const apiSender = "api"

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, APIResponse{Success: false, Error: message})
}

// httpStatus maps a failure kind onto the closest HTTP status.
func httpStatus(kind genesiserrors.Kind) int {
	switch kind {
	case genesiserrors.KindRouting:
		return http.StatusNotFound
	case genesiserrors.KindValidation:
		return http.StatusBadRequest
	case genesiserrors.KindTimeout:
		return http.StatusGatewayTimeout
	case genesiserrors.KindRateLimit:
		return http.StatusTooManyRequests
	case genesiserrors.KindCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	respondOK(c, HealthResponse{
		Status:      "ok",
		Version:     s.version,
		Environment: s.cfg.Environment,
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		Agents:      s.dispatcher.Registry().Len(),
		Timestamp:   time.Now().UTC(),
	})
}

// handleListAgents reports every registered agent in registration order.
func (s *Server) handleListAgents(c *gin.Context) {
	agents := s.dispatcher.Registry().List()
	payloads := make([]map[string]any, 0, len(agents))
	for _, agent := range agents {
		payloads = append(payloads, agent.StatusPayload())
	}
	respondOK(c, gin.H{"agents": payloads, "count": len(payloads)})
}

// handleGetAgent dispatches the status action so the answer reflects what a
// protocol client would see, admission checks included.
func (s *Server) handleGetAgent(c *gin.Context) {
	id := c.Param("id")
	result := s.dispatcher.Send(c.Request.Context(), apiSender, id, "status", nil)
	if !result.Success {
		respondError(c, httpStatus(result.Error.Kind), result.Error.Message)
		return
	}
	respondOK(c, result.Value)
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req orchestrator.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result := s.orchestrator.ExecuteProjectGeneration(c.Request.Context(), req)
	if !result.Success {
		status := http.StatusInternalServerError
		message := "generation failed"
		if result.Error != nil {
			status = httpStatus(result.Error.Kind)
			message = result.Error.Message
		}
		c.JSON(status, APIResponse{Success: false, Data: result, Error: message})
		return
	}
	respondOK(c, result)
}

func (s *Server) handleCurrentWorkflow(c *gin.Context) {
	respondOK(c, s.orchestrator.Status())
}

func (s *Server) handleCreateDeployment(c *gin.Context) {
	var req DeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ProjectDir) == "" {
		respondError(c, http.StatusBadRequest, "project_dir is required")
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		respondError(c, http.StatusBadRequest, "target is required")
		return
	}

	result := s.executor.Deploy(c.Request.Context(), req.ProjectDir, deploy.Config{
		Target:      req.Target,
		Environment: req.Environment,
		AppName:     req.AppName,
		Region:      req.Region,
		Bucket:      req.Bucket,
		Options:     req.Options,
	})
	// A failed attempt is still a served request: the outcome rides in the
	// body, success=false tells clients to inspect it.
	c.JSON(http.StatusOK, APIResponse{Success: result.Success, Data: result, Error: result.Error})
}

func (s *Server) handleListDeployments(c *gin.Context) {
	respondOK(c, s.executor.Status())
}

func (s *Server) handleStats(c *gin.Context) {
	respondOK(c, gin.H{
		"dispatcher":  s.dispatcher.Stats(),
		"breakers":    s.dispatcher.BreakerMetrics(),
		"subscribers": s.hub.len(),
		"uptime":      time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleEventStream upgrades to a websocket and relays hub events until the
// client disconnects or the server stops.
func (s *Server) handleEventStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("websocket upgrade failed", "client", c.ClientIP(), "error", err)
		return
	}

	sc := newStreamConn(conn)
	s.hub.add(sc)
	s.logger.Info("event stream opened", "conn_id", sc.id, "client", c.ClientIP())

	go s.readUntilClose(sc)
	s.writeEvents(sc)

	s.hub.remove(sc.id)
	_ = conn.Close()
	s.logger.Info("event stream closed", "conn_id", sc.id)
}

// readUntilClose drains client frames; the first read error marks the
// connection closed.
func (s *Server) readUntilClose(sc *streamConn) {
	defer sc.close()
	for {
		if _, _, err := sc.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeEvents pushes hub events and periodic pings to the client.
func (s *Server) writeEvents(sc *streamConn) {
	const writeTimeout = 10 * time.Second

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-sc.done:
			return
		case event := <-sc.send:
			_ = sc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sc.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = sc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
