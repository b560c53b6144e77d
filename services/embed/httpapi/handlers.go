package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vectorforge/embedcore/services/embed/embederr"
	"github.com/vectorforge/embedcore/services/embed/embedder"
	"github.com/vectorforge/embedcore/services/embed/vector"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:    "ok",
		UptimeMS:  time.Since(s.start).Milliseconds(),
		PoolReady: s.pool == nil || s.pool.Ready(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	cacheStats := s.embedder.CacheStats()
	resp := statusResponse{
		Status:         "ok",
		UptimeMS:       time.Since(s.start).Milliseconds(),
		PoolReady:      s.pool == nil || s.pool.Ready(),
		WorkerCount:    s.workers,
		CacheLiveCount: cacheStats.LiveCount,
		CacheCapacity:  cacheStats.Capacity,
		TotalClients:   s.registry.Count(),
		ModelID:        s.modelID,
	}
	if s.pool != nil {
		resp.QueueDepth = s.pool.QueueDepth()
	}
	if s.ctrl != nil {
		resp.ShutdownState = s.ctrl.State().String()
	}
	if s.metrics != nil {
		s.metrics.CacheLiveCount.Set(float64(cacheStats.LiveCount))
		s.metrics.RegisteredClients.Set(float64(resp.TotalClients))
		s.metrics.PoolQueueDepth.Set(float64(resp.QueueDepth))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRegisterClient(c *gin.Context) {
	log := s.logger.With(slog.String("handler", "register-client"))

	var req registerClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, embederr.ErrInvalidInput, nil)
		return
	}

	total := s.registry.Register(req.ClientID, req.Project, req.PID)
	if s.ctrl != nil {
		s.ctrl.NotifyRegister()
	}

	log.Info("client registered", slog.String("client_id", req.ClientID), slog.Int("total_clients", total))
	c.JSON(http.StatusOK, registerClientResponse{
		OK:           true,
		ClientID:     req.ClientID,
		RegisteredAt: time.Now().UnixMilli(),
		TotalClients: total,
	})
}

func (s *Server) handleDeregisterClient(c *gin.Context) {
	log := s.logger.With(slog.String("handler", "deregister-client"))

	var req deregisterClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, embederr.ErrInvalidInput, nil)
		return
	}

	wasRegistered, total := s.registry.Deregister(req.ClientID)
	if wasRegistered && total == 0 && s.ctrl != nil {
		s.ctrl.NotifyDeregisterEmptied()
	}

	log.Info("client deregistered", slog.String("client_id", req.ClientID), slog.Bool("was_registered", wasRegistered))
	c.JSON(http.StatusOK, deregisterClientResponse{
		OK:            true,
		ClientID:      req.ClientID,
		WasRegistered: wasRegistered,
		TotalClients:  total,
	})
}

func (s *Server) handleEmbed(c *gin.Context) {
	log := s.logger.With(slog.String("handler", "embed"))

	var req embedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, embederr.ErrInvalidInput, nil)
		return
	}
	// req.Texts is nil only when the "texts" key was absent from the body
	// entirely (json.Unmarshal never touches a missing field); an explicit
	// "texts": [] decodes to a non-nil empty slice and is spec §8's
	// boundary case, not a malformed request.
	if req.Texts == nil {
		s.writeError(c, embederr.ErrInvalidInput, nil)
		return
	}

	vecs, stats, err := s.embedder.Embed(c.Request.Context(), req.Texts, embedder.Options{RequestID: req.Options.RequestID})
	if err != nil {
		s.recordEmbedMetrics("error", stats)
		// Partial at the HTTP boundary is reported as an error listing the
		// missing indices, per spec §7 — never a half-filled success body.
		if errors.Is(err, embederr.ErrPartial) {
			s.writeError(c, err, missingIndices(vecs))
			return
		}
		log.Warn("embed failed", slog.String("error", err.Error()))
		s.writeError(c, err, nil)
		return
	}
	s.recordEmbedMetrics("ok", stats)

	flat := make([][]float32, len(vecs))
	for i, v := range vecs {
		flat[i] = []float32(v)
	}

	c.JSON(http.StatusOK, embedResponse{
		Embeddings: flat,
		Metadata: embedMetadata{
			RequestID: req.Options.RequestID,
			ModelID:   s.modelID,
			Dim:       s.dim,
		},
		Performance: performance{
			CacheHits:   stats.CacheHits,
			CacheMisses: stats.CacheMisses,
			BatchesSent: stats.BatchesSent,
			Retries:     stats.Retries,
			ElapsedMS:   stats.ElapsedMS,
		},
	})
}

func (s *Server) recordEmbedMetrics(outcome string, stats embedder.Stats) {
	if s.metrics == nil {
		return
	}
	s.metrics.EmbedRequests.WithLabelValues(outcome).Inc()
	s.metrics.EmbedDuration.Observe(float64(stats.ElapsedMS) / 1000)
	s.metrics.CacheHits.Add(float64(stats.CacheHits))
	s.metrics.CacheMisses.Add(float64(stats.CacheMisses))
	s.metrics.BatchesSent.Add(float64(stats.BatchesSent))
}

func missingIndices(vecs []vector.Vector) []int {
	var missing []int
	for i, v := range vecs {
		if v == nil {
			missing = append(missing, i)
		}
	}
	return missing
}

func (s *Server) writeError(c *gin.Context, err error, detail []int) {
	c.JSON(statusFor(err), newErrorBody(err, detail))
}
