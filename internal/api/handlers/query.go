package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chatpd/orchestrator/internal/cache"
	"github.com/chatpd/orchestrator/internal/health"
	"github.com/chatpd/orchestrator/internal/models"
	"github.com/chatpd/orchestrator/internal/repository"
	"github.com/chatpd/orchestrator/internal/semantic"
	"github.com/chatpd/orchestrator/internal/services"
	"github.com/chatpd/orchestrator/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// DefaultMaxQueryLength is the longest accepted question, in characters.
const DefaultMaxQueryLength = 2000

type QueryHandler struct {
	orchestrator   *services.Orchestrator
	repoManager    *repository.RepositoryManager
	health         *health.HealthChecker
	maxQueryLength int
	logger         *logrus.Logger

	background sync.WaitGroup
}

// NewQueryHandler creates the API handler. repoManager and healthChecker may be
// nil, which disables analytics and the dependency report respectively.
func NewQueryHandler(
	orchestrator *services.Orchestrator,
	repoManager *repository.RepositoryManager,
	healthChecker *health.HealthChecker,
	maxQueryLength int,
	logger *logrus.Logger,
) *QueryHandler {
	if maxQueryLength <= 0 {
		maxQueryLength = DefaultMaxQueryLength
	}
	return &QueryHandler{
		orchestrator:   orchestrator,
		repoManager:    repoManager,
		health:         healthChecker,
		maxQueryLength: maxQueryLength,
		logger:         logger,
	}
}

// RegisterRoutes mounts the API on r. apiMiddleware applies to /api/v1 only, so
// probes and scrapes are never rate limited.
func (h *QueryHandler) RegisterRoutes(r *gin.Engine, apiMiddleware ...gin.HandlerFunc) {
	r.GET("/health", h.HandleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1", apiMiddleware...)
	v1.POST("/query", h.HandleQuery)
	v1.POST("/feedback", h.HandleFeedback)
	v1.GET("/suggestions", h.HandleSuggestions)
	v1.POST("/cache/invalidate", h.HandleInvalidate)
	v1.GET("/cache/stats", h.HandleCacheStats)
}

// Wait blocks until background analytics writes have finished.
func (h *QueryHandler) Wait() {
	h.background.Wait()
}

// HandleQuery answers one question.
func (h *QueryHandler) HandleQuery(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Query cannot be empty", nil)
		return
	}
	if utf8.RuneCountInString(query) > h.maxQueryLength {
		utils.ErrorResponse(c, http.StatusBadRequest,
			fmt.Sprintf("Query too long (max %d characters)", h.maxQueryLength), nil)
		return
	}

	opts := services.Options{BypassCache: req.BypassCache}
	if req.TopK != nil {
		if *req.TopK < 1 || *req.TopK > semantic.MaxTopK {
			utils.ErrorResponse(c, http.StatusBadRequest,
				fmt.Sprintf("top_k must be between 1 and %d", semantic.MaxTopK), nil)
			return
		}
		opts.TopK = *req.TopK
	}
	if req.SimilarityThreshold != nil {
		if *req.SimilarityThreshold < 0 || *req.SimilarityThreshold > 1 {
			utils.ErrorResponse(c, http.StatusBadRequest, "similarity_threshold must be between 0 and 1", nil)
			return
		}
		opts.SimilarityThreshold = req.SimilarityThreshold
	}

	result, err := h.orchestrator.Answer(c.Request.Context(), query, opts)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"request_id": c.GetString(utils.RequestIDKey),
			"error":      err.Error(),
		}).Error("Query failed")
		switch {
		case errors.Is(err, services.ErrEmptyQuery):
			utils.ErrorResponse(c, http.StatusBadRequest, "Query cannot be empty", nil)
		case errors.Is(err, context.DeadlineExceeded):
			utils.ErrorResponse(c, http.StatusGatewayTimeout, "Query timed out", nil)
		default:
			utils.ErrorResponse(c, http.StatusInternalServerError, "Query failed", nil)
		}
		return
	}

	response := models.QueryResponse{
		Response:        result.Answer.Text,
		Confidence:      result.Answer.Confidence,
		Sources:         result.Answer.Sources,
		ExecutionTimeMs: result.ExecutionTime.Milliseconds(),
		CacheHit:        result.CacheHit,
		Mode:            result.Answer.Mode,
	}
	if result.Analysis != nil {
		response.Intent = result.Analysis.Intent
		response.Strategy = result.Analysis.Strategy
	}
	response.QueryID = h.trackQuery(c, query, result)

	c.JSON(http.StatusOK, response)
}

// trackQuery logs the answered query and returns its id, 0 when analytics are
// disabled or the write failed. Popularity counters are updated in the background.
func (h *QueryHandler) trackQuery(c *gin.Context, query string, result *services.Result) uint {
	if h.repoManager == nil {
		return 0
	}

	log := &models.QueryLog{
		QueryText:        query,
		UserSession:      h.getUserSession(c),
		Mode:             string(result.Answer.Mode),
		Confidence:       result.Answer.Confidence,
		StructuredRows:   result.Answer.Sources.StructuredRows,
		SemanticPassages: result.Answer.Sources.SemanticPassages,
		FallbackArticles: result.Answer.Sources.FallbackArticles,
		CacheHit:         result.CacheHit,
		ResponseTimeMs:   int(result.ExecutionTime.Milliseconds()),
		UserAgent:        c.GetHeader("User-Agent"),
		IPAddress:        c.ClientIP(),
	}
	if result.Analysis != nil {
		log.Intent = string(result.Analysis.Intent)
		log.Strategy = string(result.Analysis.Strategy)
	}
	if err := h.repoManager.QueryLog.Create(log); err != nil {
		h.logger.WithError(err).Warn("Failed to track query")
		log.ID = 0
	}

	// Clarifications and not-found answers are not suggested to other users.
	if result.Answer.Mode.Cacheable() {
		h.background.Add(1)
		go func() {
			defer h.background.Done()
			h.updatePopularQueries(query, result.Answer.Confidence, log.ResponseTimeMs)
		}()
	}
	return log.ID
}

func (h *QueryHandler) updatePopularQueries(query string, confidence float64, responseTime int) {
	if err := h.repoManager.PopularQuery.IncrementCount(query); err != nil {
		h.logger.WithError(err).Error("Failed to update popular queries")
		return
	}

	if err := h.repoManager.PopularQuery.UpdateStats(query, confidence, responseTime); err != nil {
		h.logger.WithError(err).Error("Failed to update query stats")
	}
}

// HandleFeedback records user feedback on an answer
func (h *QueryHandler) HandleFeedback(c *gin.Context) {
	if h.repoManager == nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Feedback is disabled", nil)
		return
	}

	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid feedback format", err)
		return
	}
	if !models.ValidFeedbackTypes[req.FeedbackType] {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid feedback type", nil)
		return
	}

	if _, err := h.repoManager.QueryLog.GetByID(req.QueryID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, "Query not found", nil)
			return
		}
		h.logger.WithError(err).Error("Failed to look up query")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to save feedback", nil)
		return
	}

	feedback := &models.UserFeedback{
		QueryID:      req.QueryID,
		FeedbackType: req.FeedbackType,
		FeedbackText: req.FeedbackText,
		UserSession:  h.getUserSession(c),
	}

	if err := h.repoManager.UserFeedback.Create(feedback); err != nil {
		h.logger.WithError(err).Error("Failed to save feedback")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to save feedback", nil)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"query_id":      req.QueryID,
		"feedback_type": req.FeedbackType,
		"user_session":  feedback.UserSession,
	}).Info("Feedback recorded")

	utils.SuccessResponse(c, http.StatusCreated, "Feedback recorded", nil)
}

// HandleSuggestions returns popular questions, filtered by q when given.
func (h *QueryHandler) HandleSuggestions(c *gin.Context) {
	if h.repoManager == nil {
		utils.SuccessResponse(c, http.StatusOK, "Suggestions retrieved", []models.PopularQuery{})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "5"))
	if err != nil || limit < 1 {
		limit = 5
	}
	if limit > 10 {
		limit = 10
	}

	var suggestions []models.PopularQuery
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		suggestions, err = h.repoManager.PopularQuery.Search(q, limit)
	} else {
		suggestions, err = h.repoManager.PopularQuery.GetTop(limit)
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get suggestions")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get suggestions", nil)
		return
	}
	if suggestions == nil {
		suggestions = []models.PopularQuery{}
	}

	utils.SuccessResponse(c, http.StatusOK, "Suggestions retrieved", suggestions)
}

// HandleInvalidate removes cached answers matching a predicate.
func (h *QueryHandler) HandleInvalidate(c *gin.Context) {
	qc := h.orchestrator.Cache()
	if qc == nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Cache is disabled", nil)
		return
	}

	var req models.InvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	p := cache.Predicate{
		AnswerContains: strings.TrimSpace(req.AnswerContains),
		QueryContains:  strings.TrimSpace(req.QueryContains),
		All:            req.All,
	}
	if req.CreatedBefore != "" {
		t, err := time.Parse(time.RFC3339, req.CreatedBefore)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "created_before must be an RFC 3339 timestamp", err)
			return
		}
		p.CreatedBefore = t
	}
	if p.Empty() {
		utils.ErrorResponse(c, http.StatusBadRequest, "At least one predicate is required", nil)
		return
	}

	removed, err := qc.Invalidate(c.Request.Context(), p)
	if err != nil {
		h.logger.WithError(err).Error("Cache invalidation failed")
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Cache unavailable", nil)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"removed":         removed,
		"answer_contains": p.AnswerContains,
		"query_contains":  p.QueryContains,
		"all":             p.All,
	}).Info("Cache invalidated")

	c.JSON(http.StatusOK, models.InvalidateResponse{Removed: removed})
}

// HandleCacheStats reports the cache size and hit counters.
func (h *QueryHandler) HandleCacheStats(c *gin.Context) {
	qc := h.orchestrator.Cache()
	if qc == nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Cache is disabled", nil)
		return
	}

	stats, err := qc.Stats(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to read cache stats")
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Cache unavailable", nil)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleHealth reports the last dependency check, running one if none has run yet.
func (h *QueryHandler) HandleHealth(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, health.OverallHealth{Status: health.StatusHealthy, Services: []health.ServiceHealth{}})
		return
	}

	result := h.health.CheckCached()
	if result == nil {
		overall := h.health.CheckAll(c.Request.Context())
		result = &overall
	}

	code := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, result)
}

func (h *QueryHandler) getUserSession(c *gin.Context) string {
	if session := c.GetHeader("X-Session-ID"); utils.ValidateSessionID(session) {
		return session
	}
	return utils.SessionID(c.ClientIP(), c.GetHeader("User-Agent"), time.Now())
}
