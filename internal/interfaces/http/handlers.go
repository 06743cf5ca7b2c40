package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
	"github.com/garyjia/portal-workflow/internal/workflow"
)

// Handlers contains the HTTP request handlers
type Handlers struct {
	engine     *workflow.Engine
	reconciler *workflow.Reconciler
	logger     *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(engine *workflow.Engine, reconciler *workflow.Reconciler, logger *zap.Logger) *Handlers {
	return &Handlers{
		engine:     engine,
		reconciler: reconciler,
		logger:     logger,
	}
}

// SubmitRequestBody is the payload for creating a request.
type SubmitRequestBody struct {
	Type        string                 `json:"type" binding:"required"`
	SubmitterID string                 `json:"submitter_id" binding:"required"`
	FormData    map[string]interface{} `json:"form_data"`
}

// DecisionBody is the payload for recording a decision.
type DecisionBody struct {
	ApproverID string `json:"approver_id" binding:"required"`
	Decision   string `json:"decision" binding:"required"`
	Comments   string `json:"comments"`
}

// CancelBody is the payload for cancelling a request.
type CancelBody struct {
	UserID string `json:"user_id" binding:"required"`
}

// ReconcileBody optionally overrides the batch limit.
type ReconcileBody struct {
	Limit int `json:"limit"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// SubmitRequest handles POST /api/requests
func (h *Handlers) SubmitRequest(c *gin.Context) {
	var body SubmitRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	request, err := h.engine.Submit(c.Request.Context(), body.Type, body.SubmitterID, body.FormData)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"request": request})
}

// ListRequests handles GET /api/requests
func (h *Handlers) ListRequests(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	requests, err := h.engine.ListRequests(c.Request.Context(), limit, offset)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests, "count": len(requests)})
}

// GetRequest handles GET /api/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	detail, err := h.engine.GetRequest(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request":           detail.Request,
		"approvals":         detail.Approvals,
		"current_approvers": detail.CurrentApprovers,
	})
}

// Decide handles POST /api/requests/:id/decision
func (h *Handlers) Decide(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	var body DecisionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	request, err := h.engine.Decide(c.Request.Context(), id, body.ApproverID,
		entity.ApprovalStatus(body.Decision), body.Comments)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": request})
}

// CancelRequest handles POST /api/requests/:id/cancel
func (h *Handlers) CancelRequest(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	var body CancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	request, err := h.engine.Cancel(c.Request.Context(), id, body.UserID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": request})
}

// ReconcileRequest handles POST /api/requests/:id/reconcile
func (h *Handlers) ReconcileRequest(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	outcome, err := h.reconciler.Reconcile(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// ReconcileActive handles POST /api/reconcile
func (h *Handlers) ReconcileActive(c *gin.Context) {
	body := ReconcileBody{Limit: 100}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}
	if body.Limit <= 0 {
		body.Limit = 100
	}

	summary, err := h.reconciler.ReconcileActive(c.Request.Context(), body.Limit)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *Handlers) requestID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return 0, false
	}
	return id, true
}

// renderError maps domain errors onto HTTP status codes. Unrecognized
// errors are logged and reported as 500 without leaking internals.
func (h *Handlers) renderError(c *gin.Context, err error) {
	var (
		validationErr *domainwf.ValidationError
		notFoundErr   *domainwf.NotFoundError
		stateErr      *domainwf.StateError
		conflictErr   *domainwf.ConflictError
		configErr     *domainwf.ConfigurationError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "validation failed",
			"errors": validationErr.Errors,
		})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundErr.Error()})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{"error": stateErr.Error()})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{"error": conflictErr.Error()})
	case errors.As(err, &configErr):
		h.logger.Error("Workflow configuration error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": configErr.Error()})
	case errors.Is(err, workflow.ErrInvalidDecision):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
